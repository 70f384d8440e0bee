package postgres

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NordCoder/Sitewatch/internal/domain/alert"
)

func TestAlertID(t *testing.T) {
	got, err := alertID("6F9619FF-8B86-D011-B42D-00C04FC964FF")
	require.NoError(t, err)
	assert.Equal(t, "6f9619ff-8b86-d011-b42d-00c04fc964ff", got)

	for _, bad := range []string{"", "42", "not-a-uuid", "6f9619ff-8b86-d011-b42d"} {
		_, err := alertID(bad)
		assert.ErrorIs(t, err, alert.ErrNotFound, bad)
	}
}
