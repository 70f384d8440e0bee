package memory

import (
	"context"
	"testing"
	"time"

	"github.com/NordCoder/Sitewatch/internal/domain/alert"
	"github.com/NordCoder/Sitewatch/internal/domain/result"
	"github.com/NordCoder/Sitewatch/internal/domain/target"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResultRepo_AppendIsIdempotentPerTimestamp(t *testing.T) {
	ctx := context.Background()
	r := NewResultRepo()
	at := time.Unix(1000, 0)
	res := &result.CheckResult{TargetID: 1, Kind: target.KindAvailability, CheckedAt: at, Outcome: result.OutcomeFailure}

	ok, err := r.Append(ctx, res)
	require.NoError(t, err)
	assert.True(t, ok)

	dup := *res
	ok, err = r.Append(ctx, &dup)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 1, r.Len())

	got, err := r.Recent(ctx, res.Pair(), 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int64(1), got[0].ID)
}

func TestAlertRepo_RejectsSecondActiveAlert(t *testing.T) {
	ctx := context.Background()
	r := NewAlertRepo()
	a := &alert.Alert{ID: "a", TargetID: 1, Kind: target.KindPerformance, Status: alert.StatusOpen}
	require.NoError(t, r.Create(ctx, a))

	b := &alert.Alert{ID: "b", TargetID: 1, Kind: target.KindPerformance, Status: alert.StatusOpen}
	assert.Error(t, r.Create(ctx, b))

	a.Status = alert.StatusResolved
	require.NoError(t, r.Update(ctx, a))
	assert.NoError(t, r.Create(ctx, b))

	open, err := r.List(ctx, alert.Filter{Status: alert.StatusOpen})
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "b", open[0].ID)
}

func TestAlertRepo_GetStateFreshWhenMissing(t *testing.T) {
	p := target.Pair{TargetID: 9, Kind: target.KindContent}
	s, err := NewAlertRepo().GetState(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, alert.Fresh(p), s)
}
