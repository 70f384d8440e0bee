package redis

import (
	"testing"
	"time"

	"github.com/NordCoder/Sitewatch/internal/domain/target"
	"github.com/stretchr/testify/assert"
)

func TestKeys(t *testing.T) {
	p := target.Pair{TargetID: 42, Kind: target.KindCertificate}
	assert.Equal(t, "sitewatch:results:42:certificate", historyKey(p))

	day := time.Date(2024, 3, 9, 23, 30, 0, 0, time.FixedZone("x", 3*3600))
	assert.Equal(t, "sitewatch:outcomes:42:certificate:2024-03-09", countersKey(p, day))
}

func TestNewResultCache_Defaults(t *testing.T) {
	c := NewResultCache(nil, Config{})
	assert.Equal(t, defaultHistoryLen, c.historyLen)
	assert.Equal(t, defaultTTL, c.ttl)

	c = NewResultCache(nil, Config{HistoryLen: 5, TTL: time.Hour})
	assert.Equal(t, 5, c.historyLen)
	assert.Equal(t, time.Hour, c.ttl)
}
