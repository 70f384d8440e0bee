package result

import (
	"strconv"
	"time"

	"github.com/NordCoder/Sitewatch/internal/domain/target"
)

type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomeError   Outcome = "error"
)

func (o Outcome) Failed() bool { return o == OutcomeFailure || o == OutcomeError }

type CheckResult struct {
	ID        int64          `json:"id"`
	TargetID  int64          `json:"target_id"`
	Kind      target.Kind    `json:"kind"`
	CheckedAt time.Time      `json:"checked_at"`
	Outcome   Outcome        `json:"outcome"`
	Reason    string         `json:"reason,omitempty"`
	LatencyMS int64          `json:"latency_ms"`
	Payload   map[string]any `json:"payload,omitempty"`
	Manual    bool           `json:"manual"`
}

func (r *CheckResult) Pair() target.Pair {
	return target.Pair{TargetID: r.TargetID, Kind: r.Kind}
}

// Key identifies a result across redeliveries.
func (r *CheckResult) Key() string {
	return r.Pair().Key() + ":" + strconv.FormatInt(r.CheckedAt.UnixNano(), 10)
}

// Stamp normalizes a check time to UTC at the microsecond precision the
// result and state stores keep, so a stored time equals the one handed out.
func Stamp(t time.Time) time.Time { return t.UTC().Truncate(time.Microsecond) }

// Errored builds the terminal error result for a check that never produced one.
func Errored(p target.Pair, at time.Time, reason string) *CheckResult {
	return &CheckResult{
		TargetID:  p.TargetID,
		Kind:      p.Kind,
		CheckedAt: Stamp(at),
		Outcome:   OutcomeError,
		Reason:    reason,
		Payload:   map[string]any{},
	}
}

// Int reads an integer payload field regardless of how it was decoded.
func (r *CheckResult) Int(key string) (int, bool) {
	switch v := r.Payload[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}

func (r *CheckResult) Bool(key string) bool {
	v, _ := r.Payload[key].(bool)
	return v
}
