// Package evaluator turns a check result and the pair's alert state into an alerting decision.
package evaluator

import (
	"fmt"
	"time"

	"github.com/NordCoder/Sitewatch/internal/domain/alert"
	"github.com/NordCoder/Sitewatch/internal/domain/result"
	"github.com/NordCoder/Sitewatch/internal/domain/target"
)

type Signal string

const (
	SignalNone             Signal = "none"
	SignalThresholdCrossed Signal = "threshold_crossed"
	SignalRepeat           Signal = "repeat"
	SignalRecovered        Signal = "recovered"
	SignalDuplicate        Signal = "duplicate"
)

type Decision struct {
	Signal Signal
	// State is the state to persist. For SignalDuplicate it is the input state untouched.
	State *alert.State
	// Note is the resolution note for SignalRecovered.
	Note string
}

// Evaluate is pure: it never mutates state and never touches storage.
func Evaluate(res *result.CheckResult, state *alert.State, threshold int) Decision {
	p := res.Pair()
	if !state.Valid(p) {
		state = alert.Fresh(p)
	}
	if threshold < 1 {
		threshold = target.DefaultThreshold
	}
	at := result.Stamp(res.CheckedAt)
	if !state.LastCheckedAt.IsZero() && !at.After(result.Stamp(state.LastCheckedAt)) {
		return Decision{Signal: SignalDuplicate, State: state}
	}

	next := *state
	next.LastCheckedAt = at
	next.UpdatedAt = at

	if !res.Outcome.Failed() {
		if next.ConsecutiveFailures == 0 {
			return Decision{Signal: SignalNone, State: &next}
		}
		next.ConsecutiveFailures = 0
		next.Severity = ""
		return Decision{
			Signal: SignalRecovered,
			State:  &next,
			Note:   "recovered automatically at " + res.CheckedAt.UTC().Format(time.RFC3339),
		}
	}

	next.ConsecutiveFailures++
	next.Severity = Severity(res)
	switch {
	case next.ConsecutiveFailures < threshold:
		return Decision{Signal: SignalNone, State: &next}
	case next.ActiveAlertID != "":
		return Decision{Signal: SignalRepeat, State: &next}
	default:
		return Decision{Signal: SignalThresholdCrossed, State: &next}
	}
}

// Severity maps a failing result to the severity of the alert it raises.
func Severity(res *result.CheckResult) alert.Severity {
	switch res.Kind {
	case target.KindAvailability:
		return alert.SeverityCritical
	case target.KindCertificate:
		if res.Bool("expired") || res.Bool("not_yet_valid") || res.Bool("revoked") {
			return alert.SeverityCritical
		}
		if v, ok := res.Payload["chain_valid"].(bool); ok && !v {
			return alert.SeverityCritical
		}
		return alert.SeverityWarning
	case target.KindPlatform:
		if res.Bool("security_relevant") {
			return alert.SeverityError
		}
		return alert.SeverityWarning
	default:
		return alert.SeverityWarning
	}
}

func Message(t *target.Target, res *result.CheckResult) string {
	name := fmt.Sprintf("target %d", res.TargetID)
	if t != nil {
		name = t.DisplayName()
	}
	reason := res.Reason
	if reason == "" {
		reason = string(res.Outcome)
	}
	switch res.Kind {
	case target.KindAvailability:
		return fmt.Sprintf("Site %s is down: %s", name, reason)
	case target.KindCertificate:
		return fmt.Sprintf("SSL certificate problem on %s: %s", name, reason)
	case target.KindPerformance:
		return fmt.Sprintf("Slow page load for %s: %s", name, reason)
	case target.KindLinkIntegrity:
		return fmt.Sprintf("Broken links found on %s: %s", name, reason)
	case target.KindPlatform:
		return fmt.Sprintf("WordPress attention needed on %s: %s", name, reason)
	case target.KindContent:
		return fmt.Sprintf("SEO problems on %s: %s", name, reason)
	default:
		return fmt.Sprintf("%s check failed for %s: %s", res.Kind.Title(), name, reason)
	}
}

// Details is the alert detail map: the result payload plus outcome metadata.
func Details(res *result.CheckResult) map[string]any {
	d := make(map[string]any, len(res.Payload)+3)
	for k, v := range res.Payload {
		d[k] = v
	}
	d["outcome"] = string(res.Outcome)
	d["checked_at"] = res.CheckedAt.UTC().Format(time.RFC3339)
	if res.Reason != "" {
		d["reason"] = res.Reason
	}
	return d
}
