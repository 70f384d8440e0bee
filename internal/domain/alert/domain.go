package alert

import (
	"errors"
	"time"

	"github.com/NordCoder/Sitewatch/internal/domain/target"
)

var (
	ErrNotFound          = errors.New("alert not found")
	ErrInvalidTransition = errors.New("invalid alert transition")
)

type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

func (s Severity) rank() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityError:
		return 3
	case SeverityWarning:
		return 2
	case SeverityInfo:
		return 1
	default:
		return 0
	}
}

// Higher reports whether s is more severe than o.
func (s Severity) Higher(o Severity) bool { return s.rank() > o.rank() }

func ParseSeverity(s string) (Severity, error) {
	sv := Severity(s)
	if sv.rank() == 0 {
		return "", errors.New("unknown severity " + s)
	}
	return sv, nil
}

type Status string

const (
	StatusOpen         Status = "open"
	StatusAcknowledged Status = "acknowledged"
	StatusResolved     Status = "resolved"
)

func (s Status) Active() bool { return s == StatusOpen || s == StatusAcknowledged }

func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusOpen, StatusAcknowledged, StatusResolved:
		return st, nil
	}
	return "", errors.New("unknown status " + s)
}

type Alert struct {
	ID             string         `json:"id"`
	TargetID       int64          `json:"target_id"`
	Kind           target.Kind    `json:"kind"`
	Severity       Severity       `json:"severity"`
	Status         Status         `json:"status"`
	Message        string         `json:"message"`
	Details        map[string]any `json:"details,omitempty"`
	Occurrences    int            `json:"occurrences"`
	CreatedAt      time.Time      `json:"created_at"`
	LastSeenAt     time.Time      `json:"last_seen_at"`
	AcknowledgedAt *time.Time     `json:"acknowledged_at,omitempty"`
	ResolvedAt     *time.Time     `json:"resolved_at,omitempty"`
	ResolutionNote string         `json:"resolution_note,omitempty"`
}

func (a *Alert) Pair() target.Pair { return target.Pair{TargetID: a.TargetID, Kind: a.Kind} }

// Acknowledge moves an open alert to acknowledged. Acknowledging twice is a no-op.
func (a *Alert) Acknowledge(now time.Time) (changed bool, err error) {
	switch a.Status {
	case StatusOpen:
		a.Status = StatusAcknowledged
		a.AcknowledgedAt = &now
		return true, nil
	case StatusAcknowledged:
		return false, nil
	default:
		return false, ErrInvalidTransition
	}
}

// Resolve closes an active alert. Resolving a resolved alert is a no-op.
func (a *Alert) Resolve(now time.Time, note string) (changed bool) {
	if a.Status == StatusResolved {
		return false
	}
	a.Status = StatusResolved
	a.ResolvedAt = &now
	a.ResolutionNote = note
	return true
}

// State is the per-pair aggregate the evaluator works on.
type State struct {
	TargetID            int64       `json:"target_id"`
	Kind                target.Kind `json:"kind"`
	ConsecutiveFailures int         `json:"consecutive_failures"`
	Severity            Severity    `json:"severity,omitempty"`
	ActiveAlertID       string      `json:"active_alert_id,omitempty"`
	LastCheckedAt       time.Time   `json:"last_checked_at"`
	UpdatedAt           time.Time   `json:"updated_at"`
}

// Fresh returns the zero state for p.
func Fresh(p target.Pair) *State {
	return &State{TargetID: p.TargetID, Kind: p.Kind}
}

// Valid reports whether s can be used as-is; invalid states are replaced with Fresh.
func (s *State) Valid(p target.Pair) bool {
	return s != nil && s.TargetID == p.TargetID && s.Kind == p.Kind && s.ConsecutiveFailures >= 0
}

type Filter struct {
	Status   Status
	Severity Severity
	Kind     target.Kind
	TargetID int64
	Limit    int
}
