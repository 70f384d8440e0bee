// Package checker implements one probe per check kind. Checkers hold no mutable state,
// so a single instance serves every worker of the executor pool.
package checker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/NordCoder/Sitewatch/internal/domain/result"
	"github.com/NordCoder/Sitewatch/internal/domain/target"
)

// Checker runs one kind of probe. A returned error is a transport-level fault and is
// turned into an error result by the caller; probes never return partial results.
type Checker interface {
	Kind() target.Kind
	Check(ctx context.Context, t *target.Target, cfg target.KindConfig) (*result.CheckResult, error)
}

var ErrNoChecker = errors.New("no checker registered for kind")

// Registry maps every kind to exactly one checker.
type Registry struct {
	availability Checker
	certificate  Checker
	performance  Checker
	links        Checker
	platform     Checker
	content      Checker
}

// NewRegistry wires the default checker of every kind around one shared client.
func NewRegistry(client *http.Client) *Registry {
	r, _ := NewRegistryOf(
		NewAvailability(client),
		NewCertificate(client),
		NewPerformance(client),
		NewLinks(client),
		NewPlatform(client),
		NewContent(client),
	)
	return r
}

// NewRegistryOf builds a registry from explicit checkers; every kind must be covered once.
func NewRegistryOf(cs ...Checker) (*Registry, error) {
	r := &Registry{}
	for _, c := range cs {
		slot, err := r.slot(c.Kind())
		if err != nil {
			return nil, err
		}
		if *slot != nil {
			return nil, fmt.Errorf("duplicate checker for kind %s", c.Kind())
		}
		*slot = c
	}
	for _, k := range target.Kinds {
		if c, _ := r.For(k); c == nil {
			return nil, fmt.Errorf("%w: %s", ErrNoChecker, k)
		}
	}
	return r, nil
}

func (r *Registry) slot(k target.Kind) (*Checker, error) {
	switch k {
	case target.KindAvailability:
		return &r.availability, nil
	case target.KindCertificate:
		return &r.certificate, nil
	case target.KindPerformance:
		return &r.performance, nil
	case target.KindLinkIntegrity:
		return &r.links, nil
	case target.KindPlatform:
		return &r.platform, nil
	case target.KindContent:
		return &r.content, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrNoChecker, k)
	}
}

func (r *Registry) For(k target.Kind) (Checker, error) {
	slot, err := r.slot(k)
	if err != nil {
		return nil, err
	}
	if *slot == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoChecker, k)
	}
	return *slot, nil
}

func newResult(t *target.Target, k target.Kind, started time.Time) *result.CheckResult {
	return &result.CheckResult{
		TargetID:  t.ID,
		Kind:      k,
		CheckedAt: started,
		Outcome:   result.OutcomeSuccess,
		Payload:   map[string]any{},
	}
}

func fail(r *result.CheckResult, reason string) *result.CheckResult {
	r.Outcome = result.OutcomeFailure
	r.Reason = reason
	return r
}

func errored(r *result.CheckResult, reason string) *result.CheckResult {
	r.Outcome = result.OutcomeError
	r.Reason = reason
	return r
}

// transportReason renders a request error the way operators read it in alerts.
func transportReason(ctx context.Context, err error, timeout time.Duration) string {
	if errors.Is(err, context.DeadlineExceeded) || ctx.Err() == context.DeadlineExceeded {
		return fmt.Sprintf("Timeout after %d seconds", int(timeout.Seconds()))
	}
	return "Connection error: " + err.Error()
}

func since(t time.Time) int64 { return time.Since(t).Milliseconds() }
