package alert

import (
	"context"

	"github.com/NordCoder/Sitewatch/internal/domain/target"
)

type Repo interface {
	// GetState returns Fresh(p) when the pair has no stored state.
	GetState(ctx context.Context, p target.Pair) (*State, error)
	UpsertState(ctx context.Context, s *State) error

	Create(ctx context.Context, a *Alert) error
	Update(ctx context.Context, a *Alert) error
	GetByID(ctx context.Context, id string) (*Alert, error)
	List(ctx context.Context, f Filter) ([]*Alert, error)
}

// Events receives lifecycle events; implementations must join the caller's transaction.
type Events interface {
	Emit(ctx context.Context, ev Event) error
}
