package result

import (
	"context"

	"github.com/NordCoder/Sitewatch/internal/domain/target"
)

type Repo interface {
	// Append stores r once; inserted is false when the same (target, kind, checked_at) exists.
	Append(ctx context.Context, r *CheckResult) (inserted bool, err error)
	Recent(ctx context.Context, p target.Pair, n int) ([]*CheckResult, error)
}
