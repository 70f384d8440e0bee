package target

import "context"

type Repo interface {
	ListMonitored(ctx context.Context) ([]*Target, error)
	GetByID(ctx context.Context, id int64) (*Target, error)
}
