package staterepository

import "context"

// StateRepository stores small JSON documents by key.
// GetState returns domain.ErrStateNotFound for unknown keys.
type StateRepository interface {
	GetState(ctx context.Context, key string) ([]byte, error)
	StoreState(ctx context.Context, key string, value []byte) error
	DeleteState(ctx context.Context, key string) error
}
