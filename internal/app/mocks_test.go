package app

import (
	"context"
	"fmt"
	"maps"
	"sync"

	"github.com/Amund211/chessoverlay/internal/domain"
)

type memoryStateRepository struct {
	mu     sync.Mutex
	values map[string][]byte

	getErr   error
	storeErr error
}

func newMemoryStateRepository() *memoryStateRepository {
	return &memoryStateRepository{values: map[string][]byte{}}
}

func (r *memoryStateRepository) GetState(ctx context.Context, key string) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.getErr != nil {
		return nil, r.getErr
	}
	value, ok := r.values[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrStateNotFound, key)
	}
	return value, nil
}

func (r *memoryStateRepository) StoreState(ctx context.Context, key string, value []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.storeErr != nil {
		return r.storeErr
	}
	r.values[key] = value
	return nil
}

func (r *memoryStateRepository) DeleteState(ctx context.Context, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.values, key)
	return nil
}

func (r *memoryStateRepository) snapshot() map[string][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()

	return maps.Clone(r.values)
}
