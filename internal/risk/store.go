package risk

import (
	"arbiter/internal/model"
	"context"
	"errors"
	"sync"
)

// ErrLeaseLost is returned when a write is attempted after the store lock
// expired or was taken over by another holder.
var ErrLeaseLost = errors.New("governor state lease lost")

// Store persists governor state. Lock must serialize read-modify-write
// cycles across every process sharing the store.
type Store interface {
	Lock(ctx context.Context) (Lease, error)
	Load(ctx context.Context) (model.GovernorState, bool, error)
}

// Lease is exclusive write access to the state. Save fails with
// ErrLeaseLost once the lease is no longer held.
type Lease interface {
	Save(ctx context.Context, st model.GovernorState) error
	Release(ctx context.Context) error
}

// MemoryStore keeps state in the process. The governor's own mutex is the
// only lock needed, so its lease never expires.
type MemoryStore struct {
	mu  sync.Mutex
	st  model.GovernorState
	set bool
}

// NewMemoryStore returns an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Lock(context.Context) (Lease, error) {
	return memoryLease{m}, nil
}

func (m *MemoryStore) Load(context.Context) (model.GovernorState, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return copyState(m.st), m.set, nil
}

type memoryLease struct {
	m *MemoryStore
}

func (l memoryLease) Save(_ context.Context, st model.GovernorState) error {
	l.m.mu.Lock()
	defer l.m.mu.Unlock()
	l.m.st = copyState(st)
	l.m.set = true
	return nil
}

func (memoryLease) Release(context.Context) error { return nil }

func copyState(st model.GovernorState) model.GovernorState {
	if st.KillSwitchActivatedAt != nil {
		at := *st.KillSwitchActivatedAt
		st.KillSwitchActivatedAt = &at
	}
	return st
}
