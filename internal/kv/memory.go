package kv

import (
	"context"
	"sync"
)

// Memory is an in-process Store. Faults can be injected per operation so that
// callers can exercise their storage-failure paths.
type Memory struct {
	mu     sync.RWMutex
	data   map[string][]byte
	faults map[Op]error
	closed bool
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		data:   make(map[string][]byte),
		faults: make(map[Op]error),
	}
}

// InjectFault makes every subsequent op fail with err. A nil err clears it.
func (m *Memory) InjectFault(op Op, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.faults, op)
		return
	}
	m.faults[op] = err
}

func (m *Memory) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, false, ErrClosed
	}
	if err := m.faults[OpGet]; err != nil {
		return nil, false, err
	}
	v, ok := m.data[key]
	if !ok {
		return nil, false, nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, true, nil
}

func (m *Memory) Set(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if err := m.faults[OpSet]; err != nil {
		return err
	}
	stored := make([]byte, len(value))
	copy(stored, value)
	m.data[key] = stored
	return nil
}

func (m *Memory) Remove(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if err := m.faults[OpRemove]; err != nil {
		return err
	}
	delete(m.data, key)
	return nil
}

// Update holds the write lock across fn. A get fault fails before fn runs and
// a set fault fails before the result is stored.
func (m *Memory) Update(ctx context.Context, key string, fn UpdateFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if err := m.faults[OpGet]; err != nil {
		return err
	}
	var current []byte
	v, found := m.data[key]
	if found {
		current = make([]byte, len(v))
		copy(current, v)
	}
	next, write, err := fn(current, found)
	if err != nil || !write {
		return err
	}
	if err := m.faults[OpSet]; err != nil {
		return err
	}
	stored := make([]byte, len(next))
	copy(stored, next)
	m.data[key] = stored
	return nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
