package draft

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

var _ Repository = &MemRepo{}

// MemRepo is an in-memory Repository.
type MemRepo struct {
	mu      sync.Mutex
	drafts  map[string]Record
	records map[recordKey]Record
}

type recordKey struct {
	guild, name string
}

// NewMemRepo produces a new, empty MemRepo.
func NewMemRepo() *MemRepo {
	return &MemRepo{
		drafts:  make(map[string]Record),
		records: make(map[recordKey]Record),
	}
}

func (m *MemRepo) AddDraft(_ context.Context, rec Record) (string, error) {
	id := uuid.NewString()

	m.mu.Lock()
	m.drafts[id] = rec
	m.mu.Unlock()

	return id, nil
}

func (m *MemRepo) GetDraft(_ context.Context, id string) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.drafts[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

func (m *MemRepo) DeleteDraft(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.drafts[id]; !ok {
		return ErrNotFound
	}
	delete(m.drafts, id)
	return nil
}

func (m *MemRepo) Add(_ context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := recordKey{guild: rec.Guild, name: rec.Name}
	if _, ok := m.records[k]; ok {
		return ErrAlreadyExists
	}
	m.records[k] = rec
	return nil
}

func (m *MemRepo) Get(_ context.Context, guild, name string) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[recordKey{guild: guild, name: name}]
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec, nil
}
