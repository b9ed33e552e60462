package storage

import (
	"context"
	"sync"

	"psx_copilot/internal/models"
)

// Memory is an in-process Store used for dry runs and tests.
// FailSaves makes every Save return the given error.
type Memory struct {
	mu        sync.Mutex
	state     *models.PortfolioState
	saves     int
	FailSaves error
}

func NewMemory() *Memory { return &Memory{} }

func (m *Memory) Load(ctx context.Context) (models.PortfolioState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == nil {
		return models.PortfolioState{}, ErrNoState
	}
	return m.state.Clone(), nil
}

func (m *Memory) Save(ctx context.Context, s models.PortfolioState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailSaves != nil {
		return m.FailSaves
	}
	if m.state != nil {
		if err := CheckRevision(m.state.Revision, s.Revision); err != nil {
			return err
		}
	}
	c := s.Clone()
	m.state = &c
	m.saves++
	return nil
}

// Saves reports how many successful saves happened.
func (m *Memory) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

func (m *Memory) Close() error { return nil }
