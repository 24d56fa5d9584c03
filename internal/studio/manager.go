package studio

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Manager holds one Studio per seller (thread-safe). Studios are created on first use.
type Manager struct {
	mu      sync.RWMutex
	studios map[uuid.UUID]*Studio
	deps    Deps
	opts    Options
	log     *zap.Logger
}

// NewManager creates a studio manager. Every studio shares deps and opts.
func NewManager(deps Deps, opts Options) *Manager {
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{studios: make(map[uuid.UUID]*Studio), deps: deps, opts: opts, log: log}
}

// Get returns the studio for id, creating it if needed.
func (m *Manager) Get(id uuid.UUID) *Studio {
	m.mu.RLock()
	s := m.studios[id]
	m.mu.RUnlock()
	if s != nil {
		return s
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if s = m.studios[id]; s != nil {
		return s
	}
	opts := m.opts
	opts.Destinations = append(opts.Destinations[:0:0], m.opts.Destinations...)
	s = New(id, m.deps, opts)
	m.studios[id] = s
	return s
}

// Lookup returns the studio for id without creating it.
func (m *Manager) Lookup(id uuid.UUID) (*Studio, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.studios[id]
	return s, ok
}

// PushAudio routes an operator audio chunk to the studio's assistant.
func (m *Manager) PushAudio(id uuid.UUID, pcm []byte) error {
	s, ok := m.Lookup(id)
	if !ok {
		return ErrNotLive
	}
	return s.PushAudio(pcm)
}

// PushVideo routes an operator video frame to the studio's assistant.
func (m *Manager) PushVideo(id uuid.UUID, jpeg []byte) error {
	s, ok := m.Lookup(id)
	if !ok {
		return ErrNotLive
	}
	return s.PushVideo(jpeg)
}

// Shutdown stops every live studio, persisting their records.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.RLock()
	list := make([]*Studio, 0, len(m.studios))
	for _, s := range m.studios {
		list = append(list, s)
	}
	m.mu.RUnlock()

	var errs []error
	for _, s := range list {
		if err := s.Close(ctx); err != nil {
			m.log.Error("studio shutdown failed", zap.String("studio_id", s.ID().String()), zap.Error(err))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
