package limiter

import (
	"context"
	"sync"
	"time"
)

type counter struct {
	fails        int
	first        time.Time
	blockedUntil time.Time
}

// Memory is an in-process Limiter with the same rules as PG.
type Memory struct {
	mu       sync.Mutex
	state    map[string]*counter
	window   time.Duration
	maxFails int
	blockFor time.Duration
	now      func() time.Time
}

// NewMemory constructs an in-process limiter.
func NewMemory(window time.Duration, maxFails int, blockFor time.Duration) *Memory {
	return &Memory{state: map[string]*counter{}, window: window, maxFails: maxFails, blockFor: blockFor, now: time.Now}
}

func key(email string, sourceHash []byte) string { return email + "\x00" + string(sourceHash) }

func (m *Memory) Allow(_ context.Context, email string, sourceHash []byte) (bool, time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.state[key(email, sourceHash)]
	if !ok {
		return true, 0, nil
	}
	if now := m.now(); c.blockedUntil.After(now) {
		return false, c.blockedUntil.Sub(now), nil
	}
	return true, 0, nil
}

func (m *Memory) Success(_ context.Context, email string, sourceHash []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.state, key(email, sourceHash))
	return nil
}

func (m *Memory) Failure(_ context.Context, email string, sourceHash []byte) (bool, time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	k := key(email, sourceHash)
	c, ok := m.state[k]
	if !ok || now.Sub(c.first) > m.window {
		c = &counter{first: now}
		m.state[k] = c
	}
	c.fails++
	if c.fails < m.maxFails {
		return false, 0, nil
	}
	c.blockedUntil = now.Add(m.blockFor)
	return true, m.blockFor, nil
}
