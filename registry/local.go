package registry

import (
	"context"
	"sync"
	"time"
)

type localEntry struct {
	Token     string
	UpdatedAt time.Time
}

// Local keeps tokens in-process. Tokens are not shared across replicas, so it
// only suits single-process deployments and tests.
// Optional cleanup loop prunes tokens untouched for longer than retention; a
// pruned index simply gets a new token on its next read.
type Local struct {
	mu       sync.RWMutex
	tokens   map[string]localEntry
	newToken TokenFunc
	ticker   *time.Ticker
	stopCh   chan struct{}
	wg       sync.WaitGroup
	once     sync.Once
}

var _ Registry = (*Local)(nil)

func NewLocal(newToken TokenFunc, cleanupInterval, retention time.Duration) *Local {
	if newToken == nil {
		newToken = NewToken
	}
	s := &Local{
		tokens:   make(map[string]localEntry),
		newToken: newToken,
	}
	if cleanupInterval > 0 && retention > 0 {
		s.ticker = time.NewTicker(cleanupInterval)
		s.stopCh = make(chan struct{})
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			for {
				select {
				case <-s.ticker.C:
					s.Cleanup(retention)
				case <-s.stopCh:
					return
				}
			}
		}()
	}
	return s
}

func (s *Local) Token(_ context.Context, index string) (string, error) {
	s.mu.RLock()
	e, ok := s.tokens[index]
	s.mu.RUnlock()
	if ok {
		return e.Token, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getOrCreateLocked(index, time.Now()), nil
}

// Tokens takes the write lock once for all indexes.
func (s *Local) Tokens(_ context.Context, indexes []string) ([]string, error) {
	out := make([]string, len(indexes))
	now := time.Now()
	s.mu.Lock()
	for i, idx := range indexes {
		out[i] = s.getOrCreateLocked(idx, now)
	}
	s.mu.Unlock()
	return out, nil
}

func (s *Local) getOrCreateLocked(index string, now time.Time) string {
	if e, ok := s.tokens[index]; ok {
		return e.Token
	}
	e := localEntry{Token: s.newToken(), UpdatedAt: now}
	s.tokens[index] = e
	return e.Token
}

func (s *Local) Rotate(_ context.Context, index string) (string, error) {
	e := localEntry{Token: s.newToken(), UpdatedAt: time.Now()}
	s.mu.Lock()
	s.tokens[index] = e
	s.mu.Unlock()
	return e.Token, nil
}

func (s *Local) Cleanup(retention time.Duration) {
	if retention <= 0 {
		return
	}
	cutoff := time.Now().Add(-retention)

	s.mu.Lock()
	for k, e := range s.tokens {
		if e.UpdatedAt.Before(cutoff) {
			delete(s.tokens, k)
		}
	}
	s.mu.Unlock()
}

func (s *Local) Close(_ context.Context) error {
	s.once.Do(func() {
		if s.stopCh != nil {
			close(s.stopCh)
			if s.ticker != nil {
				s.ticker.Stop() // stop ticker before waiting
			}
			s.wg.Wait()
		}
	})
	return nil
}
