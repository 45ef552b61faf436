package scorefeed

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/alejandrodnm/battlewager/internal/domain"
)

// ErrFeedUnavailable lo devuelve MemoryFeed mientras está marcado como caído.
var ErrFeedUnavailable = errors.New("scorefeed: unavailable")

// MemoryFeed es un feed en memoria para simulación y tests.
type MemoryFeed struct {
	mu      sync.Mutex
	scores  map[string]domain.Scores
	failing bool
}

// NewMemoryFeed crea un feed vacío.
func NewMemoryFeed() *MemoryFeed {
	return &MemoryFeed{scores: make(map[string]domain.Scores)}
}

// Scores implementa ports.ScoreFeed.
func (f *MemoryFeed) Scores(_ context.Context, battleID string) (domain.Scores, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing {
		return domain.Scores{}, ErrFeedUnavailable
	}
	return f.scores[battleID], nil
}

// Push suma delta al puntaje del lado dado.
func (f *MemoryFeed) Push(_ context.Context, battleID string, side domain.Side, delta int64) error {
	if !side.Valid() {
		return fmt.Errorf("scorefeed.Push: side %q: %w", side, domain.ErrInvalidSide)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	s := f.scores[battleID]
	if side == domain.SideA {
		s.A += delta
	} else {
		s.B += delta
	}
	f.scores[battleID] = s
	return nil
}

// SetFailing simula la caída (o recuperación) del feed.
func (f *MemoryFeed) SetFailing(failing bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failing = failing
}
