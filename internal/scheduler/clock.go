// Package scheduler es la fuente externa de ticks: una vez por intervalo
// avanza todas las batallas no liquidadas.
package scheduler

import (
	"context"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/alejandrodnm/battlewager/internal/domain"
)

// Ticker es lo que el clock necesita del engine.
type Ticker interface {
	ActiveBattles() []string
	Tick(ctx context.Context, battleID string) (*domain.StateChange, error)
}

// Config contiene la configuración del clock.
type Config struct {
	Interval time.Duration
	Workers  int // goroutines por ronda (0 = NumCPU*2)
}

// Result es el efecto de un tick sobre una batalla.
type Result struct {
	BattleID string
	Change   *domain.StateChange
	Err      error
}

// Clock dispara un tick por segundo a cada batalla activa.
type Clock struct {
	cfg    Config
	engine Ticker
}

// New crea un Clock.
func New(cfg Config, engine Ticker) *Clock {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	return &Clock{cfg: cfg, engine: engine}
}

// Run ejecuta el loop hasta que el contexto se cancele.
func (c *Clock) Run(ctx context.Context) error {
	slog.Info("clock starting", "interval", c.cfg.Interval, "workers", c.cfg.Workers)

	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("clock stopped")
			return nil
		case <-ticker.C:
			c.TickAll(ctx)
		}
	}
}

// TickAll avanza en paralelo todas las batallas activas. Cada batalla
// recibe exactamente un tick por ronda; el orden entre batallas no importa
// porque el engine serializa por batalla.
func (c *Clock) TickAll(ctx context.Context) []Result {
	start := time.Now()
	ids := c.engine.ActiveBattles()
	if len(ids) == 0 {
		return nil
	}

	workers := c.cfg.Workers
	if workers <= 0 {
		workers = runtime.NumCPU() * 2
	}
	workers = min(workers, len(ids))

	workCh := make(chan string, len(ids))
	resultCh := make(chan Result, len(ids))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for id := range workCh {
				change, err := c.engine.Tick(ctx, id)
				resultCh <- Result{BattleID: id, Change: change, Err: err}
			}
		}()
	}

	for _, id := range ids {
		workCh <- id
	}
	close(workCh)

	go func() {
		wg.Wait()
		close(resultCh)
	}()

	results := make([]Result, 0, len(ids))
	for r := range resultCh {
		results = append(results, r)
	}

	for _, r := range lo.Filter(results, func(r Result, _ int) bool { return r.Err != nil }) {
		slog.Error("tick failed", "battle_id", r.BattleID, "err", r.Err)
	}

	slog.Debug("clock round complete",
		"battles", len(ids),
		"transitions", lo.CountBy(results, func(r Result) bool { return r.Change != nil }),
		"settled", lo.CountBy(results, func(r Result) bool { return r.Change != nil && r.Change.TriggersSettlement() }),
		"duration", time.Since(start).Round(time.Millisecond),
	)
	return results
}
