package wagering

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/battlewager/internal/domain"
)

// CreatorView es un creador tal como lo ve la UI.
type CreatorView struct {
	domain.Creator
	IsLeading bool
}

// DisplayState es la foto de una batalla para la UI. Los puntajes son un
// espejo best-effort del Score Feed hasta que quedan congelados en Ending.
type DisplayState struct {
	BattleID             string
	Phase                domain.Phase
	TimeRemainingSeconds int
	CreatorA             CreatorView
	CreatorB             CreatorView
	PoolA                int64
	PoolB                int64
	TotalPool            int64
	VoterCount           int
	OddsA                decimal.Decimal
	OddsB                decimal.Decimal
	ScoresFrozen         bool
	Aborted              bool
	Outcome              domain.Outcome
	PendingPayouts       int
}

// DisplayState lee el feed fuera del lock (si los puntajes no están
// congelados) y devuelve la foto actual. Un feed caído no es error: se
// muestran los últimos puntajes conocidos.
func (e *Engine) DisplayState(ctx context.Context, battleID string) (DisplayState, error) {
	b, err := e.lookup(battleID)
	if err != nil {
		return DisplayState{}, fmt.Errorf("wagering.DisplayState: %w", err)
	}

	var frozen bool
	b.locked(func() { frozen = b.session.ScoresFrozen })

	var live *domain.Scores
	if !frozen && e.feed != nil {
		fctx, cancel := context.WithTimeout(ctx, e.cfg.FeedTimeout)
		scores, err := e.feed.Scores(fctx, battleID)
		cancel()
		if err != nil {
			slog.Debug("score feed unavailable", "battle_id", battleID, "err", err)
		} else {
			live = &scores
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if live != nil {
		b.session.ObserveScores(*live)
	}
	return e.snapshot(b), nil
}

// snapshot se llama con b.mu tomado.
func (e *Engine) snapshot(b *battle) DisplayState {
	s := b.session
	pool := b.ledger.Pool()
	leader, hasLeader := s.LastKnownScores().Leader()

	state := DisplayState{
		BattleID:             s.BattleID,
		Phase:                s.Phase,
		TimeRemainingSeconds: s.TimeRemainingSeconds,
		CreatorA:             CreatorView{Creator: s.CreatorA, IsLeading: hasLeader && leader == domain.SideA},
		CreatorB:             CreatorView{Creator: s.CreatorB, IsLeading: hasLeader && leader == domain.SideB},
		PoolA:                pool.PoolA,
		PoolB:                pool.PoolB,
		TotalPool:            pool.TotalPool,
		VoterCount:           pool.VoterCount,
		OddsA:                b.ledger.Odds(domain.SideA),
		OddsB:                b.ledger.Odds(domain.SideB),
		ScoresFrozen:         s.ScoresFrozen,
		Aborted:              s.Aborted,
		PendingPayouts:       len(b.failed),
	}
	if b.settlement != nil {
		state.Outcome = b.settlement.Outcome
	}
	return state
}
