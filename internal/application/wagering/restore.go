package wagering

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alejandrodnm/battlewager/internal/domain"
	"github.com/alejandrodnm/battlewager/internal/ledger"
)

// Recover restaura desde storage todas las batallas no liquidadas y las que
// tienen créditos pendientes. Se llama una vez al arrancar.
func (e *Engine) Recover(ctx context.Context) (int, error) {
	if e.storage == nil {
		return 0, nil
	}
	ids, err := e.storage.RecoverableBattles(ctx)
	if err != nil {
		return 0, fmt.Errorf("wagering.Recover: %w", err)
	}

	restored := 0
	for _, id := range ids {
		if err := e.RestoreBattle(ctx, id); err != nil {
			slog.Error("battle restore failed", "battle_id", id, "err", err)
			continue
		}
		restored++
	}
	return restored, nil
}

// RestoreBattle carga una batalla persistida al registro: sesión, votos y,
// si ya está liquidada, los créditos sin confirmar para RetryFailedPayouts.
func (e *Engine) RestoreBattle(ctx context.Context, battleID string) error {
	if e.storage == nil {
		return fmt.Errorf("wagering.RestoreBattle %s: %w", battleID, domain.ErrBattleNotFound)
	}

	session, err := e.storage.GetBattle(ctx, battleID)
	if err != nil {
		return fmt.Errorf("wagering.RestoreBattle: %w", err)
	}
	votes, err := e.storage.GetVotes(ctx, battleID)
	if err != nil {
		return fmt.Errorf("wagering.RestoreBattle: %w", err)
	}
	l, err := ledger.Restore(battleID, e.cfg.Ledger, votes)
	if err != nil {
		return fmt.Errorf("wagering.RestoreBattle: %w", err)
	}

	b := &battle{session: &session, ledger: l}
	if session.Phase == domain.PhaseSettled {
		pending, err := e.storage.PendingPayouts(ctx, battleID)
		if err != nil {
			return fmt.Errorf("wagering.RestoreBattle: %w", err)
		}
		b.failed = pending
		b.settlement = restoredSettlement(session, l.Votes(), pending)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.battles[battleID]; exists {
		return fmt.Errorf("wagering.RestoreBattle %s: %w", battleID, domain.ErrBattleExists)
	}
	e.battles[battleID] = b

	slog.Info("battle restored",
		"battle_id", battleID,
		"phase", session.Phase,
		"votes", len(votes),
		"pending_payouts", len(b.failed),
	)
	return nil
}

// restoredSettlement reconstruye el resultado de una batalla ya liquidada.
// Payouts contiene solo los créditos pendientes; los confirmados ya no importan.
func restoredSettlement(session domain.BattleSession, votes []domain.Vote, pending []domain.PayoutInstruction) *domain.SettlementResult {
	outcome := domain.DetermineOutcome(session.FinalScores)
	if session.Aborted {
		outcome = domain.OutcomeVoid
	}
	res := &domain.SettlementResult{
		BattleID:    session.BattleID,
		Outcome:     outcome,
		FinalScores: session.FinalScores,
		Votes:       votes,
		Payouts:     pending,
	}
	for _, v := range votes {
		res.TotalStaked += v.Stake
	}
	return res
}

// VoteOf devuelve el voto vigente de un votante en la batalla.
func (e *Engine) VoteOf(battleID, voterID string) (domain.Vote, bool, error) {
	b, err := e.lookup(battleID)
	if err != nil {
		return domain.Vote{}, false, fmt.Errorf("wagering.VoteOf: %w", err)
	}
	var (
		vote domain.Vote
		ok   bool
	)
	b.locked(func() { vote, ok = b.ledger.VoteOf(voterID) })
	return vote, ok, nil
}
