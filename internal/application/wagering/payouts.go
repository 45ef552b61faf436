package wagering

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alejandrodnm/battlewager/internal/domain"
)

// ErrNotSettled se devuelve al reintentar pagos de una batalla sin liquidar.
var ErrNotSettled = errors.New("battle not settled")

// FailedPayout es un crédito que el wallet rechazó o no respondió a tiempo.
type FailedPayout struct {
	Payout domain.PayoutInstruction
	Err    error
}

// PayoutError agrupa los créditos fallidos de una liquidación. La batalla
// queda Settled igual; los créditos se reintentan con RetryFailedPayouts.
type PayoutError struct {
	BattleID string
	Failed   []FailedPayout
}

func (e *PayoutError) Error() string {
	parts := make([]string, 0, len(e.Failed))
	for _, f := range e.Failed {
		parts = append(parts, fmt.Sprintf("%s: %v", f.Payout.Reference(), f.Err))
	}
	return fmt.Sprintf("wagering: %d payout(s) failed for battle %s: %s",
		len(e.Failed), e.BattleID, strings.Join(parts, "; "))
}

// Unwrap expone los errores individuales para errors.Is / errors.As.
func (e *PayoutError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failed))
	for _, f := range e.Failed {
		errs = append(errs, f.Err)
	}
	return errs
}

// RetryFailedPayouts reenvía los créditos que fallaron en la liquidación.
// La referencia de cada crédito es estable, así que un wallet idempotente
// nunca paga dos veces. Devuelve *PayoutError si alguno vuelve a fallar.
// Si la batalla no está en memoria (p.ej. tras un reinicio) se restaura
// desde storage con sus créditos pendientes.
func (e *Engine) RetryFailedPayouts(ctx context.Context, battleID string) error {
	b, err := e.lookup(battleID)
	if errors.Is(err, domain.ErrBattleNotFound) && e.storage != nil {
		if rerr := e.RestoreBattle(ctx, battleID); rerr != nil && !errors.Is(rerr, domain.ErrBattleExists) {
			return fmt.Errorf("wagering.RetryFailedPayouts: %w", rerr)
		}
		b, err = e.lookup(battleID)
	}
	if err != nil {
		return fmt.Errorf("wagering.RetryFailedPayouts: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.settlement == nil {
		return fmt.Errorf("wagering.RetryFailedPayouts %s: %w", battleID, ErrNotSettled)
	}
	pending := b.failed
	b.failed = nil
	if len(pending) == 0 {
		return nil
	}

	slog.Info("retrying failed payouts", "battle_id", battleID, "count", len(pending))
	return e.sendPayoutsLocked(ctx, b, pending)
}

// PendingPayouts devuelve los créditos que esperan reintento.
func (e *Engine) PendingPayouts(battleID string) []domain.PayoutInstruction {
	b, err := e.lookup(battleID)
	if err != nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]domain.PayoutInstruction, len(b.failed))
	copy(out, b.failed)
	return out
}

// sendPayoutsLocked acredita cada instrucción en orden. Los fallos no frenan
// al resto y quedan guardados en b.failed.
func (e *Engine) sendPayoutsLocked(ctx context.Context, b *battle, payouts []domain.PayoutInstruction) error {
	var failed []FailedPayout
	for _, p := range payouts {
		wctx, cancel := context.WithTimeout(ctx, e.cfg.WalletTimeout)
		err := e.wallet.Credit(wctx, p.VoterID, p.Amount, p.Reference())
		cancel()

		if err != nil {
			slog.Warn("payout failed",
				"battle_id", p.BattleID,
				"voter_id", p.VoterID,
				"amount", p.Amount.String(),
				"reason", p.Reason,
				"err", err,
			)
			failed = append(failed, FailedPayout{Payout: p, Err: err})
			b.failed = append(b.failed, p)
			continue
		}
		slog.Debug("payout sent",
			"battle_id", p.BattleID,
			"voter_id", p.VoterID,
			"amount", p.Amount.String(),
			"reason", p.Reason,
		)
		if e.storage != nil {
			if err := e.storage.MarkPayoutSent(ctx, p); err != nil {
				slog.Warn("storage error", "op", "mark_payout_sent", "battle_id", p.BattleID, "err", err)
			}
		}
	}

	if len(failed) == 0 {
		return nil
	}
	return &PayoutError{BattleID: b.session.BattleID, Failed: failed}
}

// IsPayoutError indica si err contiene un *PayoutError.
func IsPayoutError(err error) bool {
	var pe *PayoutError
	return errors.As(err, &pe)
}
