package ports

import (
	"context"

	"github.com/alejandrodnm/battlewager/internal/domain"
)

// Storage persiste el estado de las batallas: una fila por sesión, una por
// voto (inmutable salvo el status), el pool derivado y los pagos emitidos.
type Storage interface {
	SaveBattle(ctx context.Context, session domain.BattleSession) error
	SaveVote(ctx context.Context, vote domain.Vote) error
	UpdateVoteStatuses(ctx context.Context, votes []domain.Vote) error
	SavePool(ctx context.Context, battleID string, pool domain.VotingPool) error
	SaveSettlement(ctx context.Context, result domain.SettlementResult) error
	// MarkPayoutSent registra que el wallet confirmó el crédito.
	MarkPayoutSent(ctx context.Context, payout domain.PayoutInstruction) error

	// Lectura para restaurar batallas tras un reinicio. GetBattle devuelve un
	// error que envuelve domain.ErrBattleNotFound si la batalla no existe.
	GetBattle(ctx context.Context, battleID string) (domain.BattleSession, error)
	GetVotes(ctx context.Context, battleID string) ([]domain.Vote, error)
	PendingPayouts(ctx context.Context, battleID string) ([]domain.PayoutInstruction, error)
	RecoverableBattles(ctx context.Context) ([]string, error)

	// Close cierra la conexión a la base de datos limpiamente.
	Close() error
}
