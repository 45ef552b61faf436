// Package wagering es la superficie de orquestación del engine de apuestas:
// arranca batallas, procesa ticks, acepta votos y liquida. Es el único
// componente que habla con el Wallet y el Score Feed.
package wagering

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alejandrodnm/battlewager/internal/domain"
	"github.com/alejandrodnm/battlewager/internal/ledger"
	"github.com/alejandrodnm/battlewager/internal/ports"
)

// Config contiene la configuración del engine.
type Config struct {
	Session domain.SessionConfig
	Ledger  ledger.Config
	// WalletTimeout acota cada llamada al wallet; un timeout en el debit es DebitFailed.
	WalletTimeout time.Duration
	// FeedTimeout acota cada lectura del Score Feed.
	FeedTimeout time.Duration
}

// DefaultConfig devuelve una configuración sensata para producción.
func DefaultConfig() Config {
	return Config{
		Session:       domain.DefaultSessionConfig(),
		Ledger:        ledger.DefaultConfig(),
		WalletTimeout: 3 * time.Second,
		FeedTimeout:   500 * time.Millisecond,
	}
}

// StartRequest son los datos para arrancar una batalla.
type StartRequest struct {
	BattleID        string // vacío → se genera un UUID
	CreatorA        domain.Creator
	CreatorB        domain.Creator
	DurationSeconds int
}

// battle es el scope de serialización de una batalla: todo lo que muta su
// sesión, su ledger o su liquidación pasa por mu.
type battle struct {
	mu         sync.Mutex
	session    *domain.BattleSession
	ledger     *ledger.Ledger
	settlement *domain.SettlementResult
	failed     []domain.PayoutInstruction
}

// locked ejecuta fn con b.mu tomado. Un panic dentro de fn libera el lock.
func (b *battle) locked(fn func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	fn()
}

// Engine es el facade que el resto de la aplicación llama.
type Engine struct {
	cfg      Config
	wallet   ports.Wallet
	feed     ports.ScoreFeed
	storage  ports.Storage
	notifier ports.Notifier

	mu      sync.RWMutex
	battles map[string]*battle
}

// New crea un Engine con todas las dependencias inyectadas.
// storage y notifier son opcionales (nil).
func New(
	cfg Config,
	wallet ports.Wallet,
	feed ports.ScoreFeed,
	storage ports.Storage,
	notifier ports.Notifier,
) *Engine {
	return &Engine{
		cfg:      cfg,
		wallet:   wallet,
		feed:     feed,
		storage:  storage,
		notifier: notifier,
		battles:  make(map[string]*battle),
	}
}

// StartBattle crea la sesión en Active y la registra.
func (e *Engine) StartBattle(ctx context.Context, req StartRequest) (DisplayState, error) {
	battleID := req.BattleID
	if battleID == "" {
		battleID = uuid.NewString()
	}

	session, err := domain.NewBattleSession(battleID, req.CreatorA, req.CreatorB, req.DurationSeconds, e.cfg.Session)
	if err != nil {
		return DisplayState{}, fmt.Errorf("wagering.StartBattle: %w", err)
	}
	b := &battle{
		session: session,
		ledger:  ledger.New(battleID, e.cfg.Ledger),
	}

	e.mu.Lock()
	if _, exists := e.battles[battleID]; exists {
		e.mu.Unlock()
		return DisplayState{}, fmt.Errorf("wagering.StartBattle %s: %w", battleID, domain.ErrBattleExists)
	}
	e.battles[battleID] = b
	e.mu.Unlock()

	var state DisplayState
	b.locked(func() {
		e.persistSession(ctx, b)
		e.persistPool(ctx, b)
		state = e.snapshot(b)
	})

	slog.Info("battle started",
		"battle_id", battleID,
		"creator_a", req.CreatorA.ID,
		"creator_b", req.CreatorB.ID,
		"duration", req.DurationSeconds,
	)
	e.publish(ctx, domain.Event{Type: domain.EventBattleStarted, BattleID: battleID})
	return state, nil
}

// PlaceVote es el único punto de entrada mutante expuesto a los votantes.
// Los rechazos son *domain.VoteError y no dejan rastro ni en el pool ni en el wallet.
func (e *Engine) PlaceVote(ctx context.Context, battleID, voterID string, side domain.Side, stake int64) (domain.VoteReceipt, error) {
	b, err := e.lookup(battleID)
	if err != nil {
		return domain.VoteReceipt{}, fmt.Errorf("wagering.PlaceVote: %w", err)
	}

	var receipt domain.VoteReceipt
	b.locked(func() {
		receipt, err = e.placeVoteLocked(ctx, b, ledger.VoteRequest{VoterID: voterID, Side: side, Stake: stake})
	})

	if err != nil {
		slog.Debug("vote rejected", "battle_id", battleID, "voter_id", voterID, "err", err)
		return domain.VoteReceipt{}, err
	}

	slog.Info("vote accepted",
		"battle_id", battleID,
		"voter_id", voterID,
		"side", side,
		"stake", stake,
		"odds", receipt.Vote.LockedOdds.String(),
	)
	vote, pool := receipt.Vote, receipt.Pool
	e.publish(ctx, domain.Event{
		Type:     domain.EventVoteAccepted,
		BattleID: battleID,
		Tick:     vote.AcceptedAt,
		Vote:     &vote,
		Pool:     &pool,
	})
	return receipt, nil
}

func (e *Engine) placeVoteLocked(ctx context.Context, b *battle, req ledger.VoteRequest) (domain.VoteReceipt, error) {
	// Todo lo que no depende del saldo se valida antes de tocar el wallet:
	// un voto tardío o con stake fuera de rango se rechaza aunque el wallet
	// esté caído.
	if err := b.ledger.Precheck(b.session, req); err != nil {
		return domain.VoteReceipt{}, err
	}

	wctx, cancel := context.WithTimeout(ctx, e.cfg.WalletTimeout)
	defer cancel()

	balance, err := e.wallet.Balance(wctx, req.VoterID)
	if err != nil {
		return domain.VoteReceipt{}, domain.NewDebitFailed(fmt.Errorf("balance: %w", err))
	}

	vote, err := b.ledger.PlaceVote(wctx, b.session, req, balance, e.wallet)
	if err != nil {
		return domain.VoteReceipt{}, err
	}

	pool := b.ledger.Pool()
	if e.storage != nil {
		if err := e.storage.SaveVote(ctx, vote); err != nil {
			slog.Warn("storage error", "op", "save_vote", "battle_id", vote.BattleID, "err", err)
		}
	}
	e.persistPool(ctx, b)
	return domain.VoteReceipt{Vote: vote, Pool: pool}, nil
}

// Tick avanza la batalla un segundo. Devuelve la transición si la hubo.
// Si la transición dispara la liquidación y algún crédito falla, devuelve
// *PayoutError: la transición ya ocurrió y los pagos fallidos quedan
// pendientes para RetryFailedPayouts.
func (e *Engine) Tick(ctx context.Context, battleID string) (*domain.StateChange, error) {
	b, err := e.lookup(battleID)
	if err != nil {
		return nil, fmt.Errorf("wagering.Tick: %w", err)
	}

	var (
		change    *domain.StateChange
		events    []domain.Event
		payoutErr error
	)
	b.locked(func() {
		change = b.session.Tick()
		if change == nil {
			e.persistSession(ctx, b)
			return
		}
		events, payoutErr = e.handleChangeLocked(ctx, b, change)
	})

	e.publish(ctx, events...)
	return change, payoutErr
}

// ForceEnd corta la batalla (p.ej. el stream terminó antes): Active/Locked
// pasan directo a Ending con el tiempo en 0. Los votos que esperaban el
// lock de la batalla reciben PhaseClosed.
func (e *Engine) ForceEnd(ctx context.Context, battleID, reason string) error {
	b, err := e.lookup(battleID)
	if err != nil {
		return fmt.Errorf("wagering.ForceEnd: %w", err)
	}

	var (
		change *domain.StateChange
		events []domain.Event
	)
	b.locked(func() {
		change = b.session.ForceEnd(reason)
		if change != nil {
			events, _ = e.handleChangeLocked(ctx, b, change)
		}
	})

	if change != nil {
		slog.Info("battle force-ended", "battle_id", battleID, "reason", change.Reason)
	}
	e.publish(ctx, events...)
	return nil
}

// AbortBattle cancela una batalla no liquidada: sigue el camino de ForceEnd
// pero la liquidación reembolsa todos los votos activos.
func (e *Engine) AbortBattle(ctx context.Context, battleID, reason string) error {
	b, err := e.lookup(battleID)
	if err != nil {
		return fmt.Errorf("wagering.AbortBattle: %w", err)
	}

	var events []domain.Event
	b.locked(func() {
		var change *domain.StateChange
		change, err = b.session.Abort(reason)
		if err != nil {
			return
		}
		if change != nil {
			events, _ = e.handleChangeLocked(ctx, b, change)
		} else {
			e.persistSession(ctx, b)
		}
	})

	if err != nil {
		return fmt.Errorf("wagering.AbortBattle: %w", err)
	}
	slog.Info("battle aborted", "battle_id", battleID, "reason", reason)
	e.publish(ctx, events...)
	return nil
}

// Settlement devuelve el resultado de la liquidación si la batalla ya está Settled.
func (e *Engine) Settlement(battleID string) (domain.SettlementResult, bool) {
	b, err := e.lookup(battleID)
	if err != nil {
		return domain.SettlementResult{}, false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.settlement == nil {
		return domain.SettlementResult{}, false
	}
	return *b.settlement, true
}

// ActiveBattles devuelve los IDs de las batallas que aún reciben ticks, ordenados.
func (e *Engine) ActiveBattles() []string {
	e.mu.RLock()
	all := make([]*battle, 0, len(e.battles))
	for _, b := range e.battles {
		all = append(all, b)
	}
	e.mu.RUnlock()

	ids := make([]string, 0, len(all))
	for _, b := range all {
		b.locked(func() {
			if b.session.Phase != domain.PhaseSettled {
				ids = append(ids, b.session.BattleID)
			}
		})
	}
	sort.Strings(ids)
	return ids
}

// handleChangeLocked aplica los efectos de una transición. Se llama con b.mu tomado.
func (e *Engine) handleChangeLocked(ctx context.Context, b *battle, change *domain.StateChange) ([]domain.Event, error) {
	slog.Info("battle phase changed",
		"battle_id", change.BattleID,
		"from", change.From,
		"to", change.To,
		"time_remaining", change.TimeRemainingSeconds,
		"reason", change.Reason,
	)

	if change.FreezesScores() {
		e.freezeScoresLocked(ctx, b)
	}

	events := []domain.Event{{
		Type:     domain.EventPhaseChanged,
		BattleID: change.BattleID,
		Tick:     change.Tick,
		Change:   change,
	}}

	var payoutErr error
	if change.TriggersSettlement() {
		result := e.settleLocked(ctx, b)
		payoutErr = e.sendPayoutsLocked(ctx, b, result.Payouts)
		events = append(events, domain.Event{
			Type:       domain.EventBattleSettled,
			BattleID:   change.BattleID,
			Tick:       change.Tick,
			Settlement: &result,
		})
	}

	e.persistSession(ctx, b)
	return events, payoutErr
}

// freezeScoresLocked lee el feed una única vez. Si no está disponible usa el
// último puntaje conocido: la fase nunca espera a una dependencia externa.
func (e *Engine) freezeScoresLocked(ctx context.Context, b *battle) {
	scores := b.session.LastKnownScores()
	if e.feed != nil {
		fctx, cancel := context.WithTimeout(ctx, e.cfg.FeedTimeout)
		live, err := e.feed.Scores(fctx, b.session.BattleID)
		cancel()
		if err != nil {
			slog.Warn("score feed unavailable at freeze, using last known scores",
				"battle_id", b.session.BattleID,
				"score_a", scores.A,
				"score_b", scores.B,
				"err", err,
			)
		} else {
			scores = live
		}
	}
	b.session.FreezeScores(scores)
}

// settleLocked ejecuta la liquidación exactamente una vez por batalla.
func (e *Engine) settleLocked(ctx context.Context, b *battle) domain.SettlementResult {
	if b.settlement != nil {
		panic(fmt.Errorf("wagering: battle %s settled twice: %w", b.session.BattleID, domain.ErrSettlementInconsistency))
	}

	result := domain.Settle(b.session, b.ledger.Pool(), b.ledger.Votes(), b.session.FinalScores)
	b.ledger.ApplySettlement(result)
	b.settlement = &result

	slog.Info("battle settled",
		"battle_id", result.BattleID,
		"outcome", result.Outcome,
		"score_a", result.FinalScores.A,
		"score_b", result.FinalScores.B,
		"payouts", len(result.Payouts),
		"total_paid", result.TotalPaid.String(),
	)

	if e.storage != nil {
		if err := e.storage.UpdateVoteStatuses(ctx, result.Votes); err != nil {
			slog.Warn("storage error", "op", "update_vote_statuses", "battle_id", result.BattleID, "err", err)
		}
		if err := e.storage.SaveSettlement(ctx, result); err != nil {
			slog.Warn("storage error", "op", "save_settlement", "battle_id", result.BattleID, "err", err)
		}
	}
	return result
}

func (e *Engine) lookup(battleID string) (*battle, error) {
	e.mu.RLock()
	b, ok := e.battles[battleID]
	e.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("battle %q: %w", battleID, domain.ErrBattleNotFound)
	}
	return b, nil
}

func (e *Engine) persistSession(ctx context.Context, b *battle) {
	if e.storage == nil {
		return
	}
	if err := e.storage.SaveBattle(ctx, *b.session); err != nil {
		slog.Warn("storage error", "op", "save_battle", "battle_id", b.session.BattleID, "err", err)
	}
}

func (e *Engine) persistPool(ctx context.Context, b *battle) {
	if e.storage == nil {
		return
	}
	if err := e.storage.SavePool(ctx, b.session.BattleID, b.ledger.Pool()); err != nil {
		slog.Warn("storage error", "op", "save_pool", "battle_id", b.session.BattleID, "err", err)
	}
}

// publish envía los eventos fuera del lock de la batalla; un notificador
// lento nunca retrasa ticks ni votos.
func (e *Engine) publish(ctx context.Context, events ...domain.Event) {
	if e.notifier == nil {
		return
	}
	for _, ev := range events {
		if err := e.notifier.Publish(ctx, ev); err != nil {
			slog.Warn("notifier error", "event", ev.Type, "battle_id", ev.BattleID, "err", err)
		}
	}
}
