package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/battlewager/config"
	"github.com/alejandrodnm/battlewager/internal/adapters/notify"
	"github.com/alejandrodnm/battlewager/internal/adapters/scorefeed"
	"github.com/alejandrodnm/battlewager/internal/adapters/wallet"
	"github.com/alejandrodnm/battlewager/internal/application/wagering"
	"github.com/alejandrodnm/battlewager/internal/domain"
)

// simVote es un voto que entra cuando quedan AtRemaining segundos.
type simVote struct {
	AtRemaining int
	Voter       string
	Side        domain.Side
	Stake       int64
}

// simScore suma Delta al lado cuando quedan AtRemaining segundos.
type simScore struct {
	AtRemaining int
	Side        domain.Side
	Delta       int64
}

const simDuration = 60

var (
	simVotes = []simVote{
		{AtRemaining: 58, Voter: "alice", Side: domain.SideA, Stake: 100},
		{AtRemaining: 55, Voter: "bob", Side: domain.SideB, Stake: 50},
		{AtRemaining: 50, Voter: "carol", Side: domain.SideA, Stake: 200},
		{AtRemaining: 45, Voter: "dave", Side: domain.SideB, Stake: 75},
		{AtRemaining: 40, Voter: "erin", Side: domain.SideB, Stake: 300},
		{AtRemaining: 35, Voter: "alice", Side: domain.SideB, Stake: 10},  // duplicado
		{AtRemaining: 31, Voter: "frank", Side: domain.SideA, Stake: 5},   // bajo el mínimo
		{AtRemaining: 20, Voter: "grace", Side: domain.SideA, Stake: 100}, // votación cerrada
	}
	simScores = []simScore{
		{AtRemaining: 57, Side: domain.SideA, Delta: 120},
		{AtRemaining: 48, Side: domain.SideB, Delta: 90},
		{AtRemaining: 33, Side: domain.SideB, Delta: 150},
		{AtRemaining: 12, Side: domain.SideA, Delta: 60},
		{AtRemaining: 2, Side: domain.SideB, Delta: 40},
	}
)

// runSimulation juega una batalla completa en memoria, tick a tick y sin
// esperar reloj real, e imprime cada evento en la consola.
func runSimulation(ctx context.Context, cfg *config.Config, verbose bool) error {
	slog.Info("=== SIMULATION MODE: one in-memory battle ===", "duration", simDuration)

	w := wallet.NewMemoryWallet(decimal.NewFromInt(1_000))
	feed := scorefeed.NewMemoryFeed()
	console := notify.NewConsole(true)
	engine := wagering.New(cfg.Engine(), w, feed, nil, console)

	battleID := "sim-" + uuid.NewString()[:8]
	if _, err := engine.StartBattle(ctx, wagering.StartRequest{
		BattleID:        battleID,
		CreatorA:        domain.Creator{ID: "creator-a", Name: "Luna"},
		CreatorB:        domain.Creator{ID: "creator-b", Name: "Sol"},
		DurationSeconds: simDuration,
	}); err != nil {
		return fmt.Errorf("start: %w", err)
	}

	for remaining := simDuration; ; remaining-- {
		if err := ctx.Err(); err != nil {
			return err
		}
		for _, s := range simScores {
			if s.AtRemaining == remaining {
				if err := feed.Push(ctx, battleID, s.Side, s.Delta); err != nil {
					return fmt.Errorf("push score: %w", err)
				}
			}
		}
		for _, v := range simVotes {
			if v.AtRemaining != remaining {
				continue
			}
			if _, err := engine.PlaceVote(ctx, battleID, v.Voter, v.Side, v.Stake); err != nil {
				slog.Info("vote rejected", "voter_id", v.Voter, "stake", v.Stake, "err", err)
			}
		}

		change, err := engine.Tick(ctx, battleID)
		if err != nil {
			return fmt.Errorf("tick: %w", err)
		}
		if change != nil && change.TriggersSettlement() {
			break
		}
		if verbose && remaining%10 == 0 {
			if state, err := engine.DisplayState(ctx, battleID); err == nil {
				slog.Debug("battle state",
					"phase", state.Phase,
					"remaining", state.TimeRemainingSeconds,
					"odds_a", state.OddsA.String(),
					"odds_b", state.OddsB.String(),
					"total_pool", state.TotalPool,
				)
			}
		}
	}

	res, ok := engine.Settlement(battleID)
	if !ok {
		return fmt.Errorf("battle %s did not settle", battleID)
	}
	for _, voter := range []string{"alice", "bob", "carol", "dave", "erin"} {
		bal, _ := w.Balance(ctx, voter)
		slog.Info("final balance", "voter_id", voter, "balance", bal.String())
	}
	slog.Info("simulation complete",
		"battle_id", battleID,
		"outcome", res.Outcome,
		"payouts", len(res.Payouts),
	)
	return nil
}
