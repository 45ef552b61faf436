package notify

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/alejandrodnm/battlewager/internal/domain"
)

// Console implementa ports.Notifier escribiendo a la terminal.
// Las liquidaciones se imprimen como tabla de pagos.
type Console struct {
	mu      sync.Mutex
	out     io.Writer
	verbose bool
	now     func() time.Time
}

// NewConsole crea un notificador que escribe a stdout.
// Con verbose=false se omiten los votos individuales.
func NewConsole(verbose bool) *Console {
	return &Console{out: os.Stdout, verbose: verbose, now: time.Now}
}

// NewConsoleWriter crea un notificador para tests.
func NewConsoleWriter(w io.Writer) *Console {
	return &Console{out: w, verbose: true, now: time.Now}
}

// Publish imprime el evento.
func (c *Console) Publish(_ context.Context, ev domain.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	ts := c.now().Format("15:04:05")
	switch ev.Type {
	case domain.EventBattleStarted:
		fmt.Fprintf(c.out, "[%s] %s started\n", ts, ev.BattleID)
	case domain.EventVoteAccepted:
		if !c.verbose || ev.Vote == nil {
			return nil
		}
		v := ev.Vote
		fmt.Fprintf(c.out, "[%s] %s vote %s → %s %d SP @ %s (pays %s)",
			ts, ev.BattleID, v.VoterID, v.Side, v.Stake, v.LockedOdds.StringFixed(2), v.PotentialPayout)
		if ev.Pool != nil {
			fmt.Fprintf(c.out, " | pool A:%d B:%d total:%d voters:%d",
				ev.Pool.PoolA, ev.Pool.PoolB, ev.Pool.TotalPool, ev.Pool.VoterCount)
		}
		fmt.Fprintln(c.out)
	case domain.EventPhaseChanged:
		if ev.Change == nil {
			return nil
		}
		label := ""
		if ev.Change.VotingClosed() {
			label = " — voting closed"
		}
		fmt.Fprintf(c.out, "[%s] %s %s → %s (t=%ds, %s)%s\n",
			ts, ev.BattleID, ev.Change.From, ev.Change.To,
			ev.Change.TimeRemainingSeconds, ev.Change.Reason, label)
	case domain.EventBattleSettled:
		if ev.Settlement == nil {
			return nil
		}
		c.printSettlement(*ev.Settlement)
	}
	return nil
}

// printSettlement imprime el resultado y la tabla de pagos.
func (c *Console) printSettlement(res domain.SettlementResult) {
	fmt.Fprintf(c.out, "\n%s settled: %s (A %d – B %d) | staked %d SP | paid %s SP\n",
		res.BattleID, res.Outcome, res.FinalScores.A, res.FinalScores.B,
		res.TotalStaked, res.TotalPaid)

	if len(res.Payouts) == 0 {
		fmt.Fprintln(c.out, "no payouts")
		return
	}

	table := tablewriter.NewWriter(c.out)
	table.Header("#", "Voter", "Amount", "Reason", "Reference")
	for i, p := range res.Payouts {
		table.Append(
			fmt.Sprintf("%d", i+1),
			p.VoterID,
			p.Amount.String(),
			string(p.Reason),
			p.Reference(),
		)
	}
	table.Render()
}

// PrintSettlements imprime el histórico de liquidaciones (modo -report).
func (c *Console) PrintSettlements(sums []domain.SettlementSummary) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(sums) == 0 {
		fmt.Fprintln(c.out, "No settled battles found")
		return
	}

	table := tablewriter.NewWriter(c.out)
	table.Header("Battle", "Outcome", "Score A", "Score B", "Votes", "Payouts", "Staked", "Paid", "Settled at")
	for _, s := range sums {
		table.Append(
			s.BattleID,
			string(s.Outcome),
			fmt.Sprintf("%d", s.FinalScores.A),
			fmt.Sprintf("%d", s.FinalScores.B),
			fmt.Sprintf("%d", s.VoteCount),
			fmt.Sprintf("%d", s.PayoutCount),
			fmt.Sprintf("%d", s.TotalStaked),
			s.TotalPaid.String(),
			s.SettledAt.Local().Format("2006-01-02 15:04:05"),
		)
	}
	table.Render()
}
