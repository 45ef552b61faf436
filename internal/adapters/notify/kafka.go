package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/battlewager/internal/domain"
)

// MessageWriter es el subconjunto de *kafka.Writer que usa el publisher.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaConfig configura el publisher.
type KafkaConfig struct {
	Brokers      []string
	Topic        string
	WriteTimeout time.Duration
}

// KafkaPublisher implementa ports.Notifier publicando cada evento como JSON.
// La key es el battle id, así los eventos de una batalla quedan ordenados
// en la misma partición.
type KafkaPublisher struct {
	writer MessageWriter
	topic  string
	now    func() time.Time
}

// NewKafkaPublisher crea el writer síncrono.
func NewKafkaPublisher(cfg KafkaConfig) *KafkaPublisher {
	timeout := cfg.WriteTimeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		MaxAttempts:  3,
		WriteTimeout: timeout,
		ReadTimeout:  timeout,
	}
	return NewKafkaPublisherWithWriter(w, cfg.Topic)
}

// NewKafkaPublisherWithWriter usa un writer ya construido.
func NewKafkaPublisherWithWriter(w MessageWriter, topic string) *KafkaPublisher {
	return &KafkaPublisher{writer: w, topic: topic, now: time.Now}
}

// Publish serializa y escribe el evento.
func (p *KafkaPublisher) Publish(ctx context.Context, ev domain.Event) error {
	value, err := json.Marshal(toWireEvent(ev, p.now().UTC()))
	if err != nil {
		return fmt.Errorf("notify.KafkaPublisher: marshal %s: %w", ev.Type, err)
	}
	msg := kafka.Message{
		Key:   []byte(ev.BattleID),
		Value: value,
		Time:  p.now(),
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("notify.KafkaPublisher: write %s: %w", ev.Type, err)
	}
	slog.Debug("event published", "topic", p.topic, "type", ev.Type, "battle_id", ev.BattleID)
	return nil
}

// Close cierra el writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// --- wire format ---

type wireEvent struct {
	Type       string          `json:"type"`
	BattleID   string          `json:"battle_id"`
	Tick       int64           `json:"tick"`
	Timestamp  time.Time       `json:"timestamp"`
	Change     *wireChange     `json:"change,omitempty"`
	Vote       *wireVote       `json:"vote,omitempty"`
	Pool       *wirePool       `json:"pool,omitempty"`
	Settlement *wireSettlement `json:"settlement,omitempty"`
}

type wireChange struct {
	From          string `json:"from"`
	To            string `json:"to"`
	TimeRemaining int    `json:"time_remaining"`
	Reason        string `json:"reason"`
	VotingClosed  bool   `json:"voting_closed"`
}

type wireVote struct {
	VoteID          string          `json:"vote_id"`
	VoterID         string          `json:"voter_id"`
	Side            string          `json:"side"`
	Stake           int64           `json:"stake"`
	LockedOdds      decimal.Decimal `json:"locked_odds"`
	PotentialPayout decimal.Decimal `json:"potential_payout"`
	Status          string          `json:"status"`
}

type wirePool struct {
	PoolA      int64 `json:"pool_a"`
	PoolB      int64 `json:"pool_b"`
	TotalPool  int64 `json:"total_pool"`
	VoterCount int   `json:"voter_count"`
}

type wirePayout struct {
	VoteID    string          `json:"vote_id"`
	VoterID   string          `json:"voter_id"`
	Amount    decimal.Decimal `json:"amount"`
	Reason    string          `json:"reason"`
	Reference string          `json:"reference"`
}

type wireSettlement struct {
	Outcome     string          `json:"outcome"`
	FinalA      int64           `json:"final_a"`
	FinalB      int64           `json:"final_b"`
	TotalStaked int64           `json:"total_staked"`
	TotalPaid   decimal.Decimal `json:"total_paid"`
	Payouts     []wirePayout    `json:"payouts"`
}

func toWireEvent(ev domain.Event, ts time.Time) wireEvent {
	w := wireEvent{
		Type:      string(ev.Type),
		BattleID:  ev.BattleID,
		Tick:      ev.Tick,
		Timestamp: ts,
	}
	if c := ev.Change; c != nil {
		w.Change = &wireChange{
			From:          string(c.From),
			To:            string(c.To),
			TimeRemaining: c.TimeRemainingSeconds,
			Reason:        c.Reason,
			VotingClosed:  c.VotingClosed(),
		}
	}
	if v := ev.Vote; v != nil {
		w.Vote = &wireVote{
			VoteID:          v.VoteID,
			VoterID:         v.VoterID,
			Side:            string(v.Side),
			Stake:           v.Stake,
			LockedOdds:      v.LockedOdds,
			PotentialPayout: v.PotentialPayout,
			Status:          string(v.Status),
		}
	}
	if p := ev.Pool; p != nil {
		w.Pool = &wirePool{PoolA: p.PoolA, PoolB: p.PoolB, TotalPool: p.TotalPool, VoterCount: p.VoterCount}
	}
	if s := ev.Settlement; s != nil {
		ws := &wireSettlement{
			Outcome:     string(s.Outcome),
			FinalA:      s.FinalScores.A,
			FinalB:      s.FinalScores.B,
			TotalStaked: s.TotalStaked,
			TotalPaid:   s.TotalPaid,
			Payouts:     make([]wirePayout, 0, len(s.Payouts)),
		}
		for _, p := range s.Payouts {
			ws.Payouts = append(ws.Payouts, wirePayout{
				VoteID:    p.VoteID,
				VoterID:   p.VoterID,
				Amount:    p.Amount,
				Reason:    string(p.Reason),
				Reference: p.Reference(),
			})
		}
		w.Settlement = ws
	}
	return w
}
