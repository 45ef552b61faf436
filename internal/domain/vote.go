package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// VoteStatus es el estado de un voto. Solo la liquidación (o un aborto) lo cambia.
type VoteStatus string

const (
	VoteActive   VoteStatus = "ACTIVE"
	VoteWon      VoteStatus = "WON"
	VoteLost     VoteStatus = "LOST"
	VoteRefunded VoteStatus = "REFUNDED"
)

// Vote es una apuesta aceptada. LockedOdds y PotentialPayout se fijan al
// aceptar y no se recalculan nunca, aunque el pool cambie después.
type Vote struct {
	VoteID          string
	BattleID        string
	VoterID         string
	Side            Side
	Stake           int64
	LockedOdds      decimal.Decimal
	PotentialPayout decimal.Decimal
	AcceptedAt      int64 // tick de la sesión en el momento de aceptar
	Status          VoteStatus
}

// VoteReceipt es lo que recibe el votante tras un voto aceptado.
type VoteReceipt struct {
	Vote Vote
	Pool VotingPool // pool tras sumar el stake
}

// VotingPool son los totales apostados a cada lado.
type VotingPool struct {
	PoolA      int64
	PoolB      int64
	TotalPool  int64
	VoterCount int
}

// Stake devuelve el total apostado al lado dado.
func (p VotingPool) Stake(side Side) int64 {
	if side == SideA {
		return p.PoolA
	}
	return p.PoolB
}

// Add suma un stake aceptado al lado dado y cuenta un votante nuevo.
func (p *VotingPool) Add(side Side, stake int64) {
	if stake <= 0 {
		panic(fmt.Sprintf("domain: non-positive stake %d added to pool", stake))
	}
	switch side {
	case SideA:
		p.PoolA += stake
	case SideB:
		p.PoolB += stake
	default:
		panic(fmt.Sprintf("domain: stake added to invalid side %q", side))
	}
	p.TotalPool += stake
	p.VoterCount++
}

// Check verifica las invariantes de conservación del pool.
func (p VotingPool) Check() error {
	if p.PoolA < 0 || p.PoolB < 0 || p.VoterCount < 0 {
		return fmt.Errorf("negative pool: A=%d B=%d voters=%d", p.PoolA, p.PoolB, p.VoterCount)
	}
	if p.PoolA+p.PoolB != p.TotalPool {
		return fmt.Errorf("pool not conserved: %d + %d != %d", p.PoolA, p.PoolB, p.TotalPool)
	}
	return nil
}
