package domain

import "github.com/shopspring/decimal"

// OddsConfig parametriza el cálculo de cuotas pari-mutuel.
type OddsConfig struct {
	// PayoutFraction es la fracción del pool que vuelve a los ganadores (1 - fee).
	PayoutFraction decimal.Decimal
	// Floor y Ceiling acotan la cuota: nunca por debajo de break-even-menos-fee,
	// nunca por encima del riesgo máximo aceptado en lados con poco respaldo.
	Floor   decimal.Decimal
	Ceiling decimal.Decimal
	// NeutralOdds se usa con el pool vacío.
	NeutralOdds decimal.Decimal
	// NoBackersOdds se usa cuando el lado aún no tiene apuestas.
	NoBackersOdds decimal.Decimal
	// Precision son los decimales de la cuota; el resto se trunca.
	Precision int32
}

// DefaultOddsConfig: fee 10%, cuotas en [1.1, 5.0], 2.0 neutral, 3.0 sin respaldo.
func DefaultOddsConfig() OddsConfig {
	return OddsConfig{
		PayoutFraction: decimal.RequireFromString("0.90"),
		Floor:          decimal.RequireFromString("1.1"),
		Ceiling:        decimal.RequireFromString("5.0"),
		NeutralOdds:    decimal.RequireFromString("2.0"),
		NoBackersOdds:  decimal.RequireFromString("3.0"),
		Precision:      2,
	}
}

// ComputeOdds devuelve la cuota decimal que recibiría ahora un apostador del
// lado dado. Es una función pura del pool: se puede llamar para mostrar
// "qué me tocaría" sin comprometer nada.
//
// Fórmula:
//
//	total == 0      → NeutralOdds
//	pool[side] == 0 → NoBackersOdds
//	si no           → total × PayoutFraction / pool[side]
//
// El resultado se trunca a Precision decimales y se acota a [Floor, Ceiling].
func ComputeOdds(pool VotingPool, side Side, cfg OddsConfig) decimal.Decimal {
	if pool.TotalPool <= 0 {
		return cfg.clamp(cfg.NeutralOdds)
	}
	sideStake := pool.Stake(side)
	if sideStake <= 0 {
		return cfg.clamp(cfg.NoBackersOdds)
	}
	raw := decimal.NewFromInt(pool.TotalPool).
		Mul(cfg.PayoutFraction).
		Div(decimal.NewFromInt(sideStake))
	return cfg.clamp(raw.Truncate(cfg.Precision))
}

// ComputePotentialPayout = stake × odds, redondeado a scale decimales
// (la unidad mínima de SP) con round-half-down: nunca a favor del apostador
// más allá del producto exacto.
func ComputePotentialPayout(stake int64, odds decimal.Decimal, scale int32) decimal.Decimal {
	return RoundHalfDown(decimal.NewFromInt(stake).Mul(odds), scale)
}

// RoundHalfDown redondea al más cercano; los empates exactos van hacia cero.
func RoundHalfDown(d decimal.Decimal, places int32) decimal.Decimal {
	rounded := d.Round(places) // half away from zero
	half := decimal.New(5, -(places + 1))
	if rounded.Sub(d).Abs().Equal(half) {
		return d.Truncate(places)
	}
	return rounded
}

func (cfg OddsConfig) clamp(odds decimal.Decimal) decimal.Decimal {
	if odds.LessThan(cfg.Floor) {
		return cfg.Floor
	}
	if odds.GreaterThan(cfg.Ceiling) {
		return cfg.Ceiling
	}
	return odds
}
