package ports

import (
	"context"

	"github.com/shopspring/decimal"
)

// BalanceReader consulta el saldo de SP de un usuario.
type BalanceReader interface {
	Balance(ctx context.Context, userID string) (decimal.Decimal, error)
}

// Debiter retira SP del saldo de un usuario.
type Debiter interface {
	// Debit es autoritativo: si devuelve error, el voto no se registra.
	// ref es la clave de idempotencia (el ID del voto).
	Debit(ctx context.Context, userID string, amount decimal.Decimal, ref string) error
}

// Crediter abona SP a un usuario.
type Crediter interface {
	// Credit lo usa la liquidación; ref = battleID:voteID.
	Credit(ctx context.Context, userID string, amount decimal.Decimal, ref string) error
}

// Wallet es el servicio externo que custodia la moneda virtual.
type Wallet interface {
	BalanceReader
	Debiter
	Crediter
}
