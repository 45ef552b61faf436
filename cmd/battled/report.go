package main

import (
	"context"
	"fmt"

	"github.com/alejandrodnm/battlewager/internal/adapters/notify"
	"github.com/alejandrodnm/battlewager/internal/adapters/storage"
)

// runReport imprime las últimas liquidaciones guardadas.
func runReport(ctx context.Context, store *storage.SQLiteStorage, console *notify.Console) error {
	sums, err := store.ListSettlements(ctx, 0)
	if err != nil {
		return fmt.Errorf("list settlements: %w", err)
	}
	console.PrintSettlements(sums)
	return nil
}
