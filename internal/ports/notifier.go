package ports

import (
	"context"

	"github.com/alejandrodnm/battlewager/internal/domain"
)

// Notifier publica los eventos del engine (voting closed, votos, liquidaciones).
type Notifier interface {
	Publish(ctx context.Context, event domain.Event) error
}
