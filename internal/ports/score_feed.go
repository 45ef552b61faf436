package ports

import (
	"context"

	"github.com/alejandrodnm/battlewager/internal/domain"
)

// ScoreFeed expone los puntajes actuales que empuja el feed externo.
// El engine solo los lee; no es dueño de ellos.
type ScoreFeed interface {
	Scores(ctx context.Context, battleID string) (domain.Scores, error)
}
