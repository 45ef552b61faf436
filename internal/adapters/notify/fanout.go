package notify

import (
	"context"
	"errors"

	"github.com/alejandrodnm/battlewager/internal/domain"
	"github.com/alejandrodnm/battlewager/internal/ports"
)

// Fanout reparte cada evento a varios notificadores. Un fallo en uno no
// impide que los demás reciban el evento.
type Fanout struct {
	targets []ports.Notifier
}

// NewFanout ignora los notificadores nil.
func NewFanout(targets ...ports.Notifier) *Fanout {
	f := &Fanout{}
	for _, t := range targets {
		if t != nil {
			f.targets = append(f.targets, t)
		}
	}
	return f
}

// Publish envía a todos y devuelve los errores unidos.
func (f *Fanout) Publish(ctx context.Context, ev domain.Event) error {
	var errs []error
	for _, t := range f.targets {
		if err := t.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
