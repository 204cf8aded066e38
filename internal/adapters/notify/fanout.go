package notify

import (
	"context"
	"errors"

	"github.com/dkeye/securecall/internal/core"
	"github.com/dkeye/securecall/internal/domain"
)

// Fanout delivers every event to all sinks and joins their errors.
type Fanout []core.Notifier

func (f Fanout) Notify(ctx context.Context, recipient domain.UserID, ev domain.Event) error {
	var errs []error
	for _, n := range f {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, recipient, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
