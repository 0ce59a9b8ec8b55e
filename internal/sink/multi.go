package sink

import (
	"context"
	"errors"

	"github.com/ColonelBlimp/alarmwatch/internal/monitor"
)

// Multi forwards every record to each sink in order. A failing sink does
// not stop delivery to the others; their errors are joined.
type Multi []monitor.Sink

// Detection implements monitor.Sink.
func (m Multi) Detection(ctx context.Context, ev monitor.DetectionEvent) error {
	var errs []error
	for _, s := range m {
		if err := s.Detection(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Status implements monitor.Sink.
func (m Multi) Status(ctx context.Context, st monitor.StatusSnapshot) error {
	var errs []error
	for _, s := range m {
		if err := s.Status(ctx, st); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
