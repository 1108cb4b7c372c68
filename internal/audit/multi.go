package audit

import (
	"context"
	"errors"
)

// MultiLogger fans each event out to every sink.
type MultiLogger []Logger

func (m MultiLogger) Log(ctx context.Context, event Event) {
	for _, l := range m {
		l.Log(ctx, event)
	}
}

func (m MultiLogger) Close() error {
	var errs []error
	for _, l := range m {
		if err := l.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
