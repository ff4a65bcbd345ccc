package output

import (
	"context"
	"errors"
)

// MultiSink fans snapshots out to several sinks. Close closes them all;
// if any fails, the ones not yet closed are aborted.
type MultiSink struct {
	sinks []Sink
}

// NewMultiSink wraps sinks.
func NewMultiSink(sinks ...Sink) *MultiSink {
	return &MultiSink{sinks: sinks}
}

func (m *MultiSink) WriteSnapshot(ctx context.Context, s Snapshot) error {
	for _, sink := range m.sinks {
		if err := sink.WriteSnapshot(ctx, s); err != nil {
			return err
		}
	}
	return nil
}

func (m *MultiSink) Close() error {
	for i, sink := range m.sinks {
		if err := sink.Close(); err != nil {
			errs := []error{err}
			for _, rest := range m.sinks[i:] {
				errs = append(errs, rest.Abort())
			}
			return errors.Join(errs...)
		}
	}
	return nil
}

func (m *MultiSink) Abort() error {
	var errs []error
	for _, sink := range m.sinks {
		errs = append(errs, sink.Abort())
	}
	return errors.Join(errs...)
}
