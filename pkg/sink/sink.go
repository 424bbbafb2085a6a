package sink

import (
	"context"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	"t7stream/pkg/stream"
)

// Sink is a stream.Sink that holds resources.
type Sink interface {
	stream.Sink
	Close() error
}

// Multi publishes every batch to all of its sinks in order.
type Multi []Sink

func (m Multi) Publish(ctx context.Context, batch *stream.Batch) error {
	var errs []error
	for _, s := range m {
		if err := s.Publish(ctx, batch); err != nil {
			errs = append(errs, err)
		}
	}
	return utilerrors.NewAggregate(errs)
}

func (m Multi) Close() error {
	var errs []error
	for i := len(m); i > 0; i-- {
		if err := m[i-1].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return utilerrors.NewAggregate(errs)
}
