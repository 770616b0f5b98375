// Package publish delivers assessed hosts to downstream consumers.
package publish

import (
	"context"
	"errors"

	"github.com/jphoke/mailtls-assessor/pkg/assess"
)

// Publisher delivers a batch of result messages.
type Publisher interface {
	Publish(ctx context.Context, batch []assess.ResultMessage) error
}

// Multi fans a batch out to every publisher. One failing publisher does
// not stop the others; their errors are joined.
type Multi []Publisher

// Publish implements Publisher.
func (m Multi) Publish(ctx context.Context, batch []assess.ResultMessage) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, batch); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Func adapts a function to Publisher.
type Func func(ctx context.Context, batch []assess.ResultMessage) error

// Publish implements Publisher.
func (f Func) Publish(ctx context.Context, batch []assess.ResultMessage) error {
	return f(ctx, batch)
}
