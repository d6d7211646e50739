// Package publish fans live quote batches out to downstream consumers.
package publish

import (
	"context"
	"errors"

	"github.com/viktsys/marketcache/models"
)

// Publisher delivers a batch of freshly applied quotes.
type Publisher interface {
	Publish(ctx context.Context, quotes []models.Quote) error
	Close() error
}

// Multi publishes to every member and joins their errors.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, quotes []models.Quote) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, quotes); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error
	for _, p := range m {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
