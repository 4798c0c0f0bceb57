// Package service exposes the user facing operations of the CRM batch
// subsystem. Every operation takes the acting user id explicitly.
package service

import (
	goerrors "github.com/goliatone/go-errors"
	"github.com/juju/clock"
	"go.uber.org/zap"
)

// Option configures a service.
type Option func(*options)

type options struct {
	clock  clock.Clock
	logger *zap.SugaredLogger
}

func WithClock(c clock.Clock) Option {
	return func(o *options) { o.clock = c }
}

func WithLogger(l *zap.SugaredLogger) Option {
	return func(o *options) { o.logger = l }
}

func buildOptions(opts []Option) options {
	o := options{clock: clock.WallClock, logger: zap.NewNop().Sugar()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// validate runs fn and maps ozzo errors to a go-errors validation error.
func validate(fn func() error, message string) error {
	if err := fn(); err != nil {
		return goerrors.FromOzzoValidation(err, message)
	}
	return nil
}
