package uow

import (
	"log/slog"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// Option configures a unit of work. Options are only used when Begin creates a
// new unit of work; a joining scope ignores them.
type Option func(*options)

type options struct {
	log     *slog.Logger
	metrics Metrics
	id      string
}

func WithLog(log *slog.Logger) Option { return func(o *options) { o.log = log } }
func WithMetrics(m Metrics) Option    { return func(o *options) { o.metrics = m } }

// WithID sets the unit-of-work id used in logs. Defaults to a random nanoid.
func WithID(id string) Option { return func(o *options) { o.id = id } }

func newOptions(opts ...Option) options {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = slog.Default()
	}
	if o.metrics == nil {
		o.metrics = NopMetrics()
	}
	if o.id == "" {
		o.id = gonanoid.Must(10)
	}
	return o
}
