// Package domain holds the aggregate used by the es test suites.
package domain

import (
	"errors"

	"github.com/codewandler/aggrepo-go/core/es"
)

type (
	Counter struct {
		es.BaseAggregate[string]

		X      int `json:"x"`
		Y      int `json:"y"`
		Resets int `json:"resets"`
	}

	XIncremented struct {
		By int `json:"by"`
	}

	YIncremented struct {
		By int `json:"by"`
	}

	Reset struct{}

	// Unhandled has no handler on Counter.
	Unhandled struct{}
)

func (e XIncremented) Validate() error {
	if e.By <= 0 {
		return errors.New("increment must be positive")
	}
	return nil
}

func (e YIncremented) Validate() error {
	if e.By <= 0 {
		return errors.New("increment must be positive")
	}
	return nil
}

var handlers = es.NewEventHandlers(
	es.On(func(c *Counter, e *XIncremented) error { c.X += e.By; return nil }),
	es.On(func(c *Counter, e *YIncremented) error { c.Y += e.By; return nil }),
	es.On(func(c *Counter, _ *Reset) error {
		c.X, c.Y = 0, 0
		c.Resets++
		return nil
	}),
)

func Handlers() *es.EventHandlers[*Counter] { return handlers }

func New() *Counter { return &Counter{} }

// NewCounter creates a counter at version 1.
func NewCounter(key string) (*Counter, error) {
	c := New()
	if err := c.Create(key); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Counter) GetAggType() string    { return "counter" }
func (c *Counter) Apply(event any) error { return handlers.Apply(c, event) }

// === Commands ===

func (c *Counter) IncX(by int) error { return es.RaiseAndApply(c, &XIncremented{By: by}) }
func (c *Counter) IncY(by int) error { return es.RaiseAndApply(c, &YIncremented{By: by}) }
func (c *Counter) Reset() error      { return es.RaiseAndApply(c, &Reset{}) }

var _ es.Aggregate[string] = (*Counter)(nil)
