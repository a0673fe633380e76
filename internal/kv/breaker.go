package kv

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
)

// BreakerTable fails fast with gobreaker.ErrOpenState once the wrapped
// backend keeps erroring. ErrNotFound is an answer, not a failure, and
// never counts towards tripping.
type BreakerTable struct {
	next Table
	cb   *gobreaker.CircuitBreaker
}

func NewBreakerTable(next Table) *BreakerTable {
	settings := gobreaker.Settings{
		Name:        "kv:" + next.Schema().Name,
		MaxRequests: 3,
		Interval:    5 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrNotFound) || errors.Is(err, ErrInvalidItem) ||
				errors.Is(err, context.Canceled)
		},
	}
	return &BreakerTable{next: next, cb: gobreaker.NewCircuitBreaker(settings)}
}

// State reports the breaker's current state.
func (t *BreakerTable) State() gobreaker.State {
	return t.cb.State()
}

func (t *BreakerTable) Schema() Schema {
	return t.next.Schema()
}

func (t *BreakerTable) Put(ctx context.Context, item Item) error {
	_, err := t.cb.Execute(func() (interface{}, error) {
		return nil, t.next.Put(ctx, item)
	})
	return err
}

func (t *BreakerTable) Get(ctx context.Context, key Key) (Item, error) {
	res, err := t.cb.Execute(func() (interface{}, error) {
		return t.next.Get(ctx, key)
	})
	if err != nil {
		return Item{}, err
	}
	return res.(Item), nil
}

func (t *BreakerTable) Query(ctx context.Context, q Query) ([]Item, error) {
	res, err := t.cb.Execute(func() (interface{}, error) {
		return t.next.Query(ctx, q)
	})
	if err != nil {
		return nil, err
	}
	return res.([]Item), nil
}

func (t *BreakerTable) Delete(ctx context.Context, key Key) error {
	_, err := t.cb.Execute(func() (interface{}, error) {
		return nil, t.next.Delete(ctx, key)
	})
	return err
}

func (t *BreakerTable) BatchDelete(ctx context.Context, keys []Key) error {
	_, err := t.cb.Execute(func() (interface{}, error) {
		return nil, t.next.BatchDelete(ctx, keys)
	})
	return err
}
