// Package events fans trade stage transitions out to subscribers.
package events

import (
	"context"
	"errors"
	"sync"

	"github.com/ggonzalez94/swapdesk/internal/model"
)

// Broadcaster receives every stage transition of every trade.
type Broadcaster interface {
	Publish(ctx context.Context, ev model.TradeEvent) error
}

type Nop struct{}

func (Nop) Publish(context.Context, model.TradeEvent) error { return nil }

// Multi delivers to every sink and joins their errors.
type Multi []Broadcaster

func (m Multi) Publish(ctx context.Context, ev model.TradeEvent) error {
	var errs []error
	for _, b := range m {
		if b == nil {
			continue
		}
		if err := b.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Recorder keeps events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []model.TradeEvent
}

func (r *Recorder) Publish(_ context.Context, ev model.TradeEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *Recorder) Events() []model.TradeEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.TradeEvent(nil), r.events...)
}

// Stages lists recorded stage names in order.
func (r *Recorder) Stages() []string {
	evs := r.Events()
	out := make([]string, 0, len(evs))
	for _, ev := range evs {
		out = append(out, ev.Stage)
	}
	return out
}
