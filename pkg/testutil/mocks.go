// Package testutil provides common testing utilities and mock implementations.
package testutil

import (
	"context"
	"errors"
	"sync"

	"github.com/nspcc-dev/neo-go/pkg/encoding/address"
	"github.com/nspcc-dev/neo-go/pkg/util"

	"github.com/R3E-Network/lottery_layer/internal/app/storage"
	"github.com/R3E-Network/lottery_layer/internal/coin"
)

// Address returns a valid, deterministic Neo N3 address for n.
func Address(n int) string {
	var h util.Uint160
	h[0] = byte(n)
	h[1] = byte(n >> 8)
	h[19] = 0x5a
	return address.Uint160ToString(h)
}

// Addresses returns count distinct addresses starting at Address(1).
func Addresses(count int) []string {
	out := make([]string, count)
	for i := range out {
		out[i] = Address(i + 1)
	}
	return out
}

// Sender moves funds inside a storage transaction.
type Sender interface {
	Send(ctx context.Context, kv storage.KV, from, to string, amount coin.Coin) error
}

// ErrInjected is returned by FailingBank when it trips.
var ErrInjected = errors.New("injected bank failure")

// FailingBank forwards to Inner but fails the FailOn-th send (1-based).
type FailingBank struct {
	Inner  Sender
	FailOn int

	mu    sync.Mutex
	calls int
}

// Send implements Sender.
func (b *FailingBank) Send(ctx context.Context, kv storage.KV, from, to string, amount coin.Coin) error {
	b.mu.Lock()
	b.calls++
	trip := b.calls == b.FailOn
	b.mu.Unlock()
	if trip {
		return ErrInjected
	}
	return b.Inner.Send(ctx, kv, from, to, amount)
}

// Reset clears the call counter and sets the next failing call.
func (b *FailingBank) Reset(failOn int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = 0
	b.FailOn = failOn
}

// PublishedEvent is one call recorded by RecordingPublisher.
type PublishedEvent struct {
	Type    string
	Payload any
}

// RecordingPublisher captures published events.
type RecordingPublisher struct {
	mu     sync.Mutex
	events []PublishedEvent
}

// Publish records the event.
func (p *RecordingPublisher) Publish(_ context.Context, eventType string, payload any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, PublishedEvent{Type: eventType, Payload: payload})
}

// Types returns the recorded event types in order.
func (p *RecordingPublisher) Types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, e := range p.events {
		out[i] = e.Type
	}
	return out
}
