package memory

import (
	"context"
	"sync"

	"github.com/alanyoungcy/lotengine/internal/domain"
)

// Bus is an in-process domain.SignalBus. A subscriber that is not keeping up
// loses messages rather than blocking publishers.
type Bus struct {
	mu   sync.RWMutex
	subs map[string]map[chan []byte]struct{}
}

// NewBus returns a Bus with no subscribers.
func NewBus() *Bus {
	return &Bus{subs: make(map[string]map[chan []byte]struct{})}
}

// Publish delivers a copy of payload to every current subscriber of channel.
func (b *Bus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs[channel] {
		msg := append([]byte(nil), payload...)
		select {
		case ch <- msg:
		default:
		}
	}
	return nil
}

// Subscribe registers a subscriber until ctx is done, then closes the
// returned channel.
func (b *Bus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	ch := make(chan []byte, 128)

	b.mu.Lock()
	if b.subs[channel] == nil {
		b.subs[channel] = make(map[chan []byte]struct{})
	}
	b.subs[channel][ch] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs[channel], ch)
		b.mu.Unlock()
		close(ch)
	}()
	return ch, nil
}

var _ domain.SignalBus = (*Bus)(nil)
