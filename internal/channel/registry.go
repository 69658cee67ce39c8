package channel

import (
	"context"
	"fmt"
	"sort"

	"github.com/ureca/billing-notifier/internal/domain"
)

// Handler performs the transport-specific send for one delivery channel.
type Handler interface {
	Type() domain.Channel
	Handle(ctx context.Context, msg domain.BillingMessage, traceID string) error
}

// Registry maps delivery channels to their handlers. It is populated at
// startup and read-only afterwards, so lookups need no synchronization.
type Registry struct {
	handlers map[domain.Channel]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[domain.Channel]Handler)}
}

// Register rejects nil handlers, invalid channels, and double registration.
func (r *Registry) Register(handler Handler) error {
	if handler == nil {
		return fmt.Errorf("handler is required")
	}

	channel := handler.Type()
	if !channel.IsValid() {
		return fmt.Errorf("%w: cannot register handler for channel %q", domain.ErrValidation, channel)
	}
	if _, exists := r.handlers[channel]; exists {
		return fmt.Errorf("%w: handler already registered for channel %s", domain.ErrConflict, channel)
	}

	r.handlers[channel] = handler
	return nil
}

// Get fails fast on an unregistered channel.
func (r *Registry) Get(channel domain.Channel) (Handler, error) {
	handler, ok := r.handlers[channel]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotRegistered, channel)
	}
	return handler, nil
}

// Available lists registered channels in stable order.
func (r *Registry) Available() []domain.Channel {
	channels := make([]domain.Channel, 0, len(r.handlers))
	for channel := range r.handlers {
		channels = append(channels, channel)
	}
	sort.Slice(channels, func(i, j int) bool { return channels[i] < channels[j] })
	return channels
}
