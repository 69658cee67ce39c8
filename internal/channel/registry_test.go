package channel

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/ureca/billing-notifier/internal/domain"
)

type fakeHandler struct {
	channel  domain.Channel
	handleFn func(ctx context.Context, msg domain.BillingMessage, traceID string) error
}

func (f *fakeHandler) Type() domain.Channel { return f.channel }

func (f *fakeHandler) Handle(ctx context.Context, msg domain.BillingMessage, traceID string) error {
	if f.handleFn == nil {
		return nil
	}
	return f.handleFn(ctx, msg, traceID)
}

func TestRegistryRegisterAndGet(t *testing.T) {
	t.Parallel()

	registry := NewRegistry()
	emailHandler := &fakeHandler{channel: domain.ChannelEmail}

	if err := registry.Register(emailHandler); err != nil {
		t.Fatalf("unexpected register error: %v", err)
	}

	got, err := registry.Get(domain.ChannelEmail)
	if err != nil {
		t.Fatalf("unexpected get error: %v", err)
	}
	if got != Handler(emailHandler) {
		t.Fatalf("expected the registered handler back, got %#v", got)
	}
}

func TestRegistryRejectsInvalidRegistrations(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		handler Handler
		wantErr error
	}{
		{
			name:    "nil handler",
			handler: nil,
		},
		{
			name:    "invalid channel",
			handler: &fakeHandler{channel: domain.Channel("FAX")},
			wantErr: domain.ErrValidation,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			registry := NewRegistry()
			err := registry.Register(tc.handler)
			if err == nil {
				t.Fatal("expected register to fail")
			}
			if tc.wantErr != nil && !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected %v, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestRegistryRejectsDuplicateRegistration(t *testing.T) {
	t.Parallel()

	registry := NewRegistry()
	if err := registry.Register(&fakeHandler{channel: domain.ChannelSMS}); err != nil {
		t.Fatalf("unexpected register error: %v", err)
	}

	err := registry.Register(&fakeHandler{channel: domain.ChannelSMS})
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected conflict error, got %v", err)
	}
}

func TestRegistryGetUnregisteredFailsFast(t *testing.T) {
	t.Parallel()

	registry := NewRegistry()

	_, err := registry.Get(domain.ChannelPush)
	if !errors.Is(err, ErrNotRegistered) {
		t.Fatalf("expected ErrNotRegistered, got %v", err)
	}
}

func TestRegistryAvailableIsSorted(t *testing.T) {
	t.Parallel()

	registry := NewRegistry()
	for _, ch := range []domain.Channel{domain.ChannelSMS, domain.ChannelEmail, domain.ChannelPush} {
		if err := registry.Register(&fakeHandler{channel: ch}); err != nil {
			t.Fatalf("unexpected register error: %v", err)
		}
	}

	want := []domain.Channel{domain.ChannelEmail, domain.ChannelPush, domain.ChannelSMS}
	if got := registry.Available(); !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}
