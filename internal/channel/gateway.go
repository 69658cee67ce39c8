package channel

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/ureca/billing-notifier/internal/domain"
)

const defaultGatewayTimeout = 10 * time.Second

type gatewayRequest struct {
	To      string `json:"to"`
	Channel string `json:"channel"`
	Content string `json:"content"`
	TraceID string `json:"traceId,omitempty"`
}

// GatewayHandler delivers notifications to a channel-specific HTTP gateway
// (mail relay, SMS aggregator, push service). One instance per channel.
type GatewayHandler struct {
	channel  domain.Channel
	client   *resty.Client
	endpoint string
}

// NewGatewayHandler builds a handler for the given channel and gateway
// endpoint. The client timeout bounds every Handle call.
func NewGatewayHandler(channel domain.Channel, endpoint string) (*GatewayHandler, error) {
	client := resty.New()
	client.SetTimeout(defaultGatewayTimeout)
	client.SetRetryCount(0)

	return NewGatewayHandlerWithClient(channel, endpoint, client)
}

func NewGatewayHandlerWithClient(channel domain.Channel, endpoint string, client *resty.Client) (*GatewayHandler, error) {
	if !channel.IsValid() {
		return nil, fmt.Errorf("%w: invalid channel %q", domain.ErrValidation, channel)
	}

	trimmedEndpoint := strings.TrimSpace(endpoint)
	if trimmedEndpoint == "" {
		return nil, fmt.Errorf("gateway endpoint is required for channel %s", channel)
	}
	if _, err := url.ParseRequestURI(trimmedEndpoint); err != nil {
		return nil, fmt.Errorf("invalid gateway endpoint for channel %s: %w", channel, err)
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}

	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultGatewayTimeout)
	}
	client.SetRetryCount(0)

	return &GatewayHandler{
		channel:  channel,
		client:   client,
		endpoint: trimmedEndpoint,
	}, nil
}

func (h *GatewayHandler) Type() domain.Channel {
	return h.channel
}

// Handle posts the rendered notification to the gateway. A timeout counts
// as a transient delivery failure.
func (h *GatewayHandler) Handle(ctx context.Context, msg domain.BillingMessage, traceID string) error {
	if h == nil || h.client == nil {
		return fmt.Errorf("handler is not initialized")
	}

	recipient := strings.TrimSpace(msg.Recipient(h.channel))
	if recipient == "" {
		return &DeliveryError{
			Channel:   h.channel,
			Message:   "recipient is empty",
			Transient: false,
		}
	}

	reqBody := gatewayRequest{
		To:      recipient,
		Channel: strings.ToLower(h.channel.String()),
		Content: msg.Content(h.channel),
		TraceID: traceID,
	}

	response, err := h.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(reqBody).
		Post(h.endpoint)
	if err != nil {
		return &DeliveryError{
			Channel:   h.channel,
			Message:   "gateway request failed",
			Transient: !errors.Is(err, context.Canceled),
			Cause:     err,
		}
	}
	if response == nil {
		return &DeliveryError{
			Channel:   h.channel,
			Message:   "gateway returned empty response",
			Transient: true,
		}
	}

	statusCode := response.StatusCode()
	if statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices {
		return nil
	}

	return &DeliveryError{
		Channel:    h.channel,
		StatusCode: statusCode,
		Message:    gatewayErrorMessage(statusCode, strings.TrimSpace(response.String())),
		Transient:  isTransientHTTPStatus(statusCode),
	}
}

func isTransientHTTPStatus(statusCode int) bool {
	return statusCode == http.StatusTooManyRequests || (statusCode >= http.StatusInternalServerError && statusCode <= 599)
}

func gatewayErrorMessage(statusCode int, body string) string {
	base := fmt.Sprintf("gateway returned status %d", statusCode)
	if body == "" {
		return base
	}
	return fmt.Sprintf("%s: %s", base, body)
}
