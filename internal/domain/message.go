package domain

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// BillingMessage is the billing event payload consumed from the broker.
// It is produced by the upstream billing extractor and treated as read-only.
type BillingMessage struct {
	BillID           int64  `json:"billId"`
	UserID           int64  `json:"userId"`
	NotificationType string `json:"notificationType"`
	RecipientEmail   string `json:"recipientEmail"`
	RecipientPhone   string `json:"recipientPhone"`
	BillYearMonth    string `json:"billYearMonth"`
	TotalAmount      *int64 `json:"totalAmount"`
	DueDate          string `json:"dueDate"`
}

// DecodeBillingMessage parses a raw broker payload. Payloads that arrive
// double-encoded (a JSON string containing JSON) are unwrapped first.
func DecodeBillingMessage(raw []byte) (BillingMessage, error) {
	trimmed := strings.TrimSpace(string(raw))
	if strings.HasPrefix(trimmed, `"`) && strings.HasSuffix(trimmed, `"`) {
		var inner string
		if err := json.Unmarshal([]byte(trimmed), &inner); err != nil {
			return BillingMessage{}, fmt.Errorf("failed to unwrap double-encoded payload: %w", err)
		}
		trimmed = inner
	}

	var msg BillingMessage
	if err := json.Unmarshal([]byte(trimmed), &msg); err != nil {
		return BillingMessage{}, fmt.Errorf("failed to decode billing message: %w", err)
	}
	if err := msg.Validate(); err != nil {
		return BillingMessage{}, err
	}
	return msg, nil
}

// Encode serializes the message back to its single-encoded wire form.
func (m BillingMessage) Encode() ([]byte, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to encode billing message: %w", err)
	}
	return raw, nil
}

func (m BillingMessage) Validate() error {
	if m.BillID <= 0 {
		return fmt.Errorf("%w: billId is required", ErrValidation)
	}
	if m.UserID <= 0 {
		return fmt.Errorf("%w: userId is required", ErrValidation)
	}
	return nil
}

// ResolveChannel maps the notificationType field to a delivery channel.
// An absent type defaults to EMAIL, matching the upstream producer contract.
func (m BillingMessage) ResolveChannel() (Channel, error) {
	if strings.TrimSpace(m.NotificationType) == "" {
		return ChannelEmail, nil
	}
	return ParseChannelFromString(m.NotificationType)
}

// Recipient returns the channel-appropriate destination address.
func (m BillingMessage) Recipient(channel Channel) string {
	switch channel {
	case ChannelSMS:
		return m.RecipientPhone
	case ChannelPush:
		return fmt.Sprintf("userId:%d", m.UserID)
	default:
		return m.RecipientEmail
	}
}

// Content renders the channel-appropriate notification body.
func (m BillingMessage) Content(channel Channel) string {
	amount := int64(0)
	if m.TotalAmount != nil {
		amount = *m.TotalAmount
	}
	dueDate := strings.TrimSpace(m.DueDate)
	if dueDate == "" {
		dueDate = "TBD"
	}

	switch channel {
	case ChannelEmail:
		return fmt.Sprintf(
			"[Billing Notice]\nBilling month: %s\nTotal amount: %s\nDue date: %s",
			m.BillYearMonth, formatAmount(amount), dueDate,
		)
	case ChannelSMS:
		return fmt.Sprintf("[Billing] %s bill total %s. Due date: %s", m.BillYearMonth, formatAmount(amount), dueDate)
	case ChannelPush:
		return fmt.Sprintf("[Billing] %s bill total %s. See the app for details.", m.BillYearMonth, formatAmount(amount))
	default:
		return fmt.Sprintf("[Billing] %s bill total %s", m.BillYearMonth, formatAmount(amount))
	}
}

// formatAmount renders an amount with thousands separators, e.g. 54,000.
func formatAmount(amount int64) string {
	digits := strconv.FormatInt(amount, 10)
	negative := strings.HasPrefix(digits, "-")
	if negative {
		digits = digits[1:]
	}

	var b strings.Builder
	if negative {
		b.WriteByte('-')
	}
	lead := len(digits) % 3
	if lead > 0 {
		b.WriteString(digits[:lead])
		if len(digits) > lead {
			b.WriteByte(',')
		}
	}
	for i := lead; i < len(digits); i += 3 {
		b.WriteString(digits[i : i+3])
		if i+3 < len(digits) {
			b.WriteByte(',')
		}
	}
	return b.String()
}
