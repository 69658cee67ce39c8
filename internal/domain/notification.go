package domain

import (
	"fmt"
	"strings"
	"time"
)

// Status represents the lifecycle state of a notification record.
type Status string

const (
	StatusPending Status = "PENDING"
	StatusWaiting Status = "WAITING"
	StatusSent    Status = "SENT"
	StatusFailed  Status = "FAILED"
	StatusRetry   Status = "RETRY"
)

func (s Status) String() string { return string(s) }

func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusWaiting, StatusSent, StatusFailed, StatusRetry:
		return true
	}
	return false
}

func ParseStatusFromString(s string) (Status, error) {
	st := Status(strings.ToUpper(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid status %q", ErrValidation, s)
	}
	return st, nil
}

// Channel represents the delivery channel carried in the billing event's
// notificationType field.
type Channel string

const (
	ChannelEmail Channel = "EMAIL"
	ChannelSMS   Channel = "SMS"
	ChannelPush  Channel = "PUSH"
)

func (c Channel) String() string { return string(c) }

func (c Channel) IsValid() bool {
	switch c {
	case ChannelEmail, ChannelSMS, ChannelPush:
		return true
	}
	return false
}

func ParseChannelFromString(s string) (Channel, error) {
	ch := Channel(strings.ToUpper(strings.TrimSpace(s)))
	if !ch.IsValid() {
		return "", fmt.Errorf("%w: invalid channel %q", ErrValidation, s)
	}
	return ch, nil
}

// Channels lists every supported delivery channel.
func Channels() []Channel {
	return []Channel{ChannelEmail, ChannelSMS, ChannelPush}
}

// Notification is a persisted record of one dispatch outcome. Identity for
// correlation is (BillID, Channel); redelivered messages update the same row.
type Notification struct {
	ID           int64
	UserID       int64
	BillID       int64
	Channel      Channel
	Status       Status
	Recipient    string
	Content      string
	RetryCount   int
	Payload      []byte
	ScheduledAt  time.Time
	SentAt       *time.Time
	ErrorMessage *string
	CreatedAt    time.Time
}

func (n *Notification) Validate() error {
	if n.BillID <= 0 {
		return fmt.Errorf("%w: billId is required", ErrValidation)
	}
	if n.UserID <= 0 {
		return fmt.Errorf("%w: userId is required", ErrValidation)
	}
	if !n.Channel.IsValid() {
		return fmt.Errorf("%w: invalid channel %q", ErrValidation, n.Channel)
	}
	if !n.Status.IsValid() {
		return fmt.Errorf("%w: invalid status %q", ErrValidation, n.Status)
	}
	return nil
}

// IsTerminal reports whether the record can never be dispatched again:
// either it was sent, or it failed with the retry budget exhausted.
func (n *Notification) IsTerminal(maxRetries int) bool {
	if n.Status == StatusSent {
		return true
	}
	return n.Status == StatusFailed && n.RetryCount >= maxRetries
}
