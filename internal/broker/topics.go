package broker

import (
	"strconv"

	"github.com/segmentio/kafka-go"
)

// Topic layout for the billing event pipeline. The main topic carries fresh
// events from the billing extractor, the retry topic carries redeliveries,
// and the dead-letter topic carries messages that exhausted their retries.
const (
	TopicBillingEvent = "billing-event"
	TopicRetry        = "billing-event.retry"
	TopicDeadLetter   = "billing-event.DLT"

	GroupNotification = "notification-group"
	GroupDeadLetter   = "dlq-group"
)

// attemptHeaderKey carries the redelivery count across topics. A message
// without the header is a first delivery.
const attemptHeaderKey = "x-attempt"

// Attempt extracts the redelivery count from the message headers.
// Missing or unparseable headers count as a first delivery.
func Attempt(msg kafka.Message) int {
	for _, h := range msg.Headers {
		if h.Key != attemptHeaderKey {
			continue
		}
		n, err := strconv.Atoi(string(h.Value))
		if err != nil || n < 0 {
			return 0
		}
		return n
	}
	return 0
}

func attemptHeader(attempt int) kafka.Header {
	return kafka.Header{
		Key:   attemptHeaderKey,
		Value: []byte(strconv.Itoa(attempt)),
	}
}
