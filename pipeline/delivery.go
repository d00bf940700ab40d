package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// batchPayload is the wire shape of one transmission: the events plus
// metadata repeating identity and page context.
type batchPayload struct {
	Events   []Event       `json:"events"`
	Metadata batchMetadata `json:"metadata"`
}

type batchMetadata struct {
	Timestamp int64  `json:"timestamp"`
	SessionID string `json:"sessionId"`
	UserID    string `json:"userId"`
	UserAgent string `json:"userAgent"`
	URL       string `json:"url"`
	Referrer  string `json:"referrer"`
}

// DeliveryAgent transmits batches. A detected failure (payload construction,
// transport error, non-2xx) is returned to the caller so the buffer can
// requeue; only the fire-and-forget path can lose events silently.
//
// Batches carrying conversion or error events are always sent confirmably,
// even when the caller prefers fire-and-forget: for those events delivery
// confirmation outweighs the unload-survival property of the beacon.
type DeliveryAgent struct {
	confirmable Transport
	beacon      BeaconTransport
	timeout     time.Duration

	// metadata snapshots identity and page context at send time.
	metadata func() batchMetadata
}

func NewDeliveryAgent(confirmable Transport, beacon BeaconTransport, timeout time.Duration, metadata func() batchMetadata) *DeliveryAgent {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &DeliveryAgent{
		confirmable: confirmable,
		beacon:      beacon,
		timeout:     timeout,
		metadata:    metadata,
	}
}

// Send transmits one batch. With preferFireAndForget and a beacon available
// (and no events requiring confirmation) the batch goes out without
// acknowledgment; a beacon construction failure falls back to the
// confirmable transport rather than reporting an error outright.
func (a *DeliveryAgent) Send(batch []Event, preferFireAndForget bool) error {
	payload, err := json.Marshal(batchPayload{
		Events:   batch,
		Metadata: a.metadata(),
	})
	if err != nil {
		return fmt.Errorf("failed to encode batch: %w", err)
	}

	if preferFireAndForget && a.beacon != nil && !needsConfirmation(batch) {
		if a.beacon.Post(payload) {
			return nil
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
	defer cancel()
	return a.confirmable.Send(ctx, payload)
}
