package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Publisher enqueues messages for asynchronous processing.
type Publisher interface {
	Publish(ctx context.Context, msgType string, payload interface{}) error
}

// Config controls worker count and retry behavior.
type Config struct {
	Workers    int           // concurrent workers draining the queue
	RetryLimit int           // attempts before a message is dead-lettered
	RetryDelay time.Duration // delay before a failed message is retried
}

// Message is the wire form of a queued payload.
type Message struct {
	ID        string      `json:"id"`
	Type      string      `json:"type"`
	Payload   interface{} `json:"payload"`
	Attempts  int         `json:"attempts"`
	Timestamp time.Time   `json:"timestamp"`
}

// ParsePayload converts a queue payload into *T. Payloads arrive either
// as the original value (same-process enqueue) or as json.RawMessage
// after a round trip through redis.
func ParsePayload[T any](payload interface{}) (*T, error) {
	var result T

	switch p := payload.(type) {
	case *T:
		return p, nil
	case T:
		return &p, nil
	case json.RawMessage:
		if err := json.Unmarshal(p, &result); err != nil {
			return nil, fmt.Errorf("unmarshal payload: %w", err)
		}
		return &result, nil
	case map[string]interface{}:
		b, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("marshal payload map: %w", err)
		}
		if err := json.Unmarshal(b, &result); err != nil {
			return nil, fmt.Errorf("unmarshal payload map: %w", err)
		}
		return &result, nil
	default:
		return nil, fmt.Errorf("unsupported payload type: %T", payload)
	}
}
