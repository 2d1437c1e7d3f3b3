package queue

import "context"

// Job handles one message type pulled off the queue.
type Job interface {
	// Name identifies the job in logs.
	Name() string

	// Type is the message type this job consumes.
	Type() string

	// Handle processes a single payload. Returning an error schedules a
	// retry until the retry limit is reached, then the message moves to
	// the dead letter list.
	Handle(ctx context.Context, payload interface{}) error
}
