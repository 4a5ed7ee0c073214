package notify

import (
	"context"
	"log"
	"sync"
	"time"
)

// Channel delivers formatted messages to one destination.
type Channel interface {
	Name() string
	// Enabled reports whether msg should go through this channel. A channel
	// without configuration is never enabled.
	Enabled(msg Message) bool
	Send(ctx context.Context, msg Message) error
}

type DispatchResult struct {
	Channel   string    `json:"channel"`
	Success   bool      `json:"success"`
	Skipped   bool      `json:"skipped,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Dispatcher fans a message out to every enabled channel. Delivery is
// at-most-once; failures are logged and reported but never returned as
// errors.
type Dispatcher struct {
	channels []Channel
}

func NewDispatcher(channels ...Channel) *Dispatcher {
	return &Dispatcher{channels: channels}
}

func (d *Dispatcher) Dispatch(ctx context.Context, msg Message) []DispatchResult {
	results := make([]DispatchResult, len(d.channels))
	var wg sync.WaitGroup

	for i, ch := range d.channels {
		if !ch.Enabled(msg) {
			results[i] = DispatchResult{Channel: ch.Name(), Skipped: true, Timestamp: time.Now()}
			continue
		}
		wg.Add(1)
		go func(i int, ch Channel) {
			defer wg.Done()
			res := DispatchResult{Channel: ch.Name(), Success: true}
			if err := ch.Send(ctx, msg); err != nil {
				log.Printf("ERROR: %s dispatch of %q failed: %v", ch.Name(), msg.Type, err)
				res.Success = false
				res.Error = err.Error()
			}
			res.Timestamp = time.Now()
			results[i] = res
		}(i, ch)
	}

	wg.Wait()
	return results
}
