// Package realtime fans execution change notices out to connected listeners.
// Delivery is best effort: there is no replay and no backlog.
package realtime

import (
	"errors"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Notice types.
const (
	ExecutionCreated = "execution_created"
	ExecutionUpdated = "execution_updated"
)

// ErrSlowListener is returned by ChanSink when its buffer is full.
var ErrSlowListener = errors.New("realtime: listener buffer full")

// Notice tells listeners an execution changed.
type Notice struct {
	Type        string `json:"type"`
	PipelineID  int64  `json:"pipelineId"`
	ExecutionID int64  `json:"executionId"`
	Status      string `json:"status"`
}

// Sink receives notices. Send must not block.
type Sink interface {
	Send(Notice) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Notice) error

func (f SinkFunc) Send(n Notice) error { return f(n) }

// Broadcaster holds the registered sinks.
type Broadcaster struct {
	mu     sync.RWMutex
	sinks  map[string]Sink
	logger *zap.Logger
}

// NewBroadcaster creates a Broadcaster with no listeners.
func NewBroadcaster(logger *zap.Logger) *Broadcaster {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Broadcaster{sinks: make(map[string]Sink), logger: logger}
}

// Register adds a sink and returns its listener id.
func (b *Broadcaster) Register(s Sink) string {
	id := uuid.NewString()
	b.mu.Lock()
	b.sinks[id] = s
	b.mu.Unlock()
	b.logger.Debug("listener registered", zap.String("listener", id))
	return id
}

// Unregister removes a sink. Unknown ids are ignored.
func (b *Broadcaster) Unregister(id string) {
	b.mu.Lock()
	delete(b.sinks, id)
	b.mu.Unlock()
}

// Len returns the number of registered sinks.
func (b *Broadcaster) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.sinks)
}

// Publish sends n to every sink. A failing sink is logged and skipped.
func (b *Broadcaster) Publish(n Notice) {
	b.mu.RLock()
	targets := make(map[string]Sink, len(b.sinks))
	for id, s := range b.sinks {
		targets[id] = s
	}
	b.mu.RUnlock()

	for id, s := range targets {
		if err := s.Send(n); err != nil {
			b.logger.Warn("notice not delivered",
				zap.String("listener", id),
				zap.String("type", n.Type),
				zap.Int64("execution_id", n.ExecutionID),
				zap.Error(err))
		}
	}
}

// ChanSink buffers notices in a channel. Send drops the notice when the
// buffer is full.
type ChanSink struct {
	C chan Notice
}

// NewChanSink creates a sink with the given buffer size.
func NewChanSink(size int) *ChanSink {
	if size < 1 {
		size = 1
	}
	return &ChanSink{C: make(chan Notice, size)}
}

func (s *ChanSink) Send(n Notice) error {
	select {
	case s.C <- n:
		return nil
	default:
		return ErrSlowListener
	}
}
