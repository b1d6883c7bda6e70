package events

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// EventLogger writes bus events to a zap logger off the emitting goroutine
type EventLogger struct {
	logger *zap.Logger
	buffer chan Event
	done   chan struct{}
	once   sync.Once

	// mu is held for reading across every send so Close cannot close
	// the buffer underneath one
	mu     sync.RWMutex
	closed bool
}

func NewEventLogger(logger *zap.Logger) *EventLogger {
	el := &EventLogger{
		logger: logger.Named("events"),
		buffer: make(chan Event, 1000),
		done:   make(chan struct{}),
	}
	go el.process()
	return el
}

// Handle queues an event for logging. It never blocks the emitter.
// Events arriving after Close are dropped.
func (el *EventLogger) Handle(event Event) {
	el.mu.RLock()
	defer el.mu.RUnlock()

	if el.closed {
		return
	}
	select {
	case el.buffer <- event:
	default:
		el.logger.Warn("event buffer full, dropping event",
			zap.String("type", string(event.Type)))
	}
}

// Close drains queued events and stops the logger
func (el *EventLogger) Close() {
	el.once.Do(func() {
		el.mu.Lock()
		el.closed = true
		close(el.buffer)
		el.mu.Unlock()
		<-el.done
	})
}

func (el *EventLogger) process() {
	defer close(el.done)

	for event := range el.buffer {
		fields := []zap.Field{
			zap.String("type", string(event.Type)),
			zap.String("run_id", event.RunID),
			zap.Uint64("seq", event.Seq),
		}
		if event.Path != "" {
			fields = append(fields, zap.String("path", event.Path))
		}
		if event.Threat != "" {
			fields = append(fields, zap.String("threat", event.Threat))
		}
		if event.Type == FileHeuristic {
			fields = append(fields, zap.Stringer("category", event.Category))
		}
		if event.Reason != "" {
			fields = append(fields, zap.String("reason", event.Reason))
		}
		switch event.Type {
		case ScanComplete, FileCountDone:
			fields = append(fields, zap.Int("count", event.Count))
		}

		el.logger.Log(levelFor(event.Type), "event", fields...)
	}
}

func levelFor(t Type) zapcore.Level {
	switch t {
	case FileScanned, FileClean:
		return zapcore.DebugLevel
	case FileInfected, FileHeuristic, FileScanFailed, PathNotFound, ScanFailed:
		return zapcore.WarnLevel
	default:
		return zapcore.InfoLevel
	}
}
