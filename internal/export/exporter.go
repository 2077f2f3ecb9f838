package export

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/csistudio/internal/monitoring"
)

// DefaultQueueSize is the number of frame payloads buffered for the
// publisher.
const DefaultQueueSize = 1000

// Publisher delivers one payload to the consumer.
type Publisher interface {
	Publish(payload []byte) error
	Close() error
	String() string
}

// Config configures an Exporter.
type Config struct {
	QueueSize   int
	LogInterval time.Duration
	Metrics     *monitoring.Metrics
}

// Exporter decouples the stream consumer from a slow publisher. Accept
// never blocks: when the queue is full the payload is dropped and counted.
type Exporter struct {
	pub         Publisher
	queue       chan []byte
	metrics     *monitoring.Metrics
	logInterval time.Duration

	sent     atomic.Uint64
	dropped  atomic.Uint64
	failures atomic.Uint64

	started  atomic.Bool
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// New returns an exporter writing to pub. Call Start to begin delivery.
func New(pub Publisher, cfg Config) *Exporter {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.LogInterval <= 0 {
		cfg.LogInterval = 10 * time.Second
	}
	return &Exporter{
		pub:         pub,
		queue:       make(chan []byte, cfg.QueueSize),
		metrics:     cfg.Metrics,
		logInterval: cfg.LogInterval,
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}
}

// Start runs the delivery goroutine until ctx ends or Close is called.
func (e *Exporter) Start(ctx context.Context) {
	if !e.started.CompareAndSwap(false, true) {
		return
	}
	go e.run(ctx)
	monitoring.Logf("Exporting frames to %s", e.pub)
}

func (e *Exporter) run(ctx context.Context) {
	defer close(e.done)
	ticker := time.NewTicker(e.logInterval)
	defer ticker.Stop()

	var failed, reportedDrops uint64
	var lastErr error
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stop:
			e.drain()
			return
		case p := <-e.queue:
			if err := e.pub.Publish(p); err != nil {
				failed++
				lastErr = err
				e.failures.Add(1)
				continue
			}
			e.sent.Add(1)
		case <-ticker.C:
			if failed > 0 {
				monitoring.Logf("Failed to export %d frames to %s (latest: %v)", failed, e.pub, lastErr)
				failed, lastErr = 0, nil
			}
			if d := e.dropped.Load(); d > reportedDrops {
				monitoring.Logf("Export queue full: dropped %d frames", d-reportedDrops)
				reportedDrops = d
			}
		}
	}
}

// drain delivers what is already queued.
func (e *Exporter) drain() {
	for {
		select {
		case p := <-e.queue:
			if err := e.pub.Publish(p); err != nil {
				e.failures.Add(1)
				continue
			}
			e.sent.Add(1)
		default:
			return
		}
	}
}

// Accept queues payload, taking ownership of it.
func (e *Exporter) Accept(payload []byte) {
	select {
	case e.queue <- payload:
	default:
		e.dropped.Add(1)
		if e.metrics != nil {
			e.metrics.ExportDropped.Inc()
		}
	}
}

// Stats reports delivered, failed and dropped payload counts.
func (e *Exporter) Stats() (sent, failed, dropped uint64) {
	return e.sent.Load(), e.failures.Load(), e.dropped.Load()
}

// Close flushes queued payloads, stops delivery and closes the publisher.
// It must not be called concurrently with Accept.
func (e *Exporter) Close() error {
	var err error
	e.stopOnce.Do(func() {
		close(e.stop)
		if !e.started.Load() {
			err = e.pub.Close()
			return
		}
		select {
		case <-e.done:
		case <-time.After(5 * time.Second):
			err = errors.New("export: timed out flushing queue")
		}
		err = errors.Join(err, e.pub.Close())
	})
	return err
}
