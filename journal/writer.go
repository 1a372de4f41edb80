package journal

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/pithecene-io/tagstream/log"
	"github.com/pithecene-io/tagstream/metrics"
	"github.com/pithecene-io/tagstream/types"
)

// Defaults for WriterConfig.
const (
	DefaultFlushCount    = 64
	DefaultFlushInterval = 5 * time.Second
	DefaultMaxBuffered   = 4096
)

// FlushTrigger identifies what caused a flush.
type FlushTrigger string

// Flush triggers.
const (
	FlushTriggerCount    FlushTrigger = "count"
	FlushTriggerInterval FlushTrigger = "interval"
	FlushTriggerClose    FlushTrigger = "close"
	FlushTriggerManual   FlushTrigger = "manual"
)

// ErrWriterClosed is returned by Observe after Close.
var ErrWriterClosed = errors.New("journal writer closed")

// WriterConfig configures a Writer.
type WriterConfig struct {
	// FlushCount flushes once this many records are buffered.
	FlushCount int
	// FlushInterval flushes buffered records periodically.
	FlushInterval time.Duration
	// MaxBuffered bounds the records retained across failed flushes;
	// beyond it the oldest records are dropped.
	MaxBuffered int
	Logger      *log.Logger
	Metrics     *metrics.Collector
	// Now overrides the record timestamp clock.
	Now func() time.Time
}

// WriterStats is a point-in-time view of the writer.
type WriterStats struct {
	Buffered  int
	Persisted int64
	Dropped   int64
	Flushes   map[FlushTrigger]int64
	Errors    int64
}

// Writer batches detection records into a Store.
//
// Observe only appends under mu; flushes are serialized by flushMu and run
// outside mu, so ingestion never waits on storage. A failed batch is put
// back in front of newer records and retried on the next trigger.
type Writer struct {
	store  Store
	cfg    WriterConfig
	logger *log.Logger

	mu        sync.Mutex
	buffer    []Record
	persisted int64
	dropped   int64
	errs      int64
	flushes   map[FlushTrigger]int64
	closed    bool

	flushMu sync.Mutex
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewWriter starts a writer over store. Zero config fields take defaults.
func NewWriter(store Store, cfg WriterConfig) (*Writer, error) {
	if store == nil {
		return nil, errors.New("journal writer requires a store")
	}
	if cfg.FlushCount <= 0 {
		cfg.FlushCount = DefaultFlushCount
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultFlushInterval
	}
	if cfg.MaxBuffered <= 0 {
		cfg.MaxBuffered = DefaultMaxBuffered
	}
	if cfg.MaxBuffered < cfg.FlushCount {
		cfg.MaxBuffered = cfg.FlushCount
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Nop()
	}

	w := &Writer{
		store:   store,
		cfg:     cfg,
		logger:  logger,
		buffer:  make([]Record, 0, cfg.FlushCount),
		flushes: make(map[FlushTrigger]int64),
		stopCh:  make(chan struct{}),
	}
	w.wg.Add(1)
	go w.intervalLoop()
	return w, nil
}

// Observe buffers the detections carried by env. It satisfies the capture
// loop's sink interface. A count-triggered flush runs inline.
func (w *Writer) Observe(ctx context.Context, env *types.Envelope) error {
	records := RecordsFor(env, w.cfg.Now())
	if len(records) == 0 {
		return nil
	}

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return ErrWriterClosed
	}
	w.buffer = append(w.buffer, records...)
	w.trimLocked()
	shouldFlush := len(w.buffer) >= w.cfg.FlushCount
	w.mu.Unlock()

	if shouldFlush {
		return w.flush(ctx, FlushTriggerCount)
	}
	return nil
}

// Flush writes everything buffered.
func (w *Writer) Flush(ctx context.Context) error {
	return w.flush(ctx, FlushTriggerManual)
}

// trimLocked drops the oldest records beyond MaxBuffered. Caller holds mu.
func (w *Writer) trimLocked() {
	over := len(w.buffer) - w.cfg.MaxBuffered
	if over <= 0 {
		return
	}
	w.buffer = append(w.buffer[:0:0], w.buffer[over:]...)
	w.dropped += int64(over)
	w.cfg.Metrics.AddJournalRecordsDropped(over)
	w.logger.Warn("journal buffer full, dropped oldest records", map[string]any{
		"dropped": over,
		"max":     w.cfg.MaxBuffered,
	})
}

func (w *Writer) flush(ctx context.Context, trigger FlushTrigger) error {
	w.flushMu.Lock()
	defer w.flushMu.Unlock()

	w.mu.Lock()
	w.flushes[trigger]++
	batch := w.buffer
	if len(batch) == 0 {
		w.mu.Unlock()
		return nil
	}
	w.buffer = make([]Record, 0, w.cfg.FlushCount)
	w.mu.Unlock()

	if err := w.store.Write(ctx, batch); err != nil {
		w.mu.Lock()
		w.errs++
		w.buffer = append(batch, w.buffer...)
		w.trimLocked()
		w.mu.Unlock()
		w.cfg.Metrics.IncJournalWriteFailure()
		w.logger.Error("journal flush failed", map[string]any{
			"stage":   "journal",
			"trigger": string(trigger),
			"records": len(batch),
			"error":   err.Error(),
		})
		return err
	}

	w.mu.Lock()
	w.persisted += int64(len(batch))
	w.mu.Unlock()
	w.cfg.Metrics.IncJournalWriteSuccess()
	w.logger.Debug("journal flush", map[string]any{
		"trigger": string(trigger),
		"records": len(batch),
	})
	return nil
}

func (w *Writer) intervalLoop() {
	defer w.wg.Done()
	ticker := time.NewTicker(w.cfg.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			w.mu.Lock()
			hasData := len(w.buffer) > 0
			w.mu.Unlock()
			if hasData {
				_ = w.flush(context.Background(), FlushTriggerInterval)
			}
		case <-w.stopCh:
			return
		}
	}
}

// Close stops the interval flush, writes what is left and closes the store.
func (w *Writer) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	close(w.stopCh)
	w.mu.Unlock()
	w.wg.Wait()

	flushErr := w.flush(context.Background(), FlushTriggerClose)
	return errors.Join(flushErr, w.store.Close())
}

// Stats returns a consistent snapshot of the writer's counters.
func (w *Writer) Stats() WriterStats {
	w.mu.Lock()
	defer w.mu.Unlock()
	flushes := make(map[FlushTrigger]int64, len(w.flushes))
	for k, v := range w.flushes {
		flushes[k] = v
	}
	return WriterStats{
		Buffered:  len(w.buffer),
		Persisted: w.persisted,
		Dropped:   w.dropped,
		Flushes:   flushes,
		Errors:    w.errs,
	}
}
