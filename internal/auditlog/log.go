package auditlog

import (
	"encoding/json"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"leaderboard/internal/config"
)

const (
	batchFlushSize     = 64
	batchFlushInterval = 100 * time.Millisecond
	limiterCleanup     = 5 * time.Minute
	perCustomerRate    = 5 // events/sec, independent of the global throttle
)

// Log provides bounded, rate-limited recording of score update events
// with backpressure: under sustained overload it silently drops the
// oldest buffered events rather than blocking callers or growing
// without limit.
type Log struct {
	cfg config.AuditConfig

	buffer    []Event
	writeHead uint64 // atomic
	readHead  uint64 // atomic

	globalLimiter    *rate.Limiter
	customerLimiters sync.Map // customerId (int64) -> *limiterEntry

	writerWg sync.WaitGroup
	stopChan chan struct{}
	stopOnce sync.Once
	running  atomic.Bool

	filePath string
	file     *os.File
	fileMu   sync.Mutex

	droppedCount uint64 // atomic
	totalCount   uint64 // atomic
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastUsed atomic.Int64 // unix nano, updated lock-free
}

// New constructs a Log from the given configuration. The writer goroutine
// is not started until Start is called.
func New(cfg config.AuditConfig) *Log {
	return &Log{
		cfg:           cfg,
		buffer:        make([]Event, cfg.BufferSize),
		globalLimiter: rate.NewLimiter(rate.Limit(cfg.EventsPerSec), int(cfg.EventsPerSec)/10+1),
		stopChan:      make(chan struct{}),
	}
}

// Start begins the async writer and limiter-cleanup goroutines. No-op if
// the log is disabled by configuration or already running.
func (l *Log) Start() error {
	if !l.cfg.Enabled || l.running.Load() {
		return nil
	}

	if l.cfg.Path != "" {
		file, err := os.OpenFile(l.cfg.Path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return err
		}
		l.file = file
		l.filePath = l.cfg.Path
	}

	l.running.Store(true)
	l.writerWg.Add(2)
	go l.writerLoop()
	go l.cleanupLoop()

	return nil
}

// Stop gracefully shuts down the writer, flushing anything buffered.
func (l *Log) Stop() {
	l.stopOnce.Do(func() {
		if !l.running.Load() {
			return
		}
		l.running.Store(false)
		close(l.stopChan)
		l.writerWg.Wait()

		l.fileMu.Lock()
		if l.file != nil {
			l.file.Close()
		}
		l.fileMu.Unlock()
	})
}

// Record logs a score update. Returns false if the log is not running or
// the event was rejected by rate limiting; when the buffer is full the
// oldest buffered event is dropped instead and this one is recorded —
// callers are expected to ignore the return value; it exists for tests
// and metrics only.
func (l *Log) Record(customerID, delta, newScore int64) bool {
	if !l.running.Load() {
		return false
	}

	if !l.globalLimiter.Allow() {
		atomic.AddUint64(&l.droppedCount, 1)
		return false
	}
	if limiter := l.getCustomerLimiter(customerID); !limiter.Allow() {
		atomic.AddUint64(&l.droppedCount, 1)
		return false
	}

	head := atomic.AddUint64(&l.writeHead, 1)
	tail := atomic.LoadUint64(&l.readHead)
	capacity := uint64(len(l.buffer))

	if head-tail >= capacity {
		// Drop the oldest buffered event to make room. Intentional
		// under load: the audit log never applies backpressure to
		// Update.
		atomic.AddUint64(&l.readHead, 1)
		atomic.AddUint64(&l.droppedCount, 1)
	}

	event := newEvent(customerID, delta, newScore)
	event.Sequence = head
	l.buffer[(head-1)%capacity] = event
	atomic.AddUint64(&l.totalCount, 1)
	return true
}

func (l *Log) getCustomerLimiter(customerID int64) *rate.Limiter {
	if v, ok := l.customerLimiters.Load(customerID); ok {
		e := v.(*limiterEntry)
		e.lastUsed.Store(time.Now().UnixNano())
		return e.limiter
	}

	e := &limiterEntry{limiter: rate.NewLimiter(perCustomerRate, perCustomerRate)}
	e.lastUsed.Store(time.Now().UnixNano())
	actual, _ := l.customerLimiters.LoadOrStore(customerID, e)
	return actual.(*limiterEntry).limiter
}

func (l *Log) writerLoop() {
	defer l.writerWg.Done()

	interval := l.cfg.FlushInterval
	if interval <= 0 {
		interval = batchFlushInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	batch := make([]Event, 0, batchFlushSize)

	for {
		select {
		case <-l.stopChan:
			batch = l.collectBatch(batch[:0])
			if len(batch) > 0 {
				l.flushBatch(batch)
			}
			return
		case <-ticker.C:
			batch = l.collectBatch(batch[:0])
			if len(batch) > 0 {
				l.flushBatch(batch)
			}
		}
	}
}

func (l *Log) cleanupLoop() {
	defer l.writerWg.Done()

	ticker := time.NewTicker(limiterCleanup)
	defer ticker.Stop()

	for {
		select {
		case <-l.stopChan:
			return
		case <-ticker.C:
			l.cleanupCustomerLimiters()
		}
	}
}

func (l *Log) cleanupCustomerLimiters() {
	cutoff := time.Now().Add(-limiterCleanup).UnixNano()
	l.customerLimiters.Range(func(key, value interface{}) bool {
		e := value.(*limiterEntry)
		if e.lastUsed.Load() < cutoff {
			l.customerLimiters.Delete(key)
		}
		return true
	})
}

func (l *Log) collectBatch(batch []Event) []Event {
	head := atomic.LoadUint64(&l.writeHead)
	tail := atomic.LoadUint64(&l.readHead)
	capacity := uint64(len(l.buffer))

	for i := tail; i < head && len(batch) < batchFlushSize; i++ {
		batch = append(batch, l.buffer[i%capacity])
	}

	if len(batch) > 0 {
		atomic.AddUint64(&l.readHead, uint64(len(batch)))
	}
	return batch
}

func (l *Log) flushBatch(batch []Event) {
	l.fileMu.Lock()
	defer l.fileMu.Unlock()

	if l.file == nil {
		return
	}
	for _, event := range batch {
		data, err := json.Marshal(event)
		if err != nil {
			continue
		}
		l.file.Write(data)
		l.file.Write([]byte("\n"))
	}
}

// Stats reports counters useful for operational dashboards and tests.
type Stats struct {
	Total   uint64
	Dropped uint64
	Pending uint64
	Running bool
}

// Stats returns a snapshot of the log's counters.
func (l *Log) Stats() Stats {
	head := atomic.LoadUint64(&l.writeHead)
	tail := atomic.LoadUint64(&l.readHead)
	return Stats{
		Total:   atomic.LoadUint64(&l.totalCount),
		Dropped: atomic.LoadUint64(&l.droppedCount),
		Pending: head - tail,
		Running: l.running.Load(),
	}
}
