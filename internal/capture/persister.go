package capture

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"request-recorder/internal/domain"
	obs "request-recorder/internal/infrastructure/observability"
	"request-recorder/internal/usecase"
)

type queuedRecord struct {
	sessionID string
	rec       domain.CapturedRequest
}

// Persister buffers completed records and writes them to session storage in
// bounded batches, so capture never blocks on storage I/O. A single worker
// goroutine consumes flush signals from a buffered channel; flushes are
// additionally serialized by flushMu so a synchronous Drain and the worker
// can never run two flushes at once.
type Persister struct {
	svc     *usecase.SessionService
	logger  *zerolog.Logger
	metrics *obs.Metrics

	batchSize int
	interval  time.Duration

	mu    sync.Mutex
	queue []queuedRecord

	flushMu sync.Mutex
	flushCh chan struct{}
	done    chan struct{}
	wg      sync.WaitGroup
}

func NewPersister(svc *usecase.SessionService, batchSize int, interval time.Duration, logger *zerolog.Logger, metrics *obs.Metrics) *Persister {
	if batchSize <= 0 {
		batchSize = 20
	}
	p := &Persister{
		svc:       svc,
		logger:    logger,
		metrics:   metrics,
		batchSize: batchSize,
		interval:  interval,
		flushCh:   make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
	p.wg.Add(1)
	go p.worker()
	return p
}

// Enqueue appends a completed record to the save queue. Reaching the batch
// threshold signals the worker; if a flush is already running the signal is
// coalesced and the queue keeps growing until the next cycle.
func (p *Persister) Enqueue(sessionID string, rec domain.CapturedRequest) {
	p.mu.Lock()
	p.queue = append(p.queue, queuedRecord{sessionID: sessionID, rec: rec})
	depth := len(p.queue)
	p.mu.Unlock()
	p.metrics.QueueDepth.Set(float64(depth))
	if depth >= p.batchSize {
		p.signal()
	}
}

func (p *Persister) signal() {
	select {
	case p.flushCh <- struct{}{}:
	default:
	}
}

func (p *Persister) QueueLen() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

func (p *Persister) worker() {
	defer p.wg.Done()
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-p.done:
			return
		case <-p.flushCh:
			p.flush(context.Background())
		case <-ticker.C:
			if p.QueueLen() > 0 {
				p.flush(context.Background())
			}
		}
	}
}

// flush pops up to batchSize records and persists each with a single attempt;
// a failed write is logged and dropped, never retried, and never fails the
// rest of the batch. Session request counts are updated once per session per
// batch.
func (p *Persister) flush(ctx context.Context) {
	p.flushMu.Lock()
	defer p.flushMu.Unlock()

	p.mu.Lock()
	n := len(p.queue)
	if n == 0 {
		p.mu.Unlock()
		return
	}
	if n > p.batchSize {
		n = p.batchSize
	}
	batch := make([]queuedRecord, n)
	copy(batch, p.queue[:n])
	p.queue = p.queue[n:]
	remaining := len(p.queue)
	p.mu.Unlock()

	p.metrics.FlushesTotal.Inc()
	counts := make(map[string]int, 1)
	for _, item := range batch {
		count, err := p.svc.AppendRequest(ctx, item.sessionID, item.rec)
		if err != nil {
			p.metrics.PersistErrorsTotal.Inc()
			p.logger.Error().Err(err).Str("sessionId", item.sessionID).Str("requestId", item.rec.ID).Msg("persist failed, record dropped")
			continue
		}
		p.metrics.PersistedTotal.Inc()
		counts[item.sessionID] = count
	}
	for sessionID, count := range counts {
		if err := p.svc.SetRequestCount(ctx, sessionID, count); err != nil {
			p.logger.Error().Err(err).Str("sessionId", sessionID).Msg("request count update failed")
		}
	}
	p.metrics.QueueDepth.Set(float64(remaining))
	// trailing re-check: keep the worker going while a backlog remains
	if remaining >= p.batchSize {
		p.signal()
	}
}

// Drain flushes synchronously until the queue is empty. Called on session
// stop so a clean stop never loses queued records.
func (p *Persister) Drain(ctx context.Context) {
	for p.QueueLen() > 0 {
		p.flush(ctx)
	}
}

// Close stops the worker. Pending records stay queued; callers that need them
// persisted Drain first.
func (p *Persister) Close() {
	close(p.done)
	p.wg.Wait()
}
