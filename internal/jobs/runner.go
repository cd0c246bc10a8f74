package jobs

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/TomaszPielecki/Snaply/internal/capture"
	"github.com/TomaszPielecki/Snaply/internal/progress"
)

// Status texts written to info.status.
const (
	StatusQueued     = "Queued"
	StatusStarting   = "Starting browser session"
	StatusCapturing  = "Capturing screenshots"
	StatusCompleted  = "Completed successfully"
	StatusCanceled   = "Task was manually canceled"
	infoScreenshots  = "screenshots"
	infoLinksFound   = "links_found"
	infoLinksFailed  = "links_failed"
	cancelWriteLimit = 5 * time.Second
)

var (
	// ErrInvalidBudget rejects negative link budgets.
	ErrInvalidBudget = errors.New("invalid link budget")
	// ErrClosed is returned by Submit after Shutdown.
	ErrClosed = errors.New("runner is shut down")
)

// Crawler runs one crawl to completion.
type Crawler interface {
	Crawl(ctx context.Context, req capture.CrawlRequest) (capture.CrawlResult, error)
}

// Runner starts one goroutine per submitted job.
type Runner struct {
	crawler  Crawler
	store    capture.JobStore
	ids      capture.IDGenerator
	clock    capture.Clock
	events   progress.Emitter
	logger   *zap.Logger
	registry *Registry

	baseCtx context.Context
	stopAll context.CancelFunc

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewRunner wires the runner. events may be nil.
func NewRunner(
	crawler Crawler,
	store capture.JobStore,
	ids capture.IDGenerator,
	clock capture.Clock,
	events progress.Emitter,
	logger *zap.Logger,
) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		crawler:  crawler,
		store:    store,
		ids:      ids,
		clock:    clock,
		events:   events,
		logger:   logger,
		registry: NewRegistry(),
		baseCtx:  ctx,
		stopAll:  cancel,
	}
}

// Registry exposes the cancellation registry.
func (r *Runner) Registry() *Registry {
	return r.registry
}

// Submit validates the request, records it as PENDING and starts the crawl in
// the background. Validation errors are returned before any record exists.
func (r *Runner) Submit(ctx context.Context, rawURL, device string, budget int) (string, error) {
	dev, err := capture.ParseDevice(device)
	if err != nil {
		return "", err
	}
	rawURL = strings.TrimSpace(rawURL)
	target, err := capture.NewTarget(rawURL, dev)
	if err != nil {
		return "", err
	}
	if budget < 0 {
		return "", fmt.Errorf("%w: %d", ErrInvalidBudget, budget)
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return "", ErrClosed
	}
	r.wg.Add(1)
	r.mu.Unlock()

	id, err := r.ids.NewID()
	if err != nil {
		r.wg.Done()
		return "", fmt.Errorf("generate job id: %w", err)
	}
	h := &Handle{
		Token:     capture.NewCancelToken(),
		Submitted: r.clock.Now(),
		Info: map[string]string{
			capture.InfoDomain: rawURL,
			capture.InfoDevice: string(dev),
		},
	}
	rec, err := r.store.Save(ctx, id, capture.StatePending, h.info(capture.InfoStatus, StatusQueued))
	if err != nil {
		r.wg.Done()
		return "", fmt.Errorf("create job record: %w", err)
	}
	r.emit(rec, 0)
	if err := r.registry.Register(id, h); err != nil {
		r.wg.Done()
		return "", err
	}

	r.logger.Info("job submitted",
		zap.String("job_id", id),
		zap.String("url", target.URL),
		zap.String("device", string(dev)),
		zap.Int("budget", budget),
	)
	go r.execute(id, target, budget, h)
	return id, nil
}

// Cancel marks a running job CANCELED and trips its token so the crawl
// stops after the capture in flight. It reports false when the job is not
// running in this process.
func (r *Runner) Cancel(ctx context.Context, id string) bool {
	h, ok := r.registry.Lookup(id)
	if !ok {
		return false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.finished {
		return false
	}
	h.Token.Cancel()
	h.finished = true
	rec, err := r.store.Save(ctx, id, capture.StateCanceled, h.info(capture.InfoStatus, StatusCanceled))
	if err != nil {
		r.logger.Error("write canceled record failed", zap.String("job_id", id), zap.Error(err))
		return true
	}
	r.emit(rec, r.clock.Now().Sub(h.Submitted))
	r.logger.Info("job canceled", zap.String("job_id", id))
	return true
}

// Status returns the persisted record for id.
func (r *Runner) Status(ctx context.Context, id string) capture.JobRecord {
	return r.store.Read(ctx, id)
}

// List returns every persisted record.
func (r *Runner) List(ctx context.Context) ([]capture.JobRecord, error) {
	recs, err := r.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return recs, nil
}

// Wait blocks until every submitted job has finished.
func (r *Runner) Wait() {
	r.wg.Wait()
}

// Shutdown stops accepting jobs and waits for running ones. When ctx ends
// first, remaining jobs are canceled and their contexts aborted.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		r.stopAll()
		return nil
	case <-ctx.Done():
	}

	writeCtx, cancel := context.WithTimeout(context.Background(), cancelWriteLimit)
	defer cancel()
	for _, id := range r.registry.IDs() {
		r.Cancel(writeCtx, id)
	}
	r.stopAll()
	return fmt.Errorf("runner shutdown: %w", ctx.Err())
}

func (r *Runner) execute(id string, target capture.Target, budget int, h *Handle) {
	defer r.wg.Done()
	defer r.registry.Unregister(id)
	logger := r.logger.With(zap.String("job_id", id))
	ctx := r.baseCtx

	defer func() {
		if p := recover(); p != nil {
			logger.Error("job panicked", zap.Any("panic", p), zap.Stack("stack"))
			r.recordPanic(ctx, id, h, p)
		}
	}()

	if !r.transition(ctx, id, h, capture.StateStarted, false, capture.InfoStatus, StatusStarting) {
		logger.Info("job canceled before start")
		return
	}
	if !r.transition(ctx, id, h, capture.StateProcessing, false, capture.InfoStatus, StatusCapturing) {
		logger.Info("job canceled before crawl")
		return
	}

	result, err := r.crawler.Crawl(ctx, capture.CrawlRequest{
		JobID:      id,
		URL:        target.URL,
		Device:     target.Device,
		LinkBudget: budget,
		Token:      h.Token,
	})
	if result.Canceled || h.Token.Canceled() {
		logger.Info("job stopped after cancellation", zap.Int("files", len(result.Files)))
		return
	}
	if err != nil {
		logger.Warn("job failed", zap.Error(err))
		r.transition(ctx, id, h, capture.StateFailure, true, capture.InfoError, err.Error())
		return
	}
	r.transition(ctx, id, h, capture.StateSuccess, true,
		capture.InfoStatus, StatusCompleted,
		infoScreenshots, strconv.Itoa(len(result.Files)),
		infoLinksFound, strconv.Itoa(result.LinksFound),
		infoLinksFailed, strconv.Itoa(result.LinksFailed),
	)
}

func (r *Runner) recordPanic(ctx context.Context, id string, h *Handle, p any) {
	defer func() {
		if again := recover(); again != nil {
			r.logger.Error("record job panic failed", zap.String("job_id", id), zap.Any("panic", again))
		}
	}()
	r.transition(ctx, id, h, capture.StateFailure, true, capture.InfoError, fmt.Sprintf("panic: %v", p))
}

// transition writes state unless the job was canceled, and reports whether
// it did. Terminal writes mark the handle finished. Store failures are
// logged; the record then reflects the last successful write.
func (r *Runner) transition(
	ctx context.Context,
	id string,
	h *Handle,
	state capture.JobState,
	terminal bool,
	kv ...string,
) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.finished {
		return false
	}
	if terminal {
		h.finished = true
	}
	rec, err := r.store.Save(ctx, id, state, h.info(kv...))
	if err != nil {
		r.logger.Error("write job record failed",
			zap.String("job_id", id),
			zap.String("state", string(state)),
			zap.Error(err),
		)
		return true
	}
	var elapsed time.Duration
	if terminal {
		elapsed = r.clock.Now().Sub(h.Submitted)
	}
	r.emit(rec, elapsed)
	return true
}

func (r *Runner) emit(rec capture.JobRecord, elapsed time.Duration) {
	if r.events == nil {
		return
	}
	r.events.Emit(progress.NewEvent(rec, r.clock.Now(), elapsed))
}

// info merges key/value pairs over the handle's base info.
func (h *Handle) info(kv ...string) map[string]string {
	out := make(map[string]string, len(h.Info)+len(kv)/2)
	for k, v := range h.Info {
		out[k] = v
	}
	for i := 0; i+1 < len(kv); i += 2 {
		out[kv[i]] = kv[i+1]
	}
	return out
}
