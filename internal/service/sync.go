package service

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/timmy/rostersync/internal/domain"
	"github.com/timmy/rostersync/internal/logger"
	"github.com/timmy/rostersync/internal/repository"
	"github.com/timmy/rostersync/internal/source"
	"gorm.io/datatypes"
)

const (
	reasonCancelled = "cancelled"
	reasonAllFailed = "all entity kinds failed"

	// bulkPageSize is how many bulk records are reconciled between cancellation checks.
	bulkPageSize = 100
)

// ErrRunFinished indicates a cancel request for a run that already finished.
var ErrRunFinished = errors.New("sync run already finished")

// SyncConfig holds configuration for the sync orchestrator
type SyncConfig struct {
	PrefetchPages int
	MaxRunErrors  int
}

// SyncService orchestrates sync runs: single-flight locking, page prefetch,
// sequential reconciliation in dependency order, and run bookkeeping.
type SyncService struct {
	provider    source.PageSource
	reconciler  *Reconciler
	runs        *repository.SyncRunRepository
	checkpoints *repository.CheckpointRepository
	logger      *logger.Logger
	cfg         SyncConfig

	mu     sync.Mutex
	active *runState

	baseCtx  context.Context
	stopAll  context.CancelFunc
	inFlight sync.WaitGroup
	now      func() time.Time
}

// NewSyncService creates a new sync service
func NewSyncService(
	provider source.PageSource,
	reconciler *Reconciler,
	runs *repository.SyncRunRepository,
	checkpoints *repository.CheckpointRepository,
	log *logger.Logger,
	cfg *SyncConfig,
) *SyncService {
	c := SyncConfig{PrefetchPages: 2, MaxRunErrors: 1000}
	if cfg != nil {
		if cfg.PrefetchPages > 0 {
			c.PrefetchPages = cfg.PrefetchPages
		}
		if cfg.MaxRunErrors > 0 {
			c.MaxRunErrors = cfg.MaxRunErrors
		}
	}
	if log == nil {
		log = logger.GetDefault()
	}
	baseCtx, stop := context.WithCancel(context.Background())
	return &SyncService{
		provider:    provider,
		reconciler:  reconciler,
		runs:        runs,
		checkpoints: checkpoints,
		logger:      log.WithField(logger.FieldComponent, "sync"),
		cfg:         c,
		baseCtx:     baseCtx,
		stopAll:     stop,
		now:         time.Now,
	}
}

// log returns a logger from context if available, otherwise returns the service logger
func (s *SyncService) log(ctx context.Context) *logger.Logger {
	if l := logger.FromContext(ctx); l != nil && l != logger.GetDefault() {
		return l
	}
	return s.logger
}

// runState is the mutable state of the active run.
type runState struct {
	mu      sync.Mutex
	run     domain.SyncRun
	counts  domain.RunCounts
	errors  []domain.RunError
	dropped int
	maxErrs int
	cancel  context.CancelFunc
	done    chan struct{}
	final   *domain.SyncRun
}

func (st *runState) id() string { return st.run.ID }

func (st *runState) update(kind domain.EntityKind, fn func(c *domain.EntityCounts)) {
	st.mu.Lock()
	defer st.mu.Unlock()
	c := st.counts[kind]
	fn(&c)
	st.counts[kind] = c
}

func (st *runState) addError(kind domain.EntityKind, ref, reason string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if len(st.errors) >= st.maxErrs {
		st.dropped++
		return
	}
	st.errors = append(st.errors, domain.RunError{EntityKind: kind, Ref: ref, Reason: reason})
}

func (st *runState) snapshot() *domain.SyncRun {
	st.mu.Lock()
	defer st.mu.Unlock()
	run := st.run
	run.Counts = datatypes.NewJSONType(maps.Clone(st.counts))
	run.Errors = datatypes.NewJSONType(append([]domain.RunError{}, st.errors...))
	run.ErrorsDropped = st.dropped
	return &run
}

// begin takes the single-flight lock and registers a new running run.
func (s *SyncService) begin(parent context.Context, mode domain.RunMode, trigger domain.RunTrigger) (*runState, context.Context, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active != nil {
		return nil, nil, &ConflictError{ActiveRunID: s.active.id()}
	}

	ctx, cancel := context.WithCancel(parent)
	st := &runState{
		run: domain.SyncRun{
			ID:        uuid.NewString(),
			Mode:      mode,
			Trigger:   trigger,
			Status:    domain.RunStatusRunning,
			StartedAt: s.now().UTC(),
		},
		counts:  domain.RunCounts{},
		maxErrs: s.cfg.MaxRunErrors,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	s.active = st
	ctx = logger.SetRunID(ctx, st.id())
	return st, ctx, nil
}

// finish records the run, then releases the lock.
func (s *SyncService) finish(ctx context.Context, st *runState, status domain.RunStatus, reason string) *domain.SyncRun {
	st.mu.Lock()
	st.run.Status = status
	st.run.ErrorMessage = reason
	finished := s.now().UTC()
	st.run.FinishedAt = &finished
	st.mu.Unlock()

	run := st.snapshot()
	if err := s.runs.Record(context.WithoutCancel(ctx), run); err != nil {
		s.log(ctx).WithError(err).Error("Failed to record sync run")
	}

	logger.With(logger.Fields{
		logger.FieldStatus:     string(status),
		logger.FieldDurationMs: finished.Sub(run.StartedAt).Milliseconds(),
		"mode":                 run.Mode,
		"errors":               len(run.ErrorList()),
	}).Info(ctx, "Sync run finished")

	st.cancel()
	s.mu.Lock()
	st.final = run
	if s.active == st {
		s.active = nil
	}
	s.mu.Unlock()
	close(st.done)
	return run
}

// Run executes a provider sync and blocks until it finishes.
// Parameters:
//   - ctx: cancelling ctx cancels the run.
//   - mode: RunModeFull or RunModeIncremental.
//   - trigger: who started the run.
//
// Returns:
//   - *domain.SyncRun: the finished run.
//   - error: ConflictError if another run is active, or an invalid mode.
func (s *SyncService) Run(ctx context.Context, mode domain.RunMode, trigger domain.RunTrigger) (*domain.SyncRun, error) {
	if mode != domain.RunModeFull && mode != domain.RunModeIncremental {
		return nil, fmt.Errorf("unsupported provider sync mode %q", mode)
	}
	st, runCtx, err := s.begin(ctx, mode, trigger)
	if err != nil {
		return nil, err
	}
	return s.executeProvider(runCtx, st), nil
}

// Trigger starts a provider sync in the background and returns its run id.
func (s *SyncService) Trigger(mode domain.RunMode, trigger domain.RunTrigger) (string, error) {
	if mode != domain.RunModeFull && mode != domain.RunModeIncremental {
		return "", fmt.Errorf("unsupported provider sync mode %q", mode)
	}
	st, runCtx, err := s.begin(s.baseCtx, mode, trigger)
	if err != nil {
		return "", err
	}
	s.inFlight.Add(1)
	go func() {
		defer s.inFlight.Done()
		s.executeProvider(runCtx, st)
	}()
	return st.id(), nil
}

// RunBulk reconciles one parsed bulk batch and blocks until it finishes.
func (s *SyncService) RunBulk(ctx context.Context, batch source.Batch, trigger domain.RunTrigger) (*domain.SyncRun, error) {
	if domain.Schema(batch.Kind) == nil {
		return nil, fmt.Errorf("unknown entity kind %q", batch.Kind)
	}
	st, runCtx, err := s.begin(ctx, domain.RunModeBulk, trigger)
	if err != nil {
		return nil, err
	}
	return s.executeBulk(runCtx, st, batch), nil
}

// TriggerBulk reconciles a parsed bulk batch in the background and returns its run id.
func (s *SyncService) TriggerBulk(batch source.Batch, trigger domain.RunTrigger) (string, error) {
	if domain.Schema(batch.Kind) == nil {
		return "", fmt.Errorf("unknown entity kind %q", batch.Kind)
	}
	st, runCtx, err := s.begin(s.baseCtx, domain.RunModeBulk, trigger)
	if err != nil {
		return "", err
	}
	s.inFlight.Add(1)
	go func() {
		defer s.inFlight.Done()
		s.executeBulk(runCtx, st, batch)
	}()
	return st.id(), nil
}

// Cancel requests cancellation of the active run. The run stops at the next
// page boundary and finishes as failed.
// Returns:
//   - error: ErrRunFinished if runID already finished, ErrRunNotFound if unknown.
func (s *SyncService) Cancel(ctx context.Context, runID string) error {
	s.mu.Lock()
	st := s.active
	s.mu.Unlock()
	if st != nil && st.id() == runID {
		s.log(ctx).WithField(logger.FieldRunID, runID).Info("Cancelling sync run")
		st.cancel()
		return nil
	}
	if _, err := s.runs.GetByID(ctx, runID); err == nil {
		return ErrRunFinished
	}
	return ErrRunNotFound
}

// Status returns the live snapshot of the active run, or the stored run.
func (s *SyncService) Status(ctx context.Context, runID string) (*domain.SyncRun, error) {
	s.mu.Lock()
	st := s.active
	s.mu.Unlock()
	if st != nil && st.id() == runID {
		return st.snapshot(), nil
	}
	run, err := s.runs.GetByID(ctx, runID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrRunNotFound
	}
	return run, err
}

// Active returns a snapshot of the running run, or nil when idle.
func (s *SyncService) Active() *domain.SyncRun {
	s.mu.Lock()
	st := s.active
	s.mu.Unlock()
	if st == nil {
		return nil
	}
	return st.snapshot()
}

// Latest returns the most recently finished run.
func (s *SyncService) Latest(ctx context.Context) (*domain.SyncRun, error) {
	run, err := s.runs.Latest(ctx)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrRunNotFound
	}
	return run, err
}

// History returns finished runs, newest first.
func (s *SyncService) History(ctx context.Context, limit int) ([]domain.SyncRun, error) {
	return s.runs.History(ctx, limit)
}

// Wait blocks until runID finishes and returns the finished run.
func (s *SyncService) Wait(ctx context.Context, runID string) (*domain.SyncRun, error) {
	s.mu.Lock()
	st := s.active
	s.mu.Unlock()
	if st == nil || st.id() != runID {
		return s.Status(ctx, runID)
	}
	select {
	case <-st.done:
		return st.final, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// TestProviderConnection checks that the provider is reachable with the configured credentials.
func (s *SyncService) TestProviderConnection(ctx context.Context) (bool, error) {
	if err := s.provider.Ping(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// Schedule triggers incremental runs every interval until ctx is done.
// Ticks that find a run in progress are skipped.
func (s *SyncService) Schedule(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			runID, err := s.Trigger(domain.RunModeIncremental, domain.TriggerSchedule)
			if errors.Is(err, ErrSyncInProgress) {
				s.log(ctx).Debug("Scheduled sync skipped, run in progress")
				continue
			}
			if err != nil {
				s.log(ctx).WithError(err).Error("Scheduled sync failed to start")
				continue
			}
			s.log(ctx).WithField(logger.FieldRunID, runID).Info("Scheduled sync started")
		}
	}
}

// Close cancels background runs and waits for them to be recorded.
func (s *SyncService) Close() {
	s.stopAll()
	s.inFlight.Wait()
}

// pageResult carries one prefetched page to the reconciling loop.
type pageResult struct {
	page source.Page
	err  error
}

// kindPlan is the fetch plan for one entity kind.
type kindPlan struct {
	kind  domain.EntityKind
	opts  source.FetchOptions
	pages chan pageResult
	// chainStart is when the first page of this fetch chain was requested:
	// the run start, or the start stored with a resumed cursor. Zero if unknown.
	chainStart time.Time
}

func (s *SyncService) executeProvider(ctx context.Context, st *runState) *domain.SyncRun {
	mode := st.run.Mode
	s.log(ctx).WithFields(logger.Fields{
		"mode":    mode,
		"trigger": st.run.Trigger,
	}).Info("Starting sync run")

	plans := make([]*kindPlan, 0, len(domain.SyncOrder))
	for _, kind := range domain.SyncOrder {
		opts := source.FetchOptions{}
		cp, err := s.checkpoints.Get(ctx, kind)
		if err != nil {
			s.log(ctx).WithError(err).Warn("Failed to load checkpoint, starting from the beginning")
			cp = &domain.SyncCheckpoint{EntityKind: kind}
		}
		chainStart := st.run.StartedAt
		if cp.Cursor != "" && cp.Mode == mode {
			opts.StartCursor = cp.Cursor
			chainStart = time.Time{}
			if cp.CursorStartedAt != nil && cp.CursorStartedAt.Before(st.run.StartedAt) {
				chainStart = *cp.CursorStartedAt
			}
		}
		if mode == domain.RunModeIncremental && cp.Watermark != nil {
			since := *cp.Watermark
			opts.UpdatedSince = &since
		}
		plans = append(plans, &kindPlan{
			kind:       kind,
			opts:       opts,
			pages:      make(chan pageResult, s.cfg.PrefetchPages),
			chainStart: chainStart,
		})
	}

	prefetchCtx, stopPrefetch := context.WithCancel(ctx)
	var fetchers sync.WaitGroup
	for _, plan := range plans {
		fetchers.Add(1)
		go func() {
			defer fetchers.Done()
			s.prefetch(prefetchCtx, plan)
		}()
	}
	fatalKinds := 0
	for _, plan := range plans {
		if ctx.Err() != nil {
			break
		}
		if fatal := s.syncKind(ctx, st, plan); fatal {
			fatalKinds++
		}
	}
	stopPrefetch()
	fetchers.Wait()

	switch {
	case ctx.Err() != nil:
		return s.finish(ctx, st, domain.RunStatusFailed, reasonCancelled)
	case fatalKinds == len(plans):
		return s.finish(ctx, st, domain.RunStatusFailed, reasonAllFailed)
	case fatalKinds > 0 || s.hasFailures(st):
		return s.finish(ctx, st, domain.RunStatusPartiallySucceeded, "")
	}
	return s.finish(ctx, st, domain.RunStatusSucceeded, "")
}

// prefetch streams pages of one kind into its bounded buffer.
func (s *SyncService) prefetch(ctx context.Context, plan *kindPlan) {
	defer close(plan.pages)
	for page, err := range source.Pages(ctx, s.provider, plan.kind, plan.opts) {
		select {
		case plan.pages <- pageResult{page: page, err: err}:
		case <-ctx.Done():
			return
		}
	}
}

// syncKind reconciles every page of one kind and reports whether it failed fatally.
func (s *SyncService) syncKind(ctx context.Context, st *runState, plan *kindPlan) bool {
	kind := plan.kind
	ctx = logger.SetEntityKind(ctx, string(kind))
	start := s.now()
	// Writes for a page already taken finish even if the run is cancelled.
	writeCtx := context.WithoutCancel(ctx)

	st.update(kind, func(*domain.EntityCounts) {})
	failedBefore := st.snapshot().CountsFor(kind).Failed

	for res := range plan.pages {
		if ctx.Err() != nil {
			return false
		}
		if res.err != nil {
			if errors.Is(res.err, context.Canceled) && ctx.Err() != nil {
				return false
			}
			s.log(ctx).WithError(res.err).Error("Fetching entity kind failed")
			st.update(kind, func(c *domain.EntityCounts) {
				c.Fatal = true
				c.FatalError = res.err.Error()
			})
			st.addError(kind, res.page.Cursor, res.err.Error())
			if err := s.checkpoints.MarkFailed(writeCtx, kind, st.id(), res.err.Error()); err != nil {
				s.log(ctx).WithError(err).Warn("Failed to record checkpoint failure")
			}
			return true
		}

		s.reconcileRecords(writeCtx, st, kind, res.page.Records)

		if res.page.Last() {
			break
		}
		if err := s.checkpoints.SaveCursor(writeCtx, kind, st.id(), st.run.Mode, res.page.NextCursor, plan.chainStart); err != nil {
			s.log(ctx).WithError(err).Warn("Failed to save checkpoint cursor")
		}
	}
	if ctx.Err() != nil {
		return false
	}

	counts := st.snapshot().CountsFor(kind)
	if counts.Failed == failedBefore {
		// Pages before a resumed cursor were fetched when the chain started,
		// so the watermark may not pass that point.
		var watermark *time.Time
		if !plan.chainStart.IsZero() {
			watermark = &plan.chainStart
		}
		if err := s.checkpoints.MarkCompleted(writeCtx, kind, st.id(), watermark); err != nil {
			s.log(ctx).WithError(err).Warn("Failed to mark checkpoint completed")
		}
	} else if err := s.checkpoints.SaveCursor(writeCtx, kind, st.id(), st.run.Mode, "", time.Time{}); err != nil {
		s.log(ctx).WithError(err).Warn("Failed to clear checkpoint cursor")
	}

	logger.With(logger.Fields{
		logger.FieldCount:      counts.Fetched,
		logger.FieldDurationMs: s.now().Sub(start).Milliseconds(),
		"created":              counts.Created,
		"updated":              counts.Updated,
		"unchanged":            counts.Unchanged,
		"failed":               counts.Failed,
	}).Info(ctx, "Entity kind synced")
	return false
}

// reconcileRecords reconciles records sequentially and tallies outcomes.
func (s *SyncService) reconcileRecords(ctx context.Context, st *runState, kind domain.EntityKind, records []*domain.RawRecord) {
	st.update(kind, func(c *domain.EntityCounts) { c.Fetched += len(records) })
	for _, rec := range records {
		out, err := s.reconciler.Reconcile(ctx, rec)
		if err != nil {
			s.log(ctx).WithError(err).Error("Failed to reconcile record")
			out = Outcome{Kind: OutcomeRejected, Reason: fmt.Sprintf("storage error: %v", err)}
		}
		st.update(kind, func(c *domain.EntityCounts) {
			switch out.Kind {
			case OutcomeCreated:
				c.Created++
			case OutcomeUpdated:
				c.Updated++
			case OutcomeUnchanged:
				c.Unchanged++
			default:
				c.Failed++
			}
		})
		if out.Kind == OutcomeRejected {
			st.addError(kind, recordRef(rec), out.Reason)
		}
	}
}

func (s *SyncService) executeBulk(ctx context.Context, st *runState, batch source.Batch) *domain.SyncRun {
	kind := batch.Kind
	ctx = logger.SetEntityKind(ctx, string(kind))
	s.log(ctx).WithFields(logger.Fields{
		logger.FieldCount: len(batch.Records),
		"file":            batch.Name,
		"row_errors":      len(batch.RowErrors),
	}).Info("Starting bulk run")

	st.update(kind, func(c *domain.EntityCounts) {
		c.Fetched += len(batch.RowErrors)
		c.Failed += len(batch.RowErrors)
	})
	for _, re := range batch.RowErrors {
		ref := re.Ref
		if ref == "" {
			ref = fmt.Sprintf("row %d", re.Row)
		}
		st.addError(kind, ref, re.Error())
	}

	writeCtx := context.WithoutCancel(ctx)
	for start := 0; start < len(batch.Records); start += bulkPageSize {
		if ctx.Err() != nil {
			return s.finish(ctx, st, domain.RunStatusFailed, reasonCancelled)
		}
		end := min(start+bulkPageSize, len(batch.Records))
		s.reconcileRecords(writeCtx, st, kind, batch.Records[start:end])
	}
	if ctx.Err() != nil {
		return s.finish(ctx, st, domain.RunStatusFailed, reasonCancelled)
	}

	if s.hasFailures(st) {
		return s.finish(ctx, st, domain.RunStatusPartiallySucceeded, "")
	}
	return s.finish(ctx, st, domain.RunStatusSucceeded, "")
}

func (s *SyncService) hasFailures(st *runState) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	for _, c := range st.counts {
		if c.Failed > 0 || c.Fatal {
			return true
		}
	}
	return false
}

func recordRef(rec *domain.RawRecord) string {
	ref := rec.Ref()
	if rec.Row > 0 && ref != fmt.Sprintf("row %d", rec.Row) {
		return fmt.Sprintf("%s (row %d)", ref, rec.Row)
	}
	return ref
}
