// Package upload coordinates files from admission to a committed metadata
// row. It owns the per-file state machine, batch bookkeeping, parallelism,
// retries and the events callers subscribe to.
package upload

import (
	"context"
	"errors"
	"sync"
	"time"

	"foldly/upload-api/pkg/validators"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

const (
	DefaultParallelism = 3
	DefaultMaxRetries  = 3
	defaultRetention   = time.Hour
	cleanupInterval    = 5 * time.Minute
)

// DefaultBackoff is the wait before each automatic retry. Retries past the
// end of the schedule reuse its last entry.
var DefaultBackoff = []time.Duration{
	1 * time.Second,
	2 * time.Second,
	4 * time.Second,
	8 * time.Second,
	10 * time.Second,
}

type Config struct {
	Parallelism  int
	MaxRetries   int
	Backoff      []time.Duration
	MaxFileSize  int64
	AllowedTypes []string
	Retention    time.Duration // How long finished batches stay queryable
}

type entry struct {
	file     File
	batch    *batch
	handle   *Handle
	source   Source
	uctx     Context
	opts     Options
	ctx      context.Context
	cancel   context.CancelFunc
	released bool
}

type batch struct {
	id          string
	userID      string
	files       []*entry
	sem         *semaphore.Weighted
	createdAt   time.Time
	completedAt *time.Time
	last        BatchProgressEvent
	changed     chan struct{}
}

type event struct {
	progress *ProgressEvent
	state    *StateChangeEvent
	batch    *BatchProgressEvent
}

// Manager is the long lived upload orchestrator. Construct one at startup
// and share it.
type Manager struct {
	mu           sync.Mutex
	files        map[string]*entry
	batches      map[string]*batch
	listeners    map[int]Listener
	nextListener int
	queue        []event
	archived     Statistics

	emitMu sync.Mutex

	processor Processor
	quota     validators.QuotaChecker
	cfg       Config
	sleep     func(ctx context.Context, d time.Duration) error
	now       func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewManager(p Processor, q validators.QuotaChecker, cfg Config) *Manager {
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = DefaultParallelism
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if len(cfg.Backoff) == 0 {
		cfg.Backoff = DefaultBackoff
	}
	if cfg.Retention <= 0 {
		cfg.Retention = defaultRetention
	}

	ctx, cancel := context.WithCancel(context.Background())

	m := &Manager{
		files:     map[string]*entry{},
		batches:   map[string]*batch{},
		listeners: map[int]Listener{},
		processor: p,
		quota:     q,
		cfg:       cfg,
		sleep:     sleepCtx,
		now:       time.Now,
		ctx:       ctx,
		cancel:    cancel,
	}

	m.wg.Add(1)
	go m.cleanup(cleanupInterval)

	return m
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Upload admits a single file and returns its id. A file that fails
// validation is already failed when Upload returns.
func (m *Manager) Upload(ctx context.Context, in Input, uctx Context, opts Options) (string, error) {
	b, err := m.admit(ctx, []Input{in}, uctx, opts)
	if err != nil {
		return "", err
	}

	return b.files[0].file.ID, nil
}

// UploadBatch admits files as one batch and returns the batch id. Files keep
// their order for the first parallel slots.
func (m *Manager) UploadBatch(ctx context.Context, in []Input, uctx Context, opts Options) (string, error) {
	b, err := m.admit(ctx, in, uctx, opts)
	if err != nil {
		return "", err
	}

	return b.id, nil
}

func (m *Manager) admit(ctx context.Context, in []Input, uctx Context, opts Options) (*batch, error) {
	if len(in) == 0 {
		return nil, ErrNoFiles
	}

	if err := uctx.Validate(); err != nil {
		return nil, err
	}

	if m.ctx.Err() != nil {
		return nil, ErrShutdown
	}

	b := &batch{
		id:        uuid.NewString(),
		userID:    uctx.Owner(),
		sem:       semaphore.NewWeighted(int64(m.cfg.Parallelism)),
		createdAt: m.now(),
		changed:   make(chan struct{}),
	}

	for _, i := range in {
		b.files = append(b.files, m.newEntry(b, i, uctx, opts))
	}

	m.mu.Lock()
	m.batches[b.id] = b
	for _, e := range b.files {
		m.files[e.file.ID] = e
	}
	m.mu.Unlock()

	zap.L().Debug("Batch admitted", zap.String("batch_id", b.id), zap.Int("files", len(b.files)), zap.String("kind", string(uctx.Kind)))

	for _, e := range b.files {
		m.validate(ctx, e)
	}

	m.wg.Add(1)
	go m.dispatch(b)

	return b, nil
}

func (m *Manager) newEntry(b *batch, in Input, uctx Context, opts Options) *entry {
	ctx, cancel := context.WithCancel(m.ctx)

	f := File{
		ID:            uuid.NewString(),
		BatchID:       b.id,
		Name:          in.Name,
		SanitizedName: validators.SanitizeFileName(in.Name),
		Size:          in.Size,
		MimeType:      in.MimeType,
		Category:      validators.Category(in.MimeType, in.Name),
		Status:        StatusPending,
	}

	e := &entry{
		file:   f,
		batch:  b,
		source: in.Source,
		uctx:   uctx,
		opts:   opts,
		ctx:    ctx,
		cancel: cancel,
	}

	e.handle = &Handle{
		FileID:        f.ID,
		BatchID:       b.id,
		Name:          f.Name,
		SanitizedName: f.SanitizedName,
		Size:          f.Size,
		MimeType:      f.MimeType,
		Category:      f.Category,
		Context:       uctx,
		Source:        in.Source,
		OnProgress:    func(n int64) { m.onProgress(e, n) },
		OnProcessing:  func() { m.onProcessing(e) },
	}

	return e
}

// validate runs the file checks and the processor pre-conditions. A file
// that doesn't pass goes straight to failed.
func (m *Manager) validate(ctx context.Context, e *entry) bool {
	maxSize := m.cfg.MaxFileSize
	if e.opts.MaxFileSize > 0 && (maxSize <= 0 || e.opts.MaxFileSize < maxSize) {
		maxSize = e.opts.MaxFileSize
	}

	allowed := e.opts.AllowedTypes
	if len(allowed) == 0 {
		allowed = m.cfg.AllowedTypes
	}

	res := validators.ValidateFile(ctx, validators.FileDescriptor{
		Name:     e.file.Name,
		Size:     e.file.Size,
		MimeType: e.file.MimeType,
		Head:     readHead(e.source),
	}, validators.Options{
		MaxFileSize:  maxSize,
		AllowedTypes: allowed,
		CheckQuota:   e.uctx.Kind == KindWorkspace,
		UserID:       e.uctx.Owner(),
	}, m.quota)

	m.mu.Lock()
	e.file.Errors = res.Errors
	e.file.Warnings = res.Warnings
	m.mu.Unlock()

	var err error
	switch {
	case res.Valid:
		err = m.processor.Prepare(ctx, e.handle)
	case len(res.Errors) == 1 && res.HasError(validators.CodeQuotaExceeded):
		err = &QuotaExceededError{Used: res.Quota.Used, Limit: res.Quota.Limit, Requested: e.file.Size}
	default:
		err = &ValidationError{Issues: res.Errors}
	}

	if err == nil {
		return true
	}

	m.mu.Lock()
	ok := m.transition(e, StatusFailed, fileError(err))
	m.mu.Unlock()
	m.flush()

	if ok {
		zap.L().Info("Upload rejected", zap.String("file_id", e.file.ID), zap.String("batch_id", e.batch.id), zap.String("code", CodeOf(err)))
	}

	return false
}

func (m *Manager) dispatch(b *batch) {
	defer m.wg.Done()

	for _, e := range b.files {
		if m.status(e) != StatusPending {
			continue
		}

		if err := b.sem.Acquire(e.ctx, 1); err != nil {
			continue
		}

		e := e
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			m.run(e)
		}()
	}
}

func (m *Manager) status(e *entry) Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return e.file.Status
}

// run performs one attempt. The caller holds a batch slot, run gives it back.
func (m *Manager) run(e *entry) {
	defer e.batch.sem.Release(1)

	m.mu.Lock()
	if e.file.Status != StatusPending {
		m.mu.Unlock()
		return
	}
	m.transition(e, StatusUploading, nil)
	started := m.now()
	e.file.StartedAt = &started
	m.mu.Unlock()
	m.flush()

	zap.L().Debug("Upload started",
		zap.String("file_id", e.file.ID),
		zap.String("batch_id", e.batch.id),
		zap.Int("attempt", e.file.RetryCount+1),
	)

	res, err := m.processor.Process(e.ctx, e.handle)
	m.finish(e, res, err)
}

func (m *Manager) finish(e *entry, res *Result, err error) {
	if err == nil && res == nil {
		res = &Result{}
	}

	m.mu.Lock()

	if e.file.Status == StatusCancelled {
		m.mu.Unlock()
		if err == nil {
			zap.L().Warn("Upload committed after it was cancelled", zap.String("file_id", e.file.ID), zap.String("path", res.StoragePath))
		}
		m.release(e)
		return
	}

	if err == nil {
		if e.file.Status == StatusUploading {
			m.transition(e, StatusProcessing, nil)
		}

		e.file.StoragePath = res.StoragePath
		e.file.URL = res.URL
		e.file.RecordID = res.RecordID
		e.file.UploadedBytes = e.file.Size
		e.file.Progress = 100
		done := m.now()
		e.file.CompletedAt = &done
		m.transition(e, StatusCompleted, nil)
		m.mu.Unlock()
		m.flush()
		m.release(e)

		zap.L().Info("Upload completed", zap.String("file_id", e.file.ID), zap.String("batch_id", e.batch.id), zap.String("path", res.StoragePath))
		return
	}

	if m.ctx.Err() != nil {
		err = ErrShutdown
	}

	fe := fileError(err)

	if retryable(err) && e.file.RetryCount < m.cfg.MaxRetries {
		m.setStatus(e, StatusFailed, fe)
		m.resetForRetry(e)
		delay := m.backoff(e.file.RetryCount)
		attempt := e.file.RetryCount
		m.mu.Unlock()
		m.flush()

		zap.L().Warn("Upload retry scheduled",
			zap.String("file_id", e.file.ID),
			zap.Int("retry", attempt),
			zap.Duration("delay", delay),
			zap.Error(err),
		)

		m.wg.Add(1)
		go m.retryAfter(e, delay, true)
		return
	}

	m.transition(e, StatusFailed, fe)
	exhausted := e.file.RetryCount >= m.cfg.MaxRetries
	m.mu.Unlock()
	m.flush()

	if exhausted {
		m.release(e)
	}

	var mce *MetadataCommitError
	if errors.As(err, &mce) {
		zap.L().Error("Upload stored without metadata, object needs reconciliation",
			zap.String("file_id", e.file.ID),
			zap.String("bucket", mce.Bucket),
			zap.String("path", mce.Path),
			zap.Error(err),
		)
		return
	}

	zap.L().Error("Upload failed", zap.String("file_id", e.file.ID), zap.String("batch_id", e.batch.id), zap.Error(err))
}

// resetForRetry moves a failed file back to pending. Must hold m.mu.
func (m *Manager) resetForRetry(e *entry) {
	m.transition(e, StatusPending, nil)
	e.file.RetryCount++
	e.file.Progress = 0
	e.file.UploadedBytes = 0
	e.file.StartedAt = nil
	m.archived.RetryCount++
}

func (m *Manager) backoff(retry int) time.Duration {
	i := min(max(retry-1, 0), len(m.cfg.Backoff)-1)
	return m.cfg.Backoff[i]
}

// retryAfter starts the next attempt once delay has passed. With prepare set
// the handle gets a fresh destination first, since the previous attempt may
// have left an object behind that the backend refuses to overwrite. Manual
// retries have already been through validate.
func (m *Manager) retryAfter(e *entry, delay time.Duration, prepare bool) {
	defer m.wg.Done()

	if err := m.sleep(e.ctx, delay); err != nil {
		return
	}

	if prepare {
		if err := m.processor.Prepare(e.ctx, e.handle); err != nil {
			m.finish(e, nil, err)
			return
		}
	}

	if err := e.batch.sem.Acquire(e.ctx, 1); err != nil {
		return
	}

	m.run(e)
}

func (m *Manager) onProgress(e *entry, n int64) {
	m.mu.Lock()
	if e.file.Status != StatusUploading || n <= e.file.UploadedBytes {
		m.mu.Unlock()
		return
	}

	n = min(n, e.file.Size)
	e.file.UploadedBytes = n
	e.file.Progress = percent(n, e.file.Size)

	m.queue = append(m.queue, event{progress: &ProgressEvent{
		FileID:        e.file.ID,
		BatchID:       e.batch.id,
		Progress:      e.file.Progress,
		UploadedBytes: n,
		TotalBytes:    e.file.Size,
	}})
	m.mu.Unlock()
	m.flush()
}

func (m *Manager) onProcessing(e *entry) {
	m.mu.Lock()
	if e.file.Status == StatusUploading {
		m.transition(e, StatusProcessing, nil)
	}
	m.mu.Unlock()
	m.flush()
}

// transition moves e to status to and queues the events. Must hold m.mu.
func (m *Manager) transition(e *entry, to Status, fe *FileError) bool {
	if !m.setStatus(e, to, fe) {
		return false
	}

	m.batchChanged(e.batch)
	return true
}

// setStatus is transition without the batch bookkeeping, for a status the
// batch must never observe. Must hold m.mu.
func (m *Manager) setStatus(e *entry, to Status, fe *FileError) bool {
	from := e.file.Status
	if !CanTransition(from, to) {
		zap.L().Error("Illegal upload status transition",
			zap.String("file_id", e.file.ID),
			zap.String("from", string(from)),
			zap.String("to", string(to)),
		)
		return false
	}

	e.file.Status = to
	if to == StatusFailed {
		e.file.Error = fe
	} else {
		e.file.Error = nil
	}

	m.queue = append(m.queue, event{state: &StateChangeEvent{
		FileID:         e.file.ID,
		BatchID:        e.batch.id,
		PreviousStatus: from,
		NewStatus:      to,
		Error:          fe,
	}})

	return true
}

// batchChanged wakes waiters and queues a batch event when counts moved.
// Must hold m.mu.
func (m *Manager) batchChanged(b *batch) {
	p := m.batchProgress(b)

	if p.Status.Terminal() {
		if b.completedAt == nil {
			done := m.now()
			b.completedAt = &done
		}
	} else {
		b.completedAt = nil
	}

	ev := BatchProgressEvent{
		BatchID:        b.id,
		Status:         p.Status,
		CompletedFiles: p.CompletedFiles,
		FailedFiles:    p.FailedFiles,
		TotalFiles:     p.TotalFiles,
	}
	if ev != b.last {
		b.last = ev
		m.queue = append(m.queue, event{batch: &ev})
	}

	close(b.changed)
	b.changed = make(chan struct{})
}

// Must hold m.mu.
func (m *Manager) batchProgress(b *batch) BatchProgress {
	p := BatchProgress{
		BatchID:     b.id,
		UserID:      b.userID,
		TotalFiles:  len(b.files),
		CreatedAt:   b.createdAt,
		CompletedAt: b.completedAt,
	}

	statuses := make([]Status, 0, len(b.files))
	for _, e := range b.files {
		statuses = append(statuses, e.file.Status)
		p.TotalBytes += e.file.Size
		p.UploadedBytes += e.file.UploadedBytes

		switch e.file.Status {
		case StatusCompleted:
			p.CompletedFiles++
		case StatusFailed:
			p.FailedFiles++
		case StatusCancelled:
			p.CancelledFiles++
		}
	}

	p.Status = batchStatus(statuses)
	p.Progress = percent(p.UploadedBytes, p.TotalBytes)
	if p.TotalBytes == 0 && p.Status.Terminal() {
		p.Progress = 100
	}

	return p
}

func percent(n, total int64) float64 {
	if total <= 0 {
		return 0
	}

	return float64(n) / float64(total) * 100
}

// Cancel stops a file, or every unfinished file of a batch when id is a
// batch id. Cancelled files don't count as failures.
func (m *Manager) Cancel(id string) error {
	m.mu.Lock()

	var targets []*entry
	if e, ok := m.files[id]; ok {
		if e.file.Status.Terminal() {
			m.mu.Unlock()
			return ErrNotCancellable
		}
		targets = append(targets, e)
	} else if b, ok := m.batches[id]; ok {
		for _, e := range b.files {
			if !e.file.Status.Terminal() {
				targets = append(targets, e)
			}
		}
		if len(targets) == 0 {
			m.mu.Unlock()
			return ErrNotCancellable
		}
	} else {
		m.mu.Unlock()
		return ErrNotFound
	}

	for _, e := range targets {
		m.transition(e, StatusCancelled, nil)
		e.cancel()
	}
	m.mu.Unlock()
	m.flush()

	for _, e := range targets {
		m.release(e)
		zap.L().Info("Upload cancelled", zap.String("file_id", e.file.ID), zap.String("batch_id", e.batch.id))
	}

	return nil
}

// Retry puts a failed file back into the pipeline, validation included.
func (m *Manager) Retry(ctx context.Context, id string) error {
	m.mu.Lock()

	e, ok := m.files[id]
	switch {
	case !ok:
		m.mu.Unlock()
		return ErrNotFound
	case e.file.Status != StatusFailed:
		m.mu.Unlock()
		return ErrNotRetryable
	case e.file.RetryCount >= m.cfg.MaxRetries || e.released:
		m.mu.Unlock()
		return ErrRetryLimitReached
	case m.ctx.Err() != nil:
		m.mu.Unlock()
		return ErrShutdown
	}

	m.resetForRetry(e)
	e.file.Errors = nil
	e.file.Warnings = nil
	m.mu.Unlock()
	m.flush()

	zap.L().Info("Upload retry requested", zap.String("file_id", id), zap.Int("retry", e.file.RetryCount))

	if !m.validate(ctx, e) {
		return nil
	}

	m.wg.Add(1)
	go m.retryAfter(e, 0, false)

	return nil
}

func (m *Manager) release(e *entry) {
	m.mu.Lock()
	if e.released {
		m.mu.Unlock()
		return
	}
	e.released = true
	m.mu.Unlock()

	if r, ok := e.source.(Releaser); ok {
		if err := r.Release(); err != nil {
			zap.L().Warn("Failed to release upload source", zap.String("file_id", e.file.ID), zap.Error(err))
		}
	}
}

func (m *Manager) GetProgress(id string) (*File, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.files[id]
	if !ok {
		return nil, ErrNotFound
	}

	f := e.file
	return &f, nil
}

func (m *Manager) GetBatchProgress(id string) (*BatchProgress, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.batches[id]
	if !ok {
		return nil, ErrNotFound
	}

	p := m.batchProgress(b)
	return &p, nil
}

// GetBatchFiles returns the files of a batch in admission order.
func (m *Manager) GetBatchFiles(id string) ([]File, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.batches[id]
	if !ok {
		return nil, ErrNotFound
	}

	files := make([]File, 0, len(b.files))
	for _, e := range b.files {
		files = append(files, e.file)
	}

	return files, nil
}

func (m *Manager) GetStatistics() Statistics {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.archived
	for _, e := range m.files {
		s.TotalUploads++
		addStatus(&s, &e.file)
	}

	return s
}

func addStatus(s *Statistics, f *File) {
	switch {
	case f.Status == StatusCompleted:
		s.SuccessCount++
		s.BytesUploaded += f.Size
	case f.Status == StatusFailed:
		s.FailureCount++
	case f.Status == StatusCancelled:
		s.CancelledCount++
	case f.Status.Active():
		s.ActiveUploads++
	case f.Status == StatusPending:
		s.PendingUploads++
	}
}

// Subscribe registers l for every future event. Call the returned function
// to stop receiving them.
func (m *Manager) Subscribe(l Listener) func() {
	m.mu.Lock()
	id := m.nextListener
	m.nextListener++
	m.listeners[id] = l
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.listeners, id)
		m.mu.Unlock()
	}
}

// Wait blocks until every file of the batch is terminal.
func (m *Manager) Wait(ctx context.Context, batchID string) (*BatchProgress, error) {
	for {
		m.mu.Lock()
		b, ok := m.batches[batchID]
		if !ok {
			m.mu.Unlock()
			return nil, ErrNotFound
		}

		p := m.batchProgress(b)
		ch := b.changed
		m.mu.Unlock()

		if p.Status.Terminal() {
			return &p, nil
		}

		select {
		case <-ch:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// flush delivers queued events in order. Whoever holds emitMu drains the
// queue, so a reentrant call from a listener only queues.
func (m *Manager) flush() {
	for {
		if !m.emitMu.TryLock() {
			return
		}

		m.mu.Lock()
		events := m.queue
		m.queue = nil
		listeners := make([]Listener, 0, len(m.listeners))
		for _, l := range m.listeners {
			listeners = append(listeners, l)
		}
		m.mu.Unlock()

		for _, ev := range events {
			for _, l := range listeners {
				deliver(l, ev)
			}
		}
		m.emitMu.Unlock()

		m.mu.Lock()
		empty := len(m.queue) == 0
		m.mu.Unlock()
		if empty {
			return
		}
	}
}

func deliver(l Listener, ev event) {
	defer func() {
		if r := recover(); r != nil {
			zap.L().Error("Upload listener panicked", zap.Any("panic", r))
		}
	}()

	switch {
	case ev.progress != nil && l.OnProgress != nil:
		l.OnProgress(*ev.progress)
	case ev.state != nil && l.OnStateChange != nil:
		l.OnStateChange(*ev.state)
	case ev.batch != nil && l.OnBatchProgress != nil:
		l.OnBatchProgress(*ev.batch)
	}
}

// cleanup drops finished batches once they are older than the retention.
func (m *Manager) cleanup(interval time.Duration) {
	defer m.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := m.evict(m.now().Add(-m.cfg.Retention)); n > 0 {
				zap.L().Debug("Evicted finished batches", zap.Int("count", n))
			}
		case <-m.ctx.Done():
			return
		}
	}
}

func (m *Manager) evict(before time.Time) int {
	var evicted []*batch

	m.mu.Lock()
	for id, b := range m.batches {
		if b.completedAt == nil || b.completedAt.After(before) {
			continue
		}

		for _, e := range b.files {
			m.archived.TotalUploads++
			addStatus(&m.archived, &e.file)
			delete(m.files, e.file.ID)
			e.cancel()
		}
		delete(m.batches, id)
		evicted = append(evicted, b)
	}
	m.mu.Unlock()

	for _, b := range evicted {
		for _, e := range b.files {
			m.release(e)
		}
	}

	return len(evicted)
}

// Shutdown cancels every unfinished upload and waits for the workers.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.cancel()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func fileError(err error) *FileError {
	code := CodeOf(err)
	return &FileError{Code: code, Message: MessageFor(code), Detail: err.Error()}
}
