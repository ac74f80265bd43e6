// Package pipeline orchestrates one content-creation operation from a picked
// asset to a committed record: validate, reserve quota, transform, upload and
// commit. Each operation runs in its own Session and ends in exactly one
// terminal state, at which point its temp files are removed.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/maauso/media-ingest/internal/content"
	"github.com/maauso/media-ingest/internal/janitor"
	"github.com/maauso/media-ingest/internal/media"
	"github.com/maauso/media-ingest/internal/quota"
	"github.com/maauso/media-ingest/internal/transform"
	"github.com/maauso/media-ingest/internal/upload"
)

// Validator checks an asset against the kinds a content type accepts.
type Validator interface {
	Validate(asset media.Asset, accepts ...media.Kind) media.Verdict
}

// QuotaGuard decides whether an owner may submit.
type QuotaGuard interface {
	Reserve(ctx context.Context, req quota.Request) (quota.Decision, error)
}

// Uploader transfers an asset to durable storage.
type Uploader interface {
	Upload(ctx context.Context, asset media.Asset, key string, onProgress upload.ProgressFunc) (upload.Result, error)
}

// Committer writes the content record.
type Committer interface {
	Commit(ctx context.Context, draft content.Draft, m *content.Media) (*content.Record, error)
}

// Observer receives one call per finished operation.
type Observer interface {
	ObserveOutcome(state, kind string, elapsed time.Duration)
}

var (
	_ Validator        = (*media.Validator)(nil)
	_ QuotaGuard       = (*quota.Guard)(nil)
	_ transform.Runner = (*transform.Transformer)(nil)
	_ Uploader         = (*upload.Executor)(nil)
	_ Committer        = (*content.Committer)(nil)
)

// Dependencies are the stages a Service drives.
type Dependencies struct {
	Repo        Repository
	Validator   Validator
	Guard       QuotaGuard
	Transformer transform.Runner
	Uploader    Uploader
	Committer   Committer
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithRemover sets how temp files are deleted.
func WithRemover(r janitor.Remover) Option {
	return func(s *Service) {
		s.remover = r
	}
}

// WithMaxConcurrent bounds how many operations run their stages at once.
func WithMaxConcurrent(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxConcurrent = n
		}
	}
}

// WithMaxRetries sets the number of transfer retries recorded on new tasks.
func WithMaxRetries(n int) Option {
	return func(s *Service) {
		if n >= 0 {
			s.maxRetries = n
		}
	}
}

// WithObserver sets the outcome observer.
func WithObserver(o Observer) Option {
	return func(s *Service) {
		s.observer = o
	}
}

// Service runs content-creation operations.
type Service struct {
	repo        Repository
	validator   Validator
	guard       QuotaGuard
	transformer transform.Runner
	uploader    Uploader
	committer   Committer

	remover       janitor.Remover
	observer      Observer
	logger        *slog.Logger
	maxConcurrent int
	maxRetries    int
	sem           *semaphore.Weighted

	mu       sync.Mutex
	sessions map[string]*Session
	forms    map[string]string
}

// NewService creates a Service.
func NewService(deps Dependencies, opts ...Option) *Service {
	s := &Service{
		repo:          deps.Repo,
		validator:     deps.Validator,
		guard:         deps.Guard,
		transformer:   deps.Transformer,
		uploader:      deps.Uploader,
		committer:     deps.Committer,
		logger:        slog.Default(),
		maxConcurrent: 4,
		maxRetries:    upload.DefaultRetryPolicy().MaxRetries,
		sessions:      make(map[string]*Session),
		forms:         make(map[string]string),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.repo == nil {
		s.repo = NewMemoryRepository()
	}
	s.sem = semaphore.NewWeighted(int64(s.maxConcurrent))
	return s
}

// Submit starts an operation in the background and returns its task.
// The operation outlives ctx; use Cancel to abandon it.
//
// Returns ErrInvalidSubmission when the owner or content type is missing and
// ErrFormBusy when the form already has an operation in flight. In both cases
// the submission's owned paths are removed.
func (s *Service) Submit(ctx context.Context, sub Submission) (*Task, error) {
	sess, err := s.open(ctx, sub)
	if err != nil {
		return nil, err
	}
	go s.run(sess)
	return sess.task.Clone(), nil
}

// Wait blocks until the task finishes or ctx is done.
func (s *Service) Wait(ctx context.Context, taskID string) (*Task, error) {
	if sess := s.active(taskID); sess != nil {
		select {
		case <-sess.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return s.repo.FindByID(ctx, taskID)
}

// GetTask returns a snapshot of the task.
func (s *Service) GetTask(ctx context.Context, taskID string) (*Task, error) {
	if sess := s.active(taskID); sess != nil {
		return sess.task.Clone(), nil
	}
	return s.repo.FindByID(ctx, taskID)
}

// Subscribe streams progress and the final outcome of a task. The channel is
// closed after the outcome. A finished task yields only its outcome.
func (s *Service) Subscribe(ctx context.Context, taskID string) (<-chan upload.Event, func(), error) {
	if sess := s.active(taskID); sess != nil {
		ch, stop := sess.stream.Subscribe()
		return ch, stop, nil
	}

	task, err := s.repo.FindByID(ctx, taskID)
	if err != nil {
		return nil, nil, err
	}
	stream := upload.NewStream()
	stream.Close(outcome(task))
	ch, stop := stream.Subscribe()
	return ch, stop, nil
}

// Cancel abandons a task. Cancellation is accepted until the transfer starts;
// after that it returns ErrTransferInFlight and the operation runs to the end.
func (s *Service) Cancel(ctx context.Context, taskID string) error {
	sess := s.active(taskID)
	if sess == nil {
		return s.finished(ctx, taskID)
	}
	if err := sess.abort(); err != nil {
		return err
	}
	s.logger.Info("task cancellation requested", slog.String("task_id", taskID))
	return nil
}

// SupplyReplacement resumes a task waiting for an external step with a new
// asset, which is validated from scratch. ownedPaths are removed when the
// operation ends, or immediately if the replacement is refused.
func (s *Service) SupplyReplacement(ctx context.Context, taskID string, asset media.Asset, ownedPaths []string) error {
	sess := s.active(taskID)
	if sess == nil {
		s.discard(ctx, ownedPaths)
		return s.finished(ctx, taskID)
	}

	if sess.task.GetState() != StateAwaitingExternalStep {
		s.discard(ctx, ownedPaths)
		return ErrNotAwaitingReplacement
	}
	select {
	case sess.replacement <- asset:
	default:
		s.discard(ctx, ownedPaths)
		return ErrNotAwaitingReplacement
	}
	for _, p := range ownedPaths {
		sess.janitor.Register(p)
	}

	s.logger.Info("replacement asset supplied",
		slog.String("task_id", taskID),
		slog.String("kind", string(asset.Kind)),
	)
	return nil
}

// Active returns the number of operations that have not finished.
func (s *Service) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Shutdown cancels every operation that can still be cancelled and waits for
// all of them to finish or for ctx to be done.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	sessions := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()

	for _, sess := range sessions {
		_ = sess.abort()
	}
	for _, sess := range sessions {
		select {
		case <-sess.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (s *Service) open(ctx context.Context, sub Submission) (*Session, error) {
	jan := janitor.New(s.remover, s.logger)
	for _, p := range sub.OwnedPaths {
		jan.Register(p)
	}

	if sub.Draft.OwnerID == "" {
		jan.Cleanup(ctx)
		return nil, fmt.Errorf("%w: owner is required", ErrInvalidSubmission)
	}
	if !sub.Draft.Type.IsValid() {
		jan.Cleanup(ctx)
		return nil, fmt.Errorf("%w: unknown content type %q", ErrInvalidSubmission, sub.Draft.Type)
	}

	task := NewTask(sub.FormID, sub.Draft.OwnerID, sub.Draft.Type)
	task.SetAsset(sub.Asset)
	task.SetMaxRetries(s.maxRetries)

	key := formKey(sub.Draft.OwnerID, sub.FormID)
	s.mu.Lock()
	if key != "" {
		if busy, ok := s.forms[key]; ok {
			s.mu.Unlock()
			jan.Cleanup(ctx)
			s.logger.Warn("form already has an operation in flight",
				slog.String("form_id", sub.FormID),
				slog.String("task_id", busy),
			)
			return nil, ErrFormBusy
		}
		s.forms[key] = task.ID
	}
	sess := newSession(ctx, task, sub, jan)
	s.sessions[task.ID] = sess
	s.mu.Unlock()

	if err := s.repo.Save(ctx, task); err != nil {
		s.release(sess)
		sess.cancel()
		jan.Cleanup(ctx)
		s.logger.Error("failed to save task",
			slog.String("task_id", task.ID),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("save task: %w", err)
	}

	s.logger.Info("task created",
		slog.String("task_id", task.ID),
		slog.String("owner_id", task.OwnerID),
		slog.String("type", string(task.ContentType)),
		slog.Bool("has_media", sub.Asset != nil),
	)
	return sess, nil
}

// run drives a session until it reaches a terminal state.
func (s *Service) run(sess *Session) {
	defer s.finish(sess)
	ctx := sess.ctx

	if err := s.sem.Acquire(ctx, 1); err != nil {
		s.cancelled(sess)
		return
	}
	defer s.sem.Release(1)

	asset := sess.asset
	for {
		if !s.validate(ctx, sess, asset) {
			return
		}
		if !s.reserve(ctx, sess) {
			return
		}
		if asset == nil {
			s.commit(ctx, sess, nil)
			return
		}

		res, ok := s.transform(ctx, sess, *asset)
		if !ok {
			return
		}
		if res.Outcome == transform.OutcomeRequiresExternalStep {
			replacement, ok := s.awaitReplacement(ctx, sess)
			if !ok {
				return
			}
			asset = &replacement
			continue
		}

		ul, ok := s.upload(ctx, sess, res.Asset)
		if !ok {
			return
		}
		s.commit(ctx, sess, &content.Media{
			StoragePath: ul.StoragePath,
			Ref:         ul.Ref,
			Kind:        res.Asset.Kind,
		})
		return
	}
}

func (s *Service) validate(ctx context.Context, sess *Session, asset *media.Asset) bool {
	if s.abandoned(ctx, sess) || !s.advance(sess, StateValidating) {
		return false
	}

	verdict := s.check(sess.draft.Type, asset)
	if !verdict.Accepted {
		s.terminate(sess, StateRejected, &Failure{
			Kind:   KindValidation,
			Reason: string(verdict.Reason),
			Detail: verdict.Detail,
		})
		return false
	}
	return s.advance(sess, StateValidated)
}

func (s *Service) check(t content.Type, asset *media.Asset) media.Verdict {
	kinds := t.AcceptedKinds()
	if asset == nil {
		if t.RequiresMedia() {
			return media.Reject(media.ReasonMediaRequired, "%s requires media", t)
		}
		return media.Accept()
	}
	if len(kinds) == 0 {
		return media.Reject(media.ReasonKindNotAllowed, "%s does not accept media", t)
	}
	return s.validator.Validate(*asset, kinds...)
}

func (s *Service) reserve(ctx context.Context, sess *Session) bool {
	if s.abandoned(ctx, sess) || !s.advance(sess, StateQuotaChecking) {
		return false
	}

	// A replacement asset does not consume a second slot.
	if sess.reserved {
		return s.advance(sess, StateReserved)
	}

	d, err := s.guard.Reserve(ctx, quota.Request{
		OwnerID:  sess.draft.OwnerID,
		Role:     sess.role,
		Type:     sess.draft.Type,
		Title:    sess.draft.Title,
		Author:   sess.draft.Author,
		Showcase: sess.draft.Showcase,
	})
	if s.abandoned(ctx, sess) {
		return false
	}
	if err != nil {
		s.terminate(sess, StateDenied, &Failure{
			Kind:   KindQuota,
			Reason: ReasonQuotaUnavailable,
			Detail: "submissions are temporarily unavailable, try again later",
			Err:    err,
		})
		return false
	}
	if !d.Allowed {
		s.terminate(sess, StateDenied, &Failure{
			Kind:   KindQuota,
			Reason: string(d.Reason),
			Detail: d.Detail,
		})
		return false
	}

	sess.reserved = true
	return s.advance(sess, StateReserved)
}

func (s *Service) transform(ctx context.Context, sess *Session, asset media.Asset) (transform.Result, bool) {
	if s.abandoned(ctx, sess) || !s.advance(sess, StateTransforming) {
		return transform.Result{}, false
	}

	job := transform.Start(ctx, s.transformer, asset, sess.janitor)
	sess.setJob(job)
	res, err := job.Wait()
	sess.setJob(nil)

	if s.abandoned(ctx, sess) {
		return transform.Result{}, false
	}
	if err != nil {
		s.terminate(sess, StateTransformFailedTerminal, &Failure{
			Kind:   KindTransform,
			Reason: ReasonTransformFailed,
			Detail: "the media could not be processed",
			Err:    err,
		})
		return transform.Result{}, false
	}

	switch res.Outcome {
	case transform.OutcomeRequiresExternalStep:
		if !s.advance(sess, StateAwaitingExternalStep) {
			return transform.Result{}, false
		}
	case transform.OutcomeFallbackToOriginal:
		s.logger.Warn("uploading original media",
			slog.String("task_id", sess.task.ID),
			slog.String("kind", string(asset.Kind)),
		)
		fallthrough
	default:
		sess.task.SetAsset(&res.Asset)
		if !s.advance(sess, StateTransformed) {
			return transform.Result{}, false
		}
	}
	return res, true
}

func (s *Service) awaitReplacement(ctx context.Context, sess *Session) (media.Asset, bool) {
	s.logger.Info("waiting for replacement asset", slog.String("task_id", sess.task.ID))

	select {
	case a := <-sess.replacement:
		sess.task.SetAsset(&a)
		return a, true
	case <-ctx.Done():
		s.cancelled(sess)
		return media.Asset{}, false
	}
}

func (s *Service) upload(ctx context.Context, sess *Session, asset media.Asset) (upload.Result, bool) {
	if !sess.enterFlight() {
		s.cancelled(sess)
		return upload.Result{}, false
	}
	if !s.advance(sess, StateUploading) {
		return upload.Result{}, false
	}

	key := DestinationKey(sess.draft.Type, sess.draft.OwnerID, sess.task.ID, asset.FileName())
	res, err := s.uploader.Upload(context.WithoutCancel(ctx), asset, key, func(p upload.Progress) {
		s.progress(sess, p)
	})
	if err != nil {
		s.terminate(sess, StateFailed, &Failure{
			Kind:   KindTransfer,
			Reason: ReasonTransferFailed,
			Err:    err,
		})
		return upload.Result{}, false
	}

	sess.task.SetUploadResult(res.StoragePath, res.Ref)
	if !s.advance(sess, StateSucceeded) {
		return upload.Result{}, false
	}
	return res, true
}

// progress is called from the uploader for every attempt start, chunk and
// retry pause. The task is RETRYING from the pause until the next attempt
// starts.
func (s *Service) progress(sess *Session, p upload.Progress) {
	sess.mu.Lock()
	defer sess.mu.Unlock()

	if p.Retrying {
		if sess.task.GetState() == StateUploading {
			s.advance(sess, StateRetrying)
		}
		sess.task.UpdateProgress(0)
		sess.stream.Publish(upload.Progress{Attempt: p.Attempt, Retrying: true})
		return
	}

	if p.Attempt != sess.attempt {
		if sess.attempt > 0 {
			if sess.task.GetState() != StateRetrying {
				s.advance(sess, StateRetrying)
			}
			s.advance(sess, StateUploading)
		}
		sess.attempt = p.Attempt
		sess.task.SetAttempt(p.Attempt)
	}
	sess.task.UpdateProgress(p.Fraction)
	sess.stream.Publish(p)
}

func (s *Service) commit(ctx context.Context, sess *Session, m *content.Media) {
	// Text-only content reaches here straight from RESERVED and can still be
	// cancelled until the write starts.
	if m == nil && !sess.enterFlight() {
		s.cancelled(sess)
		return
	}
	if !s.advance(sess, StateCommitting) {
		return
	}

	rec, err := s.committer.Commit(context.WithoutCancel(ctx), sess.draft, m)
	if err != nil {
		reason := ReasonCommitFailed
		if errors.Is(err, content.ErrMediaRequired) {
			reason = ReasonMediaRequired
		}
		s.terminate(sess, StateCommitFailed, &Failure{
			Kind:   KindCommit,
			Reason: reason,
			Err:    err,
		})
		return
	}

	sess.task.SetRecordID(rec.ID)
	s.advance(sess, StateCommitted)
}

// advance moves the task to state and persists it.
func (s *Service) advance(sess *Session, state State) bool {
	from := sess.task.GetState()
	if err := sess.task.TransitionTo(state); err != nil {
		s.logger.Error("invalid task transition",
			slog.String("task_id", sess.task.ID),
			slog.String("from", string(from)),
			slog.String("to", string(state)),
		)
		return false
	}
	s.save(sess)
	s.logger.Debug("task state changed",
		slog.String("task_id", sess.task.ID),
		slog.String("from", string(from)),
		slog.String("to", string(state)),
	)
	return true
}

// terminate ends the task with a failure.
func (s *Service) terminate(sess *Session, state State, f *Failure) {
	if err := sess.task.Fail(state, f); err != nil {
		s.logger.Error("invalid terminal transition",
			slog.String("task_id", sess.task.ID),
			slog.String("to", string(state)),
		)
		return
	}
	s.save(sess)

	attrs := []any{
		slog.String("task_id", sess.task.ID),
		slog.String("state", string(state)),
		slog.String("reason", f.Reason),
	}
	if f.Err != nil {
		attrs = append(attrs, slog.String("error", f.Err.Error()))
	}
	s.logger.Warn("task ended without a record", attrs...)
}

func (s *Service) cancelled(sess *Session) {
	s.terminate(sess, StateCancelled, &Failure{
		Kind:   KindCancelled,
		Reason: ReasonCancelled,
	})
}

// abandoned reports whether the session was cancelled, moving the task to
// CANCELLED if so.
func (s *Service) abandoned(ctx context.Context, sess *Session) bool {
	if ctx.Err() == nil {
		return false
	}
	s.cancelled(sess)
	return true
}

func (s *Service) save(sess *Session) {
	if err := s.repo.Save(context.WithoutCancel(sess.ctx), sess.task); err != nil {
		s.logger.Error("failed to save task",
			slog.String("task_id", sess.task.ID),
			slog.String("error", err.Error()),
		)
	}
}

// finish runs once per session after its last stage.
func (s *Service) finish(sess *Session) {
	removed := sess.janitor.Cleanup(sess.ctx)

	task := sess.task.Clone()
	if !task.State.IsTerminal() {
		s.logger.Error("task stopped in a non-terminal state",
			slog.String("task_id", task.ID),
			slog.String("state", string(task.State)),
		)
	}

	s.save(sess)
	sess.stream.Close(outcome(task))
	s.release(sess)
	sess.cancel()
	close(sess.done)

	elapsed := time.Since(sess.started)
	if s.observer != nil {
		kind := ""
		if task.Failure != nil {
			kind = string(task.Failure.Kind)
		}
		s.observer.ObserveOutcome(string(task.State), kind, elapsed)
	}

	s.logger.Info("task finished",
		slog.String("task_id", task.ID),
		slog.String("state", string(task.State)),
		slog.String("record_id", task.RecordID),
		slog.Int("temp_files_removed", removed),
		slog.Duration("elapsed", elapsed),
	)
}

func (s *Service) release(sess *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sess.task.ID)
	if key := formKey(sess.draft.OwnerID, sess.task.FormID); key != "" && s.forms[key] == sess.task.ID {
		delete(s.forms, key)
	}
}

func (s *Service) active(taskID string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions[taskID]
}

// finished maps a task without a live session to the right error.
func (s *Service) finished(ctx context.Context, taskID string) error {
	if _, err := s.repo.FindByID(ctx, taskID); err != nil {
		return err
	}
	return ErrAlreadyFinished
}

func (s *Service) discard(ctx context.Context, paths []string) {
	if len(paths) == 0 {
		return
	}
	jan := janitor.New(s.remover, s.logger)
	for _, p := range paths {
		jan.Register(p)
	}
	jan.Cleanup(ctx)
}
