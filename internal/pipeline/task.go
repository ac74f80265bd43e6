package pipeline

import (
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/maauso/media-ingest/internal/content"
	"github.com/maauso/media-ingest/internal/media"
	"github.com/maauso/media-ingest/internal/pipeline/id"
)

// State is the current state of an upload task.
type State string

const (
	StateCreated                 State = "CREATED"
	StateValidating              State = "VALIDATING"
	StateRejected                State = "REJECTED"
	StateValidated               State = "VALIDATED"
	StateQuotaChecking           State = "QUOTA_CHECKING"
	StateDenied                  State = "DENIED"
	StateReserved                State = "RESERVED"
	StateTransforming            State = "TRANSFORMING"
	StateTransformFailedTerminal State = "TRANSFORM_FAILED_TERMINAL"
	StateAwaitingExternalStep    State = "AWAITING_EXTERNAL_STEP"
	StateTransformed             State = "TRANSFORMED"
	StateUploading               State = "UPLOADING"
	StateRetrying                State = "RETRYING"
	StateSucceeded               State = "SUCCEEDED"
	StateFailed                  State = "FAILED"
	StateCommitting              State = "COMMITTING"
	StateCommitted               State = "COMMITTED"
	StateCommitFailed            State = "COMMIT_FAILED"
	// StateCancelled means the operation was abandoned before a transfer started.
	StateCancelled State = "CANCELLED"
)

// ErrInvalidTransition is returned when an invalid state transition is attempted.
var ErrInvalidTransition = errors.New("pipeline: invalid state transition")

// validTransitions defines which state transitions are allowed.
// Cancellation is only reachable before UPLOADING.
var validTransitions = map[State][]State{
	StateCreated:                 {StateValidating, StateCancelled},
	StateValidating:              {StateRejected, StateValidated, StateCancelled},
	StateValidated:               {StateQuotaChecking, StateCancelled},
	StateQuotaChecking:           {StateDenied, StateReserved, StateCancelled},
	StateReserved:                {StateTransforming, StateCommitting, StateCancelled},
	StateTransforming:            {StateTransformFailedTerminal, StateAwaitingExternalStep, StateTransformed, StateCancelled},
	StateAwaitingExternalStep:    {StateValidating, StateCancelled},
	StateTransformed:             {StateUploading, StateCancelled},
	StateUploading:               {StateRetrying, StateSucceeded, StateFailed},
	StateRetrying:                {StateUploading, StateFailed},
	StateSucceeded:               {StateCommitting},
	StateCommitting:              {StateCommitted, StateCommitFailed},
	StateRejected:                {},
	StateDenied:                  {},
	StateTransformFailedTerminal: {},
	StateFailed:                  {},
	StateCommitted:               {},
	StateCommitFailed:            {},
	StateCancelled:               {},
}

// canTransition checks if a transition from one state to another is valid.
func canTransition(from, to State) bool {
	return slices.Contains(validTransitions[from], to)
}

// IsTerminal returns true if no transition leaves the state.
func (s State) IsTerminal() bool {
	next, ok := validTransitions[s]
	return ok && len(next) == 0
}

// Task is the UploadTask aggregate: the state of one content-creation
// operation. It is owned by a single session and never shared.
type Task struct {
	mu sync.RWMutex

	// ID is the unique identifier for this task.
	ID string
	// FormID identifies the creation form the submission came from.
	FormID string
	// OwnerID is the submitting user.
	OwnerID string
	// ContentType is the type of record being created.
	ContentType content.Type
	// State is the current state.
	State State
	// Asset is the asset currently moving through the pipeline, if any.
	Asset *media.Asset
	// Attempt is the current 1-based transfer attempt, zero before upload.
	Attempt int
	// MaxRetries is the number of transfer retries allowed after the first attempt.
	MaxRetries int
	// Progress is the fraction of the current attempt transferred, in [0,1].
	Progress float64
	// StoragePath is the object store path after a successful upload.
	StoragePath string
	// ResultRef is the retrievable reference of the uploaded media.
	ResultRef string
	// RecordID is the id of the committed content record.
	RecordID string
	// Failure describes why the task ended unsuccessfully.
	Failure *Failure
	// CreatedAt is when the task was created.
	CreatedAt time.Time
	// UpdatedAt is when the task was last updated.
	UpdatedAt time.Time
	// CompletedAt is when the task reached a terminal state.
	CompletedAt time.Time
}

// NewTask creates a task in the CREATED state with a generated ID.
func NewTask(formID, ownerID string, t content.Type) *Task {
	return NewTaskWithID(id.Generate(), formID, ownerID, t)
}

// NewTaskWithID creates a task in the CREATED state with the given ID.
func NewTaskWithID(taskID, formID, ownerID string, t content.Type) *Task {
	now := time.Now()
	return &Task{
		ID:          taskID,
		FormID:      formID,
		OwnerID:     ownerID,
		ContentType: t,
		State:       StateCreated,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// TransitionTo attempts to change the task state.
// Returns ErrInvalidTransition if the transition is not allowed.
func (t *Task) TransitionTo(state State) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !canTransition(t.State, state) {
		return ErrInvalidTransition
	}

	t.State = state
	t.UpdatedAt = time.Now()

	switch {
	case state == StateUploading:
		t.Progress = 0
	case state.IsTerminal():
		t.CompletedAt = t.UpdatedAt
	}

	return nil
}

// Fail records f and moves the task to the terminal state.
func (t *Task) Fail(state State, f *Failure) error {
	if !state.IsTerminal() {
		return ErrInvalidTransition
	}
	t.mu.Lock()
	t.Failure = f
	t.mu.Unlock()
	return t.TransitionTo(state)
}

// GetState returns the current state (thread-safe).
func (t *Task) GetState() State {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.State
}

// IsTerminal returns true if the task is in a terminal state.
func (t *Task) IsTerminal() bool {
	return t.GetState().IsTerminal()
}

// SetAsset replaces the current asset.
func (t *Task) SetAsset(a *media.Asset) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if a == nil {
		t.Asset = nil
	} else {
		cp := *a
		t.Asset = &cp
	}
	t.UpdatedAt = time.Now()
}

// SetMaxRetries records how many times the transfer may be retried.
func (t *Task) SetMaxRetries(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.MaxRetries = n
}

// SetAttempt starts a new transfer attempt and resets progress.
func (t *Task) SetAttempt(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Attempt = n
	t.Progress = 0
	t.UpdatedAt = time.Now()
}

// UpdateProgress sets the transfer fraction, clamped to [0,1].
func (t *Task) UpdateProgress(f float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Progress = min(max(f, 0), 1)
	t.UpdatedAt = time.Now()
}

// SetUploadResult records where the media was stored.
func (t *Task) SetUploadResult(storagePath, ref string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.StoragePath = storagePath
	t.ResultRef = ref
	t.UpdatedAt = time.Now()
}

// SetRecordID records the committed record.
func (t *Task) SetRecordID(recordID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.RecordID = recordID
	t.UpdatedAt = time.Now()
}

// Clone creates a deep copy of the task for safe reads.
func (t *Task) Clone() *Task {
	t.mu.RLock()
	defer t.mu.RUnlock()

	c := &Task{
		ID:          t.ID,
		FormID:      t.FormID,
		OwnerID:     t.OwnerID,
		ContentType: t.ContentType,
		State:       t.State,
		Attempt:     t.Attempt,
		MaxRetries:  t.MaxRetries,
		Progress:    t.Progress,
		StoragePath: t.StoragePath,
		ResultRef:   t.ResultRef,
		RecordID:    t.RecordID,
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
		CompletedAt: t.CompletedAt,
	}
	if t.Asset != nil {
		a := *t.Asset
		c.Asset = &a
	}
	if t.Failure != nil {
		f := *t.Failure
		c.Failure = &f
	}
	return c
}
