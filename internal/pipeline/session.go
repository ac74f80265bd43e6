package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/maauso/media-ingest/internal/content"
	"github.com/maauso/media-ingest/internal/janitor"
	"github.com/maauso/media-ingest/internal/media"
	"github.com/maauso/media-ingest/internal/quota"
	"github.com/maauso/media-ingest/internal/transform"
	"github.com/maauso/media-ingest/internal/upload"
)

// Submission is a confirmed content-creation request.
type Submission struct {
	// FormID identifies the creation form. Only one operation per owner and
	// form may be in flight.
	FormID string
	// Role is the owner's role, used by the quota guard.
	Role quota.Role
	// Draft holds the record fields, including owner and content type.
	Draft content.Draft
	// Asset is the picked media, nil for text-only content.
	Asset *media.Asset
	// OwnedPaths are temp files created for this submission before it reached
	// the service, such as intake copies. They are removed when the operation ends.
	OwnedPaths []string
}

// Session is the explicit per-operation state passed through every stage.
// Nothing in it is shared with other operations.
type Session struct {
	task    *Task
	draft   content.Draft
	role    quota.Role
	asset   *media.Asset
	janitor *janitor.Janitor
	stream  *upload.Stream
	started time.Time

	ctx         context.Context
	cancel      context.CancelFunc
	replacement chan media.Asset
	done        chan struct{}

	mu       sync.Mutex
	job      *transform.Job
	inFlight bool
	reserved bool
	attempt  int
}

func newSession(ctx context.Context, task *Task, sub Submission, jan *janitor.Janitor) *Session {
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	return &Session{
		task:        task,
		draft:       sub.Draft,
		role:        sub.Role,
		asset:       sub.Asset,
		janitor:     jan,
		stream:      upload.NewStream(),
		started:     time.Now(),
		ctx:         runCtx,
		cancel:      cancel,
		replacement: make(chan media.Asset, 1),
		done:        make(chan struct{}),
	}
}

// formKey scopes form ids to their owner.
func formKey(ownerID, formID string) string {
	if formID == "" {
		return ""
	}
	return ownerID + "/" + formID
}

func (s *Session) setJob(j *transform.Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.job = j
}

// enterFlight marks the point after which the operation can no longer be
// cancelled. It returns false if the session was cancelled first.
func (s *Session) enterFlight() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx.Err() != nil {
		return false
	}
	s.inFlight = true
	return true
}

// abort cancels the session unless its transfer or commit already started.
func (s *Session) abort() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFlight {
		return ErrTransferInFlight
	}
	s.cancel()
	if s.job != nil {
		s.job.Cancel()
	}
	return nil
}

// outcome maps a finished task to the stream's terminal event.
func outcome(t *Task) upload.Outcome {
	o := upload.Outcome{
		State: string(t.State),
		Ref:   t.ResultRef,
	}
	if t.Failure != nil {
		o.ErrorKind = string(t.Failure.Kind)
		o.Reason = t.Failure.Reason
		o.Message = t.Failure.Message()
	}
	return o
}
