// Package synchronizer keeps a todo item's completion state on the service
// in step with a checkbox.
//
// SetTodoCompletion reads the item, flips is_finished/finished_at locally
// and writes the whole representation back. Without the stale-write guard
// two overlapping calls for the same item race and the later write wins.
package synchronizer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/idilsaglam/todosync/internal/api"
	"github.com/idilsaglam/todosync/internal/logging"
	"github.com/idilsaglam/todosync/internal/model"
)

var (
	// ErrEmptyID is returned before any request when the id is blank.
	ErrEmptyID = errors.New("todo id is empty")

	// ErrConflict means the item changed between read and write.
	// Only reported with the stale-write guard on.
	ErrConflict = errors.New("todo changed on the server since it was read")
)

// FetchError is a failed read. No write was attempted.
type FetchError struct {
	ID  string
	Err error
}

func (e *FetchError) Error() string { return fmt.Sprintf("fetch todo %s: %v", e.ID, e.Err) }
func (e *FetchError) Unwrap() error { return e.Err }

// WriteError is a failed write. The server state is whatever it was before.
type WriteError struct {
	ID  string
	Err error
}

func (e *WriteError) Error() string { return fmt.Sprintf("write todo %s: %v", e.ID, e.Err) }
func (e *WriteError) Unwrap() error { return e.Err }

// TodoAPI is the HTTP capability the synchronizer needs.
// *api.Client satisfies it.
type TodoAPI interface {
	GetTodo(ctx context.Context, id string) (model.Document, api.Meta, error)
	PutTodo(ctx context.Context, id string, doc model.Document, opts api.PutOptions) (*model.Document, error)
}

// Synchronizer runs the read-modify-write for one item at a time.
// It holds no per-item state and is safe for concurrent use.
type Synchronizer struct {
	api    TodoAPI
	clock  func() time.Time
	guard  bool
	logger *log.Logger
}

// Option configures a Synchronizer.
type Option func(*Synchronizer)

// WithClock sets the source of finished_at timestamps.
func WithClock(now func() time.Time) Option { return func(s *Synchronizer) { s.clock = now } }

// WithStaleWriteGuard makes writes conditional on the ETag from the read.
// Servers that send no ETag get unconditional writes.
func WithStaleWriteGuard(on bool) Option { return func(s *Synchronizer) { s.guard = on } }

func WithLogger(l *log.Logger) Option { return func(s *Synchronizer) { s.logger = l } }

// New returns a synchronizer writing through client.
func New(client TodoAPI, opts ...Option) *Synchronizer {
	s := &Synchronizer{
		api:    client,
		clock:  time.Now,
		logger: logging.Discard(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetTodoCompletion sets the item's completion to isFinished and returns the
// state the server acknowledged.
func (s *Synchronizer) SetTodoCompletion(ctx context.Context, todoID string, isFinished bool) (model.Todo, error) {
	todoID = strings.TrimSpace(todoID)
	if todoID == "" {
		return model.Todo{}, ErrEmptyID
	}

	doc, meta, err := s.api.GetTodo(ctx, todoID)
	if err != nil {
		return model.Todo{}, &FetchError{ID: todoID, Err: err}
	}

	doc.Todo.SetCompletion(isFinished, s.clock())

	var opts api.PutOptions
	if s.guard {
		opts.IfMatch = meta.ETag
	}
	echo, err := s.api.PutTodo(ctx, todoID, doc, opts)
	if err != nil {
		if errors.Is(err, api.ErrPreconditionFailed) {
			err = fmt.Errorf("%w: %w", ErrConflict, err)
		}
		return model.Todo{}, &WriteError{ID: todoID, Err: err}
	}
	s.logger.Info("todo updated", "id", todoID, "is_finished", isFinished)

	if echo != nil {
		return echo.Todo, nil
	}
	confirmed, _, err := s.api.GetTodo(ctx, todoID)
	if err != nil {
		s.logger.Warn("confirm fetch failed, using written state", "id", todoID, "err", err)
		return doc.Todo, nil
	}
	return confirmed.Todo, nil
}
