package pipeline

import "context"

// Repository defines the interface for task persistence.
type Repository interface {
	// Save persists a task. Existing tasks are overwritten.
	Save(ctx context.Context, task *Task) error

	// FindByID retrieves a task by its unique identifier.
	// Returns ErrTaskNotFound if the task does not exist.
	FindByID(ctx context.Context, id string) (*Task, error)

	// List returns all tasks.
	List(ctx context.Context) ([]*Task, error)
}
