package types

import (
	"strings"
	"time"
)

type TaskStatus string

const (
	TaskStatusTodo       TaskStatus = "todo"
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusInReview   TaskStatus = "in_review"
	TaskStatusDone       TaskStatus = "done"
)

func NormalizeTaskStatus(raw TaskStatus) (TaskStatus, bool) {
	value := strings.ToLower(strings.TrimSpace(string(raw)))
	value = strings.ReplaceAll(value, "-", "_")
	switch TaskStatus(value) {
	case TaskStatusTodo, TaskStatusInProgress, TaskStatusInReview, TaskStatusDone:
		return TaskStatus(value), true
	default:
		return "", false
	}
}

// Task groups sessions under one unit of work. Model records the model the
// most recent run resolved to.
type Task struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Status      TaskStatus `json:"status"`
	Model       string     `json:"model,omitempty"`
	SessionIDs  []string   `json:"session_ids,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

func CloneTask(in *Task) *Task {
	if in == nil {
		return nil
	}
	out := *in
	if in.SessionIDs != nil {
		out.SessionIDs = make([]string, len(in.SessionIDs))
		copy(out.SessionIDs, in.SessionIDs)
	}
	return &out
}

// TaskPatch carries the mutable task fields. Nil fields are left untouched.
type TaskPatch struct {
	Title       *string     `json:"title,omitempty"`
	Description *string     `json:"description,omitempty"`
	Status      *TaskStatus `json:"status,omitempty"`
	Model       *string     `json:"model,omitempty"`
}
