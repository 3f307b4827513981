// Package dispatch turns committed domain mutations into typed events and
// routes them to the group broker, after first invalidating the cached
// aggregate views the mutation made stale. It is the single entry point the
// CRUD/service layer calls once a write is durable; nothing here fires as a
// hidden side effect of persistence.
package dispatch

import (
	"fmt"
	"time"
)

// Kind names a domain mutation outcome.
type Kind string

const (
	TaskCreated    Kind = "task_created"
	TaskUpdated    Kind = "task_updated"
	TaskDeleted    Kind = "task_deleted"
	CommentCreated Kind = "comment_created"
	CommentDeleted Kind = "comment_deleted"
	MemberAdded    Kind = "member_added"
	MemberRemoved  Kind = "member_removed"
)

// Valid reports whether the kind is part of the mutation taxonomy.
func (k Kind) Valid() bool {
	switch k {
	case TaskCreated, TaskUpdated, TaskDeleted,
		CommentCreated, CommentDeleted,
		MemberAdded, MemberRemoved:
		return true
	}
	return false
}

// TaskPayload is the task snapshot broadcast to a project room.
type TaskPayload struct {
	ID        int64     `json:"id"`
	Title     string    `json:"title"`
	Status    string    `json:"status"`
	Priority  string    `json:"priority"`
	Assignee  *int64    `json:"assignee"`
	ProjectID int64     `json:"project"`
	Order     int       `json:"order"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CommentAuthor identifies who wrote a comment.
type CommentAuthor struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

// CommentPayload is the comment snapshot broadcast to a project room.
type CommentPayload struct {
	ID        int64         `json:"id"`
	Content   string        `json:"content"`
	TaskID    int64         `json:"task"`
	TaskTitle string        `json:"task_title"`
	Author    CommentAuthor `json:"author"`
	CreatedAt time.Time     `json:"created_at"`
}

// MemberPayload describes a membership change.
type MemberPayload struct {
	UserID   int64  `json:"id"`
	Username string `json:"username"`
	Role     string `json:"role"`
}

// Mutation describes one committed domain write. ActorID is the user whose
// request caused it; AffectedUserIDs optionally narrows whose cached views
// are invalidated (defaulting to every member of the project).
type Mutation struct {
	Kind            Kind            `json:"kind"`
	ProjectID       int64           `json:"project_id"`
	ActorID         int64           `json:"actor_id"`
	AffectedUserIDs []int64         `json:"affected_user_ids,omitempty"`
	Task            *TaskPayload    `json:"task,omitempty"`
	Comment         *CommentPayload `json:"comment,omitempty"`
	Member          *MemberPayload  `json:"member,omitempty"`
}

// Validate checks the mutation is internally consistent before dispatch.
func (m Mutation) Validate() error {
	if !m.Kind.Valid() {
		return fmt.Errorf("unknown mutation kind %q", m.Kind)
	}
	if m.ProjectID <= 0 {
		return fmt.Errorf("mutation %s requires a project id", m.Kind)
	}
	switch m.Kind {
	case TaskCreated, TaskUpdated, TaskDeleted:
		if m.Task == nil {
			return fmt.Errorf("mutation %s requires a task payload", m.Kind)
		}
	case CommentCreated, CommentDeleted:
		if m.Comment == nil {
			return fmt.Errorf("mutation %s requires a comment payload", m.Kind)
		}
	case MemberAdded, MemberRemoved:
		if m.Member == nil {
			return fmt.Errorf("mutation %s requires a member payload", m.Kind)
		}
	}
	return nil
}
