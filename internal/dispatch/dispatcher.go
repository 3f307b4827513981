package dispatch

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/evgenyalesich/project-manager/internal/events"
)

// Broadcaster is the slice of the group broker the dispatcher publishes
// through.
type Broadcaster interface {
	Broadcast(group events.Group, ev events.Event)
	BroadcastToUser(userID int64, ev events.Event)
	ForceLeaveUser(userID int64, group events.Group, notice events.Event)
}

// Dispatcher maps committed mutations to typed events and fans them out. The
// cache step always runs first, so a client that re-fetches on receiving an
// event sees fresh state. Broker or cache trouble never propagates back to
// the caller: the durable write already happened and the live view is only a
// best-effort overlay.
type Dispatcher struct {
	broker      Broadcaster
	invalidator *Invalidator
	logger      zerolog.Logger
}

// NewDispatcher creates an event dispatcher publishing through broker.
func NewDispatcher(broker Broadcaster, invalidator *Invalidator, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		broker:      broker,
		invalidator: invalidator,
		logger:      logger.With().Str("component", "EventDispatcher").Logger(),
	}
}

// Dispatch sequences cache invalidation and event fan-out for one committed
// mutation. Callers must only invoke it after the write is durable.
func (d *Dispatcher) Dispatch(ctx context.Context, m Mutation) error {
	if err := m.Validate(); err != nil {
		return fmt.Errorf("invalid mutation: %w", err)
	}

	d.invalidator.Invalidate(ctx, m.ProjectID, m.affectedUsers())

	room := events.ProjectGroup(m.ProjectID)
	switch m.Kind {
	case TaskCreated:
		d.broker.Broadcast(room, events.Event{Type: events.TaskCreated, Data: m.Task})

	case TaskUpdated:
		d.broker.Broadcast(room, events.Event{Type: events.TaskUpdated, Data: m.Task})
		d.notifyAssignee(m, "Task Updated",
			fmt.Sprintf("Task %q has been updated", m.Task.Title), m.Task.ID)

	case TaskDeleted:
		d.broker.Broadcast(room, events.Event{Type: events.TaskDeleted, Data: idPayload{ID: m.Task.ID}})

	case CommentCreated:
		d.broker.Broadcast(room, events.Event{Type: events.CommentCreated, Data: m.Comment})
		d.notifyCommentTarget(m)

	case CommentDeleted:
		d.broker.Broadcast(room, events.Event{Type: events.CommentDeleted, Data: idPayload{ID: m.Comment.ID}})

	case MemberAdded:
		d.broker.Broadcast(room, events.Event{Type: events.MemberAdded, Data: m.Member})

	case MemberRemoved:
		d.broker.Broadcast(room, events.Event{Type: events.MemberRemoved, Data: removedPayload{UserID: m.Member.UserID}})
		// Revoked membership must not keep receiving room traffic: evict
		// every connection of the removed user, with a notice so their UI
		// can react.
		d.broker.ForceLeaveUser(m.Member.UserID, room, events.Event{
			Type: events.Notification,
			Data: events.NotificationData{
				Title:     "Removed from project",
				Body:      "Your access to this project has been revoked",
				ProjectID: m.ProjectID,
			},
		})
	}

	d.logger.Debug().Str("kind", string(m.Kind)).Int64("project_id", m.ProjectID).
		Msg("Mutation dispatched.")
	return nil
}

// notifyAssignee pushes a personal notification to the task assignee unless
// the change was self-caused or the task is unassigned.
func (d *Dispatcher) notifyAssignee(m Mutation, title, body string, taskID int64) {
	if m.Task.Assignee == nil || *m.Task.Assignee == m.ActorID {
		return
	}
	d.broker.BroadcastToUser(*m.Task.Assignee, events.Event{
		Type: events.Notification,
		Data: events.NotificationData{
			Title:     title,
			Body:      body,
			TaskID:    taskID,
			ProjectID: m.ProjectID,
		},
	})
}

// notifyCommentTarget notifies the task assignee about a new comment unless
// the assignee wrote it.
func (d *Dispatcher) notifyCommentTarget(m Mutation) {
	if m.Task == nil || m.Task.Assignee == nil {
		return
	}
	assignee := *m.Task.Assignee
	if assignee == m.Comment.Author.ID {
		return
	}
	d.broker.BroadcastToUser(assignee, events.Event{
		Type: events.Notification,
		Data: events.NotificationData{
			Title:     "New Comment",
			Body:      fmt.Sprintf("%s commented on %q", m.Comment.Author.Username, m.Comment.TaskTitle),
			TaskID:    m.Comment.TaskID,
			ProjectID: m.ProjectID,
		},
	})
}

// affectedUsers narrows invalidation for membership changes to the member in
// question; everything else defaults to the full member set.
func (m Mutation) affectedUsers() []int64 {
	if len(m.AffectedUserIDs) > 0 {
		return m.AffectedUserIDs
	}
	if m.Kind == MemberAdded || m.Kind == MemberRemoved {
		return []int64{m.Member.UserID}
	}
	return nil
}

type idPayload struct {
	ID int64 `json:"id"`
}

type removedPayload struct {
	UserID int64 `json:"user_id"`
}
