// Package events defines the typed events fanned out on domain mutations,
// the broadcast audiences they are addressed to, and the wire frame shape
// shared by both directions of the WebSocket protocol.
package events

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Type identifies a server→client event.
type Type string

const (
	TaskCreated    Type = "task.created"
	TaskUpdated    Type = "task.updated"
	TaskDeleted    Type = "task.deleted"
	CommentCreated Type = "comment.created"
	CommentDeleted Type = "comment.deleted"
	MemberAdded    Type = "member.added"
	MemberRemoved  Type = "member.removed"
	Notification   Type = "notification"

	// Relay carries a free-form client message echoed back to the rest of
	// the room. Error is the reply to an unparseable inbound frame.
	Relay Type = "relay"
	Error Type = "error"

	// Subscribed and Unsubscribed acknowledge in-session room membership
	// changes requested over the personal channel.
	Subscribed   Type = "subscribed"
	Unsubscribed Type = "unsubscribed"
)

// Group is a broadcast audience: either a per-project room ("project:<id>")
// or a per-user notification channel ("user:<id>"). Groups are created lazily
// on first join and carry no state of their own.
type Group string

const (
	projectPrefix = "project:"
	userPrefix    = "user:"
)

// ProjectGroup returns the broadcast room for a project.
func ProjectGroup(projectID int64) Group {
	return Group(projectPrefix + strconv.FormatInt(projectID, 10))
}

// UserGroup returns the personal notification channel for a user.
func UserGroup(userID int64) Group {
	return Group(userPrefix + strconv.FormatInt(userID, 10))
}

// ProjectID reports the project a room group addresses, if it is one.
func (g Group) ProjectID() (int64, bool) {
	return suffixID(string(g), projectPrefix)
}

// UserID reports the user a personal group addresses, if it is one.
func (g Group) UserID() (int64, bool) {
	return suffixID(string(g), userPrefix)
}

func (g Group) String() string { return string(g) }

func suffixID(s, prefix string) (int64, bool) {
	rest, ok := strings.CutPrefix(s, prefix)
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseInt(rest, 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// Event is an immutable, transient message. It is never persisted and has no
// identity beyond the frame it marshals to.
type Event struct {
	Type Type
	Data any
}

// frame is the wire shape for both directions: {"type": ..., "data": ...}.
type frame struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Frame marshals the event into its wire representation.
func (e Event) Frame() ([]byte, error) {
	b, err := json.Marshal(frame{Type: string(e.Type), Data: e.Data})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s frame: %w", e.Type, err)
	}
	return b, nil
}

// NotificationData is the payload of a "notification" event delivered on a
// user's personal channel.
type NotificationData struct {
	Title     string `json:"title"`
	Body      string `json:"body"`
	TaskID    int64  `json:"task_id,omitempty"`
	ProjectID int64  `json:"project_id,omitempty"`
}

// ErrorData is the payload of an "error" frame sent back to a client.
type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error frame codes.
const (
	CodeMalformedMessage = "malformed_message"
	CodeUnauthorized     = "unauthorized"
	CodeBadRequest       = "bad_request"
)

// ErrorEvent builds an "error" frame reply.
func ErrorEvent(code, message string) Event {
	return Event{Type: Error, Data: ErrorData{Code: code, Message: message}}
}
