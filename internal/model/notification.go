package model

import (
	"time"

	"github.com/mschirtzinger/tracksync/internal/remote"
)

// Notification is written only by the fan-out service.
type Notification struct {
	ID         string     `json:"id" yaml:"id"`
	Title      string     `json:"title" yaml:"title"`
	Message    string     `json:"message" yaml:"message"`
	Type       string     `json:"type,omitempty" yaml:"type,omitempty"`
	UserID     string     `json:"userId" yaml:"userId"`
	Read       bool       `json:"read" yaml:"read"`
	ProjectID  string     `json:"projectId,omitempty" yaml:"projectId,omitempty"`
	TaskID     string     `json:"taskId,omitempty" yaml:"taskId,omitempty"`
	ActionType ActionType `json:"actionType" yaml:"actionType"`
	CreatedAt  time.Time  `json:"createdAt" yaml:"createdAt"`
}

func (n *Notification) EntityID() string { return n.ID }
func (n *Notification) Kind() Kind       { return KindNotification }

// Clone returns a copy.
func (n *Notification) Clone() *Notification {
	if n == nil {
		return nil
	}
	c := *n
	return &c
}

// Fields encodes the full document. Optional back-references are omitted
// when empty so queries on projectId only match real references.
func (n *Notification) Fields() map[string]any {
	f := map[string]any{
		"title":      n.Title,
		"message":    n.Message,
		"type":       n.Type,
		"userId":     n.UserID,
		"read":       n.Read,
		"actionType": string(n.ActionType),
		"createdAt":  n.CreatedAt,
	}
	if n.ProjectID != "" {
		f["projectId"] = n.ProjectID
	}
	if n.TaskID != "" {
		f["taskId"] = n.TaskID
	}
	return f
}

// DecodeNotification builds a Notification from a raw document.
func DecodeNotification(doc remote.Document) (*Notification, error) {
	r := newReader(doc.Fields)
	n := &Notification{
		ID:         doc.ID,
		Title:      r.requiredString("title"),
		Message:    r.requiredString("message"),
		Type:       r.optionalString("type"),
		UserID:     r.requiredString("userId"),
		Read:       r.optionalBool("read"),
		ProjectID:  r.optionalString("projectId"),
		TaskID:     r.optionalString("taskId"),
		ActionType: ActionType(r.requiredString("actionType")),
		CreatedAt:  r.requiredTime("createdAt"),
	}
	if doc.ID == "" {
		r.fail(missing("id"))
	}
	if n.ActionType != "" && !n.ActionType.Valid() {
		r.fail(invalid("actionType", "unknown action type %q", n.ActionType))
	}
	if err := r.err(); err != nil {
		return nil, err
	}
	return n, nil
}
