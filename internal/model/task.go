package model

import (
	"time"

	"github.com/mschirtzinger/tracksync/internal/remote"
)

// Task is a standalone work item with its own comments and attachments.
type Task struct {
	ID          string       `json:"id" yaml:"id"`
	Title       string       `json:"title" yaml:"title"`
	Description string       `json:"description,omitempty" yaml:"description,omitempty"`
	Status      TaskStatus   `json:"status" yaml:"status"`
	Priority    TaskPriority `json:"priority" yaml:"priority"`
	AssignedTo  []string     `json:"assignedTo" yaml:"assignedTo"`
	CreatedBy   string       `json:"createdBy,omitempty" yaml:"createdBy,omitempty"`
	DueDate     *time.Time   `json:"dueDate,omitempty" yaml:"dueDate,omitempty"`
	Comments    []Comment    `json:"comments" yaml:"comments"`
	Attachments []File       `json:"attachments" yaml:"attachments"`
	CreatedAt   time.Time    `json:"createdAt" yaml:"createdAt"`
	UpdatedAt   time.Time    `json:"updatedAt" yaml:"updatedAt"`
}

func (t *Task) EntityID() string { return t.ID }
func (t *Task) Kind() Kind       { return KindTask }

// Overdue reports whether the task has a due date before now and is not
// completed.
func (t *Task) Overdue(now time.Time) bool {
	return t.DueDate != nil && t.Status != TaskCompleted && t.DueDate.Before(now)
}

// Clone returns a deep copy.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	c := *t
	c.AssignedTo = append([]string(nil), t.AssignedTo...)
	c.Comments = append([]Comment(nil), t.Comments...)
	c.Attachments = append([]File(nil), t.Attachments...)
	c.DueDate = cloneTime(t.DueDate)
	return &c
}

// Validate checks the fields a writer controls.
func (t *Task) Validate() error {
	r := newReader(nil)
	if t.Title == "" {
		r.fail(missing("title"))
	}
	if !t.Status.Valid() {
		r.fail(invalid("status", "unknown status %q", t.Status))
	}
	if !t.Priority.Valid() {
		r.fail(invalid("priority", "unknown priority %q", t.Priority))
	}
	return r.err()
}

// Fields encodes the full document.
func (t *Task) Fields() map[string]any {
	return map[string]any{
		"title":       t.Title,
		"description": t.Description,
		"status":      string(t.Status),
		"priority":    string(t.Priority),
		"assignedTo":  stringsToAny(t.AssignedTo),
		"createdBy":   t.CreatedBy,
		"dueDate":     timeValue(t.DueDate),
		"comments":    commentValues(t.Comments),
		"attachments": fileValues(t.Attachments),
		"createdAt":   t.CreatedAt,
		"updatedAt":   t.UpdatedAt,
	}
}

// DecodeTask builds a Task from a raw document.
func DecodeTask(doc remote.Document) (*Task, error) {
	r := newReader(doc.Fields)
	t := &Task{
		ID:          doc.ID,
		Title:       r.requiredString("title"),
		Description: r.optionalString("description"),
		Status:      TaskStatus(r.requiredString("status")),
		Priority:    TaskPriority(r.requiredString("priority")),
		AssignedTo:  r.assignees("assignedTo"),
		CreatedBy:   r.optionalString("createdBy"),
		DueDate:     r.optionalTime("dueDate"),
		Comments:    r.comments("comments"),
		Attachments: r.files("attachments"),
		CreatedAt:   r.requiredTime("createdAt"),
		UpdatedAt:   r.requiredTime("updatedAt"),
	}
	if doc.ID == "" {
		r.fail(missing("id"))
	}
	if t.Status != "" && !t.Status.Valid() {
		r.fail(invalid("status", "unknown status %q", t.Status))
	}
	if t.Priority != "" && !t.Priority.Valid() {
		r.fail(invalid("priority", "unknown priority %q", t.Priority))
	}
	if err := r.err(); err != nil {
		return nil, err
	}
	return t, nil
}
