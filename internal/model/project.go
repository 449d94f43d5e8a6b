package model

import (
	"time"

	"github.com/mschirtzinger/tracksync/internal/remote"
)

// Project is an aggregate document. Comments, files, images and subtasks
// live inside it.
type Project struct {
	ID             string          `json:"id" yaml:"id"`
	Title          string          `json:"title" yaml:"title"`
	Description    string          `json:"description,omitempty" yaml:"description,omitempty"`
	Status         ProjectStatus   `json:"status" yaml:"status"`
	Priority       ProjectPriority `json:"priority" yaml:"priority"`
	AssignedTo     []string        `json:"assignedTo" yaml:"assignedTo"`
	CreatedBy      string          `json:"createdBy,omitempty" yaml:"createdBy,omitempty"`
	Progress       int             `json:"progress" yaml:"progress"`
	EstimatedHours float64         `json:"estimatedHours,omitempty" yaml:"estimatedHours,omitempty"`
	ActualHours    float64         `json:"actualHours,omitempty" yaml:"actualHours,omitempty"`
	StartDate      *time.Time      `json:"startDate,omitempty" yaml:"startDate,omitempty"`
	EndDate        *time.Time      `json:"endDate,omitempty" yaml:"endDate,omitempty"`
	Comments       []Comment       `json:"comments" yaml:"comments"`
	Files          []File          `json:"files" yaml:"files"`
	Images         []File          `json:"images" yaml:"images"`
	SubTasks       []SubTask       `json:"subTasks" yaml:"subTasks"`
	CreatedAt      time.Time       `json:"createdAt" yaml:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt" yaml:"updatedAt"`
}

func (p *Project) EntityID() string { return p.ID }
func (p *Project) Kind() Kind       { return KindProject }

// SubTask returns the subtask with the given id.
func (p *Project) SubTask(id string) (SubTask, bool) {
	for _, s := range p.SubTasks {
		if s.ID == id {
			return s, true
		}
	}
	return SubTask{}, false
}

// Clone returns a deep copy.
func (p *Project) Clone() *Project {
	if p == nil {
		return nil
	}
	c := *p
	c.AssignedTo = append([]string(nil), p.AssignedTo...)
	c.Comments = append([]Comment(nil), p.Comments...)
	c.Files = append([]File(nil), p.Files...)
	c.Images = append([]File(nil), p.Images...)
	c.SubTasks = append([]SubTask(nil), p.SubTasks...)
	c.StartDate = cloneTime(p.StartDate)
	c.EndDate = cloneTime(p.EndDate)
	return &c
}

// Validate checks the fields a writer controls.
func (p *Project) Validate() error {
	r := newReader(nil)
	if p.Title == "" {
		r.fail(missing("title"))
	}
	if !p.Status.Valid() {
		r.fail(invalid("status", "unknown status %q", p.Status))
	}
	if !p.Priority.Valid() {
		r.fail(invalid("priority", "unknown priority %q", p.Priority))
	}
	if p.Progress < 0 || p.Progress > 100 {
		r.fail(invalid("progress", "must be within 0..100, got %d", p.Progress))
	}
	if p.EstimatedHours < 0 {
		r.fail(invalid("estimatedHours", "must not be negative"))
	}
	if p.ActualHours < 0 {
		r.fail(invalid("actualHours", "must not be negative"))
	}
	if p.StartDate != nil && p.EndDate != nil && p.EndDate.Before(*p.StartDate) {
		r.fail(invalid("endDate", "is before startDate"))
	}
	return r.err()
}

// Fields encodes the full document, embedded collections included.
func (p *Project) Fields() map[string]any {
	return map[string]any{
		"title":          p.Title,
		"description":    p.Description,
		"status":         string(p.Status),
		"priority":       string(p.Priority),
		"assignedTo":     stringsToAny(p.AssignedTo),
		"createdBy":      p.CreatedBy,
		"progress":       p.Progress,
		"estimatedHours": p.EstimatedHours,
		"actualHours":    p.ActualHours,
		"startDate":      timeValue(p.StartDate),
		"endDate":        timeValue(p.EndDate),
		"comments":       commentValues(p.Comments),
		"files":          fileValues(p.Files),
		"images":         fileValues(p.Images),
		"subTasks":       subTaskValues(p.SubTasks),
		"createdAt":      p.CreatedAt,
		"updatedAt":      p.UpdatedAt,
	}
}

// DecodeProject builds a Project from a raw document.
func DecodeProject(doc remote.Document) (*Project, error) {
	r := newReader(doc.Fields)
	p := &Project{
		ID:             doc.ID,
		Title:          r.requiredString("title"),
		Description:    r.optionalString("description"),
		Status:         ProjectStatus(r.requiredString("status")),
		Priority:       ProjectPriority(r.requiredString("priority")),
		AssignedTo:     r.assignees("assignedTo"),
		CreatedBy:      r.optionalString("createdBy"),
		Progress:       r.optionalInt("progress"),
		EstimatedHours: r.optionalFloat("estimatedHours"),
		ActualHours:    r.optionalFloat("actualHours"),
		StartDate:      r.optionalTime("startDate"),
		EndDate:        r.optionalTime("endDate"),
		Comments:       r.comments("comments"),
		Files:          r.files("files"),
		Images:         r.files("images"),
		SubTasks:       r.subTasks("subTasks"),
		CreatedAt:      r.requiredTime("createdAt"),
		UpdatedAt:      r.requiredTime("updatedAt"),
	}
	if doc.ID == "" {
		r.fail(missing("id"))
	}
	if p.Status != "" && !p.Status.Valid() {
		r.fail(invalid("status", "unknown status %q", p.Status))
	}
	if p.Priority != "" && !p.Priority.Valid() {
		r.fail(invalid("priority", "unknown priority %q", p.Priority))
	}
	if p.Progress < 0 || p.Progress > 100 {
		r.fail(invalid("progress", "must be within 0..100, got %d", p.Progress))
	}
	if err := r.err(); err != nil {
		return nil, err
	}
	return p, nil
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
