package inbox

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/mschirtzinger/tracksync/internal/aggregate"
	"github.com/mschirtzinger/tracksync/internal/dates"
	"github.com/mschirtzinger/tracksync/internal/model"
)

// Request is one parsed import file.
type Request struct {
	Kind    model.Kind
	Project *aggregate.NewProject
	Task    *aggregate.NewTask
}

// importFile is the on-disk shape of an import. Dates accept timestamps or
// natural language.
type importFile struct {
	Kind           string  `json:"kind"`
	Title          string  `json:"title"`
	Description    string  `json:"description"`
	Status         string  `json:"status"`
	Priority       string  `json:"priority"`
	AssignedTo     any     `json:"assignedTo"`
	EstimatedHours float64 `json:"estimatedHours"`
	StartDate      string  `json:"startDate"`
	EndDate        string  `json:"endDate"`
	DueDate        string  `json:"dueDate"`
}

// Parse decodes an import file.
func Parse(data []byte, now time.Time) (Request, error) {
	var f importFile
	if err := json.Unmarshal(data, &f); err != nil {
		return Request{}, fmt.Errorf("invalid import file: %w", err)
	}
	if f.Title == "" {
		return Request{}, fmt.Errorf("invalid import file: %w", &model.FieldError{Field: "title", Reason: "required"})
	}

	switch model.Kind(f.Kind) {
	case model.KindProject:
		start, err := dates.Parse(f.StartDate, now)
		if err != nil {
			return Request{}, err
		}
		end, err := dates.Parse(f.EndDate, now)
		if err != nil {
			return Request{}, err
		}
		return Request{Kind: model.KindProject, Project: &aggregate.NewProject{
			Title:          f.Title,
			Description:    f.Description,
			Status:         model.ProjectStatus(f.Status),
			Priority:       model.ProjectPriority(f.Priority),
			AssignedTo:     f.AssignedTo,
			EstimatedHours: f.EstimatedHours,
			StartDate:      start,
			EndDate:        end,
		}}, nil

	case model.KindTask:
		due, err := dates.Parse(f.DueDate, now)
		if err != nil {
			return Request{}, err
		}
		assignees, err := model.NormalizeAssignees(f.AssignedTo)
		if err != nil {
			return Request{}, fmt.Errorf("invalid import file: %w", &model.FieldError{Field: "assignedTo", Reason: err.Error()})
		}
		return Request{Kind: model.KindTask, Task: &aggregate.NewTask{
			Title:       f.Title,
			Description: f.Description,
			Status:      model.TaskStatus(f.Status),
			Priority:    model.TaskPriority(f.Priority),
			AssignedTo:  assignees,
			DueDate:     due,
		}}, nil
	}
	return Request{}, fmt.Errorf("invalid import file: unknown kind %q", f.Kind)
}
