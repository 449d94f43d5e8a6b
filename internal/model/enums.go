package model

import "fmt"

// ProjectStatus is the workflow state of a project or one of its subtasks.
type ProjectStatus string

const (
	ProjectToDo       ProjectStatus = "ToDo"
	ProjectInProgress ProjectStatus = "InProgress"
	ProjectReview     ProjectStatus = "Review"
	ProjectTesting    ProjectStatus = "Testing"
	ProjectDone       ProjectStatus = "Done"
	ProjectDeployment ProjectStatus = "Deployment"
	ProjectFixingBug  ProjectStatus = "FixingBug"
)

var projectStatuses = []ProjectStatus{
	ProjectToDo, ProjectInProgress, ProjectReview, ProjectTesting,
	ProjectDone, ProjectDeployment, ProjectFixingBug,
}

// Valid reports whether s is a known project status.
func (s ProjectStatus) Valid() bool {
	for _, v := range projectStatuses {
		if s == v {
			return true
		}
	}
	return false
}

// ParseProjectStatus validates a raw status string.
func ParseProjectStatus(s string) (ProjectStatus, error) {
	status := ProjectStatus(s)
	if !status.Valid() {
		return "", fmt.Errorf("unknown project status %q", s)
	}
	return status, nil
}

// ProjectPriority ranks projects.
type ProjectPriority string

const (
	ProjectLow      ProjectPriority = "Low"
	ProjectMedium   ProjectPriority = "Medium"
	ProjectHigh     ProjectPriority = "High"
	ProjectCritical ProjectPriority = "Critical"
)

// Valid reports whether p is a known project priority.
func (p ProjectPriority) Valid() bool {
	switch p {
	case ProjectLow, ProjectMedium, ProjectHigh, ProjectCritical:
		return true
	}
	return false
}

// ParseProjectPriority validates a raw priority string.
func ParseProjectPriority(s string) (ProjectPriority, error) {
	p := ProjectPriority(s)
	if !p.Valid() {
		return "", fmt.Errorf("unknown project priority %q", s)
	}
	return p, nil
}

// TaskStatus is the workflow state of a task. It is deliberately a separate
// enum from ProjectStatus: tasks finish as Completed, projects as Done.
type TaskStatus string

const (
	TaskToDo       TaskStatus = "ToDo"
	TaskInProgress TaskStatus = "InProgress"
	TaskReview     TaskStatus = "Review"
	TaskTesting    TaskStatus = "Testing"
	TaskCompleted  TaskStatus = "Completed"
)

// Valid reports whether s is a known task status.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskToDo, TaskInProgress, TaskReview, TaskTesting, TaskCompleted:
		return true
	}
	return false
}

// ParseTaskStatus validates a raw status string.
func ParseTaskStatus(s string) (TaskStatus, error) {
	status := TaskStatus(s)
	if !status.Valid() {
		return "", fmt.Errorf("unknown task status %q", s)
	}
	return status, nil
}

// TaskPriority ranks tasks.
type TaskPriority string

const (
	TaskHigh   TaskPriority = "High"
	TaskMedium TaskPriority = "Medium"
	TaskLow    TaskPriority = "Low"
)

// Valid reports whether p is a known task priority.
func (p TaskPriority) Valid() bool {
	switch p {
	case TaskHigh, TaskMedium, TaskLow:
		return true
	}
	return false
}

// ParseTaskPriority validates a raw priority string.
func ParseTaskPriority(s string) (TaskPriority, error) {
	p := TaskPriority(s)
	if !p.Valid() {
		return "", fmt.Errorf("unknown task priority %q", s)
	}
	return p, nil
}

// Role gates what a user may do.
type Role string

const (
	RoleAdmin     Role = "admin"
	RoleDeveloper Role = "developer"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleDeveloper
}

// ActionType names the mutation that produced a notification.
type ActionType string

const (
	ActionProjectAssigned   ActionType = "project_assigned"
	ActionProjectUpdated    ActionType = "project_updated"
	ActionStatusChanged     ActionType = "status_changed"
	ActionCommentAdded      ActionType = "comment_added"
	ActionSubTaskAdded      ActionType = "subtask_added"
	ActionFileAdded         ActionType = "file_added"
	ActionTaskAssigned      ActionType = "task_assigned"
	ActionTaskStatusChanged ActionType = "task_status_changed"
	ActionTaskCommentAdded  ActionType = "task_comment_added"
)

// Valid reports whether a is a known action type.
func (a ActionType) Valid() bool {
	switch a {
	case ActionProjectAssigned, ActionProjectUpdated, ActionStatusChanged,
		ActionCommentAdded, ActionSubTaskAdded, ActionFileAdded,
		ActionTaskAssigned, ActionTaskStatusChanged, ActionTaskCommentAdded:
		return true
	}
	return false
}
