package aggregate

import (
	"context"
	"fmt"
	"time"

	"github.com/mschirtzinger/tracksync/internal/fanout"
	"github.com/mschirtzinger/tracksync/internal/model"
	"github.com/mschirtzinger/tracksync/internal/remote"
)

// TaskRepo owns task documents and their embedded collections.
type TaskRepo struct {
	*deps
	users *UserRepo
}

// NewTask is the input of Create.
type NewTask struct {
	Title       string
	Description string
	Status      model.TaskStatus
	Priority    model.TaskPriority
	AssignedTo  []string
	DueDate     *time.Time
}

// TaskUpdate lists the fields an update may change. Nil means unchanged.
type TaskUpdate struct {
	Title       *string
	Description *string
	Status      *model.TaskStatus
	Priority    *model.TaskPriority
	AssignedTo  *[]string
	DueDate     *time.Time
}

// AllTasksQuery selects every task.
func AllTasksQuery() remote.Query {
	return remote.Query{OrderBy: "createdAt", Descending: true}
}

// UserTasksQuery selects the tasks assigned to uid.
func UserTasksQuery(uid string) remote.Query {
	return remote.Query{
		Filters:    []remote.Filter{remote.Where("assignedTo", remote.OpArrayContains, uid)},
		OrderBy:    "createdAt",
		Descending: true,
	}
}

// Get returns one task.
func (r *TaskRepo) Get(ctx context.Context, id string) (*model.Task, error) {
	doc, err := r.store.Get(ctx, remote.CollectionTasks, id)
	if err != nil {
		return nil, err
	}
	return model.DecodeTask(doc)
}

// List returns every task, newest first.
func (r *TaskRepo) List(ctx context.Context) ([]*model.Task, error) {
	return r.query(ctx, AllTasksQuery())
}

// ListForUser returns uid's tasks, newest first.
func (r *TaskRepo) ListForUser(ctx context.Context, uid string) ([]*model.Task, error) {
	return r.query(ctx, UserTasksQuery(uid))
}

func (r *TaskRepo) query(ctx context.Context, q remote.Query) ([]*model.Task, error) {
	docs, err := r.store.Query(ctx, remote.CollectionTasks, q)
	if err != nil {
		return nil, err
	}
	out := make([]*model.Task, 0, len(docs))
	for _, doc := range docs {
		t, err := model.DecodeTask(doc)
		if err != nil {
			r.log.WithError(err).WithField("task_id", doc.ID).Warn("skipping invalid task document")
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

// Create writes a new task and notifies its assignees.
func (r *TaskRepo) Create(ctx context.Context, actor Actor, in NewTask) (*model.Task, error) {
	assignees, _ := model.NormalizeAssignees(in.AssignedTo)
	now := r.timestamp()
	t := &model.Task{
		Title:       in.Title,
		Description: in.Description,
		Status:      in.Status,
		Priority:    in.Priority,
		AssignedTo:  assignees,
		CreatedBy:   actor.ID,
		DueDate:     in.DueDate,
		Comments:    []model.Comment{},
		Attachments: []model.File{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if t.Status == "" {
		t.Status = model.TaskToDo
	}
	if t.Priority == "" {
		t.Priority = model.TaskMedium
	}
	if t.DueDate != nil {
		due := t.DueDate.UTC().Truncate(time.Millisecond)
		t.DueDate = &due
	}
	if err := t.Validate(); err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}

	id, err := r.store.Create(ctx, remote.CollectionTasks, t.Fields())
	if err != nil {
		return nil, fmt.Errorf("failed to create task: %w", err)
	}
	created, err := r.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to re-read task %s: %w", id, err)
	}

	r.publish(ctx, fanout.Descriptor{
		Action:  model.ActionTaskAssigned,
		Actor:   actor.ID,
		Targets: assignees,
		TaskID:  id,
		Title:   "New task assigned",
		Message: fmt.Sprintf("You have been assigned to task %q", created.Title),
	})
	return created, nil
}

// Update applies u. A status change notifies the assignees and the creator;
// newly added assignees get an assignment notification.
func (r *TaskRepo) Update(ctx context.Context, actor Actor, id string, u TaskUpdate) (*model.Task, error) {
	cur, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	next := cur.Clone()
	fields := map[string]any{}
	if u.Title != nil {
		next.Title = *u.Title
		fields["title"] = next.Title
	}
	if u.Description != nil {
		next.Description = *u.Description
		fields["description"] = next.Description
	}
	if u.Status != nil {
		next.Status = *u.Status
		fields["status"] = string(next.Status)
	}
	if u.Priority != nil {
		next.Priority = *u.Priority
		fields["priority"] = string(next.Priority)
	}
	if u.AssignedTo != nil {
		ids, _ := model.NormalizeAssignees(*u.AssignedTo)
		next.AssignedTo = ids
		fields["assignedTo"] = anyStrings(ids)
	}
	if u.DueDate != nil {
		due := u.DueDate.UTC().Truncate(time.Millisecond)
		next.DueDate = &due
		fields["dueDate"] = due
	}
	if err := next.Validate(); err != nil {
		return nil, fmt.Errorf("update task %s: %w", id, err)
	}
	fields["updatedAt"] = r.advance(cur.UpdatedAt)

	if err := r.store.Update(ctx, remote.CollectionTasks, id, fields); err != nil {
		return nil, fmt.Errorf("failed to update task %s: %w", id, err)
	}
	updated, err := r.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to re-read task %s: %w", id, err)
	}

	if updated.Status != cur.Status {
		targets := append(append([]string(nil), updated.AssignedTo...), updated.CreatedBy)
		r.publish(ctx, fanout.Descriptor{
			Action:  model.ActionTaskStatusChanged,
			Actor:   actor.ID,
			Targets: append(targets, r.users.adminIDs(ctx)...),
			TaskID:  id,
			Title:   "Task status changed",
			Message: fmt.Sprintf("Task %q moved from %s to %s", updated.Title, cur.Status, updated.Status),
		})
	}
	if added, _ := model.Diff(cur.AssignedTo, updated.AssignedTo); len(added) > 0 {
		r.publish(ctx, fanout.Descriptor{
			Action:  model.ActionTaskAssigned,
			Actor:   actor.ID,
			Targets: added,
			TaskID:  id,
			Title:   "New task assigned",
			Message: fmt.Sprintf("You have been assigned to task %q", updated.Title),
		})
	}
	return updated, nil
}

// UpdateStatus is Update restricted to the status field.
func (r *TaskRepo) UpdateStatus(ctx context.Context, actor Actor, id string, status model.TaskStatus) (*model.Task, error) {
	return r.Update(ctx, actor, id, TaskUpdate{Status: &status})
}

// Delete removes the task and the notifications that reference it.
func (r *TaskRepo) Delete(ctx context.Context, id string) error {
	if err := deleteNotifications(ctx, r.deps, remote.Where("taskId", remote.OpEqual, id)); err != nil {
		return fmt.Errorf("failed to cascade delete of task %s: %w", id, err)
	}
	if err := r.store.Delete(ctx, remote.CollectionTasks, id); err != nil {
		return fmt.Errorf("failed to delete task %s: %w", id, err)
	}
	return nil
}

// AddComment appends a comment and notifies the assignees and the creator,
// never the author.
func (r *TaskRepo) AddComment(ctx context.Context, author Actor, taskID, text string) (*model.Task, error) {
	if text == "" {
		return nil, fmt.Errorf("add comment: %w", &model.FieldError{Field: "text", Reason: "is required"})
	}
	now := r.timestamp()
	c := model.Comment{
		ID:         r.newID(),
		AuthorID:   author.ID,
		AuthorName: author.Name,
		Text:       text,
		CreatedAt:  now,
	}
	t, err := r.appendItem(ctx, taskID, "comments", c.Fields())
	if err != nil {
		return nil, err
	}
	r.publish(ctx, fanout.Descriptor{
		Action:  model.ActionTaskCommentAdded,
		Actor:   author.ID,
		Targets: append(append([]string(nil), t.AssignedTo...), t.CreatedBy),
		TaskID:  taskID,
		Title:   "New comment",
		Message: fmt.Sprintf("%s commented on task %q", displayName(author), t.Title),
	})
	return t, nil
}

// AddAttachment appends an uploaded file record to the task.
func (r *TaskRepo) AddAttachment(ctx context.Context, taskID string, f model.File) (*model.Task, error) {
	if f.ID == "" || f.URL == "" {
		return nil, fmt.Errorf("add attachment: %w", &model.FieldError{Field: "url", Reason: "file record is incomplete"})
	}
	if f.UploadedAt.IsZero() {
		f.UploadedAt = r.timestamp()
	}
	return r.appendItem(ctx, taskID, "attachments", f.Fields())
}

func (r *TaskRepo) appendItem(ctx context.Context, taskID, field string, item map[string]any) (*model.Task, error) {
	cur, err := r.Get(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to read task %s: %w", taskID, err)
	}
	if err := r.store.ArrayAppend(ctx, remote.CollectionTasks, taskID, field, item); err != nil {
		return nil, fmt.Errorf("failed to append to %s of task %s: %w", field, taskID, err)
	}
	touched := map[string]any{"updatedAt": r.advance(cur.UpdatedAt)}
	if err := r.store.Update(ctx, remote.CollectionTasks, taskID, touched); err != nil {
		return nil, fmt.Errorf("failed to touch task %s: %w", taskID, err)
	}
	t, err := r.Get(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to re-read task %s: %w", taskID, err)
	}
	return t, nil
}
