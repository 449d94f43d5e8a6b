package orchestrator

import (
	"context"

	"github.com/mschirtzinger/tracksync/internal/aggregate"
	"github.com/mschirtzinger/tracksync/internal/cache"
	"github.com/mschirtzinger/tracksync/internal/model"
)

const (
	OpFetchTasks        = "tasks/fetchAll"
	OpFetchUserTasks    = "tasks/fetchForUser"
	OpFetchTask         = "tasks/fetchOne"
	OpCreateTask        = "tasks/create"
	OpUpdateTask        = "tasks/update"
	OpUpdateTaskStatus  = "tasks/updateStatus"
	OpDeleteTask        = "tasks/delete"
	OpAddTaskComment    = "tasks/addComment"
	OpAddTaskAttachment = "tasks/addAttachment"
)

// FetchTasks replaces the tasks collection.
func (o *Orchestrator) FetchTasks(ctx context.Context) *Handle[[]*model.Task] {
	return run(o, ctx, OpFetchTasks, model.KindTask,
		o.repo.Tasks.List,
		func(ts []*model.Task) { _ = o.cache.ReplaceCollection(cache.Tasks, cache.Entities(ts)) })
}

// FetchUserTasks replaces the userTasks collection with uid's tasks.
func (o *Orchestrator) FetchUserTasks(ctx context.Context, uid string) *Handle[[]*model.Task] {
	return run(o, ctx, OpFetchUserTasks, model.KindTask,
		func(ctx context.Context) ([]*model.Task, error) { return o.repo.Tasks.ListForUser(ctx, uid) },
		func(ts []*model.Task) { _ = o.cache.ReplaceCollection(cache.UserTasks, cache.Entities(ts)) })
}

// FetchTask loads one task and selects it.
func (o *Orchestrator) FetchTask(ctx context.Context, id string) *Handle[*model.Task] {
	return run(o, ctx, OpFetchTask, model.KindTask,
		func(ctx context.Context) (*model.Task, error) { return o.repo.Tasks.Get(ctx, id) },
		func(t *model.Task) { o.cache.Select(t) })
}

// CreateTask creates a task as the signed-in user.
func (o *Orchestrator) CreateTask(ctx context.Context, in aggregate.NewTask) *Handle[*model.Task] {
	return run(o, ctx, OpCreateTask, model.KindTask,
		func(ctx context.Context) (*model.Task, error) { return o.repo.Tasks.Create(ctx, o.Actor(), in) },
		o.applyTask)
}

// UpdateTask applies a partial update.
func (o *Orchestrator) UpdateTask(ctx context.Context, id string, u aggregate.TaskUpdate) *Handle[*model.Task] {
	return run(o, ctx, OpUpdateTask, model.KindTask,
		func(ctx context.Context) (*model.Task, error) { return o.repo.Tasks.Update(ctx, o.Actor(), id, u) },
		o.applyTask)
}

// UpdateTaskStatus changes only the status.
func (o *Orchestrator) UpdateTaskStatus(ctx context.Context, id string, status model.TaskStatus) *Handle[*model.Task] {
	return run(o, ctx, OpUpdateTaskStatus, model.KindTask,
		func(ctx context.Context) (*model.Task, error) {
			return o.repo.Tasks.UpdateStatus(ctx, o.Actor(), id, status)
		},
		o.applyTask)
}

// DeleteTask deletes a task and its notifications.
func (o *Orchestrator) DeleteTask(ctx context.Context, id string) *Handle[string] {
	return run(o, ctx, OpDeleteTask, model.KindTask,
		func(ctx context.Context) (string, error) { return id, o.repo.Tasks.Delete(ctx, id) },
		func(id string) {
			o.cache.RemoveEntity(cache.Tasks, id)
			o.dropNotificationsFor(func(n *model.Notification) bool { return n.TaskID == id })
		})
}

// AddTaskComment appends a comment by author.
func (o *Orchestrator) AddTaskComment(ctx context.Context, author aggregate.Actor, taskID, text string) *Handle[*model.Task] {
	return run(o, ctx, OpAddTaskComment, model.KindTask,
		func(ctx context.Context) (*model.Task, error) {
			return o.repo.Tasks.AddComment(ctx, author, taskID, text)
		},
		o.applyTask)
}

// AddTaskAttachment appends an uploaded file record.
func (o *Orchestrator) AddTaskAttachment(ctx context.Context, taskID string, f model.File) *Handle[*model.Task] {
	return run(o, ctx, OpAddTaskAttachment, model.KindTask,
		func(ctx context.Context) (*model.Task, error) { return o.repo.Tasks.AddAttachment(ctx, taskID, f) },
		o.applyTask)
}

func (o *Orchestrator) applyTask(t *model.Task) {
	_ = o.cache.UpsertEntity(cache.Tasks, t)
	o.syncScoped(cache.UserTasks, t, t.AssignedTo)
}
