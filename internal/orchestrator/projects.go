package orchestrator

import (
	"context"

	"github.com/mschirtzinger/tracksync/internal/aggregate"
	"github.com/mschirtzinger/tracksync/internal/cache"
	"github.com/mschirtzinger/tracksync/internal/model"
)

// Operation names for projects.
const (
	OpFetchProjects       = "projects/fetchAll"
	OpFetchUserProjects   = "projects/fetchForUser"
	OpFetchProject        = "projects/fetchOne"
	OpCreateProject       = "projects/create"
	OpUpdateProject       = "projects/update"
	OpUpdateProjectStatus = "projects/updateStatus"
	OpDeleteProject       = "projects/delete"
	OpAddSubTask          = "projects/addSubTask"
	OpUpdateSubTask       = "projects/updateSubTask"
	OpDeleteSubTask       = "projects/deleteSubTask"
	OpAddComment          = "projects/addComment"
	OpAddFile             = "projects/addFile"
)

// FetchProjects replaces the projects collection.
func (o *Orchestrator) FetchProjects(ctx context.Context) *Handle[[]*model.Project] {
	return run(o, ctx, OpFetchProjects, model.KindProject,
		o.repo.Projects.List,
		func(ps []*model.Project) { _ = o.cache.ReplaceCollection(cache.Projects, cache.Entities(ps)) })
}

// FetchUserProjects replaces the userProjects collection with uid's projects.
func (o *Orchestrator) FetchUserProjects(ctx context.Context, uid string) *Handle[[]*model.Project] {
	return run(o, ctx, OpFetchUserProjects, model.KindProject,
		func(ctx context.Context) ([]*model.Project, error) { return o.repo.Projects.ListForUser(ctx, uid) },
		func(ps []*model.Project) { _ = o.cache.ReplaceCollection(cache.UserProjects, cache.Entities(ps)) })
}

// FetchProject loads one project and selects it.
func (o *Orchestrator) FetchProject(ctx context.Context, id string) *Handle[*model.Project] {
	return run(o, ctx, OpFetchProject, model.KindProject,
		func(ctx context.Context) (*model.Project, error) { return o.repo.Projects.Get(ctx, id) },
		func(p *model.Project) { o.cache.Select(p) })
}

// CreateProject creates a project as the signed-in user.
func (o *Orchestrator) CreateProject(ctx context.Context, in aggregate.NewProject) *Handle[*model.Project] {
	return run(o, ctx, OpCreateProject, model.KindProject,
		func(ctx context.Context) (*model.Project, error) { return o.repo.Projects.Create(ctx, o.Actor(), in) },
		o.applyProject)
}

// UpdateProject applies a partial update.
func (o *Orchestrator) UpdateProject(ctx context.Context, id string, u aggregate.ProjectUpdate) *Handle[*model.Project] {
	return run(o, ctx, OpUpdateProject, model.KindProject,
		func(ctx context.Context) (*model.Project, error) { return o.repo.Projects.Update(ctx, o.Actor(), id, u) },
		o.applyProject)
}

// UpdateProjectStatus changes only the status.
func (o *Orchestrator) UpdateProjectStatus(ctx context.Context, id string, status model.ProjectStatus) *Handle[*model.Project] {
	return run(o, ctx, OpUpdateProjectStatus, model.KindProject,
		func(ctx context.Context) (*model.Project, error) {
			return o.repo.Projects.UpdateStatus(ctx, o.Actor(), id, status)
		},
		o.applyProject)
}

// DeleteProject deletes a project and everything that references it.
func (o *Orchestrator) DeleteProject(ctx context.Context, id string) *Handle[string] {
	return run(o, ctx, OpDeleteProject, model.KindProject,
		func(ctx context.Context) (string, error) { return id, o.repo.Projects.Delete(ctx, id) },
		func(id string) {
			o.cache.RemoveEntity(cache.Projects, id)
			o.dropNotificationsFor(func(n *model.Notification) bool { return n.ProjectID == id })
		})
}

// AddSubTask appends a subtask.
func (o *Orchestrator) AddSubTask(ctx context.Context, projectID, title string) *Handle[*model.Project] {
	return run(o, ctx, OpAddSubTask, model.KindProject,
		func(ctx context.Context) (*model.Project, error) {
			return o.repo.Projects.AddSubTask(ctx, o.Actor(), projectID, title)
		},
		o.applyProject)
}

// UpdateSubTask edits one subtask.
func (o *Orchestrator) UpdateSubTask(ctx context.Context, projectID, subTaskID string, u aggregate.SubTaskUpdate) *Handle[*model.Project] {
	return run(o, ctx, OpUpdateSubTask, model.KindProject,
		func(ctx context.Context) (*model.Project, error) {
			return o.repo.Projects.UpdateSubTask(ctx, projectID, subTaskID, u)
		},
		o.applyProject)
}

// DeleteSubTask removes one subtask.
func (o *Orchestrator) DeleteSubTask(ctx context.Context, projectID, subTaskID string) *Handle[*model.Project] {
	return run(o, ctx, OpDeleteSubTask, model.KindProject,
		func(ctx context.Context) (*model.Project, error) {
			return o.repo.Projects.DeleteSubTask(ctx, projectID, subTaskID)
		},
		o.applyProject)
}

// AddComment comments on a project as author.
func (o *Orchestrator) AddComment(ctx context.Context, author aggregate.Actor, projectID, text string) *Handle[*model.Project] {
	return run(o, ctx, OpAddComment, model.KindProject,
		func(ctx context.Context) (*model.Project, error) {
			return o.repo.Projects.AddComment(ctx, author, projectID, text)
		},
		o.applyProject)
}

// AddFile attaches an uploaded file record.
func (o *Orchestrator) AddFile(ctx context.Context, projectID string, f model.File) *Handle[*model.Project] {
	return run(o, ctx, OpAddFile, model.KindProject,
		func(ctx context.Context) (*model.Project, error) {
			return o.repo.Projects.AddFile(ctx, o.Actor(), projectID, f)
		},
		o.applyProject)
}

// applyProject writes a re-read project into every view that should hold it.
func (o *Orchestrator) applyProject(p *model.Project) {
	_ = o.cache.UpsertEntity(cache.Projects, p)
	o.syncScoped(cache.UserProjects, p, p.AssignedTo)
}

// syncScoped keeps e's membership of a user-scoped view in step with its
// assignees.
func (o *Orchestrator) syncScoped(name cache.Name, e model.Entity, assignees []string) {
	if o.userID == "" {
		return
	}
	if model.Contains(assignees, o.userID) {
		_ = o.cache.UpsertEntity(name, e)
		return
	}
	o.cache.RemoveFrom(name, e.EntityID())
}

func (o *Orchestrator) dropNotificationsFor(match func(*model.Notification) bool) {
	for _, n := range cache.Items[*model.Notification](o.cache, cache.Notifications) {
		if match(n) {
			o.cache.RemoveEntity(cache.Notifications, n.ID)
		}
	}
}
