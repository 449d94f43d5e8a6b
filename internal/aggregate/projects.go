package aggregate

import (
	"context"
	"fmt"
	"time"

	"github.com/mschirtzinger/tracksync/internal/fanout"
	"github.com/mschirtzinger/tracksync/internal/model"
	"github.com/mschirtzinger/tracksync/internal/remote"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// ProjectRepo owns project documents and their embedded collections.
type ProjectRepo struct {
	*deps
	users *UserRepo
}

// NewProject is the input of Create.
type NewProject struct {
	Title          string
	Description    string
	Status         model.ProjectStatus
	Priority       model.ProjectPriority
	AssignedTo     any // a single uid or a list; normalized on write
	EstimatedHours float64
	StartDate      *time.Time
	EndDate        *time.Time
}

// ProjectUpdate lists the fields an update may change. Nil means unchanged.
type ProjectUpdate struct {
	Title          *string
	Description    *string
	Status         *model.ProjectStatus
	Priority       *model.ProjectPriority
	AssignedTo     *[]string
	Progress       *int
	EstimatedHours *float64
	ActualHours    *float64
	StartDate      *time.Time
	EndDate        *time.Time
}

// SubTaskUpdate lists the subtask fields an update may change.
type SubTaskUpdate struct {
	Title  *string
	Status *model.ProjectStatus
}

// Get returns one project.
func (r *ProjectRepo) Get(ctx context.Context, id string) (*model.Project, error) {
	doc, err := r.store.Get(ctx, remote.CollectionProjects, id)
	if err != nil {
		return nil, err
	}
	return model.DecodeProject(doc)
}

// List returns every project, newest first.
func (r *ProjectRepo) List(ctx context.Context) ([]*model.Project, error) {
	return r.query(ctx, AllProjectsQuery())
}

// ListForUser returns the projects assigned to uid, newest first.
func (r *ProjectRepo) ListForUser(ctx context.Context, uid string) ([]*model.Project, error) {
	return r.query(ctx, UserProjectsQuery(uid))
}

// AllProjectsQuery selects every project.
func AllProjectsQuery() remote.Query {
	return remote.Query{OrderBy: "createdAt", Descending: true}
}

// UserProjectsQuery selects the projects assigned to uid.
func UserProjectsQuery(uid string) remote.Query {
	return remote.Query{
		Filters:    []remote.Filter{remote.Where("assignedTo", remote.OpArrayContains, uid)},
		OrderBy:    "createdAt",
		Descending: true,
	}
}

func (r *ProjectRepo) query(ctx context.Context, q remote.Query) ([]*model.Project, error) {
	docs, err := r.store.Query(ctx, remote.CollectionProjects, q)
	if err != nil {
		return nil, err
	}
	out := make([]*model.Project, 0, len(docs))
	for _, doc := range docs {
		p, err := model.DecodeProject(doc)
		if err != nil {
			r.log.WithError(err).WithField("project_id", doc.ID).Warn("skipping invalid project document")
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

// Create writes a new project, links it to its assignees and notifies them.
func (r *ProjectRepo) Create(ctx context.Context, actor Actor, in NewProject) (*model.Project, error) {
	assignees, err := model.NormalizeAssignees(in.AssignedTo)
	if err != nil {
		return nil, fmt.Errorf("create project: %w", &model.FieldError{Field: "assignedTo", Reason: err.Error()})
	}
	now := r.timestamp()
	p := &model.Project{
		Title:          in.Title,
		Description:    in.Description,
		Status:         in.Status,
		Priority:       in.Priority,
		AssignedTo:     assignees,
		CreatedBy:      actor.ID,
		Progress:       0,
		EstimatedHours: in.EstimatedHours,
		StartDate:      in.StartDate,
		EndDate:        in.EndDate,
		Comments:       []model.Comment{},
		Files:          []model.File{},
		Images:         []model.File{},
		SubTasks:       []model.SubTask{},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if p.Status == "" {
		p.Status = model.ProjectToDo
	}
	if p.Priority == "" {
		p.Priority = model.ProjectMedium
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("create project: %w", err)
	}

	id, err := r.store.Create(ctx, remote.CollectionProjects, p.Fields())
	if err != nil {
		return nil, fmt.Errorf("failed to create project: %w", err)
	}
	if err := r.users.addProject(ctx, id, assignees); err != nil {
		return nil, err
	}

	created, err := r.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to re-read project %s: %w", id, err)
	}

	r.publish(ctx, fanout.Descriptor{
		Action:    model.ActionProjectAssigned,
		Actor:     actor.ID,
		Targets:   assignees,
		ProjectID: id,
		Title:     "New project assigned",
		Message:   fmt.Sprintf("You have been assigned to project %q", created.Title),
	})
	return created, nil
}

// Update applies u, keeps the assignment back-references in step and
// notifies: admins on a status change, newly added assignees on assignment,
// and the remaining assignees on any other change.
func (r *ProjectRepo) Update(ctx context.Context, actor Actor, id string, u ProjectUpdate) (*model.Project, error) {
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
	if u.Progress != nil {
		next.Progress = *u.Progress
		fields["progress"] = next.Progress
	}
	if u.EstimatedHours != nil {
		next.EstimatedHours = *u.EstimatedHours
		fields["estimatedHours"] = next.EstimatedHours
	}
	if u.ActualHours != nil {
		next.ActualHours = *u.ActualHours
		fields["actualHours"] = next.ActualHours
	}
	if u.StartDate != nil {
		t := u.StartDate.UTC()
		next.StartDate = &t
		fields["startDate"] = t
	}
	if u.EndDate != nil {
		t := u.EndDate.UTC()
		next.EndDate = &t
		fields["endDate"] = t
	}
	if err := next.Validate(); err != nil {
		return nil, fmt.Errorf("update project %s: %w", id, err)
	}
	fields["updatedAt"] = r.advance(cur.UpdatedAt)

	if err := r.store.Update(ctx, remote.CollectionProjects, id, fields); err != nil {
		return nil, fmt.Errorf("failed to update project %s: %w", id, err)
	}

	added, removed := model.Diff(cur.AssignedTo, next.AssignedTo)
	if err := r.users.addProject(ctx, id, added); err != nil {
		return nil, err
	}
	if err := r.users.removeProject(ctx, id, removed); err != nil {
		return nil, err
	}

	updated, err := r.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to re-read project %s: %w", id, err)
	}

	if updated.Status != cur.Status {
		r.publish(ctx, fanout.Descriptor{
			Action:    model.ActionStatusChanged,
			Actor:     actor.ID,
			Targets:   r.users.adminIDs(ctx),
			ProjectID: id,
			Title:     "Project status changed",
			Message:   fmt.Sprintf("Project %q moved from %s to %s", updated.Title, cur.Status, updated.Status),
		})
	}
	if len(added) > 0 {
		r.publish(ctx, fanout.Descriptor{
			Action:    model.ActionProjectAssigned,
			Actor:     actor.ID,
			Targets:   added,
			ProjectID: id,
			Title:     "New project assigned",
			Message:   fmt.Sprintf("You have been assigned to project %q", updated.Title),
		})
	}
	if changedBeyondStatus(u) {
		var stay []string
		for _, uid := range updated.AssignedTo {
			if !model.Contains(added, uid) {
				stay = append(stay, uid)
			}
		}
		r.publish(ctx, fanout.Descriptor{
			Action:    model.ActionProjectUpdated,
			Actor:     actor.ID,
			Targets:   stay,
			ProjectID: id,
			Title:     "Project updated",
			Message:   fmt.Sprintf("Project %q was updated", updated.Title),
		})
	}
	return updated, nil
}

func changedBeyondStatus(u ProjectUpdate) bool {
	return u.Title != nil || u.Description != nil || u.Priority != nil || u.Progress != nil ||
		u.EstimatedHours != nil || u.ActualHours != nil || u.StartDate != nil || u.EndDate != nil
}

// UpdateStatus is Update restricted to the status field.
func (r *ProjectRepo) UpdateStatus(ctx context.Context, actor Actor, id string, status model.ProjectStatus) (*model.Project, error) {
	return r.Update(ctx, actor, id, ProjectUpdate{Status: &status})
}

// Delete removes the project after deleting the notifications that reference
// it and unlinking it from every user.
func (r *ProjectRepo) Delete(ctx context.Context, id string) error {
	linked, err := r.users.linkedTo(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to find users linked to project %s: %w", id, err)
	}
	if p, err := r.Get(ctx, id); err == nil {
		for _, uid := range p.AssignedTo {
			if !model.Contains(linked, uid) {
				linked = append(linked, uid)
			}
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return deleteNotifications(gctx, r.deps, remote.Where("projectId", remote.OpEqual, id))
	})
	g.Go(func() error {
		return r.users.removeProject(gctx, id, linked)
	})
	if err := g.Wait(); err != nil {
		return fmt.Errorf("failed to cascade delete of project %s: %w", id, err)
	}

	if err := r.store.Delete(ctx, remote.CollectionProjects, id); err != nil {
		return fmt.Errorf("failed to delete project %s: %w", id, err)
	}
	r.log.WithFields(logrus.Fields{"project_id": id, "unlinked": len(linked)}).Info("project deleted")
	return nil
}

// AddSubTask appends a new subtask with a client-generated id.
func (r *ProjectRepo) AddSubTask(ctx context.Context, actor Actor, projectID, title string) (*model.Project, error) {
	if title == "" {
		return nil, fmt.Errorf("add subtask: %w", &model.FieldError{Field: "title", Reason: "is required"})
	}
	now := r.timestamp()
	st := model.SubTask{
		ID:        r.newID(),
		Title:     title,
		Status:    model.ProjectToDo,
		CreatedAt: now,
		UpdatedAt: now,
	}
	p, err := r.appendItem(ctx, projectID, "subTasks", st.Fields())
	if err != nil {
		return nil, err
	}
	r.publish(ctx, fanout.Descriptor{
		Action:    model.ActionSubTaskAdded,
		Actor:     actor.ID,
		Targets:   p.AssignedTo,
		ProjectID: projectID,
		Title:     "Subtask added",
		Message:   fmt.Sprintf("Subtask %q was added to project %q", title, p.Title),
	})
	return p, nil
}

// UpdateSubTask rewrites the whole subTasks array with one element changed.
// Concurrent edits of other subtasks of the same project may be lost.
func (r *ProjectRepo) UpdateSubTask(ctx context.Context, projectID, subTaskID string, u SubTaskUpdate) (*model.Project, error) {
	if u.Status != nil && !u.Status.Valid() {
		return nil, fmt.Errorf("update subtask: %w", &model.FieldError{Field: "status", Reason: fmt.Sprintf("unknown status %q", *u.Status)})
	}
	return r.rewriteSubTasks(ctx, projectID, subTaskID, func(items []model.SubTask, i int, now time.Time) []model.SubTask {
		if u.Title != nil {
			items[i].Title = *u.Title
		}
		if u.Status != nil {
			items[i].Status = *u.Status
		}
		items[i].UpdatedAt = now
		return items
	})
}

// DeleteSubTask rewrites the whole subTasks array without one element.
func (r *ProjectRepo) DeleteSubTask(ctx context.Context, projectID, subTaskID string) (*model.Project, error) {
	return r.rewriteSubTasks(ctx, projectID, subTaskID, func(items []model.SubTask, i int, _ time.Time) []model.SubTask {
		return append(items[:i], items[i+1:]...)
	})
}

func (r *ProjectRepo) rewriteSubTasks(ctx context.Context, projectID, subTaskID string, edit func([]model.SubTask, int, time.Time) []model.SubTask) (*model.Project, error) {
	cur, err := r.Get(ctx, projectID)
	if err != nil {
		return nil, err
	}
	items := append([]model.SubTask(nil), cur.SubTasks...)
	idx := -1
	for i, s := range items {
		if s.ID == subTaskID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, fmt.Errorf("project %s: %w: %s", projectID, ErrSubTaskNotFound, subTaskID)
	}

	now := r.advance(cur.UpdatedAt)
	items = edit(items, idx, now)

	values := make([]any, len(items))
	for i, s := range items {
		values[i] = s.Fields()
	}
	err = r.store.Update(ctx, remote.CollectionProjects, projectID, map[string]any{
		"subTasks":  values,
		"updatedAt": now,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to write subtasks of project %s: %w", projectID, err)
	}
	return r.Get(ctx, projectID)
}

// AddComment appends a comment and notifies the assignees and the creator,
// never the author.
func (r *ProjectRepo) AddComment(ctx context.Context, author Actor, projectID, text string) (*model.Project, error) {
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
	p, err := r.appendItem(ctx, projectID, "comments", c.Fields())
	if err != nil {
		return nil, err
	}

	targets := append(append([]string(nil), p.AssignedTo...), p.CreatedBy)
	r.publish(ctx, fanout.Descriptor{
		Action:    model.ActionCommentAdded,
		Actor:     author.ID,
		Targets:   targets,
		ProjectID: projectID,
		Title:     "New comment",
		Message:   fmt.Sprintf("%s commented on project %q", displayName(author), p.Title),
	})
	return p, nil
}

// AddFile appends an uploaded file record to images or files depending on
// its MIME type.
func (r *ProjectRepo) AddFile(ctx context.Context, actor Actor, projectID string, f model.File) (*model.Project, error) {
	if f.ID == "" || f.URL == "" {
		return nil, fmt.Errorf("add file: %w", &model.FieldError{Field: "url", Reason: "file record is incomplete"})
	}
	if f.UploadedAt.IsZero() {
		f.UploadedAt = r.timestamp()
	}
	field := "files"
	if f.IsImage() {
		field = "images"
	}
	p, err := r.appendItem(ctx, projectID, field, f.Fields())
	if err != nil {
		return nil, err
	}
	r.publish(ctx, fanout.Descriptor{
		Action:    model.ActionFileAdded,
		Actor:     actor.ID,
		Targets:   p.AssignedTo,
		ProjectID: projectID,
		Title:     "File added",
		Message:   fmt.Sprintf("%s was added to project %q", f.Name, p.Title),
	})
	return p, nil
}

// appendItem appends item to the embedded array, moves updatedAt past its
// stored value and re-reads the project.
func (r *ProjectRepo) appendItem(ctx context.Context, projectID, field string, item map[string]any) (*model.Project, error) {
	cur, err := r.Get(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to read project %s: %w", projectID, err)
	}
	if err := r.store.ArrayAppend(ctx, remote.CollectionProjects, projectID, field, item); err != nil {
		return nil, fmt.Errorf("failed to append to %s of project %s: %w", field, projectID, err)
	}
	touched := map[string]any{"updatedAt": r.advance(cur.UpdatedAt)}
	if err := r.store.Update(ctx, remote.CollectionProjects, projectID, touched); err != nil {
		return nil, fmt.Errorf("failed to touch project %s: %w", projectID, err)
	}
	p, err := r.Get(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to re-read project %s: %w", projectID, err)
	}
	return p, nil
}

func displayName(a Actor) string {
	if a.Name != "" {
		return a.Name
	}
	return a.ID
}
