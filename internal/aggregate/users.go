package aggregate

import (
	"context"
	"errors"
	"fmt"

	"github.com/mschirtzinger/tracksync/internal/model"
	"github.com/mschirtzinger/tracksync/internal/remote"
	"github.com/sirupsen/logrus"
)

// UserRepo reads and administers user documents.
type UserRepo struct {
	*deps
}

// Get returns one user.
func (r *UserRepo) Get(ctx context.Context, uid string) (*model.User, error) {
	doc, err := r.store.Get(ctx, remote.CollectionUsers, uid)
	if err != nil {
		return nil, err
	}
	return model.DecodeUser(doc)
}

// Put creates or replaces a user document keyed by uid.
func (r *UserRepo) Put(ctx context.Context, u *model.User) (*model.User, error) {
	if u.ID == "" {
		return nil, fmt.Errorf("put user: %w", &model.FieldError{Field: "uid", Reason: "is required"})
	}
	if !u.Role.Valid() {
		return nil, fmt.Errorf("put user: %w", &model.FieldError{Field: "role", Reason: fmt.Sprintf("unknown role %q", u.Role)})
	}
	if u.Projects == nil {
		u.Projects = []string{}
	}
	if err := r.store.Set(ctx, remote.CollectionUsers, u.ID, u.Fields()); err != nil {
		return nil, fmt.Errorf("failed to store user %s: %w", u.ID, err)
	}
	return r.Get(ctx, u.ID)
}

// AllUsersQuery selects every user by display name.
func AllUsersQuery() remote.Query {
	return remote.Query{OrderBy: "displayName"}
}

// ApprovedUsersQuery selects the users that may be picked as assignees.
func ApprovedUsersQuery() remote.Query {
	return remote.Query{
		Filters: []remote.Filter{remote.Where("approved", remote.OpEqual, true)},
		OrderBy: "displayName",
	}
}

// List returns every user.
func (r *UserRepo) List(ctx context.Context) ([]*model.User, error) {
	return r.query(ctx, AllUsersQuery())
}

// ListApproved returns the users that may be picked as assignees.
func (r *UserRepo) ListApproved(ctx context.Context) ([]*model.User, error) {
	return r.query(ctx, ApprovedUsersQuery())
}

// ListAdmins returns every admin.
func (r *UserRepo) ListAdmins(ctx context.Context) ([]*model.User, error) {
	return r.query(ctx, remote.Query{
		Filters: []remote.Filter{remote.Where("role", remote.OpEqual, string(model.RoleAdmin))},
	})
}

// Approve flips the approval gate on.
func (r *UserRepo) Approve(ctx context.Context, uid string) (*model.User, error) {
	if err := r.store.Update(ctx, remote.CollectionUsers, uid, map[string]any{"approved": true}); err != nil {
		return nil, fmt.Errorf("failed to approve user %s: %w", uid, err)
	}
	return r.Get(ctx, uid)
}

func (r *UserRepo) query(ctx context.Context, q remote.Query) ([]*model.User, error) {
	docs, err := r.store.Query(ctx, remote.CollectionUsers, q)
	if err != nil {
		return nil, err
	}
	out := make([]*model.User, 0, len(docs))
	for _, doc := range docs {
		u, err := model.DecodeUser(doc)
		if err != nil {
			r.log.WithError(err).WithField("uid", doc.ID).Warn("skipping invalid user document")
			continue
		}
		out = append(out, u)
	}
	return out, nil
}

// addProject adds projectID to each user's back-reference list. Users that
// do not exist are skipped with a warning.
func (r *UserRepo) addProject(ctx context.Context, projectID string, uids []string) error {
	for _, uid := range uids {
		u, err := r.Get(ctx, uid)
		if errors.Is(err, remote.ErrNotFound) {
			r.log.WithFields(logrus.Fields{"uid": uid, "project_id": projectID}).Warn("assigned user does not exist")
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to read user %s: %w", uid, err)
		}
		if model.Contains(u.Projects, projectID) {
			continue
		}
		if err := r.store.ArrayAppend(ctx, remote.CollectionUsers, uid, "projects", projectID); err != nil {
			return fmt.Errorf("failed to link project %s to user %s: %w", projectID, uid, err)
		}
	}
	return nil
}

// removeProject drops projectID from each user's back-reference list.
func (r *UserRepo) removeProject(ctx context.Context, projectID string, uids []string) error {
	for _, uid := range uids {
		u, err := r.Get(ctx, uid)
		if errors.Is(err, remote.ErrNotFound) {
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to read user %s: %w", uid, err)
		}
		if !model.Contains(u.Projects, projectID) {
			continue
		}
		next := removeString(u.Projects, projectID)
		if err := r.store.Update(ctx, remote.CollectionUsers, uid, map[string]any{"projects": anyStrings(next)}); err != nil {
			return fmt.Errorf("failed to unlink project %s from user %s: %w", projectID, uid, err)
		}
	}
	return nil
}

// linkedTo returns the uids whose back-reference list contains projectID.
func (r *UserRepo) linkedTo(ctx context.Context, projectID string) ([]string, error) {
	docs, err := r.store.Query(ctx, remote.CollectionUsers, remote.Query{
		Filters: []remote.Filter{remote.Where("projects", remote.OpArrayContains, projectID)},
	})
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.ID)
	}
	return out, nil
}

// adminIDs returns admin uids, logging and returning nil on failure since
// it only feeds notifications.
func (r *UserRepo) adminIDs(ctx context.Context) []string {
	admins, err := r.ListAdmins(ctx)
	if err != nil {
		r.log.WithError(err).Warn("failed to list admins for notification")
		return nil
	}
	out := make([]string, 0, len(admins))
	for _, a := range admins {
		out = append(out, a.ID)
	}
	return out
}
