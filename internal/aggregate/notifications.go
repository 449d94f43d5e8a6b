package aggregate

import (
	"context"
	"fmt"

	"github.com/mschirtzinger/tracksync/internal/model"
	"github.com/mschirtzinger/tracksync/internal/remote"
)

// NotificationRepo reads and updates a user's notifications. Creation is
// the fan-out service's job.
type NotificationRepo struct {
	*deps
}

// UserNotificationsQuery selects uid's notifications, newest first.
func UserNotificationsQuery(uid string) remote.Query {
	return remote.Query{
		Filters:    []remote.Filter{remote.Where("userId", remote.OpEqual, uid)},
		OrderBy:    "createdAt",
		Descending: true,
	}
}

// ListForUser returns uid's notifications, newest first.
func (r *NotificationRepo) ListForUser(ctx context.Context, uid string) ([]*model.Notification, error) {
	docs, err := r.store.Query(ctx, remote.CollectionNotifications, UserNotificationsQuery(uid))
	if err != nil {
		return nil, err
	}
	out := make([]*model.Notification, 0, len(docs))
	for _, doc := range docs {
		n, err := model.DecodeNotification(doc)
		if err != nil {
			r.log.WithError(err).WithField("notification_id", doc.ID).Warn("skipping invalid notification document")
			continue
		}
		out = append(out, n)
	}
	return out, nil
}

// Get returns one notification.
func (r *NotificationRepo) Get(ctx context.Context, id string) (*model.Notification, error) {
	doc, err := r.store.Get(ctx, remote.CollectionNotifications, id)
	if err != nil {
		return nil, err
	}
	return model.DecodeNotification(doc)
}

// MarkRead flags one notification as read.
func (r *NotificationRepo) MarkRead(ctx context.Context, id string) (*model.Notification, error) {
	if err := r.store.Update(ctx, remote.CollectionNotifications, id, map[string]any{"read": true}); err != nil {
		return nil, fmt.Errorf("failed to mark notification %s read: %w", id, err)
	}
	return r.Get(ctx, id)
}

// MarkAllRead flags every unread notification of uid and reports how many
// changed.
func (r *NotificationRepo) MarkAllRead(ctx context.Context, uid string) (int, error) {
	docs, err := r.store.Query(ctx, remote.CollectionNotifications, remote.Query{
		Filters: []remote.Filter{
			remote.Where("userId", remote.OpEqual, uid),
			remote.Where("read", remote.OpEqual, false),
		},
	})
	if err != nil {
		return 0, err
	}
	for i, doc := range docs {
		if err := r.store.Update(ctx, remote.CollectionNotifications, doc.ID, map[string]any{"read": true}); err != nil {
			return i, fmt.Errorf("failed to mark notification %s read: %w", doc.ID, err)
		}
	}
	return len(docs), nil
}

// Delete removes one notification.
func (r *NotificationRepo) Delete(ctx context.Context, id string) error {
	return r.store.Delete(ctx, remote.CollectionNotifications, id)
}

// deleteNotifications removes every notification matching f.
func deleteNotifications(ctx context.Context, d *deps, f remote.Filter) error {
	docs, err := d.store.Query(ctx, remote.CollectionNotifications, remote.Query{Filters: []remote.Filter{f}})
	if err != nil {
		return fmt.Errorf("failed to find notifications where %s: %w", f, err)
	}
	for _, doc := range docs {
		if err := d.store.Delete(ctx, remote.CollectionNotifications, doc.ID); err != nil {
			return fmt.Errorf("failed to delete notification %s: %w", doc.ID, err)
		}
	}
	return nil
}
