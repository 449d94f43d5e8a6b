package orchestrator

import (
	"context"

	"github.com/mschirtzinger/tracksync/internal/cache"
	"github.com/mschirtzinger/tracksync/internal/model"
)

const (
	OpFetchUsers         = "users/fetchAll"
	OpFetchApprovedUsers = "users/fetchApproved"
	OpApproveUser        = "users/approve"

	OpFetchNotifications = "notifications/fetch"
	OpMarkRead           = "notifications/markRead"
	OpMarkAllRead        = "notifications/markAllRead"
	OpDeleteNotification = "notifications/delete"
)

func (o *Orchestrator) FetchUsers(ctx context.Context) *Handle[[]*model.User] {
	return run(o, ctx, OpFetchUsers, model.KindUser,
		o.repo.Users.List,
		func(us []*model.User) { _ = o.cache.ReplaceCollection(cache.Users, cache.Entities(us)) })
}

func (o *Orchestrator) FetchApprovedUsers(ctx context.Context) *Handle[[]*model.User] {
	return run(o, ctx, OpFetchApprovedUsers, model.KindUser,
		o.repo.Users.ListApproved,
		func(us []*model.User) { _ = o.cache.ReplaceCollection(cache.ApprovedUsers, cache.Entities(us)) })
}

// ApproveUser flags uid as approved and adds it to the approved view.
func (o *Orchestrator) ApproveUser(ctx context.Context, uid string) *Handle[*model.User] {
	return run(o, ctx, OpApproveUser, model.KindUser,
		func(ctx context.Context) (*model.User, error) { return o.repo.Users.Approve(ctx, uid) },
		func(u *model.User) {
			_ = o.cache.UpsertEntity(cache.Users, u)
			_ = o.cache.UpsertEntity(cache.ApprovedUsers, u)
		})
}

// FetchNotifications replaces the notifications collection with the
// signed-in user's notifications.
func (o *Orchestrator) FetchNotifications(ctx context.Context) *Handle[[]*model.Notification] {
	return run(o, ctx, OpFetchNotifications, model.KindNotification,
		func(ctx context.Context) ([]*model.Notification, error) {
			return o.repo.Notifications.ListForUser(ctx, o.userID)
		},
		func(ns []*model.Notification) {
			_ = o.cache.ReplaceCollection(cache.Notifications, cache.Entities(ns))
		})
}

func (o *Orchestrator) MarkRead(ctx context.Context, id string) *Handle[*model.Notification] {
	return run(o, ctx, OpMarkRead, model.KindNotification,
		func(ctx context.Context) (*model.Notification, error) { return o.repo.Notifications.MarkRead(ctx, id) },
		func(n *model.Notification) { _ = o.cache.UpsertEntity(cache.Notifications, n) })
}

// MarkAllRead flags every notification of the signed-in user as read and
// returns how many changed.
func (o *Orchestrator) MarkAllRead(ctx context.Context) *Handle[int] {
	return run(o, ctx, OpMarkAllRead, model.KindNotification,
		func(ctx context.Context) (int, error) { return o.repo.Notifications.MarkAllRead(ctx, o.userID) },
		func(int) {
			for _, n := range cache.Items[*model.Notification](o.cache, cache.Notifications) {
				if n.Read {
					continue
				}
				o.cache.PatchEntity(cache.Notifications, n.ID, func(e model.Entity) model.Entity {
					c := e.(*model.Notification)
					c.Read = true
					return c
				})
			}
		})
}

func (o *Orchestrator) DeleteNotification(ctx context.Context, id string) *Handle[string] {
	return run(o, ctx, OpDeleteNotification, model.KindNotification,
		func(ctx context.Context) (string, error) { return id, o.repo.Notifications.Delete(ctx, id) },
		func(id string) { o.cache.RemoveEntity(cache.Notifications, id) })
}
