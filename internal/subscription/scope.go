package subscription

import (
	"github.com/mschirtzinger/tracksync/internal/aggregate"
	"github.com/mschirtzinger/tracksync/internal/cache"
	"github.com/mschirtzinger/tracksync/internal/remote"
)

// Scope is the (entity type, filter) pair a listener is attached to. Every
// snapshot of Query over Source replaces the cache collection Target.
type Scope struct {
	Source string
	Query  remote.Query
	Target cache.Name
}

// Key identifies the scope. Two scopes with the same key share at most one
// live listener.
func (s Scope) Key() string {
	return s.Source + "|" + string(s.Target) + "|" + s.Query.String()
}

func (s Scope) String() string { return s.Key() }

// AllProjects follows every project.
func AllProjects() Scope {
	return Scope{Source: remote.CollectionProjects, Query: aggregate.AllProjectsQuery(), Target: cache.Projects}
}

// ProjectsForUser follows the projects assigned to uid.
func ProjectsForUser(uid string) Scope {
	return Scope{Source: remote.CollectionProjects, Query: aggregate.UserProjectsQuery(uid), Target: cache.UserProjects}
}

// AllTasks follows every task.
func AllTasks() Scope {
	return Scope{Source: remote.CollectionTasks, Query: aggregate.AllTasksQuery(), Target: cache.Tasks}
}

// TasksForUser follows the tasks assigned to uid.
func TasksForUser(uid string) Scope {
	return Scope{Source: remote.CollectionTasks, Query: aggregate.UserTasksQuery(uid), Target: cache.UserTasks}
}

// NotificationsForUser follows uid's notifications.
func NotificationsForUser(uid string) Scope {
	return Scope{Source: remote.CollectionNotifications, Query: aggregate.UserNotificationsQuery(uid), Target: cache.Notifications}
}

// AllUsers follows every user.
func AllUsers() Scope {
	return Scope{Source: remote.CollectionUsers, Query: aggregate.AllUsersQuery(), Target: cache.Users}
}

// ApprovedUsers follows the users that may be assigned work.
func ApprovedUsers() Scope {
	return Scope{Source: remote.CollectionUsers, Query: aggregate.ApprovedUsersQuery(), Target: cache.ApprovedUsers}
}

// ForUser returns the scopes a signed-in user follows. Admins also follow
// the unscoped collections.
func ForUser(uid string, admin bool) []Scope {
	scopes := []Scope{
		ProjectsForUser(uid),
		TasksForUser(uid),
		NotificationsForUser(uid),
		ApprovedUsers(),
	}
	if admin {
		scopes = append(scopes, AllProjects(), AllTasks(), AllUsers())
	}
	return scopes
}
