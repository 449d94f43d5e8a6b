package model

import (
	"encoding/json"
	"fmt"

	"github.com/mschirtzinger/tracksync/internal/remote"
)

// Kind tags the concrete type behind an Entity.
type Kind string

const (
	KindProject      Kind = "project"
	KindTask         Kind = "task"
	KindUser         Kind = "user"
	KindNotification Kind = "notification"
)

// Kinds lists every entity kind.
var Kinds = []Kind{KindProject, KindTask, KindUser, KindNotification}

// Collection returns the remote collection that stores entities of this kind.
func (k Kind) Collection() string {
	switch k {
	case KindProject:
		return remote.CollectionProjects
	case KindTask:
		return remote.CollectionTasks
	case KindUser:
		return remote.CollectionUsers
	case KindNotification:
		return remote.CollectionNotifications
	default:
		return ""
	}
}

// String returns the kind name.
func (k Kind) String() string {
	return string(k)
}

// KindForCollection maps a remote collection name back to its Kind.
func KindForCollection(collection string) (Kind, error) {
	for _, k := range Kinds {
		if k.Collection() == collection {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: %s", remote.ErrUnknownCollection, collection)
}

// Entity is implemented by every top-level persisted type.
type Entity interface {
	EntityID() string
	Kind() Kind
}

// Decode converts a raw document from collection into its typed Entity.
func Decode(collection string, doc remote.Document) (Entity, error) {
	switch collection {
	case remote.CollectionProjects:
		return DecodeProject(doc)
	case remote.CollectionTasks:
		return DecodeTask(doc)
	case remote.CollectionUsers:
		return DecodeUser(doc)
	case remote.CollectionNotifications:
		return DecodeNotification(doc)
	default:
		return nil, fmt.Errorf("%w: %s", remote.ErrUnknownCollection, collection)
	}
}

// CloneEntity returns a deep copy of e.
func CloneEntity(e Entity) Entity {
	switch v := e.(type) {
	case *Project:
		return v.Clone()
	case *Task:
		return v.Clone()
	case *User:
		return v.Clone()
	case *Notification:
		return v.Clone()
	default:
		return e
	}
}

// UnmarshalEntity decodes the JSON form of an entity of the given kind.
func UnmarshalEntity(kind Kind, data []byte) (Entity, error) {
	var e Entity
	switch kind {
	case KindProject:
		e = &Project{}
	case KindTask:
		e = &Task{}
	case KindUser:
		e = &User{}
	case KindNotification:
		e = &Notification{}
	default:
		return nil, fmt.Errorf("unknown entity kind %q", kind)
	}
	if err := json.Unmarshal(data, e); err != nil {
		return nil, fmt.Errorf("decode %s: %w", kind, err)
	}
	return e, nil
}
