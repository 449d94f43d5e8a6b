// Package model defines the entities kept in sync between the remote document
// store and the local cache.
//
// # Overview
//
// Four top-level entities are persisted, one per collection:
//
//	users          -> User
//	projects       -> Project (aggregate: comments, files, images, subTasks)
//	tasks          -> Task    (aggregate: comments, attachments)
//	notifications  -> Notification
//
// Projects and tasks are aggregate documents: their sub-entities (SubTask,
// Comment, File) have no independent existence and are stored inline as
// arrays of the parent document.
//
// # Tagged union
//
// Every entity implements Entity, tagged by its Kind. Decode turns a raw
// remote.Document into the right concrete type and rejects payloads missing
// required keys, so nothing downstream has to trust the wire format:
//
//	ent, err := model.Decode(remote.CollectionProjects, doc)
//	if err != nil {
//	    // errors.Is(err, model.ErrInvalidDocument)
//	}
//	project := ent.(*model.Project)
//
// # Assignment normalization
//
// Older documents store assignedTo as a single user id, newer ones as a list.
// NormalizeAssignees folds both into a deduplicated list on decode; the list
// form is the only one ever written back.
//
// # Immutability
//
// Entities held by the cache are treated as immutable values. Code that needs
// to change one calls Clone and works on the copy.
package model
