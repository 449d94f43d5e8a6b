package engine

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/mschirtzinger/tracksync/internal/inbox"
	"github.com/mschirtzinger/tracksync/internal/model"
)

// Import runs the create operation described by req and waits for it. It
// is the inbox handler.
func (e *Engine) Import(ctx context.Context, req inbox.Request) (string, error) {
	switch req.Kind {
	case model.KindProject:
		if req.Project == nil {
			return "", errors.New("project import without project fields")
		}
		p, err := e.Ops.CreateProject(ctx, *req.Project).Wait(ctx)
		if err != nil {
			return "", err
		}
		return p.ID, nil
	case model.KindTask:
		if req.Task == nil {
			return "", errors.New("task import without task fields")
		}
		t, err := e.Ops.CreateTask(ctx, *req.Task).Wait(ctx)
		if err != nil {
			return "", err
		}
		return t.ID, nil
	}
	return "", fmt.Errorf("cannot import %q", req.Kind)
}

// AttachFile uploads r to the blob store and records it on the project or
// task with the given id. The upload is removed again when recording fails.
func (e *Engine) AttachFile(ctx context.Context, kind model.Kind, id, name string, r io.Reader) (model.File, error) {
	if e.blobs == nil {
		return model.File{}, errors.New("blob storage is not configured")
	}
	if kind != model.KindProject && kind != model.KindTask {
		return model.File{}, fmt.Errorf("cannot attach files to %q", kind)
	}

	f, err := e.blobs.Put(ctx, name, r)
	if err != nil {
		return model.File{}, err
	}

	if kind == model.KindProject {
		_, err = e.Ops.AddFile(ctx, id, f).Wait(ctx)
	} else {
		_, err = e.Ops.AddTaskAttachment(ctx, id, f).Wait(ctx)
	}
	if err != nil {
		if derr := e.blobs.Delete(context.WithoutCancel(ctx), f.ID); derr != nil {
			e.log.WithError(derr).WithField("blob", f.ID).Warn("failed to remove orphaned upload")
		}
		return model.File{}, err
	}
	return f, nil
}
