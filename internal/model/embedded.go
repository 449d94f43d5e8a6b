package model

import (
	"sort"
	"strconv"
	"strings"
	"time"
)

// SubTask is owned by exactly one Project and lives in its subTasks array.
type SubTask struct {
	ID        string        `json:"id" yaml:"id"`
	Title     string        `json:"title" yaml:"title"`
	Status    ProjectStatus `json:"status" yaml:"status"`
	CreatedAt time.Time     `json:"createdAt" yaml:"createdAt"`
	UpdatedAt time.Time     `json:"updatedAt" yaml:"updatedAt"`
}

// Fields encodes the subtask as an embedded array element.
func (s SubTask) Fields() map[string]any {
	return map[string]any{
		"id":        s.ID,
		"title":     s.Title,
		"status":    string(s.Status),
		"createdAt": s.CreatedAt,
		"updatedAt": s.UpdatedAt,
	}
}

func decodeSubTask(r *fieldReader) SubTask {
	s := SubTask{
		ID:        r.requiredString("id"),
		Title:     r.requiredString("title"),
		CreatedAt: r.requiredTime("createdAt"),
	}
	s.Status = ProjectStatus(r.optionalString("status"))
	if s.Status == "" {
		s.Status = ProjectToDo
	} else if !s.Status.Valid() {
		r.fail(invalid(r.name("status"), "unknown status %q", s.Status))
	}
	if t := r.optionalTime("updatedAt"); t != nil {
		s.UpdatedAt = *t
	} else {
		s.UpdatedAt = s.CreatedAt
	}
	return s
}

// Comment is an append-only note on a project or task.
type Comment struct {
	ID         string    `json:"id" yaml:"id"`
	AuthorID   string    `json:"authorId" yaml:"authorId"`
	AuthorName string    `json:"authorName,omitempty" yaml:"authorName,omitempty"`
	Text       string    `json:"text" yaml:"text"`
	CreatedAt  time.Time `json:"createdAt" yaml:"createdAt"`
}

// Fields encodes the comment as an embedded array element.
func (c Comment) Fields() map[string]any {
	f := map[string]any{
		"id":        c.ID,
		"authorId":  c.AuthorID,
		"text":      c.Text,
		"createdAt": c.CreatedAt,
	}
	if c.AuthorName != "" {
		f["authorName"] = c.AuthorName
	}
	return f
}

func decodeComment(r *fieldReader) Comment {
	return Comment{
		ID:         r.requiredString("id"),
		AuthorID:   r.requiredString("authorId"),
		AuthorName: r.optionalString("authorName"),
		Text:       r.requiredString("text"),
		CreatedAt:  r.requiredTime("createdAt"),
	}
}

// SortedComments returns a copy of comments ordered newest first.
// Ordering is a display concern and is never persisted.
func SortedComments(comments []Comment) []Comment {
	out := make([]Comment, len(comments))
	copy(out, comments)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// File references an uploaded blob. The blob store owns the URL; the parent
// document only keeps this record.
type File struct {
	ID         string    `json:"id" yaml:"id"`
	Name       string    `json:"name" yaml:"name"`
	URL        string    `json:"url" yaml:"url"`
	Type       string    `json:"type" yaml:"type"`
	Size       int64     `json:"size" yaml:"size"`
	UploadedAt time.Time `json:"uploadedAt" yaml:"uploadedAt"`
}

// IsImage reports whether the file should be filed under images.
func (f File) IsImage() bool {
	return IsImageType(f.Type)
}

// IsImageType classifies a MIME type.
func IsImageType(mimeType string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(mimeType)), "image/")
}

// Fields encodes the file as an embedded array element.
func (f File) Fields() map[string]any {
	return map[string]any{
		"id":         f.ID,
		"name":       f.Name,
		"url":        f.URL,
		"type":       f.Type,
		"size":       f.Size,
		"uploadedAt": f.UploadedAt,
	}
}

func decodeFile(r *fieldReader) File {
	return File{
		ID:         r.requiredString("id"),
		Name:       r.requiredString("name"),
		URL:        r.requiredString("url"),
		Type:       r.optionalString("type"),
		Size:       r.optionalInt64("size"),
		UploadedAt: r.requiredTime("uploadedAt"),
	}
}

func (r *fieldReader) subTasks(key string) []SubTask {
	objs := r.objects(key)
	out := make([]SubTask, 0, len(objs))
	for i, obj := range objs {
		out = append(out, decodeSubTask(r.childAt(obj, key, i)))
	}
	return out
}

func (r *fieldReader) comments(key string) []Comment {
	objs := r.objects(key)
	out := make([]Comment, 0, len(objs))
	for i, obj := range objs {
		out = append(out, decodeComment(r.childAt(obj, key, i)))
	}
	return out
}

func (r *fieldReader) files(key string) []File {
	objs := r.objects(key)
	out := make([]File, 0, len(objs))
	for i, obj := range objs {
		out = append(out, decodeFile(r.childAt(obj, key, i)))
	}
	return out
}

func (r *fieldReader) childAt(obj map[string]any, key string, i int) *fieldReader {
	return r.child(obj, key+"["+strconv.Itoa(i)+"].")
}

func subTaskValues(items []SubTask) []any {
	out := make([]any, len(items))
	for i, s := range items {
		out[i] = s.Fields()
	}
	return out
}

func commentValues(items []Comment) []any {
	out := make([]any, len(items))
	for i, c := range items {
		out[i] = c.Fields()
	}
	return out
}

func fileValues(items []File) []any {
	out := make([]any, len(items))
	for i, f := range items {
		out[i] = f.Fields()
	}
	return out
}
