package model

import "github.com/mschirtzinger/tracksync/internal/remote"

// User is keyed by the auth provider uid. Projects is a back-reference list
// kept in step with Project.AssignedTo by the aggregate layer.
type User struct {
	ID          string   `json:"uid" yaml:"uid"`
	DisplayName string   `json:"displayName,omitempty" yaml:"displayName,omitempty"`
	Email       string   `json:"email,omitempty" yaml:"email,omitempty"`
	Role        Role     `json:"role" yaml:"role"`
	Approved    bool     `json:"approved" yaml:"approved"`
	Projects    []string `json:"projects" yaml:"projects"`
}

func (u *User) EntityID() string { return u.ID }
func (u *User) Kind() Kind       { return KindUser }

// IsAdmin reports whether the user holds the admin role.
func (u *User) IsAdmin() bool { return u.Role == RoleAdmin }

// Name returns the display name, falling back to email and then uid.
func (u *User) Name() string {
	switch {
	case u.DisplayName != "":
		return u.DisplayName
	case u.Email != "":
		return u.Email
	}
	return u.ID
}

// Clone returns a deep copy.
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	c := *u
	c.Projects = append([]string(nil), u.Projects...)
	return &c
}

// Fields encodes the full document.
func (u *User) Fields() map[string]any {
	return map[string]any{
		"displayName": u.DisplayName,
		"email":       u.Email,
		"role":        string(u.Role),
		"approved":    u.Approved,
		"projects":    stringsToAny(u.Projects),
	}
}

// DecodeUser builds a User from a raw document.
func DecodeUser(doc remote.Document) (*User, error) {
	r := newReader(doc.Fields)
	u := &User{
		ID:          doc.ID,
		DisplayName: r.optionalString("displayName"),
		Email:       r.optionalString("email"),
		Role:        Role(r.requiredString("role")),
		Approved:    r.optionalBool("approved"),
		Projects:    r.stringList("projects"),
	}
	if doc.ID == "" {
		r.fail(missing("uid"))
	}
	if u.Role != "" && !u.Role.Valid() {
		r.fail(invalid("role", "unknown role %q", u.Role))
	}
	if err := r.err(); err != nil {
		return nil, err
	}
	return u, nil
}
