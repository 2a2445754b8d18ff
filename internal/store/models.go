package store

import "time"

type User struct {
	ID           string
	Email        string
	DisplayName  string
	PasswordHash string
	CreatedAt    time.Time
}

type Note struct {
	ID            string
	Title         string
	Content       string
	VersionNumber int
	CreatedBy     string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// VisibleNote is a note joined with the caller's membership.
type VisibleNote struct {
	Note
	RoleID string
}

type Membership struct {
	NoteID      string
	UserID      string
	RoleID      string
	Email       string
	DisplayName string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type Invitation struct {
	ID        string
	NoteID    string
	Email     string
	RoleID    string
	SentBy    string
	TokenHash string
	ExpiresAt time.Time
	CreatedAt time.Time
}

type ShareLink struct {
	ID        string
	NoteID    string
	TokenHash string
	CreatedBy string
	Scope     string
	ExpiresAt time.Time
	CreatedAt time.Time
}

type NoteVersion struct {
	ID            string
	NoteID        string
	VersionNumber int
	Title         string
	Content       string
	ChangedBy     string
	CreatedAt     time.Time
}

type Comment struct {
	ID              string
	NoteID          string
	AuthorID        string
	AuthorLabel     string
	Content         string
	ParentCommentID string
	CreatedAt       time.Time
}
