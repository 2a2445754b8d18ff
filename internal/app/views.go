package app

import (
	"notegate/api/internal/gitrepo"
	"notegate/api/internal/membership"
	"notegate/api/internal/store"
)

func nilIfEmpty(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func sessionView(session Session) map[string]any {
	return map[string]any{
		"accessToken":  session.Token,
		"refreshToken": session.RefreshToken,
		"userId":       session.UserID,
		"userName":     session.UserName,
		"email":        session.Email,
		"expiresAt":    session.ExpiresAt.Unix(),
	}
}

func noteView(note store.Note) map[string]any {
	return map[string]any{
		"id":            note.ID,
		"title":         note.Title,
		"content":       note.Content,
		"versionNumber": note.VersionNumber,
		"createdBy":     note.CreatedBy,
		"createdAt":     note.CreatedAt,
		"updatedAt":     note.UpdatedAt,
	}
}

func visibleNoteView(note store.VisibleNote) map[string]any {
	view := noteView(note.Note)
	view["role"] = note.RoleID
	return view
}

func versionView(v store.NoteVersion) map[string]any {
	return map[string]any{
		"versionNumber": v.VersionNumber,
		"title":         v.Title,
		"content":       v.Content,
		"changedBy":     v.ChangedBy,
		"createdAt":     v.CreatedAt,
	}
}

func memberView(m membership.Member) map[string]any {
	view := membershipView(m.Membership)
	view["roleName"] = m.RoleName
	return view
}

func membershipView(m store.Membership) map[string]any {
	return map[string]any{
		"noteId":      m.NoteID,
		"userId":      m.UserID,
		"email":       m.Email,
		"displayName": m.DisplayName,
		"role":        m.RoleID,
		"createdAt":   m.CreatedAt,
		"updatedAt":   m.UpdatedAt,
	}
}

func invitationView(inv store.Invitation) map[string]any {
	return map[string]any{
		"id":        inv.ID,
		"noteId":    inv.NoteID,
		"email":     inv.Email,
		"role":      inv.RoleID,
		"sentBy":    inv.SentBy,
		"expiresAt": inv.ExpiresAt,
		"createdAt": inv.CreatedAt,
	}
}

func shareLinkView(link store.ShareLink) map[string]any {
	return map[string]any{
		"id":        link.ID,
		"noteId":    link.NoteID,
		"scope":     link.Scope,
		"createdBy": link.CreatedBy,
		"expiresAt": link.ExpiresAt,
		"createdAt": link.CreatedAt,
	}
}

func commentView(c store.Comment) map[string]any {
	return map[string]any{
		"id":          c.ID,
		"noteId":      c.NoteID,
		"authorId":    nilIfEmpty(c.AuthorID),
		"authorLabel": c.AuthorLabel,
		"content":     c.Content,
		"parentId":    nilIfEmpty(c.ParentCommentID),
		"createdAt":   c.CreatedAt,
	}
}

func mirrorCommitView(c gitrepo.Commit) map[string]any {
	return map[string]any{
		"hash":          c.Hash,
		"message":       c.Message,
		"author":        c.Author,
		"versionNumber": c.Version,
		"committedAt":   c.When,
	}
}

func mapEach[T any](items []T, view func(T) map[string]any) []map[string]any {
	out := make([]map[string]any, 0, len(items))
	for _, item := range items {
		out = append(out, view(item))
	}
	return out
}
