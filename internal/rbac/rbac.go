package rbac

import (
	"fmt"
	"sort"
	"strings"

	"notegate/api/internal/fault"
)

// Permission is a capability checked against a note membership. The set is
// closed: values outside the catalog are rejected by ParsePermission.
type Permission string

const (
	PermReadNote           Permission = "read_note"
	PermEditNoteContent    Permission = "edit_note_content"
	PermDeleteNote         Permission = "delete_note"
	PermManageContributors Permission = "manage_contributors"
	PermAddComments        Permission = "add_comments"
)

type PermissionInfo struct {
	ID          int
	Name        Permission
	Description string
}

var catalog = []PermissionInfo{
	{ID: 1, Name: PermReadNote, Description: "View note title and content"},
	{ID: 2, Name: PermEditNoteContent, Description: "Change note title and content"},
	{ID: 3, Name: PermDeleteNote, Description: "Delete the note"},
	{ID: 4, Name: PermManageContributors, Description: "Invite, change roles of and remove contributors"},
	{ID: 5, Name: PermAddComments, Description: "Add comments to the note"},
}

// Catalog returns the permission catalog in id order.
func Catalog() []PermissionInfo {
	out := make([]PermissionInfo, len(catalog))
	copy(out, catalog)
	return out
}

func ParsePermission(name string) (Permission, error) {
	for _, info := range catalog {
		if string(info.Name) == name {
			return info.Name, nil
		}
	}
	return "", fault.Integrity("parse permission", fmt.Sprintf("unknown permission %q", name))
}

func permissionOrder(p Permission) int {
	for _, info := range catalog {
		if info.Name == p {
			return info.ID
		}
	}
	return len(catalog) + 1
}

type RoleID string

const (
	RoleViewer    RoleID = "viewer"
	RoleCommenter RoleID = "commenter"
	RoleEditor    RoleID = "editor"
	RoleManager   RoleID = "manager"
	RoleOwner     RoleID = "owner"
)

type Role struct {
	ID          RoleID
	Name        string
	Description string
	perms       map[Permission]struct{}
}

func (r Role) Has(p Permission) bool {
	_, ok := r.perms[p]
	return ok
}

func (r Role) Permissions() []Permission {
	out := make([]Permission, 0, len(r.perms))
	for p := range r.perms {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return permissionOrder(out[i]) < permissionOrder(out[j]) })
	return out
}

// RoleSpec is the raw seed form of a role, as stored in the roles tables.
type RoleSpec struct {
	ID          string
	Name        string
	Description string
	Permissions []string
}

func DefaultRoles() []RoleSpec {
	return []RoleSpec{
		{ID: string(RoleViewer), Name: "Viewer", Description: "Can view the note",
			Permissions: []string{"read_note"}},
		{ID: string(RoleCommenter), Name: "Commenter", Description: "Can view and comment",
			Permissions: []string{"read_note", "add_comments"}},
		{ID: string(RoleEditor), Name: "Editor", Description: "Can view, edit and comment",
			Permissions: []string{"read_note", "edit_note_content", "add_comments"}},
		{ID: string(RoleManager), Name: "Manager", Description: "Can edit and manage contributors",
			Permissions: []string{"read_note", "edit_note_content", "manage_contributors", "add_comments"}},
		{ID: string(RoleOwner), Name: "Owner", Description: "Full control over the note",
			Permissions: []string{"read_note", "edit_note_content", "delete_note", "manage_contributors", "add_comments"}},
	}
}

// Registry holds the seeded roles. It is never mutated after NewRegistry.
type Registry struct {
	byID   map[RoleID]Role
	byName map[string]RoleID
	order  []RoleID
}

func NewRegistry(specs []RoleSpec) (*Registry, error) {
	reg := &Registry{
		byID:   make(map[RoleID]Role, len(specs)),
		byName: make(map[string]RoleID, len(specs)),
	}
	for _, spec := range specs {
		id := RoleID(strings.TrimSpace(spec.ID))
		if id == "" || strings.TrimSpace(spec.Name) == "" {
			return nil, fault.Integrity("load roles", "role id and name are required")
		}
		if _, dup := reg.byID[id]; dup {
			return nil, fault.Integrity("load roles", fmt.Sprintf("duplicate role id %q", id))
		}
		nameKey := strings.ToLower(spec.Name)
		if _, dup := reg.byName[nameKey]; dup {
			return nil, fault.Integrity("load roles", fmt.Sprintf("duplicate role name %q", spec.Name))
		}
		perms := make(map[Permission]struct{}, len(spec.Permissions))
		for _, name := range spec.Permissions {
			p, err := ParsePermission(name)
			if err != nil {
				return nil, fmt.Errorf("role %s: %w", id, err)
			}
			perms[p] = struct{}{}
		}
		reg.byID[id] = Role{ID: id, Name: spec.Name, Description: spec.Description, perms: perms}
		reg.byName[nameKey] = id
		reg.order = append(reg.order, id)
	}
	if _, ok := reg.byID[RoleOwner]; !ok {
		return nil, fault.Integrity("load roles", "owner role is not seeded")
	}
	return reg, nil
}

// DefaultRegistry builds the registry from DefaultRoles and panics if the
// built-in seed is inconsistent.
func DefaultRegistry() *Registry {
	reg, err := NewRegistry(DefaultRoles())
	if err != nil {
		panic(err)
	}
	return reg
}

func (r *Registry) Role(id RoleID) (Role, bool) {
	role, ok := r.byID[id]
	return role, ok
}

// RoleByName resolves a role by display name or id, case-insensitively.
func (r *Registry) RoleByName(name string) (Role, bool) {
	key := strings.ToLower(strings.TrimSpace(name))
	if id, ok := r.byName[key]; ok {
		return r.byID[id], true
	}
	role, ok := r.byID[RoleID(key)]
	return role, ok
}

func (r *Registry) Roles() []Role {
	out := make([]Role, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.byID[id])
	}
	return out
}
