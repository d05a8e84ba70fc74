// Package auth issues and validates tenant-bound JWT access tokens.
package auth

import "time"

// User is an authenticated entity within a tenant. Each user maps to
// exactly one tenant, which in turn fixes the storage bucket and
// spreadsheet the user's data lives in.
type User struct {
	Username  string    `json:"username"`
	TenantID  string    `json:"tenant_id"`
	Bucket    string    `json:"bucket"`
	SheetID   string    `json:"sheet_id"`
	Roles     []string  `json:"roles"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// Principal is the interface for any entity making a request.
type Principal interface {
	GetID() string
	GetTenantID() string
	GetBucket() string
	GetSheetID() string
	GetRoles() []string
	HasRole(role string) bool
}

// BasePrincipal is a simple implementation of Principal.
type BasePrincipal struct {
	ID       string
	TenantID string
	Bucket   string
	SheetID  string
	Roles    []string
}

func (b *BasePrincipal) GetID() string {
	return b.ID
}

func (b *BasePrincipal) GetTenantID() string {
	return b.TenantID
}

func (b *BasePrincipal) GetBucket() string {
	return b.Bucket
}

func (b *BasePrincipal) GetSheetID() string {
	return b.SheetID
}

func (b *BasePrincipal) GetRoles() []string {
	return b.Roles
}

// HasRole reports whether the principal carries the given role.
// Admins implicitly hold every role.
func (b *BasePrincipal) HasRole(role string) bool {
	for _, r := range b.Roles {
		if r == "admin" || r == role {
			return true
		}
	}
	return false
}
