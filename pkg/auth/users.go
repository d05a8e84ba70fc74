package auth

import (
	"encoding/json"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// UserEntry is one record in the JSON user directory. PasswordHash is
// a bcrypt hash; plaintext passwords are never stored.
type UserEntry struct {
	Username     string   `json:"username"`
	PasswordHash string   `json:"password_hash"`
	TenantID     string   `json:"tenant_id"`
	Bucket       string   `json:"bucket"`
	SheetID      string   `json:"sheet_id"`
	Roles        []string `json:"roles"`
}

// Directory is an in-memory user directory loaded from configuration.
type Directory struct {
	users map[string]UserEntry
}

// LoadDirectory parses the USERS_CONFIG_JSON payload: a JSON array of
// UserEntry records.
func LoadDirectory(raw string) (*Directory, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, fmt.Errorf("auth: user directory is empty")
	}

	var entries []UserEntry
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		return nil, fmt.Errorf("auth: parsing user directory: %w", err)
	}

	users := make(map[string]UserEntry, len(entries))
	for _, e := range entries {
		if e.Username == "" {
			return nil, fmt.Errorf("auth: user entry missing username")
		}
		if e.TenantID == "" {
			return nil, fmt.Errorf("auth: user %q missing tenant_id", e.Username)
		}
		if _, dup := users[e.Username]; dup {
			return nil, fmt.Errorf("auth: duplicate username %q", e.Username)
		}
		users[e.Username] = e
	}
	return &Directory{users: users}, nil
}

// Authenticate checks the username/password pair and returns the user
// on success. The error is identical for unknown users and wrong
// passwords so callers cannot probe for valid usernames.
func (d *Directory) Authenticate(username, password string) (*User, error) {
	entry, ok := d.users[username]
	if !ok {
		// Burn a comparison anyway to keep timing flat.
		_ = bcrypt.CompareHashAndPassword([]byte("$2a$10$000000000000000000000uGyEvDsfnhSRVDaMlYTInM5H73aXO/G"), []byte(password))
		return nil, fmt.Errorf("auth: invalid credentials")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(entry.PasswordHash), []byte(password)); err != nil {
		return nil, fmt.Errorf("auth: invalid credentials")
	}
	return &User{
		Username: entry.Username,
		TenantID: entry.TenantID,
		Bucket:   entry.Bucket,
		SheetID:  entry.SheetID,
		Roles:    entry.Roles,
	}, nil
}

// Lookup returns the user record without a password check. Used by
// token refresh and the /me endpoint.
func (d *Directory) Lookup(username string) (*User, bool) {
	entry, ok := d.users[username]
	if !ok {
		return nil, false
	}
	return &User{
		Username: entry.Username,
		TenantID: entry.TenantID,
		Bucket:   entry.Bucket,
		SheetID:  entry.SheetID,
		Roles:    entry.Roles,
	}, true
}

// HashPassword produces a bcrypt hash for seeding user directories.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("auth: hashing password: %w", err)
	}
	return string(hash), nil
}
