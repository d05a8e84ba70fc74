package console

import (
	"net/http"
	"time"

	"github.com/paperledger/paperledger/pkg/api"
	"github.com/paperledger/paperledger/pkg/auth"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	AccessToken string     `json:"access_token"`
	TokenType   string     `json:"token_type"`
	ExpiresAt   time.Time  `json:"expires_at"`
	User        *auth.User `json:"user"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !api.DecodeJSON(w, r, &req) {
		return
	}
	if req.Username == "" || req.Password == "" {
		api.WriteBadRequest(w, "username and password are required")
		return
	}

	user, err := s.users.Authenticate(req.Username, req.Password)
	if err != nil {
		api.WriteUnauthorized(w, "Invalid credentials")
		return
	}

	token, expiresAt, err := s.issuer.Issue(user)
	if err != nil {
		api.WriteInternal(w, err)
		return
	}

	api.WriteJSON(w, http.StatusOK, loginResponse{
		AccessToken: token,
		TokenType:   "bearer",
		ExpiresAt:   expiresAt,
		User:        user,
	})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	principal, err := auth.GetPrincipal(r.Context())
	if err != nil {
		api.WriteUnauthorized(w, "")
		return
	}

	// The directory is authoritative; the token may predate a role
	// change.
	if user, ok := s.users.Lookup(principal.GetID()); ok {
		api.WriteJSON(w, http.StatusOK, user)
		return
	}
	api.WriteJSON(w, http.StatusOK, &auth.User{
		Username: principal.GetID(),
		TenantID: principal.GetTenantID(),
		Bucket:   principal.GetBucket(),
		SheetID:  principal.GetSheetID(),
		Roles:    principal.GetRoles(),
	})
}
