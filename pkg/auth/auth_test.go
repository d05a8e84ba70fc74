package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-at-least-32-bytes-long!!"

func testUser() *User {
	return &User{
		Username: "clerk@acme",
		TenantID: "acme",
		Bucket:   "acme-invoices",
		SheetID:  "sheet-42",
		Roles:    []string{"operator"},
	}
}

func TestIssuer_RoundTrip(t *testing.T) {
	issuer, err := NewIssuer(testSecret, 60)
	require.NoError(t, err)

	token, expiresAt, err := issuer.Issue(testUser())
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expiresAt, 5*time.Second)

	claims, err := issuer.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "clerk@acme", claims.Subject)
	assert.Equal(t, "acme", claims.TenantID)
	assert.Equal(t, "acme-invoices", claims.Bucket)
	assert.Equal(t, "sheet-42", claims.SheetID)
	assert.Equal(t, []string{"operator"}, claims.Roles)
}

func TestIssuer_RejectsEmptySecret(t *testing.T) {
	_, err := NewIssuer("", 60)
	assert.Error(t, err)
}

func TestIssuer_RejectsForeignSignature(t *testing.T) {
	issuerA, err := NewIssuer(testSecret, 60)
	require.NoError(t, err)
	issuerB, err := NewIssuer("another-secret-also-32-bytes-long!!!", 60)
	require.NoError(t, err)

	token, _, err := issuerA.Issue(testUser())
	require.NoError(t, err)

	_, err = issuerB.Validate(token)
	assert.Error(t, err)
}

func TestIssuer_RejectsExpired(t *testing.T) {
	issuer, err := NewIssuer(testSecret, 60)
	require.NoError(t, err)
	// Shrink expiry below zero by issuing with a negative duration.
	issuer.expiry = -time.Minute

	token, _, err := issuer.Issue(testUser())
	require.NoError(t, err)

	_, err = issuer.Validate(token)
	assert.Error(t, err)
}

func TestLoadDirectory_RejectsDuplicatesAndBlanks(t *testing.T) {
	_, err := LoadDirectory(`[{"username":"","tenant_id":"a"}]`)
	assert.Error(t, err)

	_, err = LoadDirectory(`[
		{"username":"u1","tenant_id":"a","password_hash":"x"},
		{"username":"u1","tenant_id":"b","password_hash":"y"}
	]`)
	assert.Error(t, err)
}

func TestDirectory_Authenticate(t *testing.T) {
	hash, err := HashPassword("hunter22")
	require.NoError(t, err)

	dir, err := LoadDirectory(`[{
		"username": "clerk@acme",
		"password_hash": "` + hash + `",
		"tenant_id": "acme",
		"bucket": "acme-invoices",
		"sheet_id": "sheet-42",
		"roles": ["operator"]
	}]`)
	require.NoError(t, err)

	u, err := dir.Authenticate("clerk@acme", "hunter22")
	require.NoError(t, err)
	assert.Equal(t, "acme", u.TenantID)
	assert.Equal(t, "acme-invoices", u.Bucket)

	_, err = dir.Authenticate("clerk@acme", "wrong")
	assert.Error(t, err)

	_, unknownErr := dir.Authenticate("ghost", "hunter22")
	assert.Error(t, unknownErr)
	// Unknown user and wrong password must be indistinguishable.
	assert.EqualError(t, unknownErr, err.Error())
}

func TestMiddleware_PublicPathBypassesAuth(t *testing.T) {
	issuer, err := NewIssuer(testSecret, 60)
	require.NoError(t, err)

	handler := NewMiddleware(issuer)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMiddleware_MissingHeader(t *testing.T) {
	issuer, err := NewIssuer(testSecret, 60)
	require.NoError(t, err)

	handler := NewMiddleware(issuer)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not run")
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/tasks", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMiddleware_InjectsPrincipal(t *testing.T) {
	issuer, err := NewIssuer(testSecret, 60)
	require.NoError(t, err)

	token, _, err := issuer.Issue(testUser())
	require.NoError(t, err)

	var got Principal
	handler := NewMiddleware(issuer)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = GetPrincipal(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/tasks", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.NotNil(t, got)
	assert.Equal(t, "acme", got.GetTenantID())
	assert.Equal(t, "sheet-42", got.GetSheetID())
	assert.True(t, got.HasRole("operator"))
	assert.False(t, got.HasRole("admin"))
}

func TestMiddleware_NilIssuerFailsClosed(t *testing.T) {
	handler := NewMiddleware(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not run")
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/tasks", nil)
	req.Header.Set("Authorization", "Bearer whatever")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
