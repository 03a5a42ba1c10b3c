package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/prodapi/userserver/internal/audit"
	"github.com/prodapi/userserver/internal/auth"
	"github.com/prodapi/userserver/internal/services"
	"github.com/prodapi/userserver/internal/store"
	"github.com/prodapi/userserver/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "handler-test-secret"

// fakeUserRepo is an in-memory services.UserRepository that counts calls,
// so tests can assert the business layer was never reached on denials.
type fakeUserRepo struct {
	users       map[int]types.User
	listCalls   int
	getCalls    int
	updateCalls int
	deleteCalls int
	lastUpdated types.User
}

func newFakeUserRepo(users ...types.User) *fakeUserRepo {
	repo := &fakeUserRepo{users: map[int]types.User{}}
	for _, user := range users {
		repo.users[user.ID] = user
	}
	return repo
}

func (f *fakeUserRepo) List(ctx context.Context) ([]types.User, error) {
	f.listCalls++
	users := []types.User{}
	for _, user := range f.users {
		users = append(users, user)
	}
	return users, nil
}

func (f *fakeUserRepo) GetByID(ctx context.Context, id int) (types.User, error) {
	f.getCalls++
	user, ok := f.users[id]
	if !ok {
		return types.User{}, store.ErrNotFound
	}
	return user, nil
}

func (f *fakeUserRepo) GetByEmail(ctx context.Context, email string) (types.User, error) {
	for _, user := range f.users {
		if user.Email == email {
			return user, nil
		}
	}
	return types.User{}, store.ErrNotFound
}

func (f *fakeUserRepo) Create(ctx context.Context, user types.User) (types.User, error) {
	user.ID = len(f.users) + 1
	f.users[user.ID] = user
	return user, nil
}

func (f *fakeUserRepo) Update(ctx context.Context, user types.User) (types.User, error) {
	f.updateCalls++
	if _, ok := f.users[user.ID]; !ok {
		return types.User{}, store.ErrNotFound
	}
	for id, existing := range f.users {
		if id != user.ID && existing.Email == user.Email {
			return types.User{}, store.ErrDuplicateEmail
		}
	}
	f.users[user.ID] = user
	f.lastUpdated = user
	return user, nil
}

func (f *fakeUserRepo) Delete(ctx context.Context, id int) (types.User, error) {
	f.deleteCalls++
	user, ok := f.users[id]
	if !ok {
		return types.User{}, store.ErrNotFound
	}
	delete(f.users, id)
	return user, nil
}

func newTestRouter(repo services.UserRepository) http.Handler {
	verifier := auth.NewVerifier(testSecret)
	recorder := audit.NewRecorder(nil, "auth-denials")
	router := chi.NewRouter()
	router.Route("/users", func(r chi.Router) {
		UserRouter(r, services.NewUserService(repo), recorder, Authenticate(verifier))
	})
	return router
}

func mintToken(t *testing.T, id int, role string) string {
	t.Helper()
	now := time.Now()
	claims := auth.Claims{
		Email: "user" + strconv.Itoa(id) + "@example.com",
		Role:  role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.Itoa(id),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func doRequest(t *testing.T, handler http.Handler, method, target, token, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	decoded := map[string]any{}
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded))
	}
	return rec, decoded
}

func seedUsers() []types.User {
	now := time.Now()
	return []types.User{
		{ID: 5, Email: "five@example.com", Name: "Five", Role: types.RoleUser, PasswordHash: "x", CreatedAt: now, UpdatedAt: now},
		{ID: 7, Email: "seven@example.com", Name: "Seven", Role: types.RoleUser, PasswordHash: "x", CreatedAt: now, UpdatedAt: now},
		{ID: 9, Email: "nine@example.com", Name: "Nine", Role: types.RoleAdmin, PasswordHash: "x", CreatedAt: now, UpdatedAt: now},
	}
}

func TestMissingCredential(t *testing.T) {
	router := newTestRouter(newFakeUserRepo(seedUsers()...))

	rec, body := doRequest(t, router, http.MethodGet, "/users/5", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Authentication required", body["error"])
	assert.Equal(t, "No access token provided", body["message"])
}

func TestInvalidCredential(t *testing.T) {
	repo := newFakeUserRepo(seedUsers()...)
	router := newTestRouter(repo)

	expired := func() string {
		now := time.Now()
		claims := auth.Claims{Role: types.RoleUser, RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "5",
			IssuedAt:  jwt.NewNumericDate(now.Add(-2 * time.Hour)),
			ExpiresAt: jwt.NewNumericDate(now.Add(-time.Hour)),
		}}
		signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
		require.NoError(t, err)
		return signed
	}()

	for name, token := range map[string]string{
		"garbage": "not-a-token",
		"expired": expired,
	} {
		t.Run(name, func(t *testing.T) {
			rec, body := doRequest(t, router, http.MethodGet, "/users/5", token, "")
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Equal(t, "Authentication failed", body["error"])
			assert.Equal(t, "Invalid or expired token", body["message"])
		})
	}
	assert.Zero(t, repo.getCalls)
}

func TestCookieCredentialAccepted(t *testing.T) {
	router := newTestRouter(newFakeUserRepo(seedUsers()...))

	req := httptest.NewRequest(http.MethodGet, "/users/5", nil)
	req.AddCookie(&http.Cookie{Name: "token", Value: mintToken(t, 5, types.RoleUser)})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestListUsersRequiresAdmin(t *testing.T) {
	repo := newFakeUserRepo(seedUsers()...)
	router := newTestRouter(repo)

	rec, body := doRequest(t, router, http.MethodGet, "/users", mintToken(t, 5, types.RoleUser), "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "Access denied", body["error"])
	assert.Equal(t, "Insufficient permissions", body["message"])
	assert.Zero(t, repo.listCalls)

	rec, body = doRequest(t, router, http.MethodGet, "/users", mintToken(t, 9, types.RoleAdmin), "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(3), body["count"])
}

func TestGetUserValidatesID(t *testing.T) {
	repo := newFakeUserRepo(seedUsers()...)
	router := newTestRouter(repo)

	rec, body := doRequest(t, router, http.MethodGet, "/users/abc", mintToken(t, 5, types.RoleUser), "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Validation failed", body["error"])

	details, ok := body["details"].([]any)
	require.True(t, ok)
	require.Len(t, details, 1)
	entry := details[0].(map[string]any)
	assert.Equal(t, "id", entry["field"])
	assert.Zero(t, repo.getCalls)
}

func TestGetUserNotFound(t *testing.T) {
	router := newTestRouter(newFakeUserRepo(seedUsers()...))

	rec, body := doRequest(t, router, http.MethodGet, "/users/99", mintToken(t, 5, types.RoleUser), "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Not Found", body["error"])
	assert.Equal(t, "User not found", body["message"])
}

func TestSelfUpdateAllowed(t *testing.T) {
	repo := newFakeUserRepo(seedUsers()...)
	router := newTestRouter(repo)

	rec, body := doRequest(t, router, http.MethodPut, "/users/5", mintToken(t, 5, types.RoleUser), `{"email":"a@b.com"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "User updated successfully", body["message"])
	assert.Equal(t, 1, repo.updateCalls)
	assert.Equal(t, "a@b.com", repo.lastUpdated.Email)
	// Role is untouched for a self-update that does not mention it.
	assert.Equal(t, types.RoleUser, repo.lastUpdated.Role)
}

func TestCrossUserUpdateForbidden(t *testing.T) {
	repo := newFakeUserRepo(seedUsers()...)
	router := newTestRouter(repo)

	rec, body := doRequest(t, router, http.MethodPut, "/users/7", mintToken(t, 5, types.RoleUser), `{"email":"a@b.com"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "Forbidden", body["error"])
	assert.Equal(t, "You can only update your own profile", body["message"])
	assert.Zero(t, repo.getCalls)
	assert.Zero(t, repo.updateCalls)
}

func TestRoleEscalationForbidden(t *testing.T) {
	repo := newFakeUserRepo(seedUsers()...)
	router := newTestRouter(repo)

	rec, body := doRequest(t, router, http.MethodPut, "/users/5", mintToken(t, 5, types.RoleUser), `{"role":"admin"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "Forbidden", body["error"])
	assert.Equal(t, "Only admins can change user roles", body["message"])
	assert.Zero(t, repo.getCalls)
	assert.Zero(t, repo.updateCalls)
}

func TestAdminRoleChangePassesThrough(t *testing.T) {
	repo := newFakeUserRepo(seedUsers()...)
	router := newTestRouter(repo)

	rec, _ := doRequest(t, router, http.MethodPut, "/users/7", mintToken(t, 9, types.RoleAdmin), `{"role":"admin"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, types.RoleAdmin, repo.lastUpdated.Role)
}

func TestUpdateValidationFailure(t *testing.T) {
	repo := newFakeUserRepo(seedUsers()...)
	router := newTestRouter(repo)

	rec, body := doRequest(t, router, http.MethodPut, "/users/5", mintToken(t, 5, types.RoleUser), `{"email":"nope","name":"x"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Validation failed", body["error"])

	details, ok := body["details"].([]any)
	require.True(t, ok)
	assert.Len(t, details, 2)
	assert.Zero(t, repo.updateCalls)
}

func TestUpdateConflictOnDuplicateEmail(t *testing.T) {
	repo := newFakeUserRepo(seedUsers()...)
	router := newTestRouter(repo)

	rec, body := doRequest(t, router, http.MethodPut, "/users/5", mintToken(t, 5, types.RoleUser), `{"email":"seven@example.com"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "Conflict", body["error"])
	assert.Equal(t, "Email already exists", body["message"])
}

func TestAdminUpdateMissingUser(t *testing.T) {
	router := newTestRouter(newFakeUserRepo(seedUsers()...))

	rec, body := doRequest(t, router, http.MethodPut, "/users/99", mintToken(t, 9, types.RoleAdmin), `{"name":"Ghost"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Not Found", body["error"])
}

func TestDeleteOwnershipGate(t *testing.T) {
	repo := newFakeUserRepo(seedUsers()...)
	router := newTestRouter(repo)

	// Passes the coarse role gate but fails ownership.
	rec, body := doRequest(t, router, http.MethodDelete, "/users/7", mintToken(t, 5, types.RoleUser), "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "Forbidden", body["error"])
	assert.Equal(t, "You can only delete your own profile", body["message"])
	assert.Zero(t, repo.deleteCalls)

	// Owner removes their own account.
	rec, body = doRequest(t, router, http.MethodDelete, "/users/5", mintToken(t, 5, types.RoleUser), "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "User deleted successfully", body["message"])
	assert.Equal(t, 1, repo.deleteCalls)
}

func TestDeleteRoleGateIndependentOfOwnership(t *testing.T) {
	repo := newFakeUserRepo(seedUsers()...)
	router := newTestRouter(repo)

	// A role outside the declared set is stopped at the coarse gate even
	// for its own id, so neither gate alone suffices.
	rec, body := doRequest(t, router, http.MethodDelete, "/users/5", mintToken(t, 5, "moderator"), "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "Access denied", body["error"])
	assert.Zero(t, repo.deleteCalls)
}

func TestAdminDeletesOtherUser(t *testing.T) {
	repo := newFakeUserRepo(seedUsers()...)
	router := newTestRouter(repo)

	rec, body := doRequest(t, router, http.MethodDelete, "/users/7", mintToken(t, 9, types.RoleAdmin), "")
	assert.Equal(t, http.StatusOK, rec.Code)
	user, ok := body["user"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(7), user["id"])
}
