package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prodapi/userserver/internal/audit"
	"github.com/prodapi/userserver/internal/auth"
	"github.com/prodapi/userserver/internal/services"
	"github.com/prodapi/userserver/internal/store"
	"github.com/prodapi/userserver/internal/validation"
	"github.com/prodapi/userserver/types"
)

// UserHandler provides HTTP handlers for user records.
type UserHandler struct {
	userService *services.UserService
	recorder    *audit.Recorder
}

// NewUserHandler constructs a handler with the provided dependencies.
func NewUserHandler(userService *services.UserService, recorder *audit.Recorder) *UserHandler {
	return &UserHandler{
		userService: userService,
		recorder:    recorder,
	}
}

// UserRouter registers user routes on the given router. All routes are
// authenticated; the role sets per route are declared here.
func UserRouter(
	r chi.Router,
	userService *services.UserService,
	recorder *audit.Recorder,
	authMiddleware func(http.Handler) http.Handler,
) {
	handler := NewUserHandler(userService, recorder)

	r.Use(authMiddleware)
	r.With(RequireRole(recorder, types.RoleAdmin)).Get("/", handler.ListUsers)
	r.Route("/{userID}", func(r chi.Router) {
		r.Get("/", handler.GetUser)
		r.Put("/", handler.UpdateUser)
		// The coarse gate admits any authenticated role; the ownership
		// check below is what protects other users' accounts.
		r.With(RequireRole(recorder, types.RoleAdmin, types.RoleUser)).Delete("/", handler.DeleteUser)
	})
}

func (h *UserHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.userService.List(r.Context())
	if err != nil {
		slog.Error("failed to list users", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error", "Failed to retrieve users")
		return
	}

	writeJSON(w, http.StatusOK, UserListResponse{
		Message: "Successfully retrieved users",
		Users:   users,
		Count:   len(users),
	})
}

func (h *UserHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	id, details := validation.UserID(chi.URLParam(r, "userID"))
	if details != nil {
		writeValidationError(w, details)
		return
	}

	user, err := h.userService.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Not Found", "User not found")
			return
		}
		slog.Error("failed to fetch user", "error", err, "user_id", id)
		writeError(w, http.StatusInternalServerError, "Internal server error", "Failed to retrieve user")
		return
	}

	writeJSON(w, http.StatusOK, UserResponse{
		Message: "Successfully retrieved user",
		User:    user,
	})
}

func (h *UserHandler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	id, details := validation.UserID(chi.URLParam(r, "userID"))
	if details != nil {
		writeValidationError(w, details)
		return
	}

	update, details := validation.UserUpdate(r.Body)
	if details != nil {
		writeValidationError(w, details)
		return
	}

	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Authentication required", "User not authenticated")
		return
	}

	// Ownership is checked before the role-field intent so a caller with
	// no claim on the resource learns nothing about field handling.
	if principal.Role != types.RoleAdmin && principal.ID != id {
		h.recorder.Denied(r.Context(), audit.Event{
			Action:      "update user",
			Reason:      "not resource owner",
			PrincipalID: principal.ID,
			Email:       principal.Email,
			Role:        principal.Role,
			TargetID:    id,
		})
		writeError(w, http.StatusForbidden, "Forbidden", "You can only update your own profile")
		return
	}

	if update.Role != nil && principal.Role != types.RoleAdmin {
		h.recorder.Denied(r.Context(), audit.Event{
			Action:      "update user role",
			Reason:      "role change requires admin",
			PrincipalID: principal.ID,
			Email:       principal.Email,
			Role:        principal.Role,
			TargetID:    id,
		})
		writeError(w, http.StatusForbidden, "Forbidden", "Only admins can change user roles")
		return
	}

	if principal.Role != types.RoleAdmin {
		update = update.WithoutRole()
	}

	slog.Info("updating user", "user_id", id, "principal_id", principal.ID)

	user, err := h.userService.Update(r.Context(), id, update)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			writeError(w, http.StatusNotFound, "Not Found", "User not found")
		case errors.Is(err, store.ErrDuplicateEmail):
			writeError(w, http.StatusConflict, "Conflict", "Email already exists")
		default:
			slog.Error("failed to update user", "error", err, "user_id", id)
			writeError(w, http.StatusInternalServerError, "Internal server error", "Failed to update user")
		}
		return
	}

	writeJSON(w, http.StatusOK, UserResponse{
		Message: "User updated successfully",
		User:    user,
	})
}

func (h *UserHandler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	id, details := validation.UserID(chi.URLParam(r, "userID"))
	if details != nil {
		writeValidationError(w, details)
		return
	}

	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Authentication required", "User not authenticated")
		return
	}

	if principal.Role != types.RoleAdmin && principal.ID != id {
		h.recorder.Denied(r.Context(), audit.Event{
			Action:      "delete user",
			Reason:      "not resource owner",
			PrincipalID: principal.ID,
			Email:       principal.Email,
			Role:        principal.Role,
			TargetID:    id,
		})
		writeError(w, http.StatusForbidden, "Forbidden", "You can only delete your own profile")
		return
	}

	slog.Info("deleting user", "user_id", id, "principal_id", principal.ID)

	user, err := h.userService.Delete(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Not Found", "User not found")
			return
		}
		slog.Error("failed to delete user", "error", err, "user_id", id)
		writeError(w, http.StatusInternalServerError, "Internal server error", "Failed to delete user")
		return
	}

	writeJSON(w, http.StatusOK, UserResponse{
		Message: "User deleted successfully",
		User:    user,
	})
}

// UserListResponse is the list endpoint payload.
type UserListResponse struct {
	Message string       `json:"message"`
	Users   []types.User `json:"users"`
	Count   int          `json:"count"`
}

// UserResponse is the single-user payload.
type UserResponse struct {
	Message string     `json:"message"`
	User    types.User `json:"user"`
}
