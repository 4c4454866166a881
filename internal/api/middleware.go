package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github-org-mirror/internal/model"
	"github-org-mirror/internal/permission"
)

type contextKey string

const repoContextKey contextKey = "api.repository"

func repoFromContext(ctx context.Context) model.Repository {
	repo, _ := ctx.Value(repoContextKey).(model.Repository)
	return repo
}

// identity reads the caller's user id from the X-User-ID header. The service
// sits behind an authenticating proxy, so the header is trusted as-is. Absent
// or malformed means anonymous.
func identity(r *http.Request) *int64 {
	raw := r.Header.Get("X-User-ID")
	if raw == "" {
		return nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return nil
	}
	return &id
}

// requirePermission resolves the {owner}/{name} route params to a connected
// repository, evaluates the caller's access and stashes the repository in the
// request context. Denials on private repositories are masked as 404 so the
// repository's existence is not leaked.
func (h *Handler) requirePermission(required permission.Level, requireAuth bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			owner := chi.URLParam(r, "owner")
			name := chi.URLParam(r, "name")

			repo, found, err := h.store.GetRepositoryByOwnerName(r.Context(), owner, name)
			if err != nil {
				h.logger.Error("Failed to load repository", "owner", owner, "name", name, "error", err)
				respondWithError(w, http.StatusInternalServerError, "Internal server error")
				return
			}
			if !found {
				respondWithError(w, http.StatusNotFound, "Repository not found")
				return
			}

			userID := identity(r)
			var row *model.PermissionRow
			if userID != nil {
				row, err = h.store.GetPermissionRow(r.Context(), *userID, repo.ID)
				if err != nil {
					h.logger.Error("Failed to load permission row", "user_id", *userID, "error", err)
					respondWithError(w, http.StatusInternalServerError, "Internal server error")
					return
				}
				if row != nil {
					// Stale rows are still served; the refresh happens off the
					// request path.
					go h.engine.RefreshPermissionsIfStale(context.WithoutCancel(r.Context()), repo, row.SyncedAt)
				}
			}

			decision := permission.Evaluate(permission.Input{
				UserID:               userID,
				Row:                  row,
				IsPrivate:            repo.Private,
				Required:             required,
				RequireAuthenticated: requireAuth,
			})
			if !decision.IsAllowed {
				switch {
				case decision.Reason == permission.ReasonNotAuthenticated && !repo.Private:
					respondWithError(w, http.StatusUnauthorized, "Authentication required")
				case repo.Private:
					respondWithError(w, http.StatusNotFound, "Repository not found")
				default:
					respondWithError(w, http.StatusForbidden, "Insufficient permission")
				}
				return
			}

			ctx := context.WithValue(r.Context(), repoContextKey, repo)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
