package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/dxpcore/dxp-chat/internal/auth"
)

func (a *ChatApp) errorHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				var panicError error
				switch e := err.(type) {
				case error:
					panicError = e
				default:
					panicError = fmt.Errorf("%v", e)
				}
				a.log.Error("panic in handler", "path", r.URL.Path, "error", panicError)
				errResp := NewInternalServerError(panicError)
				w.Header().Set("Connection", "close")
				a.writeJson(w, errResp.StatusCode, errResp)
				return
			}
		}()

		next.ServeHTTP(w, r)
	})
}

// authMiddleware resolves the request credential before next runs, so a
// websocket upgrade is refused with 401 before any group is joined.
func (a *ChatApp) authMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, err := a.verifier.Resolve(r.Context(), auth.CredentialFromRequest(r))
		if err != nil {
			if errors.Is(err, auth.ErrUnauthorized) {
				a.log.Info("rejected credential", "path", r.URL.Path, "error", err)
				errResp := NewUnauthorizedError()
				a.writeJson(w, errResp.StatusCode, errResp)
				return
			}
			a.log.Error("failed to resolve credential", "error", err)
			errResp := NewInternalServerError(err)
			a.writeJson(w, errResp.StatusCode, errResp)
			return
		}

		w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate, private")
		next(w, r.WithContext(WithUser(r.Context(), user)))
	}
}

func (a *ChatApp) staffOnly(next http.HandlerFunc) http.HandlerFunc {
	return a.authMiddleware(func(w http.ResponseWriter, r *http.Request) {
		user, ok := UserFromContext(r.Context())
		if !ok || !user.IsStaff {
			errResp := NewForbiddenError()
			a.writeJson(w, errResp.StatusCode, errResp)
			return
		}
		next(w, r)
	})
}
