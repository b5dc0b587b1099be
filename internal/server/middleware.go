package server

import (
	"context"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"

	"github.com/at-ishikawa/langner-review/internal/apperrors"
)

type contextKey int

const userIDKey contextKey = iota

func withUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// userIDFrom returns the authenticated user, or "" for secret-authenticated requests.
func userIDFrom(ctx context.Context) string {
	userID, _ := ctx.Value(userIDKey).(string)
	return userID
}

// accessLog writes one slog record per request.
func accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		startedAt := time.Now()
		defer func() {
			level := slog.LevelInfo
			switch {
			case ww.Status() >= 500:
				level = slog.LevelError
			case ww.Status() >= 400:
				level = slog.LevelWarn
			}
			slog.Default().LogAttrs(r.Context(), level, "request completed",
				slog.String("requestId", chimiddleware.GetReqID(r.Context())),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", ww.Status()),
				slog.Int("bytes", ww.BytesWritten()),
				slog.Duration("latency", time.Since(startedAt)))
		}()
		next.ServeHTTP(ww, r)
	})
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

func secretMatches(expected, got string) bool {
	if expected == "" || got == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expected), []byte(got)) == 1
}

// secretSource picks where a request carries the cron secret.
type secretSource int

const (
	secretFromQuery secretSource = iota
	secretFromBearer
)

func (h *Handler) requireSecret(source secretSource) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := bearerToken(r)
			if source == secretFromQuery {
				got = r.URL.Query().Get("secret")
			}
			if !secretMatches(h.cfg.Cron.Secret, got) {
				writeError(w, r, apperrors.Unauthorized("invalid secret"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// requireSecretOrDevMode lets development servers call debug endpoints
// without a token.
func (h *Handler) requireSecretOrDevMode(next http.Handler) http.Handler {
	withSecret := h.requireSecret(secretFromBearer)(next)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.cfg.Auth.DevMode && bearerToken(r) == "" {
			next.ServeHTTP(w, r)
			return
		}
		withSecret.ServeHTTP(w, r)
	})
}

func (h *Handler) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := h.authenticate(bearerToken(r))
		if err != nil {
			slog.Default().Debug("session rejected", "path", r.URL.Path, "error", err)
			writeError(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(withUserID(r.Context(), userID)))
	})
}

// requireSessionOrSecret accepts either the cron secret as a bearer token or
// a user session.
func (h *Handler) requireSessionOrSecret(next http.Handler) http.Handler {
	withSession := h.requireSession(next)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if secretMatches(h.cfg.Cron.Secret, bearerToken(r)) {
			next.ServeHTTP(w, r)
			return
		}
		withSession.ServeHTTP(w, r)
	})
}

// authenticate verifies an HS256 session token and returns its subject.
func (h *Handler) authenticate(tokenString string) (string, error) {
	if tokenString == "" {
		return "", apperrors.Unauthorized("missing bearer token")
	}
	if h.cfg.Auth.JWTSecret == "" {
		return "", apperrors.Unauthorized("sessions are not configured")
	}

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return []byte(h.cfg.Auth.JWTSecret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return "", apperrors.Unauthorized(err.Error())
	}

	subject, err := token.Claims.GetSubject()
	if err != nil || subject == "" {
		return "", apperrors.Unauthorized("token has no subject")
	}
	return subject, nil
}
