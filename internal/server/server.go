package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"bookshelf/internal/app"
	"bookshelf/internal/ratelimit"
	"bookshelf/internal/util"
	"bookshelf/pkg/domain"
	"bookshelf/pkg/policy"
)

const (
	sessionCookie         = "bookshelf_session"
	defaultMaxUploadBytes = 10 << 20
	defaultLoginLimit     = 10
	maxJSONBytes          = 1 << 20
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App                     *app.App
	RedisAddr               string
	RedisPassword           string
	LoginRateLimitPerMinute int
	TrustedProxies          []string
	CORSAllowedOrigins      []string
	MaxUploadBytes          int64
	SecureCookies           bool
}

// Server exposes the catalog over HTTP.
type Server struct {
	app            *app.App
	router         chi.Router
	loginLimiter   *ratelimit.FixedWindowLimiter
	trusted        *util.TrustedProxies
	corsOrigins    []string
	maxUploadBytes int64
	secureCookies  bool
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, errors.New("server: app is required")
	}
	loginLimit := cfg.LoginRateLimitPerMinute
	if loginLimit <= 0 {
		loginLimit = defaultLoginLimit
	}
	limiter, err := ratelimit.NewRedisFixedWindowLimiter(cfg.RedisAddr, cfg.RedisPassword, "bookshelf:ratelimit:login", loginLimit, time.Minute)
	if err != nil {
		return nil, fmt.Errorf("init login limiter: %w", err)
	}
	trusted, err := util.NewTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		_ = limiter.Close()
		return nil, err
	}
	maxUpload := cfg.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = defaultMaxUploadBytes
	}
	s := &Server{
		app:            cfg.App,
		loginLimiter:   limiter,
		trusted:        trusted,
		corsOrigins:    cfg.CORSAllowedOrigins,
		maxUploadBytes: maxUpload,
		secureCookies:  cfg.SecureCookies,
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog("bookshelf", util.WithSecurityHeaders(s.router)))
}

// Close releases the limiter connection.
func (s *Server) Close() error {
	return s.loginLimiter.Close()
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)
	if len(s.corsOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   s.corsOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
			AllowedHeaders:   []string{"Authorization", "Content-Type", "X-Request-Id"},
			ExposedHeaders:   []string{"X-Request-Id", "Retry-After"},
			AllowCredentials: true,
			MaxAge:           600,
		}))
	}
	r.Use(s.withIdentity)
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.Get("/healthz", s.handleHealth)
	r.Get("/images/{id}", s.handleImage)

	r.Route("/api", func(r chi.Router) {
		r.Post("/auth/login", s.handleLogin)
		r.Post("/auth/logout", s.handleLogout)
		r.Get("/auth/me", s.handleMe)

		r.Get("/genres", s.handleGenres)
		r.Get("/ratings", s.handleRatings)

		r.Route("/books", func(r chi.Router) {
			r.Get("/", s.handleListBooks)
			r.Post("/", s.handleCreateBook)
			r.Get("/new", s.handleNewBookForm)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetBook)
				r.Put("/", s.handleUpdateBook)
				r.Delete("/", s.handleDeleteBook)
				r.Get("/edit", s.handleEditBookForm)
				r.Get("/reviews", s.handleBookReviews)
				r.Post("/reviews", s.handleSubmitReview)
			})
		})

		r.Route("/reviews", func(r chi.Router) {
			r.Get("/mine", s.handleMyReviews)
			r.Get("/moderation", s.handleModerationQueue)
			r.Get("/{id}", s.handleGetReview)
			r.Post("/{id}/decision", s.handleDecideReview)
		})

		r.Route("/collections", func(r chi.Router) {
			r.Get("/", s.handleListCollections)
			r.Post("/", s.handleCreateCollection)
			r.Get("/{id}", s.handleGetCollection)
			r.Delete("/{id}", s.handleDeleteCollection)
			r.Post("/{id}/books", s.handleAddCollectionBook)
			r.Delete("/{id}/books/{bookID}", s.handleRemoveCollectionBook)
		})
	})
	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type identityKey struct{}

type viewer struct {
	identity policy.Identity
	user     domain.User
}

// withIdentity resolves the session token, if any, into the request context.
// Missing or invalid tokens leave the anonymous identity in place.
func (s *Server) withIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		who, user, err := s.app.IdentityFor(r.Context(), sessionToken(r))
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		ctx := context.WithValue(r.Context(), identityKey{}, viewer{identity: who, user: user})
		if who.Authenticated() {
			ctx = util.ContextWithLogger(ctx, util.LoggerFromContext(ctx).With("user_id", who.UserID))
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func identity(r *http.Request) policy.Identity {
	v, _ := r.Context().Value(identityKey{}).(viewer)
	return v.identity
}

func currentUser(r *http.Request) (domain.User, bool) {
	v, _ := r.Context().Value(identityKey{}).(viewer)
	return v.user, v.identity.Authenticated()
}

func sessionToken(r *http.Request) string {
	if token, ok := bearerToken(r); ok {
		return token
	}
	if c, err := r.Cookie(sessionCookie); err == nil {
		return strings.TrimSpace(c.Value)
	}
	return ""
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return "", false
	}
	return token, true
}

type loginRequest struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

type authResponse struct {
	Token string   `json:"token"`
	User  userView `json:"user"`
	Flash *flash   `json:"flash,omitempty"`
}

type userView struct {
	ID        string          `json:"id"`
	Login     string          `json:"login"`
	FullName  string          `json:"fullName"`
	Role      domain.UserRole `json:"role"`
	RoleTitle string          `json:"roleTitle"`
}

func viewOf(u domain.User) userView {
	return userView{
		ID:        u.ID,
		Login:     u.Login,
		FullName:  u.FullName(),
		Role:      u.Role,
		RoleTitle: u.Role.Title(),
	}
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !s.allowRate(w, r, s.loginLimiter, "too many login attempts") {
		s.audit(r, "auth.login", "rate_limited")
		return
	}
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		s.audit(r, "auth.login", "fail", "reason", "invalid_json")
		return
	}
	user, token, err := s.app.Login(r.Context(), req.Login, req.Password)
	if err != nil {
		s.audit(r, "auth.login", "fail", "reason", err.Error())
		writeAppError(w, r, err)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    token,
		Path:     "/",
		MaxAge:   int(s.app.SessionTTL().Seconds()),
		HttpOnly: true,
		Secure:   s.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
	s.audit(r, "auth.login", "success", "user_id", user.ID)
	writeJSON(w, http.StatusOK, authResponse{
		Token: token,
		User:  viewOf(user),
		Flash: successFlash("Вы успешно вошли в систему."),
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	token := sessionToken(r)
	if token == "" {
		writeAppError(w, r, app.ErrUnauthenticated)
		return
	}
	if err := s.app.Logout(r.Context(), token); err != nil {
		s.audit(r, "auth.logout", "fail", "reason", err.Error())
		writeAppError(w, r, app.ErrUnauthenticated)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
	s.audit(r, "auth.logout", "success")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(r)
	if !ok {
		writeAppError(w, r, app.ErrUnauthenticated)
		return
	}
	who := identity(r)
	can := make(map[policy.Action]bool, len(policy.Actions()))
	for _, action := range policy.Actions() {
		if action == policy.MutateCollection {
			continue
		}
		can[action] = s.app.Can(who, action, nil)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user":        viewOf(user),
		"permissions": can,
	})
}

func (s *Server) handleGenres(w http.ResponseWriter, r *http.Request) {
	genres, err := s.app.ListGenres(r.Context())
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": genres, "count": len(genres)})
}

type ratingOption struct {
	Value int    `json:"value"`
	Word  string `json:"word"`
}

func (s *Server) handleRatings(w http.ResponseWriter, _ *http.Request) {
	options := make([]ratingOption, 0, domain.MaxRating-domain.MinRating+1)
	for v := domain.MaxRating; v >= domain.MinRating; v-- {
		options = append(options, ratingOption{Value: v, Word: domain.RatingWord(v)})
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": options})
}

func (s *Server) handleImage(w http.ResponseWriter, r *http.Request) {
	img, rc, err := s.app.OpenImage(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	defer rc.Close()
	w.Header().Set("Content-Type", img.MimeType)
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		util.LoggerFromContext(r.Context()).Warn("image stream interrupted", "image_id", img.ID, "err", err)
	}
}

func (s *Server) audit(r *http.Request, event, outcome string, attrs ...any) {
	logAttrs := []any{
		"event", event,
		"outcome", outcome,
		"path", r.URL.Path,
		"method", r.Method,
		"ip", util.ClientIP(r, s.trusted),
	}
	logAttrs = append(logAttrs, attrs...)
	logger := util.LoggerFromContext(r.Context())
	if outcome == "success" {
		logger.Info("security_event", logAttrs...)
		return
	}
	logger.Warn("security_event", logAttrs...)
}

func (s *Server) allowRate(w http.ResponseWriter, r *http.Request, limiter *ratelimit.FixedWindowLimiter, msg string) bool {
	key := r.URL.Path + "|" + util.ClientIP(r, s.trusted)
	decision := limiter.Allow(r.Context(), key)
	if decision.Allowed {
		return true
	}
	retry := int(math.Ceil(decision.RetryAfter.Seconds()))
	if retry < 1 {
		retry = 1
	}
	w.Header().Set("Retry-After", fmt.Sprint(retry))
	writeError(w, http.StatusTooManyRequests, msg)
	return false
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(io.LimitReader(r.Body, maxJSONBytes)).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Debug("write response failed", "err", err)
	}
}
