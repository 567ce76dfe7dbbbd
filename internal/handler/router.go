package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/gatekeep/gatekeep-go/internal/middleware"
)

// RouterConfig holds the pieces of NewRouter that are not handlers.
type RouterConfig struct {
	Verifier       middleware.TokenVerifier
	AllowedOrigins []string
	Metrics        http.Handler
	Logger         *slog.Logger
}

// NewRouter mounts the auth API under /api/auth along with the health,
// root and metrics endpoints.
func NewRouter(auth *AuthHandler, cfg RouterConfig) http.Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(middleware.Logger(cfg.Logger))
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
		ExposedHeaders: []string{"X-Request-Id"},
		MaxAge:         300,
	}))

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte("API is running"))
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics)
	}

	r.Route("/api/auth", func(r chi.Router) {
		r.Post("/register", auth.HandleRegister)
		r.Post("/login", auth.HandleLogin)
		r.Post("/forgetPassword", auth.HandleForgotPassword)
		r.Post("/resetPassword/{token}", auth.HandleResetPassword)

		r.Group(func(r chi.Router) {
			r.Use(middleware.BearerAuth(cfg.Verifier))
			r.Get("/profile", auth.HandleProfile)
			r.Put("/updateProfile", auth.HandleUpdateProfile)
			r.Put("/changePassword", auth.HandleChangePassword)
			r.Delete("/deleteAccount", auth.HandleDeleteAccount)
			r.Post("/logout", auth.HandleLogout)
		})
	})

	return r
}
