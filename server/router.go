package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Routes constructs the HTTP router with the token and client endpoints.
func (a *App) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(a.Logger))
	r.Use(RecoveryMiddleware(a.Logger))
	r.Use(SecurityHeadersMiddleware())

	r.NotFound(handleNotFound)
	r.MethodNotAllowed(handleMethodNotAllowed)

	r.Get("/health", handleHealth)
	r.Get("/.well-known/jwks.json", a.handleJWKS)

	r.Route("/oauth", func(r chi.Router) {
		r.Get("/keys", a.handleKeys)
		r.With(a.Limiter.Middleware(a.Metrics)).Post("/token", a.handleToken)
		r.Post("/clients", a.handleRegister)

		r.Group(func(r chi.Router) {
			r.Use(BearerAuthMiddleware(a.Tokens))
			r.Get("/clients/{id}", a.handleGetClient)
			r.Delete("/clients/{id}", a.handleDeleteClient)
			r.Post("/clients/{id}/secret", a.handleRotateSecret)
		})
	})

	return r
}
