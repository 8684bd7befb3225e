package middleware

import (
	"net/http"

	"github.com/rs/cors"
)

// CORS builds the CORS middleware for the console API. The browser
// console sends bearer tokens in the Authorization header and JSON
// bodies; websocket upgrades carry their token in the query string and
// never preflight, so only the REST surface is listed here.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           600,
	})

	return c.Handler
}
