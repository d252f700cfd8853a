// Tickerwire - Equities Market Data Ingestion and Distribution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tickerwire

package api

import (
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
)

// Auth returns the bearer-token middleware. With a BearerTokenHash the
// presented token must match the bcrypt hash; with a JWTSecret it must
// be a valid HS256 JWT. With neither the middleware passes everything
// through, for deployments that terminate auth upstream.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func Auth(cfg Config, logger zerolog.Logger) func(http.Handler) http.Handler {
	if cfg.BearerTokenHash == "" && cfg.JWTSecret == "" {
		return func(next http.Handler) http.Handler { return next }
	}
	log := logger.With().Str("component", "api-auth").Logger()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				unauthorized(w, "missing bearer token")
				return
			}
			if !tokenValid(cfg, token) {
				log.Warn().Str("remote", r.RemoteAddr).Str("path", r.URL.Path).
					Msg("rejected bearer token")
				unauthorized(w, "invalid bearer token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(auth) <= len(prefix) || !strings.EqualFold(auth[:len(prefix)], prefix) {
		return "", false
	}
	return auth[len(prefix):], true
}

func tokenValid(cfg Config, token string) bool {
	if cfg.BearerTokenHash != "" {
		return bcrypt.CompareHashAndPassword(
			[]byte(cfg.BearerTokenHash), []byte(token)) == nil
	}
	parsed, err := jwt.Parse(token,
		func(t *jwt.Token) (any, error) { return []byte(cfg.JWTSecret), nil },
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithExpirationRequired(),
	)
	return err == nil && parsed.Valid
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="tickerwire"`)
	writeError(w, http.StatusUnauthorized, msg)
}
