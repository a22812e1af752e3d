// Package auth resolves bearer tokens into upstream credentials.
package auth

import (
	"errors"
	"log/slog"
	"strings"

	"yagpt-router/internal/config"
	"yagpt-router/internal/models"
)

// ErrUnauthorized indicates a missing or unknown bearer credential.
var ErrUnauthorized = errors.New("invalid token")

// Resolver maps bearer tokens to credentials. It is immutable after construction.
type Resolver struct {
	tokens    map[string]string
	catalogID string
	secretKey string
	byok      bool
}

// NewResolver builds a resolver from the managed token table and default credentials.
func NewResolver(authCfg config.AuthConfig, upstream config.UpstreamConfig) *Resolver {
	tokens := make(map[string]string, len(authCfg.Tokens))
	for token, user := range authCfg.Tokens {
		tokens[token] = user
	}
	return &Resolver{
		tokens:    tokens,
		catalogID: upstream.CatalogID,
		secretKey: upstream.SecretKey,
		byok:      upstream.BYOK,
	}
}

// Resolve returns request-scoped credentials for a bearer token. With BYOK
// enabled a token of the form <catalog>:<secret> is used verbatim.
func (r *Resolver) Resolve(token string) (models.Credentials, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return models.Credentials{}, ErrUnauthorized
	}

	if r.byok {
		if catalogID, secretKey, ok := strings.Cut(token, ":"); ok {
			if catalogID == "" || secretKey == "" || strings.Contains(secretKey, ":") {
				return models.Credentials{}, ErrUnauthorized
			}
			slog.Debug("byok credentials", "catalog", "***"+config.Mask(catalogID), "key", "***"+config.Mask(secretKey))
			return models.Credentials{
				CatalogID: catalogID,
				SecretKey: secretKey,
				BYOK:      true,
			}, nil
		}
	}

	if user, ok := r.tokens[token]; ok {
		return models.Credentials{
			CatalogID: r.catalogID,
			SecretKey: r.secretKey,
			UserID:    user,
		}, nil
	}

	slog.Warn("invalid token", "token", "***"+config.Mask(token))
	return models.Credentials{}, ErrUnauthorized
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
