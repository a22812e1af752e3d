package server

import (
	"github.com/labstack/echo/v4"

	"yagpt-router/internal/auth"
	"yagpt-router/internal/models"
)

const credentialsKey = "credentials"

// requireAuth resolves the bearer token into request-scoped credentials.
func (s *Server) requireAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		token, ok := auth.BearerToken(c.Request().Header.Get(echo.HeaderAuthorization))
		if !ok {
			return auth.ErrUnauthorized
		}

		creds, err := s.resolver.Resolve(token)
		if err != nil {
			return err
		}
		c.Set(credentialsKey, creds)
		return next(c)
	}
}

func credentialsFrom(c echo.Context) (models.Credentials, bool) {
	creds, ok := c.Get(credentialsKey).(models.Credentials)
	return creds, ok
}
