package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

type contextKey string

const (
	UserIDKey    contextKey = "user_id"
	UserRolesKey contextKey = "user_roles"
	ElevatedKey  contextKey = "elevated_approval"
)

// DefaultElevatedRole grants elevated approval when no other role is configured.
const DefaultElevatedRole = "admin"

type Claims struct {
	jwt.RegisteredClaims
	Roles []string `json:"roles"`
	// ElevatedApproval is set on short-lived tokens issued for a single
	// approved destructive change.
	ElevatedApproval bool `json:"elevated_approval,omitempty"`
}

type JWTConfig struct {
	Issuer       string
	Audience     string
	SigningKey   []byte
	ElevatedRole string
}

var errNoSigningKey = errors.New("no signing key configured")

// ParseToken validates an HS256 bearer token and returns its claims.
func ParseToken(cfg JWTConfig, tokenStr string) (*Claims, error) {
	if len(cfg.SigningKey) == 0 {
		return nil, errNoSigningKey
	}
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"HS256"})}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		return cfg.SigningKey, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}
	if !token.Valid || claims.Subject == "" {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

// IssueToken signs a token for subject. Used by the CLI and tests.
func IssueToken(cfg JWTConfig, subject string, roles []string, elevated bool, ttl time.Duration) (string, error) {
	if len(cfg.SigningKey) == 0 {
		return "", errNoSigningKey
	}
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Roles:            roles,
		ElevatedApproval: elevated,
	}
	if cfg.Audience != "" {
		claims.Audience = jwt.ClaimStrings{cfg.Audience}
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(cfg.SigningKey)
}

// CallerMiddleware resolves the caller from a bearer token. It never rejects
// a request: a missing or invalid token leaves the caller anonymous, and the
// compliance gate decides what an anonymous caller may do.
func CallerMiddleware(cfg JWTConfig, logger zerolog.Logger) echo.MiddlewareFunc {
	return callerMiddleware(cfg, "", logger)
}

// DevCallerMiddleware behaves like CallerMiddleware but treats requests
// without an Authorization header as devUser. Tokens that are present are
// still validated.
func DevCallerMiddleware(cfg JWTConfig, devUser string, logger zerolog.Logger) echo.MiddlewareFunc {
	return callerMiddleware(cfg, devUser, logger)
}

func callerMiddleware(cfg JWTConfig, devUser string, logger zerolog.Logger) echo.MiddlewareFunc {
	elevatedRole := cfg.ElevatedRole
	if elevatedRole == "" {
		elevatedRole = DefaultElevatedRole
	}
	log := logger.With().Str("component", "auth").Logger()

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			authHeader := c.Request().Header.Get("Authorization")
			if authHeader == "" {
				if devUser != "" {
					setCaller(c, devUser, nil, false)
				}
				return next(c)
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || strings.TrimSpace(parts[1]) == "" {
				log.Warn().Str("path", c.Request().URL.Path).Msg("malformed authorization header")
				return next(c)
			}

			claims, err := ParseToken(cfg, strings.TrimSpace(parts[1]))
			if err != nil {
				log.Warn().Err(err).Str("path", c.Request().URL.Path).Msg("rejected bearer token")
				return next(c)
			}

			elevated := claims.ElevatedApproval || hasRole(claims.Roles, elevatedRole)
			setCaller(c, claims.Subject, claims.Roles, elevated)
			return next(c)
		}
	}
}

func setCaller(c echo.Context, userID string, roles []string, elevated bool) {
	ctx := c.Request().Context()
	ctx = context.WithValue(ctx, UserIDKey, userID)
	ctx = context.WithValue(ctx, UserRolesKey, roles)
	ctx = context.WithValue(ctx, ElevatedKey, elevated)
	c.SetRequest(c.Request().WithContext(ctx))
}

func hasRole(roles []string, role string) bool {
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}

func UserIDFromContext(ctx context.Context) string {
	uid, _ := ctx.Value(UserIDKey).(string)
	return uid
}

func RolesFromContext(ctx context.Context) []string {
	roles, _ := ctx.Value(UserRolesKey).([]string)
	return roles
}

// ElevatedFromContext reports whether the caller holds elevated approval.
func ElevatedFromContext(ctx context.Context) bool {
	elevated, _ := ctx.Value(ElevatedKey).(bool)
	return elevated
}
