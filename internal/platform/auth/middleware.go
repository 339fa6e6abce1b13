package auth

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

type contextKey string

const (
	UserIDKey    contextKey = "user_id"
	UsernameKey  contextKey = "username"
	UserRolesKey contextKey = "user_roles"
	TokenIDKey   contextKey = "token_id"
)

// LegacyTokenHeader is the header older clients send the token in.
const LegacyTokenHeader = "x-auth-token"

// Claims are the staff token claims. Subject carries the staff user id.
type Claims struct {
	jwt.RegisteredClaims
	Username string   `json:"username"`
	Role     string   `json:"role"`
	Roles    []string `json:"roles,omitempty"`
	BranchID int      `json:"branch_id,omitempty"`
}

// AllRoles returns the primary role plus any extra roles, without duplicates.
func (c *Claims) AllRoles() []string {
	out := make([]string, 0, len(c.Roles)+1)
	seen := map[string]bool{}
	for _, r := range append([]string{c.Role}, c.Roles...) {
		if r != "" && !seen[r] {
			seen[r] = true
			out = append(out, r)
		}
	}
	return out
}

type JWTConfig struct {
	SigningKey []byte
	Issuer     string
	// Revoker is optional; when set, logged-out token ids are rejected.
	Revoker Revoker
}

func tokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		parts := strings.SplitN(h, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			return strings.TrimSpace(parts[1])
		}
		return ""
	}
	return strings.TrimSpace(r.Header.Get(LegacyTokenHeader))
}

// ParseToken validates an HS256 staff token.
func ParseToken(tokenStr string, key []byte, issuer string) (*Claims, error) {
	claims := &Claims{}
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"HS256"})}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		return key, nil
	}, opts...)
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}
	return claims, nil
}

func JWTMiddleware(cfg JWTConfig) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			tokenStr := tokenFromRequest(c.Request())
			if tokenStr == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "no token, authorization denied")
			}

			claims, err := ParseToken(tokenStr, cfg.SigningKey, cfg.Issuer)
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "token is not valid")
			}

			ctx := c.Request().Context()
			if cfg.Revoker != nil && claims.ID != "" {
				revoked, err := cfg.Revoker.IsRevoked(ctx, claims.ID)
				if err != nil {
					return echo.NewHTTPError(http.StatusServiceUnavailable, "token check unavailable")
				}
				if revoked {
					return echo.NewHTTPError(http.StatusUnauthorized, "token has been revoked")
				}
			}

			if claims.BranchID > 0 {
				c.Set("jwt_branch_id", claims.BranchID)
			}
			c.SetRequest(c.Request().WithContext(WithClaims(ctx, claims)))
			return next(c)
		}
	}
}

// WithClaims stores the identity from claims on ctx.
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	ctx = context.WithValue(ctx, UserIDKey, claims.Subject)
	ctx = context.WithValue(ctx, UsernameKey, claims.Username)
	ctx = context.WithValue(ctx, UserRolesKey, claims.AllRoles())
	ctx = context.WithValue(ctx, TokenIDKey, claims.ID)
	if claims.ExpiresAt != nil {
		ctx = context.WithValue(ctx, tokenExpiryKey, claims.ExpiresAt.Time)
	}
	return ctx
}

const tokenExpiryKey contextKey = "token_expiry"

// DevAuthMiddleware lets unauthenticated requests through as an admin and
// still honours a token when one is sent.
func DevAuthMiddleware(cfg JWTConfig) echo.MiddlewareFunc {
	strict := JWTMiddleware(cfg)
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		withToken := strict(next)
		return func(c echo.Context) error {
			if tokenFromRequest(c.Request()) != "" && len(cfg.SigningKey) > 0 {
				return withToken(c)
			}
			ctx := c.Request().Context()
			ctx = context.WithValue(ctx, UserIDKey, "dev-user")
			ctx = context.WithValue(ctx, UsernameKey, "dev")
			ctx = context.WithValue(ctx, UserRolesKey, []string{RoleAdmin})
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}

func UserIDFromContext(ctx context.Context) string {
	uid, _ := ctx.Value(UserIDKey).(string)
	return uid
}

func UsernameFromContext(ctx context.Context) string {
	u, _ := ctx.Value(UsernameKey).(string)
	return u
}

func RolesFromContext(ctx context.Context) []string {
	roles, _ := ctx.Value(UserRolesKey).([]string)
	return roles
}

func TokenIDFromContext(ctx context.Context) string {
	jti, _ := ctx.Value(TokenIDKey).(string)
	return jti
}

// TokenExpiryFromContext returns when the caller's token expires.
func TokenExpiryFromContext(ctx context.Context) (time.Time, bool) {
	t, ok := ctx.Value(tokenExpiryKey).(time.Time)
	return t, ok
}
