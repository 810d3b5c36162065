package auth

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/cast"

	"github.com/OpenNSW/pipeline/internal/config"
	"github.com/OpenNSW/pipeline/internal/pipeline/model"
)

// Authenticator turns bearer tokens into actors.
//
// When a JWT secret is configured tokens are verified with HMAC. Without one they
// are parsed unverified, which is only suitable behind a trusted proxy. Unverified
// tokens supply the actor identity only; permissions then come from stored grants.
type Authenticator struct {
	cfg    config.AuthConfig
	grants *GrantStore
}

// NewAuthenticator creates an Authenticator. grants may be nil.
func NewAuthenticator(cfg config.AuthConfig, grants *GrantStore) *Authenticator {
	if cfg.PermissionsKey == "" {
		cfg.PermissionsKey = "permissions"
	}
	if cfg.JWTSecret == "" {
		slog.Warn("no JWT secret configured, tokens parsed without verification and token permissions ignored")
	}
	return &Authenticator{cfg: cfg, grants: grants}
}

// Middleware extracts the actor and provenance of every request.
// Requests without a valid token proceed anonymously; use RequireActor to reject them.
func (a *Authenticator) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := context.WithValue(c.Request.Context(), provenanceKey, model.Provenance{
			IPAddress: c.ClientIP(),
			UserAgent: c.Request.UserAgent(),
		})

		if token := extractBearerToken(c.GetHeader("Authorization")); token != "" {
			actor, err := a.Authenticate(ctx, token)
			if err != nil {
				slog.Warn("failed to authenticate bearer token",
					"error", err,
					"path", c.Request.URL.Path,
				)
			} else {
				ctx = WithActor(ctx, actor)
				slog.Debug("actor injected", "actor_id", actor.ID)
			}
		}

		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// RequireActor rejects anonymous requests with 401 unless anonymous access is allowed.
func (a *Authenticator) RequireActor() gin.HandlerFunc {
	return func(c *gin.Context) {
		if a.cfg.AllowAnonymous || ActorFrom(c.Request.Context()) != nil {
			c.Next()
			return
		}
		slog.Warn("authentication required but not provided",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"success": false,
			"error":   "authentication required",
		})
	}
}

// Authenticate parses token and builds its actor, merging stored grants into the token permissions.
// Permission claims are only trusted on verified tokens.
func (a *Authenticator) Authenticate(ctx context.Context, token string) (*Actor, error) {
	claims, err := a.parseClaims(token)
	if err != nil {
		return nil, err
	}

	subject, err := claims.GetSubject()
	if err != nil || subject == "" {
		return nil, fmt.Errorf("token has no subject")
	}

	var claimed []string
	if a.cfg.JWTSecret != "" {
		claimed = permissionsFromClaim(claims[a.cfg.PermissionsKey])
	} else if _, ok := claims[a.cfg.PermissionsKey]; ok {
		slog.Debug("ignoring permission claim on unverified token", "subject", subject)
	}

	actor := NewActor(subject, claimed...)
	if a.grants != nil {
		granted, err := a.grants.Permissions(ctx, subject)
		if err != nil {
			return nil, err
		}
		for _, p := range granted {
			actor.Permissions.Add(p)
		}
	}
	return actor, nil
}

func (a *Authenticator) parseClaims(tokenString string) (jwt.MapClaims, error) {
	var parserOpts []jwt.ParserOption
	if a.cfg.Issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(a.cfg.Issuer))
	}
	if a.cfg.Audience != "" {
		parserOpts = append(parserOpts, jwt.WithAudience(a.cfg.Audience))
	}

	claims := jwt.MapClaims{}
	var err error
	if a.cfg.JWTSecret != "" {
		_, err = jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return []byte(a.cfg.JWTSecret), nil
		}, parserOpts...)
	} else {
		_, _, err = jwt.NewParser(parserOpts...).ParseUnverified(tokenString, claims)
	}
	if err != nil {
		return nil, fmt.Errorf("JWT parse error: %w", err)
	}
	return claims, nil
}

// permissionsFromClaim accepts a JSON array or a space separated scope string.
func permissionsFromClaim(raw any) []string {
	switch v := raw.(type) {
	case nil:
		return nil
	case string:
		return strings.Fields(v)
	default:
		return cast.ToStringSlice(v)
	}
}

func extractBearerToken(header string) string {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
