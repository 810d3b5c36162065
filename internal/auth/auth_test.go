package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OpenNSW/pipeline/internal/config"
	"github.com/OpenNSW/pipeline/internal/database"
)

const testSecret = "test-secret"

func signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return token
}

func setupGrantStore(t *testing.T) *GrantStore {
	t.Helper()
	db, err := database.OpenInMemory(&ActorGrant{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close(db) })
	return NewGrantStore(db)
}

func newTestRouter(a *Authenticator, requireActor bool) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(a.Middleware())
	if requireActor {
		r.Use(a.RequireActor())
	}
	r.GET("/whoami", func(c *gin.Context) {
		actor := GetActor(c)
		p := GetProvenance(c)
		body := gin.H{"anonymous": actor == nil, "user_agent": p.UserAgent}
		if actor != nil {
			body["id"] = actor.ActorID()
			body["can_dispose"] = actor.HasPermission("assets.dispose")
		}
		c.JSON(http.StatusOK, body)
	})
	return r
}

func TestActor_HasPermission(t *testing.T) {
	var nilActor *Actor
	assert.False(t, nilActor.HasPermission("assets.dispose"))
	assert.Equal(t, "", nilActor.ActorID())

	actor := NewActor("alice", "assets.dispose")
	assert.True(t, actor.HasPermission("assets.dispose"))
	assert.False(t, actor.HasPermission("assets.report_lost"))

	admin := NewActor("root", WildcardPermission)
	assert.True(t, admin.HasPermission("anything"))
}

func TestAuthenticator_VerifiedToken(t *testing.T) {
	grants := setupGrantStore(t)
	require.NoError(t, grants.Grant(context.Background(), "alice", "assets.report_lost"))
	a := NewAuthenticator(config.AuthConfig{JWTSecret: testSecret, Issuer: "nsw"}, grants)

	actor, err := a.Authenticate(context.Background(), signToken(t, jwt.MapClaims{
		"sub":         "alice",
		"iss":         "nsw",
		"exp":         time.Now().Add(time.Hour).Unix(),
		"permissions": []any{"assets.dispose"},
	}))
	require.NoError(t, err)
	assert.Equal(t, "alice", actor.ID)
	assert.True(t, actor.HasPermission("assets.dispose"))
	assert.True(t, actor.HasPermission("assets.report_lost"))
}

func TestAuthenticator_RejectsInvalidTokens(t *testing.T) {
	a := NewAuthenticator(config.AuthConfig{JWTSecret: testSecret, Issuer: "nsw"}, nil)

	tests := []struct {
		name   string
		claims jwt.MapClaims
	}{
		{"expired", jwt.MapClaims{"sub": "alice", "iss": "nsw", "exp": time.Now().Add(-time.Hour).Unix()}},
		{"wrong issuer", jwt.MapClaims{"sub": "alice", "iss": "other"}},
		{"no subject", jwt.MapClaims{"iss": "nsw"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := a.Authenticate(context.Background(), signToken(t, tt.claims))
			assert.Error(t, err)
		})
	}

	forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "mallory", "iss": "nsw"}).
		SignedString([]byte("another-secret"))
	require.NoError(t, err)
	_, err = a.Authenticate(context.Background(), forged)
	assert.Error(t, err)
}

func TestAuthenticator_ScopeStringClaim(t *testing.T) {
	a := NewAuthenticator(config.AuthConfig{JWTSecret: testSecret, PermissionsKey: "scope"}, nil)

	actor, err := a.Authenticate(context.Background(), signToken(t, jwt.MapClaims{
		"sub":   "proxy-user",
		"scope": "assets.dispose assets.report_lost",
	}))
	require.NoError(t, err)
	assert.True(t, actor.HasPermission("assets.report_lost"))
	assert.Equal(t, 2, actor.Permissions.Cardinality())
}

func TestAuthenticator_UnverifiedTokenGetsGrantsOnly(t *testing.T) {
	grants := setupGrantStore(t)
	ctx := context.Background()
	require.NoError(t, grants.Grant(ctx, "proxy-user", "assets.report_lost"))
	a := NewAuthenticator(config.AuthConfig{}, grants)

	forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":         "proxy-user",
		"permissions": []any{"*", "assets.dispose"},
	}).SignedString([]byte("anything"))
	require.NoError(t, err)

	actor, err := a.Authenticate(ctx, forged)
	require.NoError(t, err)
	assert.Equal(t, "proxy-user", actor.ActorID())
	assert.False(t, actor.HasPermission("assets.dispose"))
	assert.False(t, actor.Permissions.Contains("*"))
	assert.True(t, actor.HasPermission("assets.report_lost"))
	assert.Equal(t, 1, actor.Permissions.Cardinality())

	stranger, err := a.Authenticate(ctx, signToken(t, jwt.MapClaims{"sub": "stranger", "permissions": "*"}))
	require.NoError(t, err)
	assert.Equal(t, 0, stranger.Permissions.Cardinality())
}

func TestMiddleware_InjectsActorAndProvenance(t *testing.T) {
	r := newTestRouter(NewAuthenticator(config.AuthConfig{JWTSecret: testSecret}, nil), false)

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, jwt.MapClaims{"sub": "alice", "permissions": []any{"assets.dispose"}}))
	req.Header.Set("User-Agent", "pipeline-test")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"anonymous":false,"id":"alice","can_dispose":true,"user_agent":"pipeline-test"}`, w.Body.String())

	req = httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"anonymous":true`)
}

func TestRequireActor(t *testing.T) {
	r := newTestRouter(NewAuthenticator(config.AuthConfig{JWTSecret: testSecret}, nil), true)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/whoami", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.JSONEq(t, `{"success":false,"error":"authentication required"}`, w.Body.String())

	open := newTestRouter(NewAuthenticator(config.AuthConfig{JWTSecret: testSecret, AllowAnonymous: true}, nil), true)
	w = httptest.NewRecorder()
	open.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/whoami", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestGrantStore(t *testing.T) {
	store := setupGrantStore(t)
	ctx := context.Background()

	require.NoError(t, store.Grant(ctx, "bob", "assets.dispose"))
	require.NoError(t, store.Grant(ctx, "bob", "assets.dispose"))
	require.NoError(t, store.Grant(ctx, "bob", "assets.activate"))

	perms, err := store.Permissions(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, []string{"assets.activate", "assets.dispose"}, perms)

	require.NoError(t, store.Revoke(ctx, "bob", "assets.dispose"))
	perms, err = store.Permissions(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, []string{"assets.activate"}, perms)

	assert.Error(t, store.Grant(ctx, "", "assets.dispose"))
	_, err = store.Permissions(ctx, "")
	assert.Error(t, err)
}
