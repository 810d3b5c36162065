package auth

import (
	"context"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/gin-gonic/gin"

	"github.com/OpenNSW/pipeline/internal/pipeline/model"
)

// WildcardPermission grants every permission.
const WildcardPermission = "*"

// Actor represents the authenticated caller of a request.
// It is injected into the request by the auth middleware and satisfies model.Actor.
type Actor struct {
	ID          string
	Permissions mapset.Set[string]
}

// NewActor builds an actor holding the given permissions.
func NewActor(id string, permissions ...string) *Actor {
	return &Actor{ID: id, Permissions: mapset.NewSet(permissions...)}
}

// ActorID returns the actor id, or "" for a nil actor.
func (a *Actor) ActorID() string {
	if a == nil {
		return ""
	}
	return a.ID
}

// HasPermission reports whether the actor holds name or the wildcard permission.
func (a *Actor) HasPermission(name string) bool {
	if a == nil || a.Permissions == nil {
		return false
	}
	return a.Permissions.Contains(name) || a.Permissions.Contains(WildcardPermission)
}

type contextKey string

const (
	actorKey      contextKey = "actor"
	provenanceKey contextKey = "provenance"
)

// WithActor returns a copy of ctx carrying the actor.
func WithActor(ctx context.Context, actor *Actor) context.Context {
	return context.WithValue(ctx, actorKey, actor)
}

// ActorFrom returns the actor stored in ctx, or nil when the request is anonymous.
func ActorFrom(ctx context.Context) *Actor {
	actor, ok := ctx.Value(actorKey).(*Actor)
	if !ok {
		return nil
	}
	return actor
}

// GetActor returns the actor of a gin request as a model.Actor.
// The result is an untyped nil for anonymous requests so that it compares equal to nil.
func GetActor(c *gin.Context) model.Actor {
	if actor := ActorFrom(c.Request.Context()); actor != nil {
		return actor
	}
	return nil
}

// GetProvenance returns the request origin captured by the middleware.
func GetProvenance(c *gin.Context) model.Provenance {
	if p, ok := c.Request.Context().Value(provenanceKey).(model.Provenance); ok {
		return p
	}
	return model.Provenance{IPAddress: c.ClientIP(), UserAgent: c.Request.UserAgent()}
}
