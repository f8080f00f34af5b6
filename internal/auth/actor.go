// Package auth defines who is performing an operation and what they may do.
package auth

import (
	"crypto/subtle"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gofrs/uuid/v5"
)

const CtxKeyActor = "actor"

var (
	ErrPermissionDenied = errors.New("permission denied")
	ErrNoActor          = errors.New("no authenticated actor")
)

type ActorKind int

const (
	ActorSystem ActorKind = iota
	ActorServer
	ActorAPIKey
)

func (k ActorKind) String() string {
	switch k {
	case ActorServer:
		return "server"
	case ActorAPIKey:
		return "api_key"
	default:
		return "system"
	}
}

// Actor is the authenticated caller of an operation.
type Actor struct {
	Kind     ActorKind
	ServerID uuid.UUID
	// IgnoreGlobals is copied from the server registration. Such servers only enforce their own records.
	IgnoreGlobals bool
	Name          string
	Permissions   Permission
}

// System is used by background work that acts without a caller.
func System() Actor {
	return Actor{Kind: ActorSystem, Name: "SYSTEM", Permissions: PermAll}
}

func (a Actor) IsServer() bool {
	return a.Kind == ActorServer
}

func (a Actor) Has(perm Permission) bool {
	return a.Permissions.Has(perm)
}

// APIKey is a statically configured credential for tools acting on behalf of staff, such as the web panel.
type APIKey struct {
	Name        string
	Key         string
	Permissions Permission
}

type APIKeys []APIKey

// Find returns the key with the given name when the secret matches.
func (keys APIKeys) Find(name string, secret string) (APIKey, bool) {
	for _, key := range keys {
		if key.Key == "" || key.Name != name {
			continue
		}

		if subtle.ConstantTimeCompare([]byte(key.Key), []byte(secret)) == 1 {
			return key, true
		}
	}

	return APIKey{}, false
}

func (k APIKey) Actor() Actor {
	return Actor{Kind: ActorAPIKey, Name: k.Name, Permissions: k.Permissions}
}

func SetActor(ctx *gin.Context, actor Actor) {
	ctx.Set(CtxKeyActor, actor)
}

// CurrentActor returns the actor attached by the authentication middleware.
func CurrentActor(ctx *gin.Context) (Actor, bool) {
	value, found := ctx.Get(CtxKeyActor)
	if !found {
		return Actor{}, false
	}

	actor, ok := value.(Actor)

	return actor, ok
}

// RequirePermission aborts the request unless the current actor holds perm. It must be installed after the
// authentication middleware.
func RequirePermission(perm Permission) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		actor, found := CurrentActor(ctx)
		if !found {
			ctx.AbortWithStatus(http.StatusUnauthorized)

			return
		}

		if !actor.Has(perm) {
			ctx.AbortWithStatus(http.StatusForbidden)

			return
		}

		ctx.Next()
	}
}
