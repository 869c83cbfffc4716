package shared

import "context"

// Actor is the authenticated caller of an operation.
type Actor struct {
	ID   int64
	Role string
}

// IsAdmin reports whether the actor holds the admin role.
func (a Actor) IsAdmin() bool {
	return a.Role == RoleAdmin
}

// Roles understood by the API.
const (
	RoleAdmin      = "admin"
	RoleCashier    = "cashier"
	RolePharmacist = "pharmacist"
	RoleLabTech    = "lab"
)

type actorContextKey struct{}

// ContextWithActor stores the actor in context.
func ContextWithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext extracts the actor from context.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(Actor)
	return actor, ok && actor.ID != 0
}
