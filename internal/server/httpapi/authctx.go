package httpapi

import (
	"context"

	"github.com/gofrs/uuid/v5"
)

type ctxKey string

const actorIDKey ctxKey = "gs.actorID"

// WithActorID stores the authenticated actor ID in context.
func WithActorID(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, actorIDKey, id)
}

// ActorIDFromCtx fetches the actor ID from context.
func ActorIDFromCtx(ctx context.Context) (uuid.UUID, bool) {
	v := ctx.Value(actorIDKey)
	if v == nil {
		return uuid.Nil, false
	}
	id, ok := v.(uuid.UUID)
	return id, ok
}
