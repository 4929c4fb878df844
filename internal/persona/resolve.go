package persona

import (
	"context"

	"go.uber.org/zap"

	"forllm/internal/domain"
	"forllm/internal/settings"
)

// Builtin is used when not even the seeded fallback row can be read.
func Builtin() domain.Persona {
	return domain.Persona{
		ID:           domain.FallbackPersonaID,
		Name:         domain.FallbackPersonaName,
		Instructions: domain.FallbackPersonaInstructions,
		IsActive:     true,
		Version:      1,
	}
}

// Resolver picks the persona for a reply: the requested persona when it is
// active, then the topic's subforum default, then the global default, then
// the seeded fallback, then Builtin. The subforum tier applies only when
// the store implements domain.SubforumPersonaStore.
type Resolver struct {
	store    domain.PersonaStore
	settings *settings.Reader
	logger   *zap.Logger
}

// NewResolver returns a Resolver. store and reader must not be nil.
func NewResolver(store domain.PersonaStore, reader *settings.Reader, logger *zap.Logger) *Resolver {
	if store == nil {
		panic("persona: store must not be nil")
	}
	if reader == nil {
		panic("persona: settings reader must not be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{store: store, settings: reader, logger: logger}
}

// Resolve never fails. requested may be nil. It skips the subforum tier.
func (r *Resolver) Resolve(ctx context.Context, requested *int64) domain.Persona {
	return r.resolve(ctx, 0, false, requested)
}

// ResolveInTopic is Resolve with the subforum default of topicID checked
// before the global default.
func (r *Resolver) ResolveInTopic(ctx context.Context, topicID int64, requested *int64) domain.Persona {
	return r.resolve(ctx, topicID, true, requested)
}

func (r *Resolver) resolve(ctx context.Context, topicID int64, inTopic bool, requested *int64) domain.Persona {
	if requested != nil {
		if p, ok := r.active(ctx, *requested); ok {
			return p
		}
		r.logger.Warn("requested persona unavailable, falling back", zap.Int64("persona_id", *requested))
	}
	if sub, ok := r.store.(domain.SubforumPersonaStore); ok && inTopic {
		id, found, err := sub.SubforumDefaultPersona(ctx, topicID)
		switch {
		case err != nil:
			r.logger.Warn("subforum default persona lookup failed", zap.Int64("topic_id", topicID), zap.Error(err))
		case found:
			if p, ok := r.active(ctx, id); ok {
				return p
			}
			r.logger.Warn("subforum default persona unavailable", zap.Int64("persona_id", id))
		}
	}
	if id := r.settings.GlobalDefaultPersonaID(ctx); id != domain.FallbackPersonaID {
		if p, ok := r.active(ctx, id); ok {
			return p
		}
		r.logger.Warn("global default persona unavailable", zap.Int64("persona_id", id))
	}
	p, err := r.store.GetPersona(ctx, domain.FallbackPersonaID)
	if err == nil && p.Instructions != "" {
		return *p
	}
	r.logger.Warn("fallback persona unreadable, using built-in", zap.Error(err))
	return Builtin()
}

func (r *Resolver) active(ctx context.Context, id int64) (domain.Persona, bool) {
	p, err := r.store.GetPersona(ctx, id)
	if err != nil || p == nil || !p.IsActive {
		return domain.Persona{}, false
	}
	return *p, true
}
