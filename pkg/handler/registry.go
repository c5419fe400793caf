// Package handler implements HandlerRegistry: a construction-time,
// case-insensitive dispatch table from event_type to a ridgeline.Handler.
//
// Grounded on internal/engine's factory style (a type-keyed, case-folded
// lookup built once at construction) and on the design notes' resolution
// of the cyclic-wiring and handler-ordering open questions: handlers are
// plain values passed into the registry at construction, and declared
// Priority breaks ties deterministically by falling back to declaration
// order.
package handler

import (
	"context"
	"strings"

	"github.com/ridgeline-oss/ridgeline"
)

// Registry is the HandlerRegistry (HR).
type Registry struct {
	byType  map[string]ridgeline.Handler
	ordinal map[string]int
	def     ridgeline.Handler
	logger  ridgeline.Logger
}

// New builds a Registry from an ordered list of handlers. Exactly one
// handler must declare an empty SupportedTypes set; it becomes the
// default. When two handlers claim the same type, the one with the
// higher Priority wins; ties break by later declaration order (a warning
// is emitted either way).
func New(handlers []ridgeline.Handler, logger ridgeline.Logger) (*Registry, error) {
	r := &Registry{
		byType:  make(map[string]ridgeline.Handler),
		ordinal: make(map[string]int),
		logger:  logger,
	}

	for i, h := range handlers {
		types := h.SupportedTypes()
		if len(types) == 0 {
			if r.def != nil {
				return nil, &ridgeline.ConfigError{Reason: "more than one handler declares the empty (default) type set"}
			}
			r.def = h
			continue
		}
		for _, t := range types {
			key := strings.ToLower(t)
			if existing, claimed := r.byType[key]; claimed {
				winner := h
				loserPriority := existing.Priority()
				winnerPriority := h.Priority()
				if loserPriority > winnerPriority {
					winner = existing
				} else if loserPriority == winnerPriority {
					// later declaration order wins the tie
					winner = h
				}
				if r.logger != nil {
					r.logger.Warn("handler type collision", "event_type", key, "winner_priority", winner.Priority())
				}
				r.byType[key] = winner
				r.ordinal[key] = i
				continue
			}
			r.byType[key] = h
			r.ordinal[key] = i
		}
	}

	if r.def == nil {
		return nil, &ridgeline.ConfigError{Reason: "no handler declared as the default (empty type set)"}
	}
	return r, nil
}

// GetHandler performs a case-insensitive lookup; unknown types resolve to
// the default handler. It never returns nil.
func (r *Registry) GetHandler(eventType string) ridgeline.Handler {
	if h, ok := r.byType[strings.ToLower(eventType)]; ok {
		return h
	}
	return r.def
}

// funcHandler adapts a plain function plus static metadata into a
// ridgeline.Handler, for callers that don't need a dedicated type.
type funcHandler struct {
	types    []string
	priority int
	fn       func(ctx context.Context, evt ridgeline.RawEvent) error
}

func (f *funcHandler) SupportedTypes() []string { return f.types }
func (f *funcHandler) Priority() int            { return f.priority }
func (f *funcHandler) Handle(ctx context.Context, evt ridgeline.RawEvent) error {
	return f.fn(ctx, evt)
}

// Func builds a ridgeline.Handler from a plain function. Pass a nil or
// empty types slice to declare the catch-all default.
func Func(types []string, priority int, fn func(ctx context.Context, evt ridgeline.RawEvent) error) ridgeline.Handler {
	return &funcHandler{types: types, priority: priority, fn: fn}
}
