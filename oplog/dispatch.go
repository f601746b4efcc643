package oplog

import (
	"context"

	"github.com/pkg/errors"
)

// Handler receives entries routed by Dispatch, one hook per Kind.
type Handler interface {
	Insert(ctx context.Context, e *Entry) error
	Update(ctx context.Context, e *Entry) error
	Delete(ctx context.Context, e *Entry) error
	Command(ctx context.Context, e *Entry) error
	DatabaseDeclared(ctx context.Context, e *Entry) error
	Noop(ctx context.Context, e *Entry) error
}

// Dispatch routes e to the hook of h matching its kind.
// It returns ErrUnknownKind without calling h when the kind is not recognized.
func Dispatch(ctx context.Context, h Handler, e *Entry) error {
	switch e.Kind {
	case Insert:
		return h.Insert(ctx, e)
	case Update:
		return h.Update(ctx, e)
	case Delete:
		return h.Delete(ctx, e)
	case Command:
		return h.Command(ctx, e)
	case DatabaseDeclared:
		return h.DatabaseDeclared(ctx, e)
	case Noop:
		return h.Noop(ctx, e)
	default:
		return errors.Wrapf(ErrUnknownKind, "op=%q ts=%s", string(e.Kind), FormatTimestamp(e.Timestamp))
	}
}

// NopHandler ignores every entry. Embed it to implement only some hooks.
type NopHandler struct{}

func (NopHandler) Insert(context.Context, *Entry) error           { return nil }
func (NopHandler) Update(context.Context, *Entry) error           { return nil }
func (NopHandler) Delete(context.Context, *Entry) error           { return nil }
func (NopHandler) Command(context.Context, *Entry) error          { return nil }
func (NopHandler) DatabaseDeclared(context.Context, *Entry) error { return nil }
func (NopHandler) Noop(context.Context, *Entry) error             { return nil }
