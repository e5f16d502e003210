package logging

import (
	"context"
	"errors"
	"log/slog"
)

// AttrsFunc returns attributes appended to every record at log time, e.g. the
// session currently being recorded. It may return nil.
type AttrsFunc func() []slog.Attr

// fanoutHandler hands each record to every enabled sink. A failing sink does
// not stop the others; the failures are joined.
type fanoutHandler struct {
	sinks []slog.Handler
}

func newFanoutHandler(sinks ...slog.Handler) *fanoutHandler {
	h := &fanoutHandler{}
	for _, s := range sinks {
		if s != nil {
			h.sinks = append(h.sinks, s)
		}
	}
	return h
}

func (h *fanoutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, s := range h.sinks {
		if s.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (h *fanoutHandler) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, s := range h.sinks {
		if !s.Enabled(ctx, r.Level) {
			continue
		}
		if err := s.Handle(ctx, r.Clone()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (h *fanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return h.each(func(s slog.Handler) slog.Handler { return s.WithAttrs(attrs) })
}

func (h *fanoutHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return h.each(func(s slog.Handler) slog.Handler { return s.WithGroup(name) })
}

func (h *fanoutHandler) each(fn func(slog.Handler) slog.Handler) *fanoutHandler {
	out := &fanoutHandler{sinks: make([]slog.Handler, len(h.sinks))}
	for i, s := range h.sinks {
		out.sinks[i] = fn(s)
	}
	return out
}

// dynamicHandler appends the attributes of fn to each record before passing it on.
type dynamicHandler struct {
	next slog.Handler
	fn   AttrsFunc
}

func (h *dynamicHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *dynamicHandler) Handle(ctx context.Context, r slog.Record) error {
	if attrs := h.fn(); len(attrs) > 0 {
		r.AddAttrs(attrs...)
	}
	return h.next.Handle(ctx, r)
}

func (h *dynamicHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &dynamicHandler{next: h.next.WithAttrs(attrs), fn: h.fn}
}

func (h *dynamicHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return &dynamicHandler{next: h.next.WithGroup(name), fn: h.fn}
}
