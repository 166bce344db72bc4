// Package logctx enriches slog records with request, session and skill
// execution attributes carried on the context.
package logctx

import (
	"context"
	"log/slog"
)

// Handler wraps another slog.Handler and appends contextual attribute groups
// to every record.
type Handler struct {
	slog.Handler
}

func (h Handler) Handle(ctx context.Context, r slog.Record) error {
	if rd, ok := ctx.Value(requestDataKey{}).(*RequestData); ok {
		r.AddAttrs(slog.Group("req",
			slog.String("id", rd.RequestID),
			slog.String("method", rd.Method),
			slog.String("remote_addr", rd.RemoteAddr),
			slog.String("path", rd.Path),
		))
	}
	if sd, ok := ctx.Value(sessionDataKey{}).(*SessionData); ok {
		r.AddAttrs(slog.Group("sess",
			slog.String("id", sd.SessionID),
			slog.String("user_id", sd.UserID),
		))
	}
	if sk, ok := ctx.Value(skillDataKey{}).(*SkillData); ok {
		r.AddAttrs(slog.Group("skill",
			slog.String("name", sk.Name),
			slog.String("tool", sk.Tool),
		))
	}
	return h.Handler.Handle(ctx, r)
}

type requestDataKey struct{}

// RequestData identifies one HTTP request.
type RequestData struct {
	RequestID  string
	Method     string
	RemoteAddr string
	Path       string
}

func WithRequestData(ctx context.Context, data *RequestData) context.Context {
	return context.WithValue(ctx, requestDataKey{}, data)
}

type sessionDataKey struct{}

// SessionData identifies the MCP session a record belongs to.
type SessionData struct {
	SessionID string
	UserID    string
}

func WithSessionData(ctx context.Context, data *SessionData) context.Context {
	return context.WithValue(ctx, sessionDataKey{}, data)
}

type skillDataKey struct{}

// SkillData identifies the skill and tool involved in a record.
type SkillData struct {
	Name string
	Tool string
}

func WithSkillData(ctx context.Context, data *SkillData) context.Context {
	return context.WithValue(ctx, skillDataKey{}, data)
}
