package core

import "context"

type contextKey string

const (
	ctxKeyTeacherID contextKey = "teacher_id"
	ctxKeyIPAddress contextKey = "client_ip"
)

// ContextWithTeacherID records the acting teacher, which scopes every store call.
func ContextWithTeacherID(ctx context.Context, teacherID string) context.Context {
	return context.WithValue(ctx, ctxKeyTeacherID, teacherID)
}

// TeacherIDFromContext returns the acting teacher, or "" if none was set.
func TeacherIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKeyTeacherID).(string); ok {
		return v
	}
	return ""
}

// ContextWithIPAddress adds the client IP for import logging.
func ContextWithIPAddress(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, ctxKeyIPAddress, ip)
}

// GetIPAddressFromContext extracts the client IP from context.
func GetIPAddressFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKeyIPAddress).(string); ok {
		return v
	}
	return ""
}
