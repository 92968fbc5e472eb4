// Package session carries the ambient per-task caller identity through the
// engine. Go has no implicit task-local storage, so per spec.md §9 the
// context is made an explicit parameter: every operation that used to read a
// global "current user" instead takes a context.Context carrying a *Context
// value, and every internal task spawner (search workers, download workers,
// premium-link pollers) must pass along an explicit snapshot.
package session

import "context"

// Context is the caller identity propagated into spawned tasks so that
// settings reads resolve to the right profile.
type Context struct {
	UserID    string
	Username  string
	Role      string
	ProfileID string
}

type contextKey struct{}

// WithContext returns a derived context carrying a snapshot of sc. The
// snapshot is copied so later mutation of the caller's Context value does
// not leak into already-spawned tasks.
func WithContext(ctx context.Context, sc Context) context.Context {
	return context.WithValue(ctx, contextKey{}, sc)
}

// FromContext extracts the session Context, returning the zero value and
// false if none was set.
func FromContext(ctx context.Context) (Context, bool) {
	sc, ok := ctx.Value(contextKey{}).(Context)
	return sc, ok
}

// Snapshot returns the session Context carried by ctx, or an anonymous
// Context if none was set. Background task spawners should call this once at
// the point they fork off a worker and thread the result through, rather
// than re-deriving it from a shared ctx.Context field later.
func Snapshot(ctx context.Context) Context {
	sc, ok := FromContext(ctx)
	if !ok {
		return Context{Role: "anonymous"}
	}
	return sc
}
