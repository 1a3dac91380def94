package transcribe

import "context"

// PermissionRequester asks the platform or the user for microphone access.
// Implementations may block until the user answers; they must honour ctx.
type PermissionRequester interface {
	RequestPermission(ctx context.Context) (granted bool, err error)
}

// PermissionFunc adapts a function to [PermissionRequester].
type PermissionFunc func(ctx context.Context) (bool, error)

// RequestPermission calls f(ctx).
func (f PermissionFunc) RequestPermission(ctx context.Context) (bool, error) { return f(ctx) }

// StaticPermission answers every request with the same decision. It backs
// the capture.permission configuration setting.
type StaticPermission bool

// RequestPermission implements [PermissionRequester].
func (p StaticPermission) RequestPermission(context.Context) (bool, error) { return bool(p), nil }
