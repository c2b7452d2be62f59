package intent

import "context"

// Handler produces a result for one intent from its extracted argument.
// Handlers catch their own collaborator failures and report them
// through the result; a returned error is treated as an internal
// failure by the dispatcher.
type Handler interface {
	Handle(ctx context.Context, arg string) (Result, error)
}

// HandlerFunc adapts a function to [Handler].
type HandlerFunc func(ctx context.Context, arg string) (Result, error)

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, arg string) (Result, error) {
	return f(ctx, arg)
}

type userNameKey struct{}

// WithUserName returns a context carrying the session's user name so
// handlers can personalise replies without holding session state.
func WithUserName(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, userNameKey{}, name)
}

// UserName returns the name stored by [WithUserName], or "".
func UserName(ctx context.Context) string {
	name, _ := ctx.Value(userNameKey{}).(string)
	return name
}
