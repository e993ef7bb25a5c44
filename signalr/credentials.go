package signalr

import "context"

// Credentials is the (cookie, user-agent) pair a challenge solver
// produces. It is threaded explicitly through each Connection rather than
// read from process-global state.
type Credentials struct {
	Cookie    string
	UserAgent string
}

// ChallengeSolver performs whatever anti-bot interstitial exchange is
// required to obtain Credentials. The concrete solver (a headless-browser
// runner, a cached-cookie store, ...) lives outside this package; this
// package consumes its result when Facade.Connect is called, and every
// later reconnect reuses it.
type ChallengeSolver interface {
	Solve(ctx context.Context) (Credentials, error)
}

// StaticCredentials is a ChallengeSolver that always returns a fixed
// pair. Useful when credentials were obtained out of band, or in tests.
type StaticCredentials Credentials

func (s StaticCredentials) Solve(context.Context) (Credentials, error) {
	return Credentials(s), nil
}
