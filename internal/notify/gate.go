package notify

import (
	"context"

	"notibridge/internal/host"
)

// Gate is the permission collaborator. The dispatcher treats it as opaque:
// it asks for the current state and, when not yet granted, requests a
// decision exactly once per creation.
type Gate interface {
	// Granted reports whether notification permission is currently granted.
	Granted() bool

	// Request prompts for permission and blocks until a decision or ctx
	// expiry. Exactly one decision comes back per call.
	Request(ctx context.Context) (granted bool, err error)
}

// envGate asks the attached context.
type envGate struct {
	env host.Env
}

// NewEnvGate returns the default Gate backed by the host environment.
func NewEnvGate(env host.Env) Gate { return &envGate{env: env} }

func (g *envGate) Granted() bool {
	return g.env.Permission() == host.PermissionGranted
}

func (g *envGate) Request(ctx context.Context) (bool, error) {
	perm, err := g.env.RequestPermission(ctx)
	if err != nil {
		return false, err
	}
	return perm == host.PermissionGranted, nil
}
