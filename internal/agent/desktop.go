package agent

import (
	"context"

	"notibridge/internal/host"
)

// Desktop drives the standard desktop Notification constructor. It honors
// every Note field and supports programmatic closure.
type Desktop struct {
	env host.Env
}

func NewDesktop(env host.Env) *Desktop { return &Desktop{env: env} }

func (a *Desktop) Name() string { return "desktop" }

func (a *Desktop) Supported() bool { return a.env.Has(host.CapDesktop) }

func (a *Desktop) Create(ctx context.Context, n host.Note) (*host.Record, error) {
	return a.env.Show(ctx, host.CapDesktop, n)
}

func (a *Desktop) Close(rec *host.Record) error { return a.env.Close(rec) }
