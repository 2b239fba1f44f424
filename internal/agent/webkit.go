package agent

import (
	"context"

	"notibridge/internal/host"
)

// WebKit drives the legacy webkitNotifications API. The mechanism only knows
// icon, title and body; the richer Note fields are stripped before display.
type WebKit struct {
	env host.Env
}

func NewWebKit(env host.Env) *WebKit { return &WebKit{env: env} }

func (a *WebKit) Name() string { return "webkit" }

func (a *WebKit) Supported() bool { return a.env.Has(host.CapWebKit) }

func (a *WebKit) Create(ctx context.Context, n host.Note) (*host.Record, error) {
	return a.env.Show(ctx, host.CapWebKit, host.Note{
		Title: n.Title,
		Body:  n.Body,
		Icon:  n.Icon,
		Tag:   n.Tag,
	})
}

// Close cancels the legacy notification (the API calls it cancel, the effect
// is closure).
func (a *WebKit) Close(rec *host.Record) error { return a.env.Close(rec) }
