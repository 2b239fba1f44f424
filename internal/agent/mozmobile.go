package agent

import (
	"context"

	"notibridge/internal/host"
)

// MozMobile drives Firefox mobile's mozNotification API: title, body and
// icon only, and no way to close a notification once shown.
type MozMobile struct {
	env host.Env
}

func NewMozMobile(env host.Env) *MozMobile { return &MozMobile{env: env} }

func (a *MozMobile) Name() string { return "mozmobile" }

func (a *MozMobile) Supported() bool { return a.env.Has(host.CapMozMobile) }

func (a *MozMobile) Create(ctx context.Context, n host.Note) (*host.Record, error) {
	return a.env.Show(ctx, host.CapMozMobile, host.Note{
		Title: n.Title,
		Body:  n.Body,
		Icon:  n.Icon,
		Tag:   n.Tag,
	})
}

// Close is a no-op: the mechanism has no programmatic closure.
func (a *MozMobile) Close(*host.Record) error { return nil }
