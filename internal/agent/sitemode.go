package agent

import (
	"context"

	"notibridge/internal/host"
)

// SiteMode drives IE's pinned-site overlay API. Display is an icon overlay
// plus taskbar flash; body text never shows, so only title, icon and tag
// survive the mapping. Closure clears the overlay.
type SiteMode struct {
	env host.Env
}

func NewSiteMode(env host.Env) *SiteMode { return &SiteMode{env: env} }

func (a *SiteMode) Name() string { return "sitemode" }

func (a *SiteMode) Supported() bool { return a.env.Has(host.CapSiteMode) }

func (a *SiteMode) Create(ctx context.Context, n host.Note) (*host.Record, error) {
	return a.env.Show(ctx, host.CapSiteMode, host.Note{
		Title: n.Title,
		Icon:  n.Icon,
		Tag:   n.Tag,
	})
}

func (a *SiteMode) Close(rec *host.Record) error { return a.env.Close(rec) }
