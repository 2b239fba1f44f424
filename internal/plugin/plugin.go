// Package plugin hosts optional extensions that react to notification
// lifecycle events.
package plugin

import (
	"context"
	"encoding/json"

	"notibridge/internal/config"
	"notibridge/internal/eventbus"
	"notibridge/internal/notify"
	"notibridge/pkg/logx"
)

type Plugin interface {
	Name() string
	Init(ctx context.Context, deps Deps) error
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// ConfigurablePlugin receives its raw config blob on enable and on every
// reload where the blob changed.
type ConfigurablePlugin interface {
	OnConfigChange(ctx context.Context, raw json.RawMessage) error
}

type Deps struct {
	Log    logx.Logger
	Notify *notify.Dispatcher
	Bus    *eventbus.Bus
	Config *config.Manager
}
