// Package scheduler fires config-declared notifications on cron schedules.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"notibridge/internal/config"
	"notibridge/internal/notify"
	"notibridge/pkg/logx"
)

// Notifier is the slice of the dispatch core the scheduler needs.
type Notifier interface {
	Create(ctx context.Context, title string, opts notify.Options) (*notify.Handle, error)
}

type Service struct {
	log logx.Logger
	n   Notifier

	mu      sync.Mutex
	parser  cron.Parser
	c       *cron.Cron
	defs    []config.ScheduleConfig
	baseCtx context.Context
	started bool
}

func New(n Notifier, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		log:    log,
		n:      n,
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
}

// Validate checks schedule specs without touching the running cron. Used as a
// config pre-commit hook.
func (s *Service) Validate(defs []config.ScheduleConfig) error {
	for _, d := range defs {
		if _, err := s.parser.Parse(d.Spec); err != nil {
			return &SpecError{Name: d.Name, Spec: d.Spec, Err: err}
		}
		if _, err := config.ParseDurationField("schedules."+d.Name+".timeout", d.Timeout); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) Start(ctx context.Context, defs []config.ScheduleConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.baseCtx = ctx
	s.defs = defs
	s.restartLocked()
}

func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return
	}
	s.started = false
	if s.c != nil {
		<-s.c.Stop().Done()
		s.c = nil
	}
	s.log.Info("scheduler stopped")
}

// Apply replaces the schedule set, restarting the cron. Called on config
// reload.
func (s *Service) Apply(defs []config.ScheduleConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.defs = defs
	if !s.started {
		return
	}
	s.restartLocked()
}

func (s *Service) restartLocked() {
	if s.c != nil {
		<-s.c.Stop().Done()
	}
	s.c = cron.New(cron.WithParser(s.parser))
	n := 0
	for _, d := range s.defs {
		d := d
		_, err := s.c.AddFunc(d.Spec, func() { s.fire(d) })
		if err != nil {
			s.log.Warn("schedule skipped",
				logx.String("name", d.Name), logx.String("spec", d.Spec), logx.Err(err))
			continue
		}
		n++
	}
	s.c.Start()
	s.log.Info("scheduler started", logx.Int("schedules", n))
}

func (s *Service) fire(d config.ScheduleConfig) {
	s.mu.Lock()
	ctx := s.baseCtx
	s.mu.Unlock()
	if ctx == nil || ctx.Err() != nil {
		return
	}

	timeout, err := config.ParseDurationField("schedules."+d.Name+".timeout", d.Timeout)
	if err != nil {
		timeout = 0
	}

	cctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	h, err := s.n.Create(cctx, d.Title, notify.Options{
		Body:    d.Body,
		Icon:    d.Icon,
		Tag:     d.Tag,
		Link:    d.Link,
		Timeout: timeout,
	})
	if err != nil {
		s.log.Warn("scheduled notification failed",
			logx.String("name", d.Name), logx.Err(err))
		return
	}
	s.log.Debug("scheduled notification fired",
		logx.String("name", d.Name), logx.Int64("id", h.ID()))
}

// SpecError reports an invalid cron spec in a schedule definition.
type SpecError struct {
	Name string
	Spec string
	Err  error
}

func (e *SpecError) Error() string {
	return "schedule " + e.Name + ": invalid spec " + e.Spec + ": " + e.Err.Error()
}

func (e *SpecError) Unwrap() error { return e.Err }
