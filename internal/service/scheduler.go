package service

import (
	"urlscan/internal/utils"

	"github.com/robfig/cron/v3"
)

type Scheduler struct {
	Cron       *cron.Cron
	Whitelist  *WhitelistStore
	DNS        *DNSService
	ReloadSpec string
}

func NewScheduler(w *WhitelistStore, d *DNSService, reloadSpec string) *Scheduler {
	return &Scheduler{
		Cron:       cron.New(),
		Whitelist:  w,
		DNS:        d,
		ReloadSpec: reloadSpec,
	}
}

// Start registers the periodic jobs. An invalid reload spec is returned
// before anything is started.
func (s *Scheduler) Start() error {
	if s.ReloadSpec != "" {
		if _, err := s.Cron.AddFunc(s.ReloadSpec, s.RunReloadJob); err != nil {
			return err
		}
	}
	_, _ = s.Cron.AddFunc("@every 1m", s.RunStatsJob)

	s.Cron.Start()
	utils.Log.Info("scheduler started", utils.Field("whitelist_reload", s.ReloadSpec))
	return nil
}

func (s *Scheduler) Stop() {
	<-s.Cron.Stop().Done()
}

func (s *Scheduler) RunReloadJob() {
	if s.Whitelist == nil {
		return
	}
	before := s.Whitelist.Size()
	if err := s.Whitelist.Reload(); err != nil {
		utils.Log.Error("scheduled whitelist reload failed", utils.Field("error", err.Error()))
		return
	}
	utils.Log.Info("scheduled whitelist reload",
		utils.Field("before", before),
		utils.Field("after", s.Whitelist.Size()),
	)
}

func (s *Scheduler) RunStatsJob() {
	if s.DNS == nil {
		return
	}
	n := s.DNS.Len()
	dnsCacheEntries.Set(float64(n))
	utils.Log.Debug("dns cache stats", utils.Field("entries", n))
}
