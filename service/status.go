package service

import (
	"context"
	"fmt"
	"time"

	"adeguard/pipeline"
	"adeguard/version"
)

// ComponentStatus describes one backend.
type ComponentStatus struct {
	Enabled bool   `json:"enabled"`
	Healthy bool   `json:"healthy"`
	Detail  string `json:"detail,omitempty"`
}

// SystemStatus is the admin view of the running service.
type SystemStatus struct {
	Service          string                     `json:"service"`
	Version          version.Info               `json:"version"`
	Environment      string                     `json:"environment"`
	UptimeSeconds    int64                      `json:"uptime_seconds"`
	RulesVersion     string                     `json:"rules_version"`
	RulesFile        string                     `json:"rules_file,omitempty"`
	PipelineHealthy  bool                       `json:"pipeline_healthy"`
	Stages           []pipeline.StageStatus     `json:"stages"`
	Components       map[string]ComponentStatus `json:"components"`
	CacheEntries     int                        `json:"cache_entries"`
	DashboardClients int                        `json:"dashboard_clients"`
	MaxBatchSize     int                        `json:"max_batch_size"`
	BatchWorkers     int                        `json:"batch_workers"`
}

// Status probes every stage and backend.
func (s *Service) Status(ctx context.Context) SystemStatus {
	stages := s.pipeline.Health(ctx)

	status := SystemStatus{
		Service:         "adeguard",
		Version:         version.Get("adeguard"),
		Environment:     s.cfg.Environment,
		UptimeSeconds:   int64(time.Since(s.started).Seconds()),
		RulesVersion:    s.RulesVersion(),
		RulesFile:       s.rules.Path(),
		PipelineHealthy: pipeline.Healthy(stages),
		Stages:          stages,
		Components:      make(map[string]ComponentStatus),
		MaxBatchSize:    s.coordinator.MaxBatchSize(),
		BatchWorkers:    s.cfg.BatchWorkers,
	}

	db := ComponentStatus{Enabled: s.db != nil}
	if s.db != nil {
		if err := s.db.Ping(ctx); err != nil {
			db.Detail = err.Error()
		} else {
			db.Healthy = true
		}
	}
	status.Components["database"] = db

	status.Components["messaging"] = ComponentStatus{
		Enabled: s.events != nil,
		Healthy: s.events.Connected(),
	}

	intake := ComponentStatus{Enabled: s.intake != nil}
	if s.intake != nil {
		intake.Healthy = s.intake.IsConnected()
		intake.Detail = s.intake.Queue()
	}
	status.Components["intake"] = intake

	c := ComponentStatus{Enabled: s.cache != nil, Detail: s.cacheName()}
	if s.cache != nil {
		c.Healthy = true
		status.CacheEntries = s.cache.Len(ctx)
	}
	status.Components["cache"] = c

	if s.hub != nil {
		status.DashboardClients = s.hub.ClientCount()
	}
	dash := ComponentStatus{Enabled: s.hub != nil, Healthy: s.hub != nil}
	if s.hub != nil {
		dash.Detail = fmt.Sprintf("%d queued", s.hub.Queued())
	}
	status.Components["dashboard"] = dash

	return status
}
