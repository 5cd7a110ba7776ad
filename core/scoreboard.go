// Copyright 2023 The go-adkihon Authors
// This file is part of the go-adkihon library.
//
// The go-adkihon library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-adkihon library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-adkihon library. If not, see <http://www.gnu.org/licenses/>.

package core

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/adkihon/go-adkihon/config"
	"github.com/adkihon/go-adkihon/gamedb"
)

// ErrConcurrentUpdate is returned to non-waiting Stats callers while another
// caller is rebuilding the cache.
var ErrConcurrentUpdate = errors.New("core: scoreboard refresh already running")

// ServicePoints is the published per-service score triple, with the service
// id stripped.
type ServicePoints struct {
	AtkPts int `json:"atk_pts"`
	DefPts int `json:"def_pts"`
	SlaPts int `json:"sla_pts"`
}

// TeamView is the sanitized public projection of a team. It carries no
// token, flag history or raw checks by construction.
type TeamView struct {
	IPAddr        string                   `json:"ip_addr"`
	Name          string                   `json:"name"`
	Points        map[string]ServicePoints `json:"points"`
	LastPtsUpdate int64                    `json:"last_pts_update"`
	OverallScore  int                      `json:"overall_score"`
	ServiceStatus map[string]string        `json:"service_status"`
}

// Scoreboard caches the sanitized team views and rebuilds them from the
// store at most once per update latency, with at most one concurrent
// builder.
type Scoreboard struct {
	db     gamedb.Database
	logger zerolog.Logger

	serviceNames map[int]string
	atkWeight    int
	defWeight    int
	slaWeight    int
	baseScore    int
	latency      time.Duration

	mu         sync.Mutex
	cond       *sync.Cond
	refreshing bool
	teams      []TeamView
	lastUpdate time.Time
}

// NewScoreboard reads the service list once and performs the initial build.
func NewScoreboard(db gamedb.Database, cfg *config.Config, logger zerolog.Logger) (*Scoreboard, error) {
	services, err := db.Services()
	if err != nil {
		return nil, err
	}
	names := make(map[int]string, len(services))
	for _, svc := range services {
		names[svc.ID] = svc.Name
	}
	b := &Scoreboard{
		db:           db,
		logger:       logger.With().Str("component", "scoreboard").Logger(),
		serviceNames: names,
		atkWeight:    cfg.Misc.AtkWeight,
		defWeight:    cfg.Misc.DefWeight,
		slaWeight:    cfg.Misc.SlaWeight,
		baseScore:    cfg.Misc.BaseScore,
		latency:      cfg.Misc.ScoreboardLatency,
	}
	b.cond = sync.NewCond(&b.mu)
	teams, err := b.build()
	if err != nil {
		return nil, err
	}
	b.teams = teams
	b.lastUpdate = time.Now()
	return b, nil
}

// Stats returns the cached views, rebuilding them first when they are older
// than the update latency. While another caller rebuilds, wait selects
// between blocking for that rebuild or failing with ErrConcurrentUpdate;
// waiters return the freshly built cache without triggering another rebuild.
func (b *Scoreboard) Stats(wait bool) ([]TeamView, error) {
	b.mu.Lock()
	if time.Since(b.lastUpdate) < b.latency {
		teams := b.teams
		b.mu.Unlock()
		return teams, nil
	}
	if b.refreshing {
		if !wait {
			b.mu.Unlock()
			return nil, ErrConcurrentUpdate
		}
		for b.refreshing {
			b.cond.Wait()
		}
		teams := b.teams
		b.mu.Unlock()
		return teams, nil
	}
	b.refreshing = true
	b.mu.Unlock()

	teams, err := b.build()

	b.mu.Lock()
	if err == nil {
		b.teams = teams
		b.lastUpdate = time.Now()
	} else {
		b.logger.Error().Err(err).Msg("scoreboard rebuild failed, serving stale cache")
		teams = b.teams
	}
	b.refreshing = false
	b.cond.Broadcast()
	b.mu.Unlock()
	return teams, nil
}

// build assembles the sanitized views from the store.
func (b *Scoreboard) build() ([]TeamView, error) {
	teams, err := b.db.Teams()
	if err != nil {
		return nil, err
	}
	// Teams() returns teams ordered by id; the views keep that order.
	views := make([]TeamView, 0, len(teams))
	for _, team := range teams {
		views = append(views, b.buildView(team))
	}
	return views, nil
}

func (b *Scoreboard) buildView(team gamedb.Team) TeamView {
	view := TeamView{
		IPAddr:        team.IPAddr,
		Name:          team.Name,
		Points:        make(map[string]ServicePoints, len(team.Points)),
		LastPtsUpdate: team.LastPtsUpdate,
		OverallScore:  b.baseScore,
		ServiceStatus: make(map[string]string),
	}
	for _, rec := range team.Points {
		name, ok := b.serviceNames[rec.ServiceID]
		if !ok {
			continue
		}
		view.Points[name] = ServicePoints{AtkPts: rec.AtkPts, DefPts: rec.DefPts, SlaPts: rec.SlaPts}
		// def_pts is stored negative, so it is added like the others.
		view.OverallScore += rec.AtkPts*b.atkWeight + rec.DefPts*b.defWeight + rec.SlaPts*b.slaWeight
	}
	checks := append([]gamedb.CheckRecord(nil), team.Checks...)
	sort.SliceStable(checks, func(i, j int) bool { return checks[i].Timestamp > checks[j].Timestamp })
	for _, chk := range checks {
		if len(view.ServiceStatus) == len(b.serviceNames) {
			break
		}
		name, ok := b.serviceNames[chk.ServiceID]
		if !ok {
			continue
		}
		if _, seen := view.ServiceStatus[name]; !seen {
			view.ServiceStatus[name] = chk.Status
		}
	}
	return view
}
