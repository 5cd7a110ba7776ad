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
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/adkihon/go-adkihon/checker"
	"github.com/adkihon/go-adkihon/config"
	"github.com/adkihon/go-adkihon/gamedb"
)

// ErrInitScheduler is returned when the configured game window is empty or
// inverted, or when the game is already over at start.
var ErrInitScheduler = errors.New("core: scheduler init failed")

// Scheduler drives the game rounds: every round it issues a fresh flag per
// (team, service), probes the current round and re-probes the flags of the
// last flagLifetime rounds. Probes run concurrently and are never joined
// before the next round starts.
type Scheduler struct {
	db     gamedb.Database
	queue  *Queue
	logger zerolog.Logger

	startTime    time.Time
	endTime      time.Time
	roundTime    time.Duration
	maxRounds    int
	flagLifetime int
	flagHeader   string
	flagBodyLen  int

	teams    []config.Team
	services []config.Service
	checkers map[int]map[int]checker.Checker // team id -> service id -> instance

	round  atomic.Int64
	probes sync.WaitGroup

	quit     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// NewScheduler builds the scheduler and instantiates one checker per
// (team, service) pair. It fails when the end time is not after the start
// time or when a service names an unknown checker.
func NewScheduler(db gamedb.Database, queue *Queue, cfg *config.Config, logger zerolog.Logger) (*Scheduler, error) {
	misc := cfg.Misc
	if !misc.EndTime.After(misc.StartTime) {
		return nil, fmt.Errorf("%w: end time %s not after start time %s",
			ErrInitScheduler, misc.EndTime, misc.StartTime)
	}
	s := &Scheduler{
		db:           db,
		queue:        queue,
		logger:       logger.With().Str("component", "scheduler").Logger(),
		startTime:    misc.StartTime,
		endTime:      misc.EndTime,
		roundTime:    misc.RoundTime,
		maxRounds:    int(misc.EndTime.Sub(misc.StartTime) / misc.RoundTime),
		flagLifetime: misc.FlagLifetime,
		flagHeader:   misc.FlagHeader,
		flagBodyLen:  misc.FlagBodyLen,
		teams:        cfg.Teams,
		services:     cfg.Services,
		checkers:     make(map[int]map[int]checker.Checker),
		quit:         make(chan struct{}),
		done:         make(chan struct{}),
	}
	for _, team := range cfg.Teams {
		s.checkers[team.ID] = make(map[int]checker.Checker)
		for _, svc := range cfg.Services {
			c, err := checker.New(svc.Checker,
				checker.TeamInfo{ID: team.ID, Host: team.Host, Name: team.Name},
				checker.ServiceInfo{ID: svc.ID, Port: svc.Port, Name: svc.Name})
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrInitScheduler, err)
			}
			s.checkers[team.ID][svc.ID] = c
		}
	}
	return s, nil
}

// RoundNum returns the current round number. Zero until the first round has
// started. Best-effort freshness is all callers get and all they need.
func (s *Scheduler) RoundNum() int {
	return int(s.round.Load())
}

// MaxRounds returns the total number of rounds the game window holds.
func (s *Scheduler) MaxRounds() int {
	return s.maxRounds
}

// FlagLifetime returns the number of past rounds a flag stays valid for.
func (s *Scheduler) FlagLifetime() int {
	return s.flagLifetime
}

// Start launches the tick loop. Starting after the end of the game window is
// an error. Starting mid-window resumes: the round counter is derived from
// the wall clock and the loop waits for the next round boundary, leaving the
// flags of missed rounds unissued.
func (s *Scheduler) Start() error {
	now := time.Now()
	var delay time.Duration
	switch {
	case !now.Before(s.endTime):
		close(s.done) // keep a later Stop from blocking
		return fmt.Errorf("%w: game window already over", ErrInitScheduler)
	case !now.Before(s.startTime):
		missed := int(now.Sub(s.startTime) / s.roundTime)
		s.round.Store(int64(missed))
		delay = s.startTime.Add(time.Duration(missed+1) * s.roundTime).Sub(now)
		s.logger.Info().Int("round", missed).Dur("delay", delay).Msg("resuming game mid-window")
	default:
		delay = s.startTime.Sub(now)
		s.logger.Info().Dur("delay", delay).Msg("waiting for game start")
	}
	go s.loop(delay)
	return nil
}

// Stop halts the tick loop and waits up to one round time for in-flight
// probes to drain. Safe to call more than once.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.quit)
	})
	<-s.done
	waitTimeout(&s.probes, s.roundTime)
}

func (s *Scheduler) loop(delay time.Duration) {
	defer close(s.done)
	boundary := time.NewTimer(delay)
	defer boundary.Stop()
	select {
	case <-s.quit:
		return
	case <-boundary.C:
	}
	ticker := time.NewTicker(s.roundTime)
	defer ticker.Stop()
	for s.RoundNum() < s.maxRounds {
		select {
		case <-s.quit:
			return
		case <-ticker.C:
			s.runRound()
		}
	}
	s.logger.Info().Int("rounds", s.maxRounds).Msg("game over, scheduler idle")
}

// runRound issues the round's flags and fans out the probes for the current
// round and the recent history window.
func (s *Scheduler) runRound() {
	round := int(s.round.Add(1))
	s.logger.Info().Int("round", round).Msg("starting round")
	for _, team := range s.teams {
		for _, svc := range s.services {
			flag, seed, err := s.issueFlag(round, team.ID, svc.ID)
			if err != nil {
				s.logger.Error().Err(err).Int("team", team.ID).Int("service", svc.ID).
					Msg("flag insertion failed, skipping probe")
				continue
			}
			s.spawnProbe(team.ID, svc.ID, flag, seed, false)
		}
	}
	for r := round - 1; r >= round-s.flagLifetime && r > 0; r-- {
		for _, team := range s.teams {
			for _, svc := range s.services {
				flag, err := s.db.FlagForRound(r, team.ID, svc.ID)
				if errors.Is(err, gamedb.ErrNotExistent) {
					// Happens after a resume skipped rounds.
					s.logger.Warn().Int("round", r).Int("team", team.ID).Int("service", svc.ID).
						Msg("no flag for past round")
					continue
				} else if err != nil {
					s.logger.Error().Err(err).Int("round", r).Msg("flag lookup failed")
					continue
				}
				s.spawnProbe(team.ID, svc.ID, flag.FlagData, flag.Seed, true)
			}
		}
	}
	s.logger.Info().Int("round", round).Msg("round scheduling complete")
}

// issueFlag generates and persists a unique flag and seed, retrying on
// collisions with the uniqueness index.
func (s *Scheduler) issueFlag(round, teamID, serviceID int) (flag, seed string, err error) {
	for {
		flag = checker.GenFlag(s.flagHeader, s.flagBodyLen)
		seed = checker.GenSeed()
		err = s.db.InsertFlag(gamedb.Flag{
			FlagData:  flag,
			Seed:      seed,
			Round:     round,
			TeamID:    teamID,
			ServiceID: serviceID,
		})
		if errors.Is(err, gamedb.ErrAlreadyExistent) {
			continue
		}
		return flag, seed, err
	}
}

func (s *Scheduler) spawnProbe(teamID, serviceID int, flag, seed string, isPrevious bool) {
	c := s.checkers[teamID][serviceID]
	s.probes.Add(1)
	go s.runProbe(c, teamID, serviceID, flag, seed, isPrevious)
}

// runProbe walks the probe state machine: CHECK, then PUT for a fresh flag,
// then GET; the first non-OK observation is final. Random sleeps of up to a
// third of the round spread checker load across the round.
func (s *Scheduler) runProbe(c checker.Checker, teamID, serviceID int, flag, seed string, isPrevious bool) {
	defer s.probes.Done()
	slice := s.roundTime / 3
	status := checker.SafeCheck(c)
	if status != checker.StatusOK {
		s.recordProbe(teamID, serviceID, status)
		return
	}
	if !isPrevious {
		sleepUpTo(slice)
		status = checker.SafePut(c, flag, seed)
		if status != checker.StatusOK {
			s.recordProbe(teamID, serviceID, status)
			return
		}
	}
	sleepUpTo(slice)
	status = checker.SafeGet(c, flag, seed)
	s.recordProbe(teamID, serviceID, status)
}

// recordProbe persists the check and emits the event, stamped with the
// completion time. Long probes may land after the round boundary; their
// results still count.
func (s *Scheduler) recordProbe(teamID, serviceID int, status checker.Status) {
	ts := time.Now().Unix()
	if !s.queue.Put(CheckEvent{Team: teamID, Service: serviceID, Status: status, Time: ts}) {
		s.logger.Error().Int("team", teamID).Int("service", serviceID).
			Msg("event queue full, check event dropped")
	}
	if err := s.db.PushCheck(teamID, serviceID, string(status), ts); err != nil {
		s.logger.Error().Err(err).Int("team", teamID).Int("service", serviceID).
			Msg("check record write failed")
	}
}

func sleepUpTo(d time.Duration) {
	if d <= 0 {
		return
	}
	time.Sleep(time.Duration(rand.Int63n(int64(d) + 1)))
}

// waitTimeout waits for the group up to d and reports whether it drained.
func waitTimeout(wg *sync.WaitGroup, d time.Duration) bool {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(d):
		return false
	}
}
