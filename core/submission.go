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
	"regexp"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/adkihon/go-adkihon/checker"
	"github.com/adkihon/go-adkihon/config"
	"github.com/adkihon/go-adkihon/gamedb"
)

var (
	// ErrInitService is returned when the submission window is empty or
	// inverted at construction time.
	ErrInitService = errors.New("core: submission service init failed")

	// ErrInvalidToken rejects submissions carrying an unknown team token.
	ErrInvalidToken = errors.New("core: invalid team token")

	// ErrOutOfTimeWindow rejects submissions outside the game window.
	ErrOutOfTimeWindow = errors.New("core: too early or too late to submit")

	// ErrRateLimitExceeded rejects a submission while the team's rate-limit
	// slot is held.
	ErrRateLimitExceeded = errors.New("core: rate limit exceeded")

	// ErrServiceBusy rejects a submission while a previous one by the same
	// team is still being served. It matches ErrRateLimitExceeded under
	// errors.Is.
	ErrServiceBusy = fmt.Errorf("submission still in flight: %w", ErrRateLimitExceeded)
)

// Summary is the per-call outcome breakdown returned to the submitter.
type Summary struct {
	Accepted         int `json:"num_accepted"`
	Invalid          int `json:"num_invalid"`
	AlreadySubmitted int `json:"num_already_submitted"`
	SelfFlags        int `json:"num_self_flags"`
	Old              int `json:"num_old"`
	Discarded        int `json:"num_discarded"`
}

// RoundSource tells the submission service the current round number; the
// scheduler implements it. Best-effort freshness is acceptable.
type RoundSource interface {
	RoundNum() int
}

// teamSlots holds the two per-team slots. A slot is held when its size-1
// channel contains a value; acquire and release are both non-blocking, which
// makes a double release a no-op.
type teamSlots struct {
	rate    chan struct{}
	service chan struct{}
}

func acquire(slot chan struct{}) bool {
	select {
	case slot <- struct{}{}:
		return true
	default:
		return false
	}
}

func release(slot chan struct{}) {
	select {
	case <-slot:
	default:
	}
}

// SubmissionService validates batched flag submissions, converts accepted
// ones into stolen/lost records and attack events, and keeps abusive clients
// out with a per-team rate-limit slot and service slot.
type SubmissionService struct {
	db     gamedb.Database
	queue  *Queue
	rounds RoundSource
	logger zerolog.Logger

	pattern      *regexp.Regexp
	teams        map[string]config.Team // keyed by token
	slots        map[string]*teamSlots
	flagLifetime int
	roundTime    time.Duration
	maxFlags     int
	startTime    int64
	endTime      int64

	rateMu    sync.Mutex
	rateLimit time.Duration
}

// NewSubmissionService builds the service. It fails when the game window is
// empty or inverted.
func NewSubmissionService(db gamedb.Database, queue *Queue, rounds RoundSource, cfg *config.Config, logger zerolog.Logger) (*SubmissionService, error) {
	misc := cfg.Misc
	if !misc.EndTime.After(misc.StartTime) {
		return nil, fmt.Errorf("%w: end time %s not after start time %s",
			ErrInitService, misc.EndTime, misc.StartTime)
	}
	s := &SubmissionService{
		db:           db,
		queue:        queue,
		rounds:       rounds,
		logger:       logger.With().Str("component", "submission").Logger(),
		pattern:      checker.FlagPattern(misc.FlagHeader, misc.FlagBodyLen),
		teams:        make(map[string]config.Team, len(cfg.Teams)),
		slots:        make(map[string]*teamSlots, len(cfg.Teams)),
		flagLifetime: misc.FlagLifetime,
		roundTime:    misc.RoundTime,
		maxFlags:     misc.MaxFlagsPerSubmission,
		startTime:    misc.StartTime.Unix(),
		endTime:      misc.EndTime.Unix(),
		rateLimit:    misc.RateLimit,
	}
	for _, team := range cfg.Teams {
		s.teams[team.Token] = team
		s.slots[team.Token] = &teamSlots{
			rate:    make(chan struct{}, 1),
			service: make(chan struct{}, 1),
		}
	}
	return s, nil
}

// RateLimit returns the current rate-limit window.
func (s *SubmissionService) RateLimit() time.Duration {
	s.rateMu.Lock()
	defer s.rateMu.Unlock()
	return s.rateLimit
}

// doubleRateLimit widens the window when submissions outlast it; a halving
// is scheduled one round later to undo the bump.
func (s *SubmissionService) doubleRateLimit() {
	s.rateMu.Lock()
	s.rateLimit *= 2
	s.rateMu.Unlock()
	time.AfterFunc(s.roundTime, func() {
		s.rateMu.Lock()
		s.rateLimit /= 2
		s.rateMu.Unlock()
	})
}

// Submit validates the batch under the submitting team's slots. The returned
// summary classifies every retained flag; flags beyond the per-submission cap
// are discarded uninspected.
func (s *SubmissionService) Submit(token string, flags []string) (Summary, error) {
	now := time.Now().Unix()
	if now < s.startTime || now > s.endTime {
		return Summary{}, ErrOutOfTimeWindow
	}
	team, ok := s.teams[token]
	if !ok {
		return Summary{}, ErrInvalidToken
	}
	slots := s.slots[token]

	if !acquire(slots.rate) {
		return Summary{}, ErrRateLimitExceeded
	}
	time.AfterFunc(s.RateLimit(), func() { release(slots.rate) })

	if !acquire(slots.service) {
		// The previous submission is outliving the rate limit; widen it for
		// the rest of the round.
		s.doubleRateLimit()
		return Summary{}, ErrServiceBusy
	}
	// Reliability release: if this worker dies the slot must not stay held
	// forever. Cancelled below when the submission finishes in time.
	reliability := time.AfterFunc(2*s.roundTime, func() { release(slots.service) })

	summary := Summary{}
	if len(flags) > s.maxFlags {
		summary.Discarded = len(flags) - s.maxFlags
		flags = flags[:s.maxFlags]
	}
	round := s.rounds.RoundNum()
	var mu sync.Mutex
	var g errgroup.Group
	for _, flag := range flags {
		flag := flag
		g.Go(func() error {
			return s.handleFlag(token, team, flag, round, &summary, &mu)
		})
	}
	err := g.Wait()
	if reliability.Stop() {
		release(slots.service)
	}
	if err != nil {
		return Summary{}, err
	}
	return summary, nil
}

// handleFlag classifies one flag, appending stolen/lost records and emitting
// an attack event when it is a valid steal. Counter updates happen under mu.
func (s *SubmissionService) handleFlag(token string, team config.Team, flag string, round int, summary *Summary, mu *sync.Mutex) error {
	count := func(field *int) {
		mu.Lock()
		*field++
		mu.Unlock()
	}
	if !s.pattern.MatchString(flag) {
		count(&summary.Invalid)
		return nil
	}
	stored, err := s.db.FlagByData(flag)
	if errors.Is(err, gamedb.ErrNotExistent) {
		count(&summary.Invalid)
		return nil
	} else if err != nil {
		return err
	}
	if stored.TeamID == team.ID {
		count(&summary.SelfFlags)
		return nil
	}
	if stored.Round < round-s.flagLifetime {
		count(&summary.Old)
		return nil
	}
	switch err := s.db.HasStolenFlag(token, flag); {
	case err == nil:
		count(&summary.AlreadySubmitted)
		return nil
	case !errors.Is(err, gamedb.ErrNotExistent):
		return err
	}
	ts := time.Now().Unix()
	if err := s.db.PushStolenFlag(token, flag, ts); err != nil {
		return err
	}
	if err := s.db.PushLostFlag(stored.TeamID, flag, ts); err != nil {
		return err
	}
	if !s.queue.Put(AttackEvent{Team: team.ID, Service: stored.ServiceID, AttackedTeam: stored.TeamID, Time: ts}) {
		s.logger.Error().Int("team", team.ID).Msg("event queue full, attack event dropped")
	}
	count(&summary.Accepted)
	return nil
}
