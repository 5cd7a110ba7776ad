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
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adkihon/go-adkihon/checker"
	"github.com/adkihon/go-adkihon/gamedb/memorydb"
)

func TestNewSchedulerRejectsInvertedWindow(t *testing.T) {
	cfg := gameConfig(time.Now(), 10, time.Minute)
	cfg.Misc.EndTime = cfg.Misc.StartTime.Add(-time.Hour)
	_, err := NewScheduler(memorydb.New(), NewQueue(16), cfg, zerolog.Nop())
	assert.ErrorIs(t, err, ErrInitScheduler)
}

func TestNewSchedulerRejectsUnknownChecker(t *testing.T) {
	cfg := gameConfig(time.Now(), 10, time.Minute)
	cfg.Services[0].Checker = "no-such-checker"
	_, err := NewScheduler(memorydb.New(), NewQueue(16), cfg, zerolog.Nop())
	assert.ErrorIs(t, err, ErrInitScheduler)
}

func TestSchedulerStartAfterGameOver(t *testing.T) {
	cfg := gameConfig(time.Now().Add(-2*time.Hour), 1, time.Hour)
	s, err := NewScheduler(seedGame(t, cfg), NewQueue(16), cfg, zerolog.Nop())
	require.NoError(t, err)

	require.ErrorIs(t, s.Start(), ErrInitScheduler)
	s.Stop() // must not hang
}

func TestSchedulerResumeMidWindow(t *testing.T) {
	// 2.5 rounds into the window: the round counter resumes at 2 without
	// issuing the missed flags.
	roundTime := 100 * time.Millisecond
	cfg := gameConfig(time.Now().Add(-250*time.Millisecond), 100, roundTime)
	db := seedGame(t, cfg)

	s, err := NewScheduler(db, NewQueue(64), cfg, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, s.Start())
	defer s.Stop()

	assert.Equal(t, 2, s.RoundNum())
}

func TestSchedulerRunsRounds(t *testing.T) {
	roundTime := 80 * time.Millisecond
	cfg := gameConfig(time.Now().Add(30*time.Millisecond), 3, roundTime)
	db := seedGame(t, cfg)
	queue := NewQueue(64)

	s, err := NewScheduler(db, queue, cfg, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, 3, s.MaxRounds())

	require.NoError(t, s.Start())
	time.Sleep(30*time.Millisecond + 3*roundTime + 150*time.Millisecond)
	s.Stop()

	require.Equal(t, 3, s.RoundNum())

	// Every round issued one flag per (team, service), matching the pattern.
	pattern := checker.FlagPattern(cfg.Misc.FlagHeader, cfg.Misc.FlagBodyLen)
	for round := 1; round <= 3; round++ {
		for _, team := range cfg.Teams {
			for _, svc := range cfg.Services {
				flag, err := db.FlagForRound(round, team.ID, svc.ID)
				require.NoError(t, err, "round %d team %d service %d", round, team.ID, svc.ID)
				assert.Regexp(t, pattern, flag.FlagData)
				assert.Len(t, flag.Seed, 32)
			}
		}
	}

	// With lifetime 1 the probe count per (team, service) is 1 in round 1
	// and 2 in every later round: 1 + 2 + 2 = 5, so 10 checks per team over
	// both services, all ok from the alive checker.
	teams, err := db.Teams()
	require.NoError(t, err)
	for _, team := range teams {
		assert.Len(t, team.Checks, 10)
		for _, chk := range team.Checks {
			assert.Equal(t, "ok", chk.Status)
		}
	}

	// Each check also produced one event.
	assert.Equal(t, 20, queue.Len())
}

func TestSchedulerStopIsIdempotent(t *testing.T) {
	cfg := gameConfig(time.Now().Add(time.Hour), 10, time.Minute)
	s, err := NewScheduler(seedGame(t, cfg), NewQueue(16), cfg, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, s.Start())
	s.Stop()
	s.Stop()
}
