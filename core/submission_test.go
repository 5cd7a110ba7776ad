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
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adkihon/go-adkihon/gamedb"
)

// staticRound is a fixed-round RoundSource.
type staticRound int

func (r staticRound) RoundNum() int { return int(r) }

// slowDB delays flag lookups to keep a submission in flight.
type slowDB struct {
	gamedb.Database
	delay time.Duration
}

func (s *slowDB) FlagByData(data string) (gamedb.Flag, error) {
	time.Sleep(s.delay)
	return s.Database.FlagByData(data)
}

func testFlag(body byte) string {
	return "FLG{" + strings.Repeat(string(body), 16) + "}"
}

func TestSubmitOutsideWindow(t *testing.T) {
	queue := NewQueue(16)

	early := gameConfig(time.Now().Add(time.Hour), 10, time.Minute)
	svc, err := NewSubmissionService(seedGame(t, early), queue, staticRound(0), early, zerolog.Nop())
	require.NoError(t, err)
	_, err = svc.Submit("tok-1", []string{testFlag('a')})
	assert.ErrorIs(t, err, ErrOutOfTimeWindow)

	late := gameConfig(time.Now().Add(-2*time.Hour), 1, time.Hour)
	svc, err = NewSubmissionService(seedGame(t, late), queue, staticRound(0), late, zerolog.Nop())
	require.NoError(t, err)
	_, err = svc.Submit("tok-1", []string{testFlag('a')})
	assert.ErrorIs(t, err, ErrOutOfTimeWindow)
}

func TestSubmitInvalidToken(t *testing.T) {
	cfg := gameConfig(time.Now().Add(-time.Minute), 1<<20, time.Minute)
	svc, err := NewSubmissionService(seedGame(t, cfg), NewQueue(16), staticRound(0), cfg, zerolog.Nop())
	require.NoError(t, err)

	_, err = svc.Submit("tok-unknown", []string{testFlag('a')})
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestSubmitInvertedWindowRejected(t *testing.T) {
	cfg := gameConfig(time.Now(), 10, time.Minute)
	cfg.Misc.EndTime = cfg.Misc.StartTime.Add(-time.Hour)
	_, err := NewSubmissionService(seedGame(t, cfg), NewQueue(16), staticRound(0), cfg, zerolog.Nop())
	assert.ErrorIs(t, err, ErrInitService)
}

func TestSubmitClassification(t *testing.T) {
	cfg := gameConfig(time.Now().Add(-time.Minute), 1<<20, time.Minute)
	db := seedGame(t, cfg)
	queue := NewQueue(16)

	// Flags owned by team 2 on both services, plus one owned by team 1.
	require.NoError(t, db.InsertFlag(gamedb.Flag{FlagData: testFlag('a'), Seed: "s1", Round: 1, TeamID: 2, ServiceID: 1}))
	require.NoError(t, db.InsertFlag(gamedb.Flag{FlagData: testFlag('b'), Seed: "s2", Round: 1, TeamID: 2, ServiceID: 2}))
	require.NoError(t, db.InsertFlag(gamedb.Flag{FlagData: testFlag('c'), Seed: "s3", Round: 1, TeamID: 1, ServiceID: 1}))

	svc, err := NewSubmissionService(db, queue, staticRound(1), cfg, zerolog.Nop())
	require.NoError(t, err)

	summary, err := svc.Submit("tok-1", []string{
		testFlag('a'),      // steal
		testFlag('b'),      // steal
		testFlag('c'),      // own flag
		"FLG{zz}",          // malformed
		testFlag('f'),      // well-formed but never issued
	})
	require.NoError(t, err)
	assert.Equal(t, Summary{Accepted: 2, Invalid: 2, SelfFlags: 1}, summary)

	// Both steals produced attack events against team 2.
	require.Equal(t, 2, queue.Len())
	for i := 0; i < 2; i++ {
		ev, ok := queue.TryGet()
		require.True(t, ok)
		attack := ev.(AttackEvent)
		assert.Equal(t, 1, attack.Team)
		assert.Equal(t, 2, attack.AttackedTeam)
		assert.NotZero(t, attack.Time)
	}

	// The store recorded the steal and the loss.
	assert.NoError(t, db.HasStolenFlag("tok-1", testFlag('a')))
	teams, err := db.Teams()
	require.NoError(t, err)
	assert.Len(t, teams[1].LostFlags, 2)
}

func TestSubmitOldFlag(t *testing.T) {
	cfg := gameConfig(time.Now().Add(-time.Minute), 1<<20, time.Minute)
	db := seedGame(t, cfg)
	require.NoError(t, db.InsertFlag(gamedb.Flag{FlagData: testFlag('a'), Seed: "s1", Round: 1, TeamID: 2, ServiceID: 1}))

	// Round 10 with lifetime 1: a round-1 flag is long expired.
	svc, err := NewSubmissionService(db, NewQueue(16), staticRound(10), cfg, zerolog.Nop())
	require.NoError(t, err)

	summary, err := svc.Submit("tok-1", []string{testFlag('a')})
	require.NoError(t, err)
	assert.Equal(t, Summary{Old: 1}, summary)
}

func TestSubmitAlreadySubmitted(t *testing.T) {
	cfg := gameConfig(time.Now().Add(-time.Minute), 1<<20, time.Minute)
	db := seedGame(t, cfg)
	require.NoError(t, db.InsertFlag(gamedb.Flag{FlagData: testFlag('a'), Seed: "s1", Round: 1, TeamID: 2, ServiceID: 1}))

	svc, err := NewSubmissionService(db, NewQueue(16), staticRound(1), cfg, zerolog.Nop())
	require.NoError(t, err)

	summary, err := svc.Submit("tok-1", []string{testFlag('a')})
	require.NoError(t, err)
	assert.Equal(t, Summary{Accepted: 1}, summary)

	time.Sleep(cfg.Misc.RateLimit + 20*time.Millisecond)
	summary, err = svc.Submit("tok-1", []string{testFlag('a')})
	require.NoError(t, err)
	assert.Equal(t, Summary{AlreadySubmitted: 1}, summary)
}

func TestSubmitDiscardsExcessFlags(t *testing.T) {
	cfg := gameConfig(time.Now().Add(-time.Minute), 1<<20, time.Minute) // max 5 per submission
	svc, err := NewSubmissionService(seedGame(t, cfg), NewQueue(16), staticRound(1), cfg, zerolog.Nop())
	require.NoError(t, err)

	flags := make([]string, 7)
	for i := range flags {
		flags[i] = "FLG{nope}"
	}
	summary, err := svc.Submit("tok-1", flags)
	require.NoError(t, err)
	assert.Equal(t, Summary{Invalid: 5, Discarded: 2}, summary)
}

func TestSubmitRateLimited(t *testing.T) {
	cfg := gameConfig(time.Now().Add(-time.Minute), 1<<20, time.Minute)
	svc, err := NewSubmissionService(seedGame(t, cfg), NewQueue(16), staticRound(1), cfg, zerolog.Nop())
	require.NoError(t, err)

	_, err = svc.Submit("tok-1", nil)
	require.NoError(t, err)

	// The slot is held for the whole rate-limit window.
	_, err = svc.Submit("tok-1", nil)
	assert.ErrorIs(t, err, ErrRateLimitExceeded)

	// Another team is not affected.
	_, err = svc.Submit("tok-2", nil)
	assert.NoError(t, err)

	time.Sleep(cfg.Misc.RateLimit + 20*time.Millisecond)
	_, err = svc.Submit("tok-1", nil)
	assert.NoError(t, err)
}

func TestSubmitServiceBusyDoublesRateLimit(t *testing.T) {
	roundTime := 120 * time.Millisecond
	cfg := gameConfig(time.Now().Add(-time.Minute), 1<<20, roundTime)
	db := &slowDB{Database: seedGame(t, cfg), delay: 150 * time.Millisecond}

	svc, err := NewSubmissionService(db, NewQueue(16), staticRound(1), cfg, zerolog.Nop())
	require.NoError(t, err)
	base := svc.RateLimit()

	done := make(chan error, 1)
	go func() {
		_, err := svc.Submit("tok-1", []string{testFlag('f')})
		done <- err
	}()

	// Past the rate-limit window but still inside the slow lookup: the
	// service slot is busy and the rate limit doubles.
	time.Sleep(base + 20*time.Millisecond)
	_, err = svc.Submit("tok-1", nil)
	assert.ErrorIs(t, err, ErrServiceBusy)
	assert.ErrorIs(t, err, ErrRateLimitExceeded)
	assert.Equal(t, 2*base, svc.RateLimit())

	require.NoError(t, <-done)

	// The doubling is undone one round time later.
	time.Sleep(roundTime + 50*time.Millisecond)
	assert.Equal(t, base, svc.RateLimit())
}

func TestSubmitReliabilityReleasesSlot(t *testing.T) {
	roundTime := 30 * time.Millisecond
	cfg := gameConfig(time.Now().Add(-time.Minute), 1<<20, roundTime)
	cfg.Misc.RateLimit = 10 * time.Millisecond
	db := &slowDB{Database: seedGame(t, cfg), delay: 120 * time.Millisecond}

	svc, err := NewSubmissionService(db, NewQueue(16), staticRound(1), cfg, zerolog.Nop())
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := svc.Submit("tok-1", []string{testFlag('f')})
		done <- err
	}()

	// After 2 x round time the reliability timer has force-released the
	// service slot even though the first submission is still running.
	time.Sleep(2*roundTime + 15*time.Millisecond)
	_, err = svc.Submit("tok-1", nil)
	assert.NoError(t, err)

	require.NoError(t, <-done)
}
