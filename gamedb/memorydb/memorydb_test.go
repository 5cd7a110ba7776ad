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

package memorydb

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adkihon/go-adkihon/gamedb"
)

func newPopulated(t *testing.T) *DB {
	t.Helper()
	db := New()
	require.NoError(t, db.AddTeam(gamedb.Team{ID: 1, IPAddr: "10.0.0.1", Name: "one", Token: "tok-1"}))
	require.NoError(t, db.AddTeam(gamedb.Team{ID: 2, IPAddr: "10.0.0.2", Name: "two", Token: "tok-2"}))
	require.NoError(t, db.AddService(gamedb.Service{ID: 1, Port: 80, Name: "svc-a"}))
	require.NoError(t, db.AddService(gamedb.Service{ID: 2, Port: 81, Name: "svc-b"}))
	require.NoError(t, db.InitTeamPoints())
	return db
}

func TestAddTeamIdempotent(t *testing.T) {
	db := newPopulated(t)
	require.NoError(t, db.AddTeam(gamedb.Team{ID: 1, Name: "impostor", Token: "tok-x"}))

	teams, err := db.Teams()
	require.NoError(t, err)
	require.Len(t, teams, 2)
	assert.Equal(t, "one", teams[0].Name)
}

func TestInitTeamPointsCreatesOneRecordPerService(t *testing.T) {
	db := newPopulated(t)
	// A second call must not duplicate records.
	require.NoError(t, db.InitTeamPoints())

	teams, err := db.Teams()
	require.NoError(t, err)
	for _, team := range teams {
		require.Len(t, team.Points, 2)
		assert.Equal(t, 1, team.Points[0].ServiceID)
		assert.Equal(t, 2, team.Points[1].ServiceID)
	}
}

func TestTeamsOrderedAndIsolated(t *testing.T) {
	db := newPopulated(t)
	teams, err := db.Teams()
	require.NoError(t, err)
	require.Len(t, teams, 2)
	assert.Equal(t, 1, teams[0].ID)
	assert.Equal(t, 2, teams[1].ID)

	// Mutating the returned copy must not leak into the store.
	teams[0].Points[0].AtkPts = 99
	fresh, err := db.Teams()
	require.NoError(t, err)
	assert.Zero(t, fresh[0].Points[0].AtkPts)
}

func TestInsertFlagUniqueness(t *testing.T) {
	db := newPopulated(t)
	flag := gamedb.Flag{FlagData: "FLG{aa}", Seed: "seed-1", Round: 1, TeamID: 1, ServiceID: 1}
	require.NoError(t, db.InsertFlag(flag))

	dupData := gamedb.Flag{FlagData: "FLG{aa}", Seed: "seed-2", Round: 2, TeamID: 1, ServiceID: 1}
	assert.ErrorIs(t, db.InsertFlag(dupData), gamedb.ErrAlreadyExistent)

	dupSeed := gamedb.Flag{FlagData: "FLG{bb}", Seed: "seed-1", Round: 2, TeamID: 1, ServiceID: 1}
	assert.ErrorIs(t, db.InsertFlag(dupSeed), gamedb.ErrAlreadyExistent)
}

func TestFlagLookups(t *testing.T) {
	db := newPopulated(t)
	flag := gamedb.Flag{FlagData: "FLG{aa}", Seed: "seed-1", Round: 3, TeamID: 2, ServiceID: 1}
	require.NoError(t, db.InsertFlag(flag))

	got, err := db.FlagByData("FLG{aa}")
	require.NoError(t, err)
	assert.Equal(t, flag, got)

	_, err = db.FlagByData("FLG{zz}")
	assert.ErrorIs(t, err, gamedb.ErrNotExistent)

	got, err = db.FlagForRound(3, 2, 1)
	require.NoError(t, err)
	assert.Equal(t, flag, got)

	_, err = db.FlagForRound(3, 1, 1)
	assert.ErrorIs(t, err, gamedb.ErrNotExistent)
}

func TestStolenFlagProbe(t *testing.T) {
	db := newPopulated(t)

	assert.ErrorIs(t, db.HasStolenFlag("tok-1", "FLG{aa}"), gamedb.ErrNotExistent)
	assert.ErrorIs(t, db.HasStolenFlag("tok-unknown", "FLG{aa}"), gamedb.ErrNotExistent)

	require.NoError(t, db.PushStolenFlag("tok-1", "FLG{aa}", 100))
	assert.NoError(t, db.HasStolenFlag("tok-1", "FLG{aa}"))
	assert.ErrorIs(t, db.HasStolenFlag("tok-2", "FLG{aa}"), gamedb.ErrNotExistent)
}

func TestPushAppends(t *testing.T) {
	db := newPopulated(t)
	require.NoError(t, db.PushLostFlag(1, "FLG{aa}", 100))
	require.NoError(t, db.PushCheck(1, 2, "ok", 101))
	require.NoError(t, db.PushCheck(1, 2, "down", 102))
	assert.ErrorIs(t, db.PushLostFlag(9, "FLG{aa}", 100), gamedb.ErrNotExistent)
	assert.ErrorIs(t, db.PushCheck(9, 1, "ok", 100), gamedb.ErrNotExistent)

	teams, err := db.Teams()
	require.NoError(t, err)
	require.Len(t, teams[0].LostFlags, 1)
	require.Len(t, teams[0].Checks, 2)
	assert.Equal(t, "down", teams[0].Checks[1].Status)
}

func TestUpdatePoints(t *testing.T) {
	db := newPopulated(t)
	require.NoError(t, db.UpdatePoints(1, 1, gamedb.AtkPts, true, 100))
	require.NoError(t, db.UpdatePoints(1, 1, gamedb.AtkPts, true, 200))
	require.NoError(t, db.UpdatePoints(1, 2, gamedb.DefPts, false, 150))
	require.NoError(t, db.UpdatePoints(1, 1, gamedb.SlaPts, false, 120))

	teams, err := db.Teams()
	require.NoError(t, err)
	team := teams[0]
	assert.Equal(t, 2, team.Points[0].AtkPts)
	assert.Equal(t, -1, team.Points[0].SlaPts)
	assert.Equal(t, -1, team.Points[1].DefPts)
	assert.Equal(t, int64(200), team.LastPtsUpdate)
}

func TestUpdatePointsMonotonicTimestamp(t *testing.T) {
	db := newPopulated(t)
	require.NoError(t, db.UpdatePoints(1, 1, gamedb.SlaPts, true, 500))
	// An older event arriving late must not move last_pts_update backwards.
	require.NoError(t, db.UpdatePoints(1, 1, gamedb.SlaPts, true, 300))

	teams, err := db.Teams()
	require.NoError(t, err)
	assert.Equal(t, int64(500), teams[0].LastPtsUpdate)
}

func TestUpdatePointsErrors(t *testing.T) {
	db := newPopulated(t)
	assert.ErrorIs(t, db.UpdatePoints(1, 1, gamedb.PointsKind("bogus"), true, 100), gamedb.ErrInvalidUpdate)
	assert.ErrorIs(t, db.UpdatePoints(9, 1, gamedb.AtkPts, true, 100), gamedb.ErrNotExistent)
}

func TestResetPoints(t *testing.T) {
	db := newPopulated(t)
	require.NoError(t, db.UpdatePoints(1, 1, gamedb.AtkPts, true, 100))
	require.NoError(t, db.UpdatePoints(1, 2, gamedb.SlaPts, false, 200))

	require.NoError(t, db.ResetPoints(1))
	assert.ErrorIs(t, db.ResetPoints(9), gamedb.ErrNotExistent)

	teams, err := db.Teams()
	require.NoError(t, err)
	team := teams[0]
	for _, rec := range team.Points {
		assert.Zero(t, rec.AtkPts)
		assert.Zero(t, rec.DefPts)
		assert.Zero(t, rec.SlaPts)
	}
	assert.Zero(t, team.LastPtsUpdate)
}
