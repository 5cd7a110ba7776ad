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

// Package memorydb keeps the game state in plain in-process maps. It is the
// backend used by the test suite and by throwaway dev games, mirroring the
// semantics of the mongodb backend including the unique flag index.
package memorydb

import (
	"sort"
	"sync"

	"github.com/adkihon/go-adkihon/gamedb"
)

// DB is an in-memory gamedb.Database. The zero value is not usable, call New.
type DB struct {
	mu       sync.RWMutex
	teams    map[int]*gamedb.Team
	tokens   map[string]int // token -> team id
	services map[int]*gamedb.Service
	flags    []gamedb.Flag
	byData   map[string]int // flag data -> index into flags
	bySeed   map[string]int
}

// New creates an empty in-memory store.
func New() *DB {
	return &DB{
		teams:    make(map[int]*gamedb.Team),
		tokens:   make(map[string]int),
		services: make(map[int]*gamedb.Service),
		byData:   make(map[string]int),
		bySeed:   make(map[string]int),
	}
}

func (db *DB) AddTeam(team gamedb.Team) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if _, ok := db.teams[team.ID]; ok {
		return nil
	}
	t := team
	t.Points = append([]gamedb.PointRecord(nil), team.Points...)
	t.StolenFlags = append([]gamedb.FlagRef(nil), team.StolenFlags...)
	t.LostFlags = append([]gamedb.FlagRef(nil), team.LostFlags...)
	t.Checks = append([]gamedb.CheckRecord(nil), team.Checks...)
	db.teams[t.ID] = &t
	db.tokens[t.Token] = t.ID
	return nil
}

func (db *DB) AddService(svc gamedb.Service) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if _, ok := db.services[svc.ID]; ok {
		return nil
	}
	s := svc
	db.services[s.ID] = &s
	return nil
}

func (db *DB) InitTeamPoints() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	for _, team := range db.teams {
		for id := range db.services {
			if pointRecord(team, id) == nil {
				team.Points = append(team.Points, gamedb.PointRecord{ServiceID: id})
			}
		}
		sort.Slice(team.Points, func(i, j int) bool {
			return team.Points[i].ServiceID < team.Points[j].ServiceID
		})
	}
	return nil
}

// EnsureFlagIndex is a no-op: the maps backing the store are the index.
func (db *DB) EnsureFlagIndex() error { return nil }

func (db *DB) Teams() ([]gamedb.Team, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	teams := make([]gamedb.Team, 0, len(db.teams))
	for _, t := range db.teams {
		teams = append(teams, copyTeam(t))
	}
	sort.Slice(teams, func(i, j int) bool { return teams[i].ID < teams[j].ID })
	return teams, nil
}

func (db *DB) Services() ([]gamedb.Service, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	services := make([]gamedb.Service, 0, len(db.services))
	for _, s := range db.services {
		services = append(services, *s)
	}
	sort.Slice(services, func(i, j int) bool { return services[i].ID < services[j].ID })
	return services, nil
}

func (db *DB) InsertFlag(flag gamedb.Flag) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if _, ok := db.byData[flag.FlagData]; ok {
		return gamedb.ErrAlreadyExistent
	}
	if _, ok := db.bySeed[flag.Seed]; ok {
		return gamedb.ErrAlreadyExistent
	}
	db.flags = append(db.flags, flag)
	db.byData[flag.FlagData] = len(db.flags) - 1
	db.bySeed[flag.Seed] = len(db.flags) - 1
	return nil
}

func (db *DB) FlagByData(data string) (gamedb.Flag, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	i, ok := db.byData[data]
	if !ok {
		return gamedb.Flag{}, gamedb.ErrNotExistent
	}
	return db.flags[i], nil
}

func (db *DB) FlagForRound(round, teamID, serviceID int) (gamedb.Flag, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	for _, f := range db.flags {
		if f.Round == round && f.TeamID == teamID && f.ServiceID == serviceID {
			return f, nil
		}
	}
	return gamedb.Flag{}, gamedb.ErrNotExistent
}

func (db *DB) HasStolenFlag(token, data string) error {
	db.mu.RLock()
	defer db.mu.RUnlock()
	team, err := db.teamByToken(token)
	if err != nil {
		return err
	}
	for _, ref := range team.StolenFlags {
		if ref.FlagData == data {
			return nil
		}
	}
	return gamedb.ErrNotExistent
}

func (db *DB) PushStolenFlag(token, data string, ts int64) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	team, err := db.teamByToken(token)
	if err != nil {
		return err
	}
	team.StolenFlags = append(team.StolenFlags, gamedb.FlagRef{FlagData: data, Timestamp: ts})
	return nil
}

func (db *DB) PushLostFlag(teamID int, data string, ts int64) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	team, ok := db.teams[teamID]
	if !ok {
		return gamedb.ErrNotExistent
	}
	team.LostFlags = append(team.LostFlags, gamedb.FlagRef{FlagData: data, Timestamp: ts})
	return nil
}

func (db *DB) PushCheck(teamID, serviceID int, status string, ts int64) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	team, ok := db.teams[teamID]
	if !ok {
		return gamedb.ErrNotExistent
	}
	team.Checks = append(team.Checks, gamedb.CheckRecord{ServiceID: serviceID, Status: status, Timestamp: ts})
	return nil
}

func (db *DB) UpdatePoints(teamID, serviceID int, kind gamedb.PointsKind, incr bool, ts int64) error {
	if !kind.Valid() {
		return gamedb.ErrInvalidUpdate
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	team, ok := db.teams[teamID]
	if !ok {
		return gamedb.ErrNotExistent
	}
	amount := 1
	if !incr {
		amount = -1
	}
	if rec := pointRecord(team, serviceID); rec != nil {
		switch kind {
		case gamedb.AtkPts:
			rec.AtkPts += amount
		case gamedb.DefPts:
			rec.DefPts += amount
		case gamedb.SlaPts:
			rec.SlaPts += amount
		}
	}
	if ts > team.LastPtsUpdate {
		team.LastPtsUpdate = ts
	}
	return nil
}

func (db *DB) ResetPoints(teamID int) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	team, ok := db.teams[teamID]
	if !ok {
		return gamedb.ErrNotExistent
	}
	for i := range team.Points {
		team.Points[i].AtkPts = 0
		team.Points[i].DefPts = 0
		team.Points[i].SlaPts = 0
	}
	team.LastPtsUpdate = 0
	return nil
}

func (db *DB) Close() error { return nil }

// teamByToken must be called with the lock held.
func (db *DB) teamByToken(token string) (*gamedb.Team, error) {
	id, ok := db.tokens[token]
	if !ok {
		return nil, gamedb.ErrNotExistent
	}
	return db.teams[id], nil
}

// pointRecord must be called with the lock held.
func pointRecord(team *gamedb.Team, serviceID int) *gamedb.PointRecord {
	for i := range team.Points {
		if team.Points[i].ServiceID == serviceID {
			return &team.Points[i]
		}
	}
	return nil
}

func copyTeam(t *gamedb.Team) gamedb.Team {
	out := *t
	out.Points = append([]gamedb.PointRecord(nil), t.Points...)
	out.StolenFlags = append([]gamedb.FlagRef(nil), t.StolenFlags...)
	out.LostFlags = append([]gamedb.FlagRef(nil), t.LostFlags...)
	out.Checks = append([]gamedb.CheckRecord(nil), t.Checks...)
	return out
}
