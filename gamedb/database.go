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

// Package gamedb defines the persistence gateway of the game engine: typed
// operations against the document store holding teams, services and flags.
// Backends live in the subpackages memorydb and mongodb.
package gamedb

import "errors"

var (
	// ErrAlreadyExistent is returned by InsertFlag when either the flag data
	// or the seed collides with a stored flag.
	ErrAlreadyExistent = errors.New("gamedb: already existent document")

	// ErrNotExistent is returned by lookups that match no document.
	ErrNotExistent = errors.New("gamedb: not existent document")

	// ErrInvalidUpdate is returned by UpdatePoints for an unknown points kind.
	ErrInvalidUpdate = errors.New("gamedb: invalid points update")
)

// PointsKind selects which counter of a point record UpdatePoints touches.
type PointsKind string

const (
	AtkPts PointsKind = "atk_pts"
	DefPts PointsKind = "def_pts"
	SlaPts PointsKind = "sla_pts"
)

// Valid reports whether the kind is one of the three stored counters.
func (k PointsKind) Valid() bool {
	return k == AtkPts || k == DefPts || k == SlaPts
}

// PointRecord is one per-service score triple embedded in a team document.
type PointRecord struct {
	ServiceID int `bson:"service_id" json:"service_id"`
	AtkPts    int `bson:"atk_pts" json:"atk_pts"`
	DefPts    int `bson:"def_pts" json:"def_pts"`
	SlaPts    int `bson:"sla_pts" json:"sla_pts"`
}

// FlagRef is an entry of a team's stolen or lost flag list.
type FlagRef struct {
	FlagData  string `bson:"flag_data" json:"flag_data"`
	Timestamp int64  `bson:"timestamp" json:"timestamp"`
}

// CheckRecord is an entry of a team's check history.
type CheckRecord struct {
	ServiceID int    `bson:"service_id" json:"service_id"`
	Status    string `bson:"status" json:"status"`
	Timestamp int64  `bson:"timestamp" json:"timestamp"`
}

// Team is the stored team document. The embedded lists are append-only.
type Team struct {
	ID            int           `bson:"team_id" json:"team_id"`
	IPAddr        string        `bson:"ip_addr" json:"ip_addr"`
	Name          string        `bson:"name" json:"name"`
	Token         string        `bson:"token" json:"token"`
	Points        []PointRecord `bson:"points" json:"points"`
	StolenFlags   []FlagRef     `bson:"stolen_flags" json:"stolen_flags"`
	LostFlags     []FlagRef     `bson:"lost_flags" json:"lost_flags"`
	Checks        []CheckRecord `bson:"checks" json:"checks"`
	LastPtsUpdate int64         `bson:"last_pts_update" json:"last_pts_update"`
}

// Service is the stored service document.
type Service struct {
	ID   int    `bson:"service_id" json:"service_id"`
	Port int    `bson:"port" json:"port"`
	Name string `bson:"name" json:"name"`
}

// Flag is the stored flag document. Flags are inserted once and never
// mutated; (Round, TeamID, ServiceID) identifies at most one flag and
// FlagData is globally unique.
type Flag struct {
	FlagData  string `bson:"flag_data" json:"flag_data"`
	Seed      string `bson:"seed" json:"seed"`
	Round     int    `bson:"round_num" json:"round_num"`
	TeamID    int    `bson:"team_id" json:"team_id"`
	ServiceID int    `bson:"service_id" json:"service_id"`
}

// Database is the gateway contract. All operations are safe under concurrent
// calls from many workers; writes to a single team document are atomic, while
// writes to different documents are not coordinated.
type Database interface {
	// AddTeam inserts the team unless a team with the same id exists.
	AddTeam(team Team) error

	// AddService inserts the service unless one with the same id exists.
	AddService(svc Service) error

	// InitTeamPoints ensures every team carries a zeroed point record for
	// every known service. Safe to call on an already initialized store.
	InitTeamPoints() error

	// EnsureFlagIndex installs the unique index on flag.flag_data.
	EnsureFlagIndex() error

	Teams() ([]Team, error)
	Services() ([]Service, error)

	// InsertFlag stores a fresh flag. Returns ErrAlreadyExistent when the
	// flag data or the seed is already taken.
	InsertFlag(flag Flag) error

	// FlagByData returns the flag carrying the given data, or ErrNotExistent.
	FlagByData(data string) (Flag, error)

	// FlagForRound returns the flag planted for the round/team/service
	// triple, or ErrNotExistent.
	FlagForRound(round, teamID, serviceID int) (Flag, error)

	// HasStolenFlag returns nil when the team identified by token has
	// already claimed the flag, ErrNotExistent otherwise.
	HasStolenFlag(token, data string) error

	PushStolenFlag(token, data string, ts int64) error
	PushLostFlag(teamID int, data string, ts int64) error
	PushCheck(teamID, serviceID int, status string, ts int64) error

	// UpdatePoints atomically adds +1 (incr) or -1 to one counter of the
	// team's record for the service, and raises last_pts_update to ts if ts
	// is newer. Returns ErrInvalidUpdate for an unknown kind.
	UpdatePoints(teamID, serviceID int, kind PointsKind, incr bool, ts int64) error

	// ResetPoints zeroes all point records and last_pts_update of the team,
	// ahead of a replay of its history.
	ResetPoints(teamID int) error

	Close() error
}
