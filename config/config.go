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

// Package config loads the single JSON game document (volume/config.json by
// convention) describing teams, services, the store, the HTTP facade and the
// misc game parameters.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/adkihon/go-adkihon/gamedb/mongodb"
)

// Team is one configured competing team.
type Team struct {
	ID    int    `json:"id"`
	Host  string `json:"host"`
	Name  string `json:"name"`
	Token string `json:"token"`
}

// Service is one configured vulnerable service. Checker names a factory in
// the checker registry.
type Service struct {
	ID      int    `json:"id"`
	Port    int    `json:"port"`
	Name    string `json:"name"`
	Checker string `json:"checker"`
}

// HTTP configures the facade.
type HTTP struct {
	Port      int    `json:"port"`
	StaticDir string `json:"static_dir"`
}

// Misc carries the game parameters. Seconds-valued JSON keys decode into
// durations; times are RFC3339.
type Misc struct {
	StartTime             time.Time
	EndTime               time.Time
	RoundTime             time.Duration
	FlagLifetime          int
	AtkWeight             int
	DefWeight             int
	SlaWeight             int
	BaseScore             int
	FlagHeader            string
	FlagBodyLen           int
	RateLimit             time.Duration
	MaxFlagsPerSubmission int
	ScoreboardLatency     time.Duration
	DispatchFrequency     time.Duration
}

type miscJSON struct {
	StartTime             string  `json:"start_time"`
	EndTime               string  `json:"end_time"`
	RoundTime             float64 `json:"round_time"`
	FlagLifetime          int     `json:"flag_lifetime"`
	AtkWeight             int     `json:"atk_weight"`
	DefWeight             int     `json:"def_weight"`
	SlaWeight             int     `json:"sla_weight"`
	BaseScore             int     `json:"base_score"`
	FlagHeader            string  `json:"flag_header"`
	FlagBodyLen           int     `json:"flag_body_len"`
	RateLimitSeconds      float64 `json:"rate_limit_seconds"`
	MaxFlagsPerSubmission int     `json:"max_flags_per_submission"`
	ScoreboardLatency     float64 `json:"scoreboard_cache_update_latency"`
	DispatchFrequency     float64 `json:"dispatch_frequency"`
}

// UnmarshalJSON decodes the misc block, converting second counts and RFC3339
// timestamps. The original engine accepted freeform dates and documented the
// ambiguity as a hazard; here the format is fixed.
func (m *Misc) UnmarshalJSON(data []byte) error {
	var raw miscJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	start, err := time.Parse(time.RFC3339, raw.StartTime)
	if err != nil {
		return fmt.Errorf("misc.start_time: %w", err)
	}
	end, err := time.Parse(time.RFC3339, raw.EndTime)
	if err != nil {
		return fmt.Errorf("misc.end_time: %w", err)
	}
	*m = Misc{
		StartTime:             start,
		EndTime:               end,
		RoundTime:             secs(raw.RoundTime),
		FlagLifetime:          raw.FlagLifetime,
		AtkWeight:             raw.AtkWeight,
		DefWeight:             raw.DefWeight,
		SlaWeight:             raw.SlaWeight,
		BaseScore:             raw.BaseScore,
		FlagHeader:            raw.FlagHeader,
		FlagBodyLen:           raw.FlagBodyLen,
		RateLimit:             secs(raw.RateLimitSeconds),
		MaxFlagsPerSubmission: raw.MaxFlagsPerSubmission,
		ScoreboardLatency:     secs(raw.ScoreboardLatency),
		DispatchFrequency:     secs(raw.DispatchFrequency),
	}
	return nil
}

func secs(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}

// Config is the whole game document.
type Config struct {
	Teams    []Team         `json:"teams"`
	Services []Service      `json:"services"`
	Mongo    mongodb.Config `json:"mongo"`
	HTTP     HTTP           `json:"http"`
	Misc     Misc           `json:"misc"`
}

// Env override keys for the store credentials, honoured by Load after an
// optional .env has been read by the caller.
const (
	EnvMongoUser     = "ADKIHON_MONGO_USER"
	EnvMongoPassword = "ADKIHON_MONGO_PASSWORD"
)

// Load reads and validates the game document at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	if user := os.Getenv(EnvMongoUser); user != "" {
		cfg.Mongo.User = user
	}
	if pass := os.Getenv(EnvMongoPassword); pass != "" {
		cfg.Mongo.Password = pass
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return &cfg, nil
}

// Validate checks the structural requirements of the document. The time
// window ordering is deliberately left to the engine constructors, which
// fail-stop on it per their own contract.
func (c *Config) Validate() error {
	if len(c.Teams) == 0 {
		return errors.New("no teams configured")
	}
	if len(c.Services) == 0 {
		return errors.New("no services configured")
	}
	teamIDs := make(map[int]bool, len(c.Teams))
	tokens := make(map[string]bool, len(c.Teams))
	for _, t := range c.Teams {
		if teamIDs[t.ID] {
			return fmt.Errorf("duplicate team id %d", t.ID)
		}
		if t.Token == "" {
			return fmt.Errorf("team %d: empty token", t.ID)
		}
		if tokens[t.Token] {
			return fmt.Errorf("team %d: duplicate token", t.ID)
		}
		teamIDs[t.ID] = true
		tokens[t.Token] = true
	}
	svcIDs := make(map[int]bool, len(c.Services))
	for _, s := range c.Services {
		if svcIDs[s.ID] {
			return fmt.Errorf("duplicate service id %d", s.ID)
		}
		if s.Checker == "" {
			return fmt.Errorf("service %d: empty checker", s.ID)
		}
		svcIDs[s.ID] = true
	}
	if c.Misc.RoundTime <= 0 {
		return errors.New("misc.round_time must be positive")
	}
	if c.Misc.FlagBodyLen <= 0 {
		return errors.New("misc.flag_body_len must be positive")
	}
	if c.Misc.FlagLifetime < 0 {
		return errors.New("misc.flag_lifetime must not be negative")
	}
	if c.Misc.MaxFlagsPerSubmission <= 0 {
		return errors.New("misc.max_flags_per_submission must be positive")
	}
	return nil
}
