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

	"github.com/rs/zerolog"

	"github.com/adkihon/go-adkihon/checker"
	"github.com/adkihon/go-adkihon/gamedb"
)

// slaDelta maps a check status to its SLA points contribution: +1 for ok,
// -1 for mumble, corrupt and down, 0 for error. known is false for any other
// status, which callers log and skip. This single mapping backs both the live
// dispatcher and the replay, so the two can never diverge.
func slaDelta(status checker.Status) (delta int, known bool) {
	switch status {
	case checker.StatusOK:
		return 1, true
	case checker.StatusMumble, checker.StatusCorrupt, checker.StatusDown:
		return -1, true
	case checker.StatusError:
		return 0, true
	default:
		return 0, false
	}
}

// ResumePoints recomputes every team's point records from its append-only
// stolen, lost and check history. Called at startup so that a restart
// reconstructs scores exactly; last_pts_update re-emerges as the monotonic
// max of the replayed timestamps because UpdatePoints never regresses it.
func ResumePoints(db gamedb.Database, logger zerolog.Logger) error {
	teams, err := db.Teams()
	if err != nil {
		return err
	}
	flags := make(map[string]gamedb.Flag)
	lookup := func(data string) (gamedb.Flag, error) {
		if f, ok := flags[data]; ok {
			return f, nil
		}
		f, err := db.FlagByData(data)
		if err == nil {
			flags[data] = f
		}
		return f, err
	}
	for _, team := range teams {
		if err := db.ResetPoints(team.ID); err != nil {
			return err
		}
		for _, ref := range team.StolenFlags {
			flag, err := lookup(ref.FlagData)
			if errors.Is(err, gamedb.ErrNotExistent) {
				logger.Warn().Str("flag", ref.FlagData).Int("team", team.ID).
					Msg("stolen flag without owner flag, skipping")
				continue
			} else if err != nil {
				return err
			}
			if err := db.UpdatePoints(team.ID, flag.ServiceID, gamedb.AtkPts, true, ref.Timestamp); err != nil {
				return err
			}
		}
		for _, ref := range team.LostFlags {
			flag, err := lookup(ref.FlagData)
			if errors.Is(err, gamedb.ErrNotExistent) {
				logger.Warn().Str("flag", ref.FlagData).Int("team", team.ID).
					Msg("lost flag without owner flag, skipping")
				continue
			} else if err != nil {
				return err
			}
			if err := db.UpdatePoints(team.ID, flag.ServiceID, gamedb.DefPts, false, ref.Timestamp); err != nil {
				return err
			}
		}
		for _, chk := range team.Checks {
			delta, known := slaDelta(checker.Status(chk.Status))
			if !known {
				logger.Warn().Str("status", chk.Status).Int("team", team.ID).
					Msg("invalid check status in history, skipping")
				continue
			}
			if delta == 0 {
				continue
			}
			if err := db.UpdatePoints(team.ID, chk.ServiceID, gamedb.SlaPts, delta > 0, chk.Timestamp); err != nil {
				return err
			}
		}
	}
	return nil
}
