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

// Package checker defines the probe contract between the game engine and the
// per-service checkers, the status codes a probe can report, and the flag and
// seed generators. Checker implementations register themselves by name; the
// engine resolves the name found in the service configuration.
package checker

// Status is the outcome of a single checker operation.
type Status string

const (
	StatusOK      Status = "ok"
	StatusMumble  Status = "mumble"
	StatusCorrupt Status = "corrupt"
	StatusDown    Status = "down"
	StatusError   Status = "error"
)

// Known reports whether s is one of the five defined statuses.
func (s Status) Known() bool {
	switch s {
	case StatusOK, StatusMumble, StatusCorrupt, StatusDown, StatusError:
		return true
	}
	return false
}

// TeamInfo describes the probed team to a checker.
type TeamInfo struct {
	ID   int
	Host string
	Name string
}

// ServiceInfo describes the probed service to a checker.
type ServiceInfo struct {
	ID   int
	Port int
	Name string
}

// Checker is the three-operation probe contract. One instance exists per
// (team, service) pair, so implementations may keep state. Checkers are
// untrusted: the engine calls them only through the Safe wrappers below.
type Checker interface {
	// Check verifies the plain liveness of the service.
	Check() Status

	// Put plants a flag in the service.
	Put(flagData, seed string) Status

	// Get retrieves a previously planted flag.
	Get(flagData, seed string) Status
}

// SafeCheck runs c.Check, converting a panic into StatusError.
func SafeCheck(c Checker) (status Status) {
	defer func() {
		if recover() != nil {
			status = StatusError
		}
	}()
	return c.Check()
}

// SafePut runs c.Put, converting a panic into StatusError.
func SafePut(c Checker, flagData, seed string) (status Status) {
	defer func() {
		if recover() != nil {
			status = StatusError
		}
	}()
	return c.Put(flagData, seed)
}

// SafeGet runs c.Get, converting a panic into StatusError.
func SafeGet(c Checker, flagData, seed string) (status Status) {
	defer func() {
		if recover() != nil {
			status = StatusError
		}
	}()
	return c.Get(flagData, seed)
}
