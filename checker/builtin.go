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

package checker

import (
	"fmt"
	"net"
	"time"
)

// Builtin checkers. "alive" and "corrupt" are the fixed-outcome probes used
// by example games and by the test suite; "tcp" is a minimal real probe that
// only asserts the service port accepts connections.

func init() {
	Register("alive", func(team TeamInfo, service ServiceInfo) Checker {
		return staticChecker{status: StatusOK}
	})
	Register("corrupt", func(team TeamInfo, service ServiceInfo) Checker {
		return staticChecker{status: StatusCorrupt}
	})
	Register("tcp", func(team TeamInfo, service ServiceInfo) Checker {
		return &tcpChecker{addr: fmt.Sprintf("%s:%d", team.Host, service.Port)}
	})
}

type staticChecker struct {
	status Status
}

func (c staticChecker) Check() Status                { return c.status }
func (c staticChecker) Put(flag, seed string) Status { return c.status }
func (c staticChecker) Get(flag, seed string) Status { return c.status }

type tcpChecker struct {
	addr string
}

const tcpDialTimeout = 5 * time.Second

func (c *tcpChecker) dial() Status {
	conn, err := net.DialTimeout("tcp", c.addr, tcpDialTimeout)
	if err != nil {
		return StatusDown
	}
	conn.Close()
	return StatusOK
}

func (c *tcpChecker) Check() Status                { return c.dial() }
func (c *tcpChecker) Put(flag, seed string) Status { return c.dial() }

// Get cannot prove flag integrity over a bare TCP dial, so reachability is
// the best it can report.
func (c *tcpChecker) Get(flag, seed string) Status { return c.dial() }
