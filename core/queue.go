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

import "github.com/adkihon/go-adkihon/checker"

// CheckEvent reports the final status of one probe against one team service.
// Time is a unix timestamp; zero means unset and the dispatcher substitutes
// its own clock.
type CheckEvent struct {
	Team    int
	Service int
	Status  checker.Status
	Time    int64
}

// AttackEvent reports one accepted flag submission.
type AttackEvent struct {
	Team         int // submitter
	Service      int
	AttackedTeam int // flag owner
	Time         int64
}

// Queue is the bounded in-memory event bus between the probe and submission
// producers and the single dispatcher consumer. Each producer's events retain
// their relative order; ordering across producers is not guaranteed.
type Queue struct {
	ch chan any
}

// NewQueue creates a queue holding at most size events.
func NewQueue(size int) *Queue {
	return &Queue{ch: make(chan any, size)}
}

// Put enqueues without blocking. It reports false when the queue is full and
// the event has been dropped.
func (q *Queue) Put(ev any) bool {
	select {
	case q.ch <- ev:
		return true
	default:
		return false
	}
}

// TryGet dequeues without blocking.
func (q *Queue) TryGet() (any, bool) {
	select {
	case ev := <-q.ch:
		return ev, true
	default:
		return nil, false
	}
}

// Len returns the number of queued events.
func (q *Queue) Len() int {
	return len(q.ch)
}
