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
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/adkihon/go-adkihon/config"
	"github.com/adkihon/go-adkihon/gamedb"
)

// Dispatcher is the single consumer of the event queue. Every dispatch cycle
// it drains the queued events into a batch and converts each into a point
// delta write, one short goroutine per event.
type Dispatcher struct {
	db     gamedb.Database
	queue  *Queue
	logger zerolog.Logger
	freq   time.Duration

	updates  sync.WaitGroup
	quit     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// NewDispatcher wires the dispatcher to the store and the queue.
func NewDispatcher(db gamedb.Database, queue *Queue, cfg *config.Config, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		db:     db,
		queue:  queue,
		logger: logger.With().Str("component", "dispatcher").Logger(),
		freq:   cfg.Misc.DispatchFrequency,
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Start launches the dispatch worker.
func (d *Dispatcher) Start() {
	go d.loop()
}

// Stop halts the worker between cycles and waits for in-flight point updates
// to complete. Safe to call more than once.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() {
		close(d.quit)
	})
	<-d.done
	d.updates.Wait()
}

func (d *Dispatcher) loop() {
	defer close(d.done)
	ticker := time.NewTicker(d.freq)
	defer ticker.Stop()
	for {
		select {
		case <-d.quit:
			return
		case <-ticker.C:
			d.dispatchBatch()
		}
	}
}

func (d *Dispatcher) dispatchBatch() {
	for {
		ev, ok := d.queue.TryGet()
		if !ok {
			return
		}
		d.updates.Add(1)
		go func() {
			defer d.updates.Done()
			d.apply(ev)
		}()
	}
}

// apply converts one event into its point delta writes, substituting the
// current time for events stamped with a zero timestamp.
func (d *Dispatcher) apply(ev any) {
	switch ev := ev.(type) {
	case CheckEvent:
		delta, known := slaDelta(ev.Status)
		if !known {
			d.logger.Error().Str("status", string(ev.Status)).Msg("invalid event status")
			return
		}
		if delta == 0 {
			return // checker error, nothing to score
		}
		ts := ev.Time
		if ts == 0 {
			ts = time.Now().Unix()
		}
		if err := d.db.UpdatePoints(ev.Team, ev.Service, gamedb.SlaPts, delta > 0, ts); err != nil {
			d.logger.Error().Err(err).Int("team", ev.Team).Int("service", ev.Service).
				Msg("sla points update failed")
		}
	case AttackEvent:
		ts := ev.Time
		if ts == 0 {
			ts = time.Now().Unix()
		}
		if err := d.db.UpdatePoints(ev.Team, ev.Service, gamedb.AtkPts, true, ts); err != nil {
			d.logger.Error().Err(err).Int("team", ev.Team).Msg("attack points update failed")
		}
		if err := d.db.UpdatePoints(ev.AttackedTeam, ev.Service, gamedb.DefPts, false, ts); err != nil {
			d.logger.Error().Err(err).Int("team", ev.AttackedTeam).Msg("defense points update failed")
		}
	default:
		d.logger.Error().Type("event", ev).Msg("invalid event type")
	}
}
