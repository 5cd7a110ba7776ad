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
	"sync"
)

// Factory builds one checker instance for a (team, service) pair.
type Factory func(team TeamInfo, service ServiceInfo) Checker

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// Register makes a checker factory resolvable by name, typically from an
// init function. It panics on a duplicate name or a nil factory.
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if factory == nil {
		panic("checker: Register factory is nil")
	}
	if _, dup := registry[name]; dup {
		panic("checker: Register called twice for " + name)
	}
	registry[name] = factory
}

// New instantiates the named checker for the given pair.
func New(name string, team TeamInfo, service ServiceInfo) (Checker, error) {
	registryMu.RLock()
	factory, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("checker: unknown checker %q", name)
	}
	return factory(team, service), nil
}
