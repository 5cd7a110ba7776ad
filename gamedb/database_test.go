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

package gamedb

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPointsKindValid(t *testing.T) {
	assert.True(t, AtkPts.Valid())
	assert.True(t, DefPts.Valid())
	assert.True(t, SlaPts.Valid())
	assert.False(t, PointsKind("points").Valid())
	assert.False(t, PointsKind("").Valid())
}
