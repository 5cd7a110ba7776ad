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
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"regexp"
)

const seedLen = 32

// GenFlag returns header + "{" + bodyLen lowercase hex chars + "}", with the
// body drawn from crypto/rand.
func GenFlag(header string, bodyLen int) string {
	return header + "{" + randHex(bodyLen) + "}"
}

// GenSeed returns 32 lowercase hex chars drawn from crypto/rand.
func GenSeed() string {
	return randHex(seedLen)
}

// FlagPattern compiles the anchored submission pattern for flags produced by
// GenFlag with the same parameters.
func FlagPattern(header string, bodyLen int) *regexp.Regexp {
	return regexp.MustCompile(fmt.Sprintf(`^%s\{[a-f0-9]{%d}\}$`, regexp.QuoteMeta(header), bodyLen))
}

func randHex(n int) string {
	buf := make([]byte, (n+1)/2)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand failing means the platform entropy source is gone;
		// nothing sensible remains to be done with a game in flight.
		panic("checker: crypto/rand: " + err.Error())
	}
	return hex.EncodeToString(buf)[:n]
}
