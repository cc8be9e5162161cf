// Copyright 2024 The Claimtrie Authors. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package normalize implements the normalized-names fork: at and after the
// fork height, claims file under a case-folded, canonically decomposed form
// of their name. The trie core itself knows nothing about the fork; it takes
// whatever adjuster the node wires in.
package normalize

import (
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Name returns the normalized filing form of name: NFD decomposition
// followed by Unicode case folding. Names that are not valid UTF-8 are left
// untouched, byte for byte.
func Name(name string) string {
	if !utf8.ValidString(name) {
		return name
	}
	return cases.Fold().String(norm.NFD.String(name))
}

// New returns a name adjuster enforcing the fork at forkHeight: claims
// becoming valid before it keep their original name, later ones file under
// the normalized form.
func New(forkHeight int32) func(name string, validHeight int32) string {
	return func(name string, validHeight int32) string {
		if validHeight < forkHeight {
			return name
		}
		return Name(name)
	}
}
