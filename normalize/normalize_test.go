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

package normalize

import "testing"

func TestName(t *testing.T) {
	for _, tc := range []struct {
		in, want string
	}{
		{"Foo", "foo"},
		{"already-lower", "already-lower"},
		// decomposed before folding, and not recomposed afterwards
		{"Ärger", "ärger"},
		// invalid UTF-8 stays untouched, byte for byte
		{"\xc3\x28", "\xc3\x28"},
	} {
		if got := Name(tc.in); got != tc.want {
			t.Errorf("Name(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestForkHeight(t *testing.T) {
	adjust := New(1000)
	if got := adjust("Foo", 999); got != "Foo" {
		t.Errorf("adjust before the fork = %q, want the name untouched", got)
	}
	if got := adjust("Foo", 1000); got != "foo" {
		t.Errorf("adjust at the fork = %q, want \"foo\"", got)
	}
}
