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

package merkle

import (
	"bytes"
	"crypto/sha256"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/claimtrie/claimtrie"
)

// dsha recomputes a double SHA-256 independently of the package under test.
func dsha(chunks ...[]byte) []byte {
	h := sha256.New()
	for _, c := range chunks {
		h.Write(c)
	}
	first := h.Sum(nil)
	second := sha256.Sum256(first)
	return second[:]
}

func TestDoubleSHA256(t *testing.T) {
	got := DoubleSHA256([]byte("abc"), []byte("def"))
	want := dsha([]byte("abcdef"))
	if !bytes.Equal(got, want) {
		t.Errorf("DoubleSHA256(abc, def)=%x, want %x", got, want)
	}
	if len(got) != HashSize {
		t.Errorf("hash size %d, want %d", len(got), HashSize)
	}
}

func TestHeightVch(t *testing.T) {
	for _, tc := range []struct {
		height int32
		want   []byte
	}{
		{0, []byte{0, 0, 0, 0, 0, 0, 0, 0}},
		{1, []byte{0, 0, 0, 0, 0, 0, 0, 1}},
		{0x01020304, []byte{0, 0, 0, 0, 1, 2, 3, 4}},
		{658300, []byte{0, 0, 0, 0, 0x00, 0x0a, 0x0b, 0x7c}},
	} {
		if got := HeightVch(tc.height); !bytes.Equal(got, tc.want) {
			t.Errorf("HeightVch(%d)=%x, want %x", tc.height, got, tc.want)
		}
	}
}

func TestValueHash(t *testing.T) {
	var op claimtrie.OutPoint
	for i := range op.TxID {
		op.TxID[i] = 0x11
	}
	op.N = 13

	got := ValueHash(op, 500)
	want := dsha(
		dsha(op.TxID[:]),
		dsha([]byte("13")),
		dsha([]byte{0, 0, 0, 0, 0, 0, 1, 0xf4}),
	)
	if !bytes.Equal(got, want) {
		t.Errorf("ValueHash=%x, want %x", got, want)
	}
}

func TestCompleteHash(t *testing.T) {
	leaf := dsha([]byte("leaf"))

	// folding to depth 0 takes the key bytes after the first, right to left
	got := CompleteHash(leaf, "abc", 0)
	want := dsha([]byte{'b'}, dsha([]byte{'c'}, leaf))
	if !bytes.Equal(got, want) {
		t.Errorf("CompleteHash(abc, 0)=%x, want %x", got, want)
	}

	// a single-byte edge folds nothing
	if got := CompleteHash(leaf, "abc", 2); !bytes.Equal(got, leaf) {
		t.Errorf("CompleteHash(abc, 2)=%x, want the unchanged hash %x", got, leaf)
	}

	// the input must not be clobbered
	before := append([]byte(nil), leaf...)
	CompleteHash(leaf, "abcdef", 0)
	if diff := cmp.Diff(before, leaf); diff != "" {
		t.Errorf("CompleteHash mutated its input (-want +got):\n%s", diff)
	}
}

func TestEmptyTrieHash(t *testing.T) {
	if len(EmptyTrieHash) != HashSize {
		t.Fatalf("EmptyTrieHash is %d bytes", len(EmptyTrieHash))
	}
	if EmptyTrieHash[HashSize-1] != 1 {
		t.Error("EmptyTrieHash must end in 0x01; it is a consensus sentinel, not a zero value")
	}
	for _, b := range EmptyTrieHash[:HashSize-1] {
		if b != 0 {
			t.Errorf("EmptyTrieHash has unexpected byte %#x", b)
		}
	}
}
