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

// Package merkle implements the hash construction of the claim trie: double
// SHA-256 node hashes, the per-name value hash, and the child-key folding
// that compresses radix edges into a single digest. Every byte written here
// is consensus; none of it may change without forking the chain.
package merkle

import (
	"crypto/sha256"
	"strconv"

	"github.com/claimtrie/claimtrie"
)

// HashSize is the width of every trie hash.
const HashSize = sha256.Size

// EmptyTrieHash is the hash of a trie with no live claims. The sentinel is a
// consensus constant; it is deliberately not the all-zero value.
var EmptyTrieHash = []byte{
	0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 1,
}

// DoubleSHA256 hashes the concatenation of the chunks, then hashes the
// result once more.
func DoubleSHA256(chunks ...[]byte) []byte {
	h := sha256.New()
	for _, c := range chunks {
		h.Write(c)
	}
	first := h.Sum(nil)
	second := sha256.Sum256(first)
	return second[:]
}

// HeightVch encodes a takeover height for hashing: 8 bytes, with the 32-bit
// height big-endian in the low four bytes and the high four bytes zero. The
// wasted word is consensus; do not shrink it.
func HeightVch(n int32) []byte {
	return []byte{
		0, 0, 0, 0,
		byte(n >> 24), byte(n >> 16), byte(n >> 8), byte(n),
	}
}

// ValueHash commits to the winning claim of a name: the outpoint that holds
// it and the height its control began. The outpoint index is hashed over its
// ASCII decimal form.
func ValueHash(op claimtrie.OutPoint, takeoverHeight int32) []byte {
	h1 := DoubleSHA256(op.TxID[:])
	h2 := DoubleSHA256([]byte(strconv.FormatUint(uint64(op.N), 10)))
	h3 := DoubleSHA256(HeightVch(takeoverHeight))
	return DoubleSHA256(h1, h2, h3)
}

// CompleteHash extends a child hash upward through the bytes of the child's
// key that a parent at depth does not share: each key byte past depth is
// folded in from the end, one double-SHA256 per byte. The returned slice is
// freshly allocated.
func CompleteHash(partial []byte, key string, depth int) []byte {
	h := make([]byte, len(partial))
	copy(h, partial)
	for i := len(key) - 1; i > depth; i-- {
		h = DoubleSHA256([]byte{key[i]}, h)
	}
	return h
}
