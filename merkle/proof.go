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
	"errors"
	"fmt"

	"github.com/claimtrie/claimtrie"
)

// ProofPair is one child entry of a proof node: the branch byte and the
// completed hash of that child's subtree. A zero-length hash marks the child
// on the path to the proven name; the verifier fills it from the next level.
type ProofPair struct {
	Char byte
	Hash []byte
}

// ProofNode is one level of an inclusion proof, root first. Each level
// consumes exactly one byte of the proven name.
type ProofNode struct {
	Children  []ProofPair
	HasValue  bool
	ValueHash []byte
}

// Proof is a membership (or absence) proof for a name. When HasValue is set
// the deepest node controls the name through the claim at OutPoint, and the
// verifier reconstructs its value hash from OutPoint and TakeoverHeight.
type Proof struct {
	Nodes          []ProofNode
	HasValue       bool
	OutPoint       claimtrie.OutPoint
	TakeoverHeight int32
}

// RootMismatchError reports a proof that folds to the wrong root.
type RootMismatchError struct {
	ExpectedRoot   []byte
	CalculatedRoot []byte
}

func (e RootMismatchError) Error() string {
	return fmt.Sprintf("calculated root %x does not match expected root %x", e.CalculatedRoot, e.ExpectedRoot)
}

var errMalformedProof = errors.New("malformed proof")

// Verify folds the proof back into a root hash and compares it to root. It
// returns nil iff the proof binds name to the claimed state under root: for
// an ownership proof, that the claim at proof.OutPoint controls name; for an
// absence proof, that no node in the trie carries the full name.
func Verify(proof *Proof, name string, root []byte) error {
	calc, err := RootFromProof(proof, name)
	if err != nil {
		return err
	}
	if !bytes.Equal(calc, root) {
		return RootMismatchError{ExpectedRoot: root, CalculatedRoot: calc}
	}
	return nil
}

// RootFromProof computes the root hash the proof commits to. Levels are
// folded bottom-up; each level above the deepest must branch toward name at
// its own depth, and the deepest level must either prove the value or show
// that name's next byte is absent.
func RootFromProof(proof *Proof, name string) ([]byte, error) {
	if len(proof.Nodes) == 0 {
		return nil, errMalformedProof
	}
	if len(proof.Nodes) > len(name)+1 {
		return nil, fmt.Errorf("proof of %d levels is too deep for a name of %d bytes", len(proof.Nodes), len(name))
	}

	var current []byte
	for i := len(proof.Nodes) - 1; i >= 0; i-- {
		node := proof.Nodes[i]
		last := i == len(proof.Nodes)-1
		var vch []byte
		sawLink := false
		for j, pair := range node.Children {
			if j > 0 && pair.Char <= node.Children[j-1].Char {
				return nil, errMalformedProof
			}
			h := pair.Hash
			if len(h) == 0 {
				// the placeholder for the on-path child
				if last || sawLink || current == nil {
					return nil, errMalformedProof
				}
				if pair.Char != name[i] {
					return nil, fmt.Errorf("proof level %d branches on %#x, want %#x", i, pair.Char, name[i])
				}
				h = current
				sawLink = true
			} else if len(h) != HashSize {
				return nil, errMalformedProof
			} else if last && i < len(name) && pair.Char == name[i] {
				// an absence proof must not skip over the next byte of name
				return nil, fmt.Errorf("name byte %#x present at proof level %d", pair.Char, i)
			}
			vch = append(vch, pair.Char)
			vch = append(vch, h...)
		}
		if !last && !sawLink {
			return nil, errMalformedProof
		}

		switch {
		case last && proof.HasValue:
			if i != len(name) {
				return nil, fmt.Errorf("value proven at depth %d, want %d", i, len(name))
			}
			vch = append(vch, ValueHash(proof.OutPoint, proof.TakeoverHeight)...)
		case node.HasValue:
			if len(node.ValueHash) != HashSize {
				return nil, errMalformedProof
			}
			vch = append(vch, node.ValueHash...)
		}

		if len(vch) == 0 {
			if i != 0 {
				return nil, errMalformedProof
			}
			current = EmptyTrieHash
		} else {
			current = DoubleSHA256(vch)
		}
	}
	return current, nil
}
