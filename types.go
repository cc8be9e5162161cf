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

// Package claimtrie provides the common data structures used throughout the
// claim-trie engine: claim and support records, takeover records, and the
// identifiers that key them.
package claimtrie

import (
	"bytes"
	"encoding/hex"
	"fmt"
)

// ClaimIDSize is the width of a claim identifier in bytes.
const ClaimIDSize = 20

// TxIDSize is the width of a transaction hash in bytes.
const TxIDSize = 32

// ClaimID is the unique identifier of a claim. It is assigned when the claim
// first appears on chain and survives updates.
type ClaimID [ClaimIDSize]byte

func (id ClaimID) String() string {
	return hex.EncodeToString(id[:])
}

// Bytes returns the id as a fresh byte slice.
func (id ClaimID) Bytes() []byte {
	b := make([]byte, ClaimIDSize)
	copy(b, id[:])
	return b
}

// Reversed returns the byte-reversed form of the id, the key order used by
// the reverse-claim-id lookup index.
func (id ClaimID) Reversed() []byte {
	b := make([]byte, ClaimIDSize)
	for i, c := range id {
		b[ClaimIDSize-1-i] = c
	}
	return b
}

// NewClaimID copies b into a ClaimID. It returns an error if b is not exactly
// ClaimIDSize bytes.
func NewClaimID(b []byte) (ClaimID, error) {
	var id ClaimID
	if len(b) != ClaimIDSize {
		return id, fmt.Errorf("claim id must be %d bytes, got %d", ClaimIDSize, len(b))
	}
	copy(id[:], b)
	return id, nil
}

// TxID is a transaction hash.
type TxID [TxIDSize]byte

func (t TxID) String() string {
	return hex.EncodeToString(t[:])
}

// NewTxID copies b into a TxID. It returns an error if b is not exactly
// TxIDSize bytes.
func NewTxID(b []byte) (TxID, error) {
	var t TxID
	if len(b) != TxIDSize {
		return t, fmt.Errorf("tx id must be %d bytes, got %d", TxIDSize, len(b))
	}
	copy(t[:], b)
	return t, nil
}

// OutPoint identifies a transaction output.
type OutPoint struct {
	TxID TxID
	N    uint32
}

func (o OutPoint) String() string {
	return fmt.Sprintf("%s:%d", o.TxID, o.N)
}

// Claim is one version of a name claim. The claim id is stable across
// updates; the outpoint changes with every update.
type Claim struct {
	ID   ClaimID
	Name string
	// NodeName is the name the claim is filed under. It differs from Name
	// only where the normalization fork applies.
	NodeName         string
	OutPoint         OutPoint
	Amount           int64
	OriginalHeight   int32
	UpdateHeight     int32
	ValidHeight      int32
	ActivationHeight int32
	ExpirationHeight int32
}

// ClaimInfo is a claim joined with the sum of its active supports.
type ClaimInfo struct {
	Claim
	EffectiveAmount int64
}

// Support adds amount to an existing claim without changing ownership. A
// support whose claim is gone is dangling and contributes nothing.
type Support struct {
	SupportedID      ClaimID
	Name             string
	NodeName         string
	OutPoint         OutPoint
	Amount           int64
	BlockHeight      int32
	ValidHeight      int32
	ActivationHeight int32
	ExpirationHeight int32
}

// Takeover records a change of control over a name: the claim that won and
// the height the win took effect. A nil WinnerID means the name became
// uncontrolled.
type Takeover struct {
	Name     string
	Height   int32
	WinnerID *ClaimID
}

// NameClaims is the full answer for one name: the controlling takeover state,
// every unexpired claim with its supports attached, and any supports that
// matched no claim.
type NameClaims struct {
	Name           string
	TakeoverHeight int32
	Claims         []ClaimWithSupports
	UnmatchedSupports []Support
}

// ClaimWithSupports pairs a claim with the supports backing it.
type ClaimWithSupports struct {
	ClaimInfo
	Supports []Support
}

// Less orders claims for control resolution: higher effective amount wins,
// ties broken by earlier update height, then by outpoint bytes.
func (c *ClaimWithSupports) Less(o *ClaimWithSupports) bool {
	if c.EffectiveAmount != o.EffectiveAmount {
		return c.EffectiveAmount > o.EffectiveAmount
	}
	if c.UpdateHeight != o.UpdateHeight {
		return c.UpdateHeight < o.UpdateHeight
	}
	if cmp := bytes.Compare(c.OutPoint.TxID[:], o.OutPoint.TxID[:]); cmp != 0 {
		return cmp < 0
	}
	return c.OutPoint.N < o.OutPoint.N
}
