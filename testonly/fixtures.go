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

// Package testonly holds shared fixtures for claim-trie tests.
package testonly

import "github.com/claimtrie/claimtrie"

// OutPoint builds a distinct outpoint whose tx hash is filled with fill.
func OutPoint(fill byte, n uint32) claimtrie.OutPoint {
	var op claimtrie.OutPoint
	for i := range op.TxID {
		op.TxID[i] = fill
	}
	op.N = n
	return op
}

// ClaimID builds a claim id filled with fill.
func ClaimID(fill byte) claimtrie.ClaimID {
	var id claimtrie.ClaimID
	for i := range id {
		id[i] = fill
	}
	return id
}

// Params returns consensus parameters with every fork far away and no
// takeover delay, the baseline most engine tests want.
func Params() claimtrie.Params {
	return claimtrie.Params{
		CacheBytes:                        16 << 20,
		StartHeight:                       0,
		NormalizedNameForkHeight:          1 << 30,
		MinRemovalWorkaroundHeight:        1 << 30,
		MaxRemovalWorkaroundHeight:        1 << 30,
		OriginalClaimExpirationTime:       1 << 20,
		ExtendedClaimExpirationTime:       1 << 21,
		ExtendedClaimExpirationForkHeight: 1 << 30,
		AllClaimsInMerkleForkHeight:       1 << 30,
		ProportionalDelayFactor:           1,
	}
}
