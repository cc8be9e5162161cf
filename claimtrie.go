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

package claimtrie

// MaxClaimNameSize is the longest name the consensus rules admit.
const MaxClaimNameSize = 255

// MaxDelay caps the takeover-protection delay in blocks (four weeks of ten
// minute blocks).
const MaxDelay = 4032

// Params carries every consensus parameter the engine needs. All fields are
// fixed at construction; changing any of them mid-chain forks the node off
// the network.
type Params struct {
	// DataDir is where the backing store keeps its files.
	DataDir string
	// CacheBytes bounds the store's in-memory page cache.
	CacheBytes int64
	// StartHeight is the height the store starts at when empty.
	StartHeight int32

	NormalizedNameForkHeight    int32
	MinRemovalWorkaroundHeight  int32
	MaxRemovalWorkaroundHeight  int32
	OriginalClaimExpirationTime int32
	ExtendedClaimExpirationTime int32
	ExtendedClaimExpirationForkHeight int32
	AllClaimsInMerkleForkHeight int32
	ProportionalDelayFactor     int32
}

// MainNetParams are the production-chain constants.
var MainNetParams = Params{
	CacheBytes:                  32 << 20,
	StartHeight:                 0,
	NormalizedNameForkHeight:    539940,
	MinRemovalWorkaroundHeight:  297706,
	MaxRemovalWorkaroundHeight:  658300,
	OriginalClaimExpirationTime: 262974,
	ExtendedClaimExpirationTime: 2102400,
	ExtendedClaimExpirationForkHeight: 400155,
	AllClaimsInMerkleForkHeight: 658310,
	ProportionalDelayFactor:     32,
}

// TestNetParams relax the fork schedule so every rule is reachable quickly.
var TestNetParams = Params{
	CacheBytes:                  32 << 20,
	StartHeight:                 0,
	NormalizedNameForkHeight:    993380,
	MinRemovalWorkaroundHeight:  99,
	MaxRemovalWorkaroundHeight:  100,
	OriginalClaimExpirationTime: 262974,
	ExtendedClaimExpirationTime: 2102400,
	ExtendedClaimExpirationForkHeight: 278160,
	AllClaimsInMerkleForkHeight: 1198559,
	ProportionalDelayFactor:     32,
}

// ExpirationTime returns the claim lifetime in blocks for a claim accepted
// while nextHeight is current.
func (p *Params) ExpirationTime(nextHeight int32) int32 {
	if p.ExtendedClaimExpirationForkHeight > 0 && nextHeight >= p.ExtendedClaimExpirationForkHeight {
		return p.ExtendedClaimExpirationTime
	}
	return p.OriginalClaimExpirationTime
}
