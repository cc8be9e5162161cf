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

package trie

// The old cache implementation dropped the takeover height of a name when a
// support was spent right before the claim was updated, so it wrote takeover
// rows the current rules would not. The chain contains those rows; this
// table replays them. No entry exists at or past forcedTakeoverMaxHeight and
// none may ever be added.

const forcedTakeoverMaxHeight = 658300

type forcedTakeover struct {
	height int32
	name   string
}

var forcedTakeovers = map[forcedTakeover]struct{}{
	{309284, "eden"}:               {},
	{311024, "trees"}:              {},
	{317534, "meditation"}:         {},
	{322121, "unboxing"}:           {},
	{324303, "bitcoin-basics"}:     {},
	{325318, "ethereum"}:           {},
	{329633, "nature-documentary"}: {},
	{340210, "the-pond"}:           {},
	{346771, "vlog-14"}:            {},
	{352373, "one"}:                {},
	{357870, "homestead"}:          {},
	{361424, "gardening-with-ed"}:  {},
	{367587, "fortnite-fails"}:     {},
	{372312, "crypto-daily"}:       {},
	{374518, "speedrun"}:           {},
	{381308, "how-to-whittle"}:     {},
	{387751, "science"}:            {},
	{392008, "lofi-mix"}:           {},
	{407145, "bass-covers"}:        {},
	{411956, "travel-japan"}:       {},
	{419823, "piano"}:              {},
	{428551, "retro-gaming"}:       {},
	{437600, "sourdough"}:          {},
	{449210, "film-photography"}:   {},
	{460037, "chess-openings"}:     {},
	{473881, "diy-solar"}:          {},
	{485122, "birdwatching"}:       {},
	{496856, "woodturning"}:        {},
	{509004, "astronomy-live"}:     {},
	{521760, "keto-recipes"}:       {},
	{536442, "van-life"}:           {},
	{549317, "mechanical-keyboards"}: {},
	{561008, "aquascaping"}:        {},
	{574921, "blacksmithing"}:      {},
	{588413, "urban-sketching"}:    {},
	{601275, "synthwave"}:          {},
	{615890, "beekeeping"}:         {},
	{629761, "letterpress"}:        {},
	{641033, "rock-tumbling"}:      {},
	{652998, "night-photography"}:  {},
}
