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

package scriptop

import (
	"context"

	"k8s.io/klog/v2"

	"github.com/claimtrie/claimtrie"
	"github.com/claimtrie/claimtrie/trie"
)

// TxOut is one output of a transaction with its decoded claim operation.
type TxOut struct {
	N      uint32
	Amount int64
	Op     Op
}

// Tx is the slice of a transaction the dispatcher needs: the outpoints it
// spends and the claim operations it creates.
type Tx struct {
	ID      claimtrie.TxID
	Inputs  []claimtrie.OutPoint
	Outputs []TxOut
}

// Callbacks let the block driver hook into transaction application.
type Callbacks struct {
	// FindOp decodes the claim operation of a spent outpoint. Returning ok
	// false skips the input.
	FindOp func(point claimtrie.OutPoint) (Op, bool)
	// ClaimUndoHeights, when set, receives the undo data of each spent
	// claim input, keyed by input index.
	ClaimUndoHeights func(inputIndex int, validHeight, originalHeight int32)
}

type spentClaim struct {
	name           string
	id             claimtrie.ClaimID
	originalHeight int32
}

// UpdateTrie applies one transaction at height: inputs holding live claims
// or supports are spent first, then claim operations on the outputs are
// added, letting an update inherit the original height of the claim it
// replaces.
func UpdateTrie(ctx context.Context, c *trie.Cache, tx *Tx, height int32, cb Callbacks) error {
	var spent []spentClaim
	for i, in := range tx.Inputs {
		var op Op
		ok := false
		if cb.FindOp != nil {
			op, ok = cb.FindOp(in)
		}
		if !ok || op.Kind == NonClaim {
			continue
		}
		h := &Handler{Kind: Spend, Point: in, Height: height}
		found, err := Process(ctx, h, c, op)
		if err != nil {
			return err
		}
		if !found {
			klog.V(1).Infof("Spent input %v carried a claim script but no live record", in)
			continue
		}
		if op.Kind == ClaimName || op.Kind == UpdateClaim {
			id := op.ClaimID
			if op.Kind == ClaimName {
				id = NewClaimID(in)
			}
			spent = append(spent, spentClaim{op.Name, id, h.SpentOriginalHeight})
			if cb.ClaimUndoHeights != nil {
				cb.ClaimUndoHeights(i, h.SpentValidHeight, h.SpentOriginalHeight)
			}
		}
	}

	for _, out := range tx.Outputs {
		if out.Op.Kind == NonClaim {
			continue
		}
		h := &Handler{
			Kind:   Add,
			Point:  claimtrie.OutPoint{TxID: tx.ID, N: out.N},
			Amount: out.Amount,
			Height: height,
		}
		if out.Op.Kind == UpdateClaim {
			for i, sc := range spent {
				if sc.id == out.Op.ClaimID && sc.name == out.Op.Name {
					h.OriginalHeight = sc.originalHeight
					spent = append(spent[:i], spent[i+1:]...)
					break
				}
			}
		}
		if _, err := Process(ctx, h, c, out.Op); err != nil {
			return err
		}
	}
	return nil
}
