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

// Package scriptop is the boundary between transaction processing and the
// trie core. Script decoding stays outside; this package takes
// already-decoded claim operations and maps the four block-processing
// directions — apply an output, undo an output, spend an input, undo a
// spend — onto the cache's add and remove calls.
package scriptop

import (
	"context"
	"crypto/sha256"
	"encoding/binary"

	"golang.org/x/crypto/ripemd160"

	"github.com/claimtrie/claimtrie"
	"github.com/claimtrie/claimtrie/trie"
)

// OpKind classifies a decoded script output.
type OpKind int

const (
	// NonClaim is any output that does not touch the trie.
	NonClaim OpKind = iota
	// ClaimName opens a brand-new claim; its id derives from the outpoint.
	ClaimName
	// UpdateClaim replaces the value of an existing claim id.
	UpdateClaim
	// SupportClaim adds amount behind an existing claim id.
	SupportClaim
)

// Op is one decoded claim operation.
type Op struct {
	Kind    OpKind
	Name    string
	ClaimID claimtrie.ClaimID
}

// NewClaimID derives the id of a fresh claim from the outpoint that creates
// it: RIPEMD160(SHA256(txid || n)), with n little-endian.
func NewClaimID(op claimtrie.OutPoint) claimtrie.ClaimID {
	var n [4]byte
	binary.LittleEndian.PutUint32(n[:], op.N)
	first := sha256.New()
	first.Write(op.TxID[:])
	first.Write(n[:])
	second := ripemd160.New()
	second.Write(first.Sum(nil))
	var id claimtrie.ClaimID
	copy(id[:], second.Sum(nil))
	return id
}

// HandlerKind selects which direction a Handler drives the cache in.
type HandlerKind int

const (
	// Add applies a new output.
	Add HandlerKind = iota
	// UndoAdd removes an output during block disconnect.
	UndoAdd
	// Spend consumes a live input, capturing its undo data.
	Spend
	// UndoSpend re-creates a spent input from its undo data.
	UndoSpend
)

// Handler carries the per-output context of one operation. Spend fills the
// Spent fields; UndoSpend and updates read ValidHeight and OriginalHeight.
type Handler struct {
	Kind   HandlerKind
	Point  claimtrie.OutPoint
	Amount int64
	Height int32

	// inputs for UndoSpend, and OriginalHeight for update outputs
	ValidHeight    int32
	OriginalHeight int32

	// outputs of a Spend
	SpentValidHeight    int32
	SpentOriginalHeight int32
}

// Process dispatches op against the cache in the handler's direction. It
// reports whether the operation found its subject; a false return with nil
// error is the absent-precondition case.
func Process(ctx context.Context, h *Handler, c *trie.Cache, op Op) (bool, error) {
	switch op.Kind {
	case ClaimName:
		return h.handleClaim(ctx, c, op.Name, NewClaimID(h.Point))
	case UpdateClaim:
		return h.handleClaim(ctx, c, op.Name, op.ClaimID)
	case SupportClaim:
		return h.handleSupport(ctx, c, op.Name, op.ClaimID)
	}
	return false, nil
}

func (h *Handler) handleClaim(ctx context.Context, c *trie.Cache, name string, id claimtrie.ClaimID) (bool, error) {
	switch h.Kind {
	case Add:
		err := c.AddClaim(ctx, name, h.Point, id, h.Amount, h.Height, h.ValidHeight, h.OriginalHeight)
		return err == nil, err
	case UndoAdd:
		_, ok, err := c.RemoveClaim(ctx, id, h.Point)
		return ok, err
	case Spend:
		removed, ok, err := c.RemoveClaim(ctx, id, h.Point)
		if ok {
			h.SpentValidHeight = removed.ValidHeight
			h.SpentOriginalHeight = removed.OriginalHeight
		}
		return ok, err
	case UndoSpend:
		err := c.AddClaim(ctx, name, h.Point, id, h.Amount, h.Height, h.ValidHeight, h.OriginalHeight)
		return err == nil, err
	}
	return false, nil
}

func (h *Handler) handleSupport(ctx context.Context, c *trie.Cache, name string, id claimtrie.ClaimID) (bool, error) {
	switch h.Kind {
	case Add:
		err := c.AddSupport(ctx, name, h.Point, id, h.Amount, h.Height, -1)
		return err == nil, err
	case UndoAdd:
		_, ok, err := c.RemoveSupport(ctx, h.Point)
		return ok, err
	case Spend:
		removed, ok, err := c.RemoveSupport(ctx, h.Point)
		if ok {
			h.SpentValidHeight = removed.ValidHeight
		}
		return ok, err
	case UndoSpend:
		err := c.AddSupport(ctx, name, h.Point, id, h.Amount, h.Height, h.ValidHeight)
		return err == nil, err
	}
	return false, nil
}
