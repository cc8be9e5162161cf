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

import (
	"context"
	"sort"

	"k8s.io/klog/v2"

	"github.com/claimtrie/claimtrie/storage"
)

// ensureTreeStructure brings the node table back in line with the live claim
// set before hashes are recomputed. Dirty nodes that lost their claims are
// deleted (reparenting a sole child), surviving dirty nodes are inserted or
// reparented under their longest existing prefix — splitting an edge when a
// sibling shares a longer prefix — and dirtiness is percolated to every
// ancestor.
func (c *Cache) ensureTreeStructure(ctx context.Context) error {
	if c.tx == nil {
		return nil
	}

	names, err := c.tx.DirtyNodeNames(ctx)
	if err != nil {
		return err
	}
	if len(names) == 0 {
		return nil
	}
	sort.Strings(names)

	for _, name := range names {
		node := name
		var claims int64
		for {
			parent, liveClaims, deleted, err := c.deleteNodeIfPossible(ctx, node)
			if err != nil {
				return err
			}
			claims = liveClaims
			if !deleted {
				break
			}
			node = parent
		}
		if node != name || name == "" || claims <= 0 {
			// no claims but not deletable means it has legitimate children
			continue
		}

		parent, err := c.tx.LongestExistingPrefix(ctx, name[:len(name)-1])
		if err != nil {
			return err
		}

		// we may need to insert a split node between the parent and an
		// existing sibling that shares more of our prefix
		psize := len(parent) + 1
		siblings, err := c.tx.ChildNames(ctx, parent)
		if err != nil {
			return err
		}
		for _, sibling := range siblings {
			if len(sibling) < psize || sibling[:psize] != name[:psize] {
				continue
			}
			splitPos := psize
			for splitPos < len(sibling) && splitPos < len(name) && sibling[splitPos] == name[splitPos] {
				splitPos++
			}
			newNodeName := name[:splitPos]
			// update the to-be-fostered sibling:
			if err := c.tx.SetNodeParent(ctx, sibling, newNodeName); err != nil {
				return err
			}
			if splitPos == len(name) {
				// our new node is the same as the one we wanted to insert
				break
			}
			klog.V(2).Infof("Inserting split node %q near %q, parent %q", newNodeName, sibling, parent)
			if err := c.tx.InsertOrReparentNode(ctx, newNodeName, parent); err != nil {
				return err
			}
			parent = newNodeName
			break
		}

		klog.V(2).Infof("Inserting or updating node %q, parent %q", name, parent)
		if err := c.tx.InsertOrReparentNode(ctx, name, parent); err != nil {
			return err
		}
	}

	return c.tx.PropagateDirty(ctx)
}

// deleteNodeIfPossible removes name when it holds no live claims and has at
// most one child; the sole child, if any, is reparented to the grandparent.
// It returns the parent to continue the upward walk from and the live claim
// count that blocked deletion.
func (c *Cache) deleteNodeIfPossible(ctx context.Context, name string) (parent string, claims int64, deleted bool, err error) {
	if name == "" {
		return "", 0, false, nil
	}
	claims, err = c.tx.LiveClaimCount(ctx, name, c.nextHeight)
	if err != nil || claims > 0 {
		return "", claims, false, err
	}
	// no claims, but it may still be a branch point
	count, childName, err := c.tx.ChildCountAndMax(ctx, name)
	if err != nil || count > 1 {
		return "", 0, false, err
	}
	klog.V(2).Infof("Removing node %q with %d children", name, count)
	parent, err = c.tx.NodeParent(ctx, name)
	if err == storage.ErrNotFound {
		// assume whoever deleted this node previously cleaned things up
		return "", 0, true, nil
	}
	if err != nil {
		return "", 0, false, err
	}
	deleted, err = c.tx.DeleteNode(ctx, name)
	if err != nil || !deleted {
		return "", 0, false, err
	}
	if count == 1 {
		// make the child skip us and point to its grandparent
		if err := c.tx.SetNodeParent(ctx, childName, parent); err != nil {
			return "", 0, false, err
		}
	}
	return parent, 0, true, c.tx.MarkNodeDirty(ctx, parent)
}
