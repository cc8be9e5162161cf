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

package coresql

// Queries holds the SQL text a dialect serves the generic trie storage with.
// The portable statements come from BaseQueries; a dialect fills in (or
// overrides) the ones whose syntax differs between engines: upserts,
// recursive prefix walks, and random sampling.
//
// Names and node references are bound as text, ids and hashes as blobs; the
// schema of each dialect matches. A claim or support is live at height H iff
// activationHeight < H and expirationHeight >= H; every query below that
// takes a height repeats the parameter rather than using numbered
// placeholders, so the same text runs on every engine.
type Queries struct {
	InsertClaim  string
	LookupClaim  string
	DeleteClaim  string
	HaveClaim    string
	ClaimInQueue string

	ClaimsForName                string
	BestClaim                    string
	FindClaimsByReversedIDPrefix string
	NamesInTrie                  string
	ActivatedClaimIDs            string
	ExpiredClaimIDs              string
	TotalNames                   string
	TotalClaims                  string
	TotalClaimValue              string

	InsertSupport   string
	LookupSupport   string
	DeleteSupport   string
	HaveSupport     string
	SupportInQueue  string
	SupportsForName string

	ClaimIDsWithActivatedSupports string
	ClaimIDsWithExpiredSupports   string

	UpsertDirtyNode      string // dialect
	MarkNodeDirty        string
	InsertOrReparentNode string // dialect
	SetNodeParent        string
	DeleteNode           string
	NodeParent           string
	ChildCountAndMax     string
	LiveClaimCount       string
	LongestExistingPrefix string // dialect
	ChildNames           string
	ChildHashes          string
	DirtyNodeNames       string
	DirtyNodesByLengthDesc string
	SetNodeHash          string
	RootHash             string
	PropagateDirty       string // dialect
	SubtreeNames         string
	AncestorPath         string // dialect
	ConsistencyRows      string // dialect

	InsertTakeover      string
	LastTakeover        string
	DeleteTakeoversFrom string

	DirtyNodesForActivatedClaims string // dialect
	DirtyNodesForBoundaryEvents  string
	ActivateClaimsFor            string
	ActivateSupportsFor          string
	DecrementInsertExpiredClaimNodes string // dialect
	DecrementMarkBoundaryNodes   string
	ResetClaimActivations        string
	ResetSupportActivations      string
	DirtyNodesForFinalize        string
}

// BaseQueries returns the statements whose text is portable across the
// supported engines. Fields marked "dialect" in Queries are left empty.
func BaseQueries() Queries {
	return Queries{
		InsertClaim: `INSERT INTO claim(claimID, name, nodeName, txID, txN, amount, originalHeight, updateHeight,
			validHeight, activationHeight, expirationHeight) VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		LookupClaim: `SELECT nodeName, activationHeight, originalHeight FROM claim
			WHERE claimID = ? AND txID = ? AND txN = ? AND expirationHeight >= ?`,
		DeleteClaim: `DELETE FROM claim WHERE claimID = ? AND txID = ? AND txN = ?`,
		HaveClaim: `SELECT 1 FROM claim WHERE nodeName = ? AND txID = ? AND txN = ?
			AND activationHeight < ? AND expirationHeight >= ? LIMIT 1`,
		ClaimInQueue: `SELECT activationHeight FROM claim WHERE nodeName = ? AND txID = ? AND txN = ?
			AND activationHeight >= ? AND expirationHeight >= activationHeight LIMIT 1`,

		ClaimsForName: `SELECT claimID, name, txID, txN, originalHeight, updateHeight, validHeight,
			activationHeight, expirationHeight, amount FROM claim WHERE nodeName = ? AND expirationHeight >= ?`,
		BestClaim: `SELECT c.claimID, c.txID, c.txN, c.originalHeight, c.updateHeight, c.validHeight,
			c.activationHeight, c.expirationHeight, c.amount,
			(SELECT IFNULL(SUM(s.amount),0)+c.amount FROM support s
				WHERE s.supportedClaimID = c.claimID AND s.nodeName = c.nodeName
				AND s.activationHeight < ? AND s.expirationHeight >= ?) AS effectiveAmount
			FROM claim c WHERE c.nodeName = ? AND c.activationHeight < ? AND c.expirationHeight >= ?
			ORDER BY effectiveAmount DESC, c.updateHeight, c.txID, c.txN LIMIT 1`,
		FindClaimsByReversedIDPrefix: `SELECT claimID, name, nodeName, txID, txN, originalHeight, updateHeight,
			validHeight, activationHeight, expirationHeight, amount FROM claim
			WHERE REVERSE(claimID) BETWEEN ? AND ? AND activationHeight < ? AND expirationHeight >= ? LIMIT ?`,
		NamesInTrie: `SELECT DISTINCT nodeName FROM claim WHERE activationHeight < ? AND expirationHeight >= ?`,
		ActivatedClaimIDs: `SELECT DISTINCT claimID FROM claim WHERE activationHeight = ? AND updateHeight < ?`,
		ExpiredClaimIDs:   `SELECT DISTINCT claimID FROM claim WHERE expirationHeight = ? AND updateHeight < ?`,
		TotalNames:  `SELECT COUNT(DISTINCT nodeName) FROM claim WHERE activationHeight < ? AND expirationHeight >= ?`,
		TotalClaims: `SELECT COUNT(*) FROM claim WHERE activationHeight < ? AND expirationHeight >= ?`,
		TotalClaimValue: `SELECT IFNULL(SUM(amount),0) FROM claim WHERE activationHeight < ? AND expirationHeight >= ?`,

		InsertSupport: `INSERT INTO support(supportedClaimID, name, nodeName, txID, txN, amount, blockHeight,
			validHeight, activationHeight, expirationHeight) VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		LookupSupport: `SELECT nodeName, activationHeight FROM support
			WHERE txID = ? AND txN = ? AND expirationHeight >= ?`,
		DeleteSupport: `DELETE FROM support WHERE txID = ? AND txN = ?`,
		HaveSupport: `SELECT 1 FROM support WHERE nodeName = ? AND txID = ? AND txN = ?
			AND activationHeight < ? AND expirationHeight >= ? LIMIT 1`,
		SupportInQueue: `SELECT activationHeight FROM support WHERE nodeName = ? AND txID = ? AND txN = ?
			AND activationHeight >= ? AND expirationHeight >= activationHeight LIMIT 1`,
		SupportsForName: `SELECT supportedClaimID, name, txID, txN, blockHeight, validHeight,
			activationHeight, expirationHeight, amount FROM support WHERE nodeName = ? AND expirationHeight >= ?`,

		ClaimIDsWithActivatedSupports: `SELECT DISTINCT supportedClaimID FROM support
			WHERE activationHeight = ? AND blockHeight < ?`,
		ClaimIDsWithExpiredSupports: `SELECT DISTINCT supportedClaimID FROM support
			WHERE expirationHeight = ? AND blockHeight < ?`,

		MarkNodeDirty: `UPDATE node SET hash = NULL WHERE name = ?`,
		SetNodeParent: `UPDATE node SET parent = ? WHERE name = ?`,
		DeleteNode:    `DELETE FROM node WHERE name = ?`,
		NodeParent:    `SELECT parent FROM node WHERE name = ?`,
		ChildCountAndMax: `SELECT COUNT(*), IFNULL(MAX(name), '') FROM node WHERE parent = ?`,
		LiveClaimCount: `SELECT COUNT(*) FROM (SELECT 1 FROM claim
			WHERE nodeName = ? AND activationHeight < ? AND expirationHeight >= ? LIMIT 1) AS live`,
		ChildNames:  `SELECT name FROM node WHERE parent = ?`,
		ChildHashes: `SELECT name, hash FROM node WHERE parent = ? ORDER BY name`,
		DirtyNodeNames: `SELECT name FROM node WHERE hash IS NULL ORDER BY name`,
		DirtyNodesByLengthDesc: `SELECT n.name, IFNULL((SELECT CASE WHEN t.claimID IS NULL THEN 0 ELSE t.height END
			FROM takeover t WHERE t.name = n.name ORDER BY t.height DESC LIMIT 1), 0)
			FROM node n WHERE n.hash IS NULL ORDER BY LENGTH(n.name) DESC`,
		SetNodeHash: `UPDATE node SET hash = ? WHERE name = ?`,
		RootHash:    `SELECT hash FROM node WHERE name = ''`,
		SubtreeNames: `SELECT DISTINCT nodeName FROM claim WHERE nodeName BETWEEN ? AND ?
			AND activationHeight < ? AND expirationHeight >= ? ORDER BY nodeName`,

		InsertTakeover: `INSERT INTO takeover(name, height, claimID) VALUES(?, ?, ?)`,
		LastTakeover: `SELECT t.height, t.claimID FROM takeover t
			WHERE t.name = ? ORDER BY t.height DESC LIMIT 1`,
		DeleteTakeoversFrom: `DELETE FROM takeover WHERE height >= ?`,

		DirtyNodesForBoundaryEvents: `UPDATE node SET hash = NULL WHERE name IN
			(SELECT nodeName FROM claim WHERE expirationHeight = ?
			UNION SELECT nodeName FROM support WHERE expirationHeight = ? OR activationHeight = ?)`,
		ActivateClaimsFor: `UPDATE claim SET activationHeight = ?
			WHERE nodeName = ? AND activationHeight > ? AND expirationHeight > ?`,
		ActivateSupportsFor: `UPDATE support SET activationHeight = ?
			WHERE nodeName = ? AND activationHeight > ? AND expirationHeight > ?`,
		DecrementMarkBoundaryNodes: `UPDATE node SET hash = NULL WHERE name IN
			(SELECT nodeName FROM support WHERE expirationHeight = ? OR activationHeight = ?
			UNION SELECT nodeName FROM claim WHERE activationHeight = ?)`,
		ResetClaimActivations:   `UPDATE claim SET activationHeight = validHeight WHERE activationHeight = ?`,
		ResetSupportActivations: `UPDATE support SET activationHeight = validHeight WHERE activationHeight = ?`,
		DirtyNodesForFinalize: `UPDATE node SET hash = NULL WHERE name IN
			(SELECT nodeName FROM claim WHERE activationHeight = ? AND expirationHeight > ?
			UNION SELECT nodeName FROM support WHERE activationHeight = ? AND expirationHeight > ?
			UNION SELECT name FROM takeover WHERE height = ?)`,
	}
}
