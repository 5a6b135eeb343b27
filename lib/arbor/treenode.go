// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package arbor

import (
	"context"
	"fmt"

	"github.com/haloforest/arbor/lib/arborerr"
	"github.com/haloforest/arbor/lib/datafile"
	"github.com/haloforest/arbor/lib/field"
)

// TreeNode is a lightweight handle to a single halo (§4.6): it knows its
// arbor, its stable uid, and the root that owns its tree's storage.
// treeID == 0 means this handle IS that root.
type TreeNode struct {
	arbor  *Arbor
	root   *root
	treeID int
	uid    int64
}

// UID returns the halo's stable identifier.
func (n *TreeNode) UID() int64 { return n.uid }

// IsRoot reports whether this handle is the tree's root.
func (n *TreeNode) IsRoot() bool { return n.treeID == 0 }

func (n *TreeNode) locator() (datafile.Locator, error) {
	n.root.mu.Lock()
	defer n.root.mu.Unlock()
	if n.treeID < len(n.root.locs) {
		return n.root.locs[n.treeID], nil
	}
	if n.treeID == 0 {
		return n.root.desc.Locator, nil
	}
	return datafile.Locator{}, fmt.Errorf("arbor: node uid=%d has no locator before its tree is set up", n.uid)
}

// Field returns name's value for this single halo (§4.6 field[name]). For
// a root, analysis fields come from the arbor-wide table without setup or
// grow. Every other case runs setup on the tree, materializes name for
// the whole tree into the root's field cache, and indexes that column by
// tree_id.
func (n *TreeNode) Field(ctx context.Context, name string) (float64, error) {
	desc, ok := n.arbor.Fields.Get(name)
	if !ok {
		return 0, fmt.Errorf("%w: %q", arborerr.ErrFieldNotFound, name)
	}
	if n.IsRoot() && (desc.Kind == field.KindAnalysis || desc.Kind == field.KindAnalysisSaved) {
		n.arbor.mu.RLock()
		defer n.arbor.mu.RUnlock()
		vals, ok := n.arbor.analysisDefaults[name]
		if !ok || n.root.idx >= len(vals) {
			return 0, fmt.Errorf("%w: %q", arborerr.ErrFieldAnalysisNotGenerated, name)
		}
		return vals[n.root.idx], nil
	}
	if err := n.root.resolveFields(ctx, []string{name}); err != nil {
		return 0, err
	}
	n.root.mu.Lock()
	defer n.root.mu.Unlock()
	arr := n.root.fieldCache[name]
	if n.treeID >= len(arr.Values) {
		return 0, fmt.Errorf("arbor: tree_id %d out of range for field %q (tree size %d)", n.treeID, name, len(arr.Values))
	}
	return arr.Values[n.treeID], nil
}

// ScopeField returns name's values across scope ("tree", "prog", or
// "forest"), in traversal order (§4.6 field[scope, name]). This also
// implements arborsel.ScopeSource for this node's tree.
func (n *TreeNode) ScopeField(ctx context.Context, scope, name, toUnit string) ([]float64, error) {
	if err := n.root.grow(ctx); err != nil {
		return nil, err
	}
	if err := n.root.resolveFields(ctx, []string{name}); err != nil {
		return nil, err
	}
	idx, err := n.root.scopeIndices(scope)
	if err != nil {
		return nil, err
	}
	n.root.mu.Lock()
	arr := n.root.fieldCache[name]
	n.root.mu.Unlock()
	if toUnit != "" {
		converted, err := arr.To(toUnit)
		if err != nil {
			return nil, err
		}
		arr = converted
	}
	out := make([]float64, len(idx))
	for i, treeID := range idx {
		out[i] = arr.Values[treeID]
	}
	return out, nil
}

// ScopeLen reports the size of scope for this node's tree.
func (n *TreeNode) ScopeLen(ctx context.Context, scope string) (int, error) {
	if err := n.root.grow(ctx); err != nil {
		return 0, err
	}
	idx, err := n.root.scopeIndices(scope)
	if err != nil {
		return 0, err
	}
	return len(idx), nil
}

// TreeSize returns the number of halos in this node's tree.
func (n *TreeNode) TreeSize(ctx context.Context) (int, error) {
	if err := n.root.setup(ctx); err != nil {
		return 0, err
	}
	return n.root.treeSize(), nil
}

// SetField assigns value to an analysis/analysis-saved field (§4.6
// "Setting a value"); any other kind is ErrFieldUnsettable. Vector
// magnitude/component caches derived from name are invalidated.
func (n *TreeNode) SetField(ctx context.Context, name string, value float64) error {
	desc, ok := n.arbor.Fields.Get(name)
	if !ok {
		return fmt.Errorf("%w: %q", arborerr.ErrFieldNotFound, name)
	}
	if desc.Kind != field.KindAnalysis && desc.Kind != field.KindAnalysisSaved {
		return fmt.Errorf("%w: %q", arborerr.ErrFieldUnsettable, name)
	}
	if n.IsRoot() {
		n.arbor.mu.Lock()
		vals, ok := n.arbor.analysisDefaults[name]
		if !ok {
			n.arbor.mu.Unlock()
			return fmt.Errorf("%w: %q", arborerr.ErrFieldAnalysisNotGenerated, name)
		}
		vals[n.root.idx] = value
		n.arbor.mu.Unlock()
		n.root.mu.Lock()
		if raw, ok := n.root.analysisRaw[name]; ok {
			raw[0] = value
		}
		n.root.invalidateVectorLocked(name)
		delete(n.root.fieldCache, name)
		n.root.mu.Unlock()
		return nil
	}
	if err := n.root.grow(ctx); err != nil {
		return err
	}
	n.root.mu.Lock()
	defer n.root.mu.Unlock()
	raw := n.root.syncAnalysisRaw(name, desc.Default)
	if n.treeID >= len(raw) {
		return fmt.Errorf("arbor: tree_id %d out of range (tree size %d)", n.treeID, len(raw))
	}
	raw[n.treeID] = value
	delete(n.root.fieldCache, name)
	n.root.invalidateVectorLocked(name)
	return nil
}

// Ancestors returns this halo's direct ancestors (§4.6 ancestors()).
func (n *TreeNode) Ancestors(ctx context.Context) ([]*TreeNode, error) {
	if err := n.root.grow(ctx); err != nil {
		return nil, err
	}
	n.root.mu.Lock()
	ancIDs := append([]int(nil), n.root.links[n.treeID].ancestorTreeIDs...)
	n.root.mu.Unlock()
	out := make([]*TreeNode, len(ancIDs))
	for i, id := range ancIDs {
		out[i] = n.root.nodeAt(id)
	}
	return out, nil
}

// Descendent returns this halo's descendent, or nil for a root.
func (n *TreeNode) Descendent(ctx context.Context) (*TreeNode, error) {
	if err := n.root.grow(ctx); err != nil {
		return nil, err
	}
	n.root.mu.Lock()
	dt := n.root.links[n.treeID].descTreeID
	n.root.mu.Unlock()
	if dt < 0 {
		return nil, nil
	}
	return n.root.nodeAt(dt), nil
}

// FindRoot walks descendent pointers until the root (§4.6 find_root()).
func (n *TreeNode) FindRoot() *TreeNode {
	return n.root.node()
}

// GetNode returns the i-th node in scope (§4.6 get_node(scope, i)).
func (n *TreeNode) GetNode(ctx context.Context, scope string, i int) (*TreeNode, error) {
	if err := n.root.grow(ctx); err != nil {
		return nil, err
	}
	idx, err := n.root.scopeIndices(scope)
	if err != nil {
		return nil, err
	}
	if i < 0 || i >= len(idx) {
		return nil, fmt.Errorf("arbor: scope %q index %d out of range [0,%d)", scope, i, len(idx))
	}
	return n.root.nodeAt(idx[i]), nil
}

// GetLeafNodes returns every halo in scope with no ancestors (§4.6).
func (n *TreeNode) GetLeafNodes(ctx context.Context, scope string) ([]*TreeNode, error) {
	if err := n.root.grow(ctx); err != nil {
		return nil, err
	}
	idx, err := n.root.scopeIndices(scope)
	if err != nil {
		return nil, err
	}
	n.root.mu.Lock()
	defer n.root.mu.Unlock()
	var out []*TreeNode
	for _, treeID := range idx {
		if len(n.root.links[treeID].ancestorTreeIDs) == 0 {
			out = append(out, n.root.nodeAt(treeID))
		}
	}
	return out, nil
}

// GetRootNodes returns every halo in this tree's forest with desc_uid ==
// -1 (§4.6). This generic core treats forest as tree, so for a single
// tree there is exactly one root node: this tree's own root.
func (n *TreeNode) GetRootNodes(ctx context.Context) ([]*TreeNode, error) {
	if err := n.root.grow(ctx); err != nil {
		return nil, err
	}
	return []*TreeNode{n.root.node()}, nil
}

// ResetNode releases this node's in-memory state (§4.6 reset_node): on a
// root, the link array, setup arrays, and field cache are cleared so a
// later access runs setup and grow on the tree again; a non-root has nothing of
// its own to release, since every cache a TreeNode consults is owned by
// its root. Any spatial.Index built over this node's tree is stale after
// a root reset and must be rebuilt (spatial.Index.Invalidate).
func (n *TreeNode) ResetNode() {
	if n.IsRoot() {
		n.root.reset()
	}
}

func (r *root) nodeAt(treeID int) *TreeNode {
	return &TreeNode{arbor: r.arbor, root: r, treeID: treeID, uid: r.uids[treeID]}
}

func (r *root) invalidateVectorLocked(name string) {
	if r.fieldCache == nil {
		return
	}
	delete(r.fieldCache, name+"_magnitude")
	for _, comp := range []string{"x_" + name, "y_" + name, "z_" + name} {
		delete(r.fieldCache, comp)
	}
}
