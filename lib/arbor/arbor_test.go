// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package arbor

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haloforest/arbor/lib/datafile"
	"github.com/haloforest/arbor/lib/field"
)

// fakeRecord is one halo row in the fake backend's single flat file.
type fakeRecord struct {
	uid     int64
	descUID int64
	mass    float64
}

// fakeTree groups fakeRecords belonging to one tree, root first.
type fakeTree struct {
	rootUID int64
	rows    []fakeRecord // this tree's records, root first
}

// fakeBackend is a minimal datafile.Backend over an in-memory record set,
// grounded on two trees: one with a two-way ancestor merge (to exercise
// prog-chain selection) and one single-halo tree (to exercise the
// no-ancestors edge case).
type fakeBackend struct {
	records []fakeRecord
	trees   []fakeTree
	df      *fakeDataFile
}

func newFakeBackend() *fakeBackend {
	records := []fakeRecord{
		{uid: 100, descUID: -1, mass: 50}, // index 0: tree A root
		{uid: 101, descUID: 100, mass: 30}, // index 1: tree A ancestor, higher mass
		{uid: 102, descUID: 100, mass: 20}, // index 2: tree A ancestor, lower mass
		{uid: 200, descUID: -1, mass: 10},  // index 3: tree B root, no ancestors
	}
	b := &fakeBackend{
		records: records,
		trees: []fakeTree{
			{rootUID: 100, rows: []fakeRecord{records[0], records[1], records[2]}},
			{rootUID: 200, rows: []fakeRecord{records[3]}},
		},
	}
	b.df = &fakeDataFile{backend: b}
	return b
}

func (b *fakeBackend) HeaderProperties() map[string]float64 {
	return map[string]float64{"hubble_constant": 0.7}
}

func (b *fakeBackend) FieldDescriptors() []field.Descriptor {
	return []field.Descriptor{
		{Name: "mass", Units: "Msun", Dtype: field.DtypeFloat64, Source: field.SourceFile},
		{Name: "uid", Dtype: field.DtypeInt64, Source: field.SourceArborGenerated},
		{Name: "desc_uid", Dtype: field.DtypeInt64, Source: field.SourceArborGenerated},
	}
}

func (b *fakeBackend) EnumerateRoots(ctx context.Context) ([]datafile.RootDescriptor, error) {
	out := make([]datafile.RootDescriptor, len(b.trees))
	for i, t := range b.trees {
		out[i] = datafile.RootDescriptor{UID: t.rootUID, Locator: datafile.Locator{Index: b.recordIndex(t.rows[0].uid)}}
	}
	return out, nil
}

func (b *fakeBackend) OpenDataFile(ctx context.Context, loc datafile.Locator) (datafile.DataFile, error) {
	return b.df, nil
}

func (b *fakeBackend) SetupTree(ctx context.Context, root datafile.RootDescriptor) ([]int64, []int64, []datafile.Locator, error) {
	for _, t := range b.trees {
		if t.rootUID != root.UID {
			continue
		}
		uids := make([]int64, len(t.rows))
		descUIDs := make([]int64, len(t.rows))
		locs := make([]datafile.Locator, len(t.rows))
		for i, row := range t.rows {
			uids[i] = row.uid
			descUIDs[i] = row.descUID
			locs[i] = datafile.Locator{Index: b.recordIndex(row.uid)}
		}
		return uids, descUIDs, locs, nil
	}
	return nil, nil, nil, fmt.Errorf("fake backend: no tree rooted at uid=%d", root.UID)
}

func (b *fakeBackend) Close() error { return nil }

func (b *fakeBackend) recordIndex(uid int64) int {
	for i, r := range b.records {
		if r.uid == uid {
			return i
		}
	}
	panic(fmt.Sprintf("fake backend: unknown uid %d", uid))
}

// fakeDataFile serves every locator out of the backend's single record
// slice, the way a contiguous-file dialect's one open handle would.
type fakeDataFile struct {
	backend *fakeBackend
}

func (f *fakeDataFile) Open(ctx context.Context) error  { return nil }
func (f *fakeDataFile) Close() error                    { return nil }
func (f *fakeDataFile) Name() string                    { return "fake.dat" }
func (f *fakeDataFile) HeaderProperties() map[string]float64 {
	return map[string]float64{"redshift": 0}
}

func (f *fakeDataFile) ReadFields(ctx context.Context, names []string, sel datafile.Selection) (map[string][]float64, error) {
	out := make(map[string][]float64, len(names))
	for _, nm := range names {
		out[nm] = make([]float64, len(sel.Locators))
	}
	for i, loc := range sel.Locators {
		rec := f.backend.records[loc.Index]
		for _, nm := range names {
			switch nm {
			case "mass":
				out[nm][i] = rec.mass
			case "uid":
				out[nm][i] = float64(rec.uid)
			case "desc_uid":
				out[nm][i] = float64(rec.descUID)
			default:
				return nil, fmt.Errorf("fake data file: unknown field %q", nm)
			}
		}
	}
	return out, nil
}

func newTestArbor(t *testing.T) *Arbor {
	t.Helper()
	a, err := newArbor(context.Background(), newFakeBackend())
	require.NoError(t, err)
	return a
}

func TestPlantSize(t *testing.T) {
	t.Parallel()
	a := newTestArbor(t)
	assert.Equal(t, 2, a.Size())
}

func TestArborFieldRootFastPath(t *testing.T) {
	t.Parallel()
	a := newTestArbor(t)
	arr, err := a.Field(context.Background(), "mass")
	require.NoError(t, err)
	assert.Equal(t, []float64{50, 10}, arr.Values)
}

func TestTreeNodeFieldAndScope(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	a := newTestArbor(t)
	root, err := a.Index(ctx, 0)
	require.NoError(t, err)

	mass, err := root.Field(ctx, "mass")
	require.NoError(t, err)
	assert.Equal(t, 50.0, mass)

	vals, err := root.ScopeField(ctx, "tree", "mass", "")
	require.NoError(t, err)
	assert.Equal(t, []float64{50, 30, 20}, vals)

	size, err := root.TreeSize(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, size)
}

func TestAncestorsAndProgChainPicksMaxMass(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	a := newTestArbor(t)
	root, err := a.Index(ctx, 0)
	require.NoError(t, err)

	anc, err := root.Ancestors(ctx)
	require.NoError(t, err)
	require.Len(t, anc, 2)

	progLen, err := root.ScopeLen(ctx, "prog")
	require.NoError(t, err)
	require.Equal(t, 2, progLen)

	next, err := root.GetNode(ctx, "prog", 1)
	require.NoError(t, err)
	assert.EqualValues(t, 101, next.UID(), "main progenitor should be the higher-mass ancestor")
}

func TestSingleHaloTreeHasNoAncestors(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	a := newTestArbor(t)
	root, err := a.Index(ctx, 1)
	require.NoError(t, err)

	anc, err := root.Ancestors(ctx)
	require.NoError(t, err)
	assert.Empty(t, anc)

	progLen, err := root.ScopeLen(ctx, "prog")
	require.NoError(t, err)
	assert.Equal(t, 1, progLen)

	leaves, err := root.GetLeafNodes(ctx, "tree")
	require.NoError(t, err)
	require.Len(t, leaves, 1)
	assert.EqualValues(t, 200, leaves[0].UID())
}

func TestAnalysisFieldSetAndRootValue(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	a := newTestArbor(t)

	require.NoError(t, a.AddAnalysisField(ctx, "score", "", field.DtypeFloat64, 0, false))
	require.NoError(t, a.SetAnalysisValue(ctx, 0, "score", 9))

	arr, err := a.Field(ctx, "score")
	require.NoError(t, err)
	assert.Equal(t, []float64{9, 0}, arr.Values)

	root, err := a.Index(ctx, 0)
	require.NoError(t, err)
	v, err := root.Field(ctx, "score")
	require.NoError(t, err)
	assert.Equal(t, 9.0, v, "root fast path must not require setup/grow")
}

func TestSelectAcrossTrees(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	a := newTestArbor(t)

	matches, err := a.Select(ctx, `tree["tree", "mass"] > 25`, "tree", nil)
	require.NoError(t, err)

	uids := make([]int64, len(matches))
	for i, m := range matches {
		uids[i] = m.UID()
	}
	assert.ElementsMatch(t, []int64{100, 101}, uids)
}

func TestResetClearsGrownState(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	a := newTestArbor(t)
	root, err := a.Index(ctx, 0)
	require.NoError(t, err)

	_, err = root.Ancestors(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, root.root.links)

	root.root.reset()
	assert.Nil(t, root.root.links)
	assert.Nil(t, root.root.uids)
}

func TestResetNodeOnlyActsOnRoot(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	a := newTestArbor(t)
	root, err := a.Index(ctx, 0)
	require.NoError(t, err)

	anc, err := root.Ancestors(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, anc)
	child := anc[0]

	child.ResetNode()
	require.NotEmpty(t, root.root.links, "resetting a non-root must not clear its root's state")

	root.ResetNode()
	assert.Nil(t, root.root.links)
	assert.Nil(t, root.root.uids)
}
