package database

import (
	"context"
	"reflect"
	"testing"
)

func TestDiffSets(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		current    []int64
		desired    []int64
		wantAdd    []int64
		wantRemove []int64
	}{
		{
			name:    "identical sets are a no-op",
			current: []int64{1, 2, 3},
			desired: []int64{3, 2, 1},
		},
		{
			name:       "disjoint sets swap entirely",
			current:    []int64{1, 2},
			desired:    []int64{3, 4},
			wantAdd:    []int64{3, 4},
			wantRemove: []int64{1, 2},
		},
		{
			name:       "partial overlap",
			current:    []int64{1, 2, 3},
			desired:    []int64{2, 3, 4},
			wantAdd:    []int64{4},
			wantRemove: []int64{1},
		},
		{
			name:       "empty desired clears",
			current:    []int64{1, 2},
			desired:    nil,
			wantRemove: []int64{1, 2},
		},
		{
			name:    "empty current adds all",
			current: nil,
			desired: []int64{5},
			wantAdd: []int64{5},
		},
		{
			name:    "duplicate desired collapses",
			current: nil,
			desired: []int64{5, 5, 5},
			wantAdd: []int64{5},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			add, remove := diffSets(tt.current, tt.desired)
			if !reflect.DeepEqual(add, tt.wantAdd) {
				t.Errorf("toAdd = %v, want %v", add, tt.wantAdd)
			}
			if !reflect.DeepEqual(remove, tt.wantRemove) {
				t.Errorf("toRemove = %v, want %v", remove, tt.wantRemove)
			}
		})
	}
}

func TestDiffSetsStrings(t *testing.T) {
	t.Parallel()

	add, remove := diffSets([]string{"a", "b"}, []string{"b", "c"})
	if !reflect.DeepEqual(add, []string{"c"}) || !reflect.DeepEqual(remove, []string{"a"}) {
		t.Errorf("diffSets() = (%v, %v), want ([c], [a])", add, remove)
	}
}

func TestReconcileTagsConverges(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	id := seedMedia(t, db, 1, MediaRelations{
		Tags: tagsPtr(map[string][]string{"animal": {"cat", "dog"}}),
	})

	// Shrink the desired set; the removed tag must go away.
	err := db.ReconcileMediaRelations(ctx, id, MediaRelations{
		Tags: tagsPtr(map[string][]string{"animal": {"cat"}}),
	})
	if err != nil {
		t.Fatalf("ReconcileMediaRelations() failed: %v", err)
	}

	m, err := db.GetMedia(ctx, id)
	if err != nil {
		t.Fatalf("GetMedia() failed: %v", err)
	}
	if !reflect.DeepEqual(m.TagGroups, map[string][]string{"animal": {"cat"}}) {
		t.Errorf("TagGroups = %v, want animal:[cat]", m.TagGroups)
	}
}

func TestReconcileIsIdempotent(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	desired := MediaRelations{
		Tags:     tagsPtr(map[string][]string{"animal": {"cat"}}),
		Creators: strsPtr("Jane"),
		Sources:  strsPtr("https://example.com/1"),
	}
	id := seedMedia(t, db, 1, desired)

	before, err := db.GetMedia(ctx, id)
	if err != nil {
		t.Fatalf("GetMedia() failed: %v", err)
	}

	// Re-applying the same desired state must change nothing.
	for i := 0; i < 3; i++ {
		if err := db.ReconcileMediaRelations(ctx, id, desired); err != nil {
			t.Fatalf("ReconcileMediaRelations() round %d failed: %v", i, err)
		}
	}

	after, err := db.GetMedia(ctx, id)
	if err != nil {
		t.Fatalf("GetMedia() failed: %v", err)
	}
	if !reflect.DeepEqual(before, after) {
		t.Errorf("state changed under repeated reconcile:\nbefore %+v\nafter  %+v", before, after)
	}
}

func TestReconcileNilFacetUntouched(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	id := seedMedia(t, db, 1, MediaRelations{
		Tags:     tagsPtr(map[string][]string{"animal": {"cat"}}),
		Creators: strsPtr("Jane"),
	})

	// Touch only creators; tags must survive.
	err := db.ReconcileMediaRelations(ctx, id, MediaRelations{
		Creators: strsPtr("Bob"),
	})
	if err != nil {
		t.Fatalf("ReconcileMediaRelations() failed: %v", err)
	}

	m, err := db.GetMedia(ctx, id)
	if err != nil {
		t.Fatalf("GetMedia() failed: %v", err)
	}
	if len(m.TagGroups["animal"]) != 1 {
		t.Errorf("tags were disturbed by a creators-only write: %v", m.TagGroups)
	}
	if !reflect.DeepEqual(m.Creators, []string{"Bob"}) {
		t.Errorf("Creators = %v, want [Bob]", m.Creators)
	}
}

func TestReconcileEmptyFacetClears(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	id := seedMedia(t, db, 1, MediaRelations{
		Tags:     tagsPtr(map[string][]string{"animal": {"cat"}}),
		Creators: strsPtr("Jane"),
	})

	err := db.ReconcileMediaRelations(ctx, id, MediaRelations{
		Tags:     tagsPtr(map[string][]string{}),
		Creators: strsPtr(),
	})
	if err != nil {
		t.Fatalf("ReconcileMediaRelations() failed: %v", err)
	}

	m, err := db.GetMedia(ctx, id)
	if err != nil {
		t.Fatalf("GetMedia() failed: %v", err)
	}
	if len(m.TagGroups) != 0 {
		t.Errorf("TagGroups = %v, want empty", m.TagGroups)
	}
	if len(m.Creators) != 0 {
		t.Errorf("Creators = %v, want empty", m.Creators)
	}
}

func TestReconcileExistingTagKeepsGroup(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	seedMedia(t, db, 1, MediaRelations{
		Tags: tagsPtr(map[string][]string{"animal": {"cat"}}),
	})
	// Filing "cat" under a different group must reuse the stored tag.
	id := seedMedia(t, db, 2, MediaRelations{
		Tags: tagsPtr(map[string][]string{"creature": {"cat"}}),
	})

	m, err := db.GetMedia(ctx, id)
	if err != nil {
		t.Fatalf("GetMedia() failed: %v", err)
	}
	if !reflect.DeepEqual(m.TagGroups, map[string][]string{"animal": {"cat"}}) {
		t.Errorf("TagGroups = %v, want the original group animal", m.TagGroups)
	}
}

func TestReconcileCreatorAliasResolution(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	a := seedMedia(t, db, 1, MediaRelations{Creators: strsPtr("Jane Doe")})
	b := seedMedia(t, db, 2, MediaRelations{Creators: strsPtr("JANE DOE")})

	// Both writes must resolve to one creator row.
	creators, err := db.ListCreators(ctx)
	if err != nil {
		t.Fatalf("ListCreators() failed: %v", err)
	}
	if len(creators) != 1 {
		t.Fatalf("ListCreators() returned %d creators, want 1", len(creators))
	}
	if creators[0].Name != "Jane Doe" {
		t.Errorf("creator name = %q, want original casing preserved", creators[0].Name)
	}

	for _, id := range []int64{a, b} {
		m, err := db.GetMedia(ctx, id)
		if err != nil {
			t.Fatalf("GetMedia(%d) failed: %v", id, err)
		}
		if !reflect.DeepEqual(m.Creators, []string{"Jane Doe"}) {
			t.Errorf("media %d Creators = %v, want [Jane Doe]", id, m.Creators)
		}
	}
}

func TestReconcileUnknownCollectionPathRejected(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	id := seedMedia(t, db, 1, MediaRelations{
		Tags: tagsPtr(map[string][]string{"animal": {"cat"}}),
	})

	err := db.ReconcileMediaRelations(ctx, id, MediaRelations{
		Tags:            tagsPtr(map[string][]string{"animal": {"dog"}}),
		CollectionPaths: strsPtr("No/Such/Path"),
	})
	if KindOf(err) != KindBadRequest {
		t.Fatalf("error kind = %v, want bad request", KindOf(err))
	}

	// The rejected write must leave no partial state behind.
	m, err := db.GetMedia(ctx, id)
	if err != nil {
		t.Fatalf("GetMedia() failed: %v", err)
	}
	if !reflect.DeepEqual(m.TagGroups, map[string][]string{"animal": {"cat"}}) {
		t.Errorf("TagGroups = %v, want the pre-write state", m.TagGroups)
	}
}

func TestReconcileCollectionOrdAppends(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	collID, err := db.CreateCollectionPath(ctx, "Albums/Trip", "", CollectionRelations{})
	if err != nil {
		t.Fatalf("CreateCollectionPath() failed: %v", err)
	}

	var ids []int64
	for i := 1; i <= 3; i++ {
		id := seedMedia(t, db, i, MediaRelations{})
		err := db.ReconcileMediaRelations(ctx, id, MediaRelations{
			CollectionPaths: strsPtr("Albums/Trip"),
		})
		if err != nil {
			t.Fatalf("ReconcileMediaRelations() failed: %v", err)
		}
		ids = append(ids, id)
	}

	// Members must come back in insertion order.
	c, err := db.GetCollection(ctx, collID)
	if err != nil {
		t.Fatalf("GetCollection() failed: %v", err)
	}
	if !reflect.DeepEqual(c.Media, ids) {
		t.Errorf("collection media = %v, want insertion order %v", c.Media, ids)
	}
}

func TestReplaceCollectionMediaRecomputesOrds(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	collID, err := db.CreateCollectionPath(ctx, "Albums/Trip", "", CollectionRelations{})
	if err != nil {
		t.Fatalf("CreateCollectionPath() failed: %v", err)
	}
	a := seedMedia(t, db, 1, MediaRelations{})
	b := seedMedia(t, db, 2, MediaRelations{})
	c := seedMedia(t, db, 3, MediaRelations{})

	err = db.ReconcileCollectionRelations(ctx, collID, CollectionRelations{
		MediaOrdered: idsPtr(a, b, c),
	})
	if err != nil {
		t.Fatalf("ReconcileCollectionRelations() failed: %v", err)
	}

	// Full replace: drop b, reverse the rest.
	err = db.ReconcileCollectionRelations(ctx, collID, CollectionRelations{
		MediaOrdered: idsPtr(c, a),
	})
	if err != nil {
		t.Fatalf("ReconcileCollectionRelations() failed: %v", err)
	}

	coll, err := db.GetCollection(ctx, collID)
	if err != nil {
		t.Fatalf("GetCollection() failed: %v", err)
	}
	if !reflect.DeepEqual(coll.Media, []int64{c, a}) {
		t.Errorf("collection media = %v, want [%d %d]", coll.Media, c, a)
	}

	// Stored ordinals must be dense after the replace.
	rows, err := db.db.QueryContext(ctx,
		"SELECT ord FROM media_collection WHERE collection_id = ? ORDER BY ord", collID)
	if err != nil {
		t.Fatalf("ord query failed: %v", err)
	}
	defer rows.Close()
	want := 0
	for rows.Next() {
		var ord int
		if err := rows.Scan(&ord); err != nil {
			t.Fatalf("scan failed: %v", err)
		}
		if ord != want {
			t.Errorf("ord = %d, want %d", ord, want)
		}
		want++
	}
	if want != 2 {
		t.Errorf("collection has %d members, want 2", want)
	}
}

func TestReconcileCollectionTagsAndCreators(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	collID, err := db.CreateCollectionPath(ctx, "Albums/Trip", "", CollectionRelations{})
	if err != nil {
		t.Fatalf("CreateCollectionPath() failed: %v", err)
	}

	err = db.ReconcileCollectionRelations(ctx, collID, CollectionRelations{
		Tags:     tagsPtr(map[string][]string{"theme": {"travel"}}),
		Creators: strsPtr("Jane"),
	})
	if err != nil {
		t.Fatalf("ReconcileCollectionRelations() failed: %v", err)
	}

	c, err := db.GetCollection(ctx, collID)
	if err != nil {
		t.Fatalf("GetCollection() failed: %v", err)
	}
	if !reflect.DeepEqual(c.TagGroups, map[string][]string{"theme": {"travel"}}) {
		t.Errorf("TagGroups = %v, want theme:[travel]", c.TagGroups)
	}
	if !reflect.DeepEqual(c.Creators, []string{"Jane"}) {
		t.Errorf("Creators = %v, want [Jane]", c.Creators)
	}
}

func TestReconcileUnknownMemberIDRejected(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	collID, err := db.CreateCollectionPath(ctx, "Albums/Trip", "", CollectionRelations{})
	if err != nil {
		t.Fatalf("CreateCollectionPath() failed: %v", err)
	}
	a := seedMedia(t, db, 1, MediaRelations{})

	err = db.ReconcileCollectionRelations(ctx, collID, CollectionRelations{
		MediaOrdered: idsPtr(a, 99999),
	})
	if KindOf(err) != KindBadRequest {
		t.Fatalf("error kind = %v, want bad request", KindOf(err))
	}

	// The rejected write must leave the member list untouched.
	c, err := db.GetCollection(ctx, collID)
	if err != nil {
		t.Fatalf("GetCollection() failed: %v", err)
	}
	if len(c.Media) != 0 {
		t.Errorf("collection media = %v, want empty", c.Media)
	}
}

func TestReconcileUnknownSubjectNotFound(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	err := db.ReconcileMediaRelations(ctx, 99999, MediaRelations{
		Tags: tagsPtr(map[string][]string{"animal": {"cat"}}),
	})
	if KindOf(err) != KindNotFound {
		t.Errorf("media error kind = %v, want not found", KindOf(err))
	}

	err = db.ReconcileCollectionRelations(ctx, 99999, CollectionRelations{
		Creators: strsPtr("Jane"),
	})
	if KindOf(err) != KindNotFound {
		t.Errorf("collection error kind = %v, want not found", KindOf(err))
	}
}
