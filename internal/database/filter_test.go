package database

import (
	"reflect"
	"strings"
	"testing"
)

func TestPageNormalized(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   Page
		want Page
	}{
		{"zero value gets defaults", Page{}, Page{PerPage: 50, Offset: 0}},
		{"negative offset clamped", Page{PerPage: 10, Offset: -5}, Page{PerPage: 10, Offset: 0}},
		{"over cap clamped", Page{PerPage: 10000}, Page{PerPage: 500}},
		{"valid passes through", Page{PerPage: 25, Offset: 75}, Page{PerPage: 25, Offset: 75}},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := tt.in.normalized(); got != tt.want {
				t.Errorf("normalized() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestCompileFilterTagInclude(t *testing.T) {
	t.Parallel()

	sql, args, err := compileFilter([]FilterNode{
		TagInclude{Tags: []string{"Cat", "dog", "cat"}},
	})
	if err != nil {
		t.Fatalf("compileFilter() failed: %v", err)
	}

	if !strings.Contains(sql, "LEFT JOIN media_tags") {
		t.Errorf("expected tag join in:\n%s", sql)
	}
	if !strings.Contains(sql, "COUNT(DISTINCT CASE WHEN t.tag IN (?, ?) THEN t.tag END) = ?") {
		t.Errorf("expected conjunctive tag predicate in:\n%s", sql)
	}
	// Keys fold to lowercase, duplicates collapse, and the trailing
	// arg is the required distinct count.
	want := []interface{}{"cat", "dog", 2}
	if !reflect.DeepEqual(args, want) {
		t.Errorf("args = %v, want %v", args, want)
	}
}

func TestCompileFilterTagExclude(t *testing.T) {
	t.Parallel()

	sql, args, err := compileFilter([]FilterNode{
		TagExclude{Tags: []string{"nsfw"}},
	})
	if err != nil {
		t.Fatalf("compileFilter() failed: %v", err)
	}
	if !strings.Contains(sql, "COUNT(CASE WHEN t.tag IN (?) THEN 1 END) = 0") {
		t.Errorf("expected zero-count exclusion predicate in:\n%s", sql)
	}
	if !reflect.DeepEqual(args, []interface{}{"nsfw"}) {
		t.Errorf("args = %v, want [nsfw]", args)
	}
}

func TestCompileFilterCombined(t *testing.T) {
	t.Parallel()

	sql, args, err := compileFilter([]FilterNode{
		TagInclude{Tags: []string{"cat"}},
		CreatorSet{Names: []string{"Jane"}},
		CollectionSet{IDs: []int64{7}, Exclude: true},
	})
	if err != nil {
		t.Fatalf("compileFilter() failed: %v", err)
	}

	for _, want := range []string{
		"LEFT JOIN media_tags",
		"LEFT JOIN media_creators",
		"LEFT JOIN creator_alias",
		"LEFT JOIN media_collection",
		"GROUP BY m.id",
		"COUNT(CASE WHEN ca.alias IN (?) THEN 1 END) > 0",
		"COUNT(CASE WHEN mcl.collection_id IN (?) THEN 1 END) = 0",
	} {
		if !strings.Contains(sql, want) {
			t.Errorf("missing %q in:\n%s", want, sql)
		}
	}

	// All predicates AND together in one HAVING clause.
	if strings.Count(sql, "HAVING") != 1 {
		t.Errorf("expected exactly one HAVING clause in:\n%s", sql)
	}
	if len(args) != 4 {
		t.Errorf("args = %v, want 4 values", args)
	}
}

func TestCompileFilterSimilarity(t *testing.T) {
	t.Parallel()

	sql, args, err := compileFilter([]FilterNode{
		SimilarityBound{Hash: 0xdeadbeef, MaxDistance: 5},
	})
	if err != nil {
		t.Fatalf("compileFilter() failed: %v", err)
	}
	if !strings.Contains(sql, "m.perceptual_hash IS NOT NULL") {
		t.Errorf("null hashes must be excluded in:\n%s", sql)
	}
	if !strings.Contains(sql, "hamming_distance(m.perceptual_hash, ?) <= ?") {
		t.Errorf("expected distance bound in:\n%s", sql)
	}
	if !reflect.DeepEqual(args, []interface{}{int64(0xdeadbeef), 5}) {
		t.Errorf("args = %v", args)
	}
	// No set predicates, so no relation joins.
	if strings.Contains(sql, "JOIN") {
		t.Errorf("unexpected join in:\n%s", sql)
	}
}

func TestCompileFilterUncollected(t *testing.T) {
	t.Parallel()

	sql, _, err := compileFilter([]FilterNode{Uncollected{}})
	if err != nil {
		t.Fatalf("compileFilter() failed: %v", err)
	}
	if !strings.Contains(sql, "COUNT(mcl.collection_id) = 0") {
		t.Errorf("expected no-membership predicate in:\n%s", sql)
	}
}

func TestCompileFilterRejectsEmptyLists(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		node FilterNode
	}{
		{"empty tag include", TagInclude{}},
		{"empty tag exclude", TagExclude{}},
		{"whitespace-only tags", TagInclude{Tags: []string{"  ", ""}}},
		{"empty creators", CreatorSet{}},
		{"empty collections", CollectionSet{}},
		{"empty description", DescriptionMatch{}},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, _, err := compileFilter([]FilterNode{tt.node})
			if KindOf(err) != KindBadRequest {
				t.Errorf("error kind = %v, want bad request", KindOf(err))
			}
		})
	}
}

func TestNormalizeKeys(t *testing.T) {
	t.Parallel()

	got := normalizeKeys([]string{" Cat ", "DOG", "cat", "", "dog"})
	want := []string{"cat", "dog"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("normalizeKeys() = %v, want %v", got, want)
	}
}

func TestPlaceholders(t *testing.T) {
	t.Parallel()

	tests := []struct {
		n    int
		want string
	}{
		{0, ""},
		{1, "?"},
		{3, "?, ?, ?"},
	}
	for _, tt := range tests {
		if got := placeholders(tt.n); got != tt.want {
			t.Errorf("placeholders(%d) = %q, want %q", tt.n, got, tt.want)
		}
	}
}
