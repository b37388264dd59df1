package handlers

import (
	"fmt"
	"image/color"
	"net/http"
	"sort"
	"testing"

	"media-catalog/internal/database"
)

func TestCreatorsEndpoints(t *testing.T) {
	_, router := setupHandlers(t)

	// Creators come into being through media writes.
	uploadMedia(t, router, "a.png", pngBytes(t, color.NRGBA{R: 90, A: 255}), map[string]interface{}{
		"creators": []string{"Jane Artist"},
	})

	var creators []database.Creator
	rec := doJSON(t, router, "GET", "/v1/creators", nil, &creators)
	if rec.Code != http.StatusOK {
		t.Fatalf("list = %d", rec.Code)
	}
	if len(creators) != 1 || creators[0].Name != "Jane Artist" {
		t.Fatalf("creators = %v, want Jane Artist", creators)
	}
	jane := creators[0]

	t.Run("lookup by alias is case-insensitive", func(t *testing.T) {
		var got database.Creator
		rec := doJSON(t, router, "GET", "/v1/creators/by_alias/JANE%20ARTIST", nil, &got)
		if rec.Code != http.StatusOK {
			t.Fatalf("by_alias = %d", rec.Code)
		}
		if got.ID != jane.ID {
			t.Errorf("id = %d, want %d", got.ID, jane.ID)
		}
	})

	t.Run("patch adds aliases", func(t *testing.T) {
		var got database.Creator
		rec := doJSON(t, router, "PATCH", fmt.Sprintf("/v1/creators/%d", jane.ID), map[string]interface{}{
			"aliases": []string{"jartist"},
		}, &got)
		if rec.Code != http.StatusOK {
			t.Fatalf("patch = %d: %s", rec.Code, rec.Body.String())
		}
		sort.Strings(got.Aliases)
		// The self-alias survives alias replacement.
		want := []string{"jane artist", "jartist"}
		if len(got.Aliases) != 2 || got.Aliases[0] != want[0] || got.Aliases[1] != want[1] {
			t.Errorf("aliases = %v, want %v", got.Aliases, want)
		}
	})

	t.Run("rename keeps identity", func(t *testing.T) {
		var got database.Creator
		rec := doJSON(t, router, "PATCH", fmt.Sprintf("/v1/creators/%d", jane.ID), map[string]interface{}{
			"name": "Jane A.",
		}, &got)
		if rec.Code != http.StatusOK {
			t.Fatalf("rename = %d", rec.Code)
		}
		if got.Name != "Jane A." {
			t.Errorf("name = %q", got.Name)
		}

		var viaAlias database.Creator
		doJSON(t, router, "GET", "/v1/creators/by_alias/jane%20a.", nil, &viaAlias)
		if viaAlias.ID != jane.ID {
			t.Errorf("new self-alias resolves to %d, want %d", viaAlias.ID, jane.ID)
		}
	})
}
