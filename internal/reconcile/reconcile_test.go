package reconcile

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zotero-addons/addons-scraper/pkg/catalog"
)

func TestMergeInheritsMissingFields(t *testing.T) {
	fresh := []*catalog.Addon{
		{Repo: "owner/addon-a", Name: "Addon A"},
		{Repo: "owner/addon-b", Name: "Addon B", Description: "fresh description", Star: 7},
	}
	previous := []*catalog.Addon{
		{
			Repo:        "owner/addon-a",
			Name:        "Addon A",
			Description: "previous description",
			Star:        42,
			Author:      &catalog.Author{Name: "Jamie", URL: "https://github.com/jamie"},
		},
		{
			Repo:        "owner/addon-b",
			Name:        "Addon B",
			Description: "previous description",
			Star:        3,
		},
	}

	merged := Merge(fresh, previous)
	require.Len(t, merged, 2)

	require.Equal(t, "previous description", merged[0].Description)
	require.Equal(t, 42, merged[0].Star)
	require.NotNil(t, merged[0].Author)
	require.Equal(t, "Jamie", merged[0].Author.Name)

	// fresh values always win
	require.Equal(t, "fresh description", merged[1].Description)
	require.Equal(t, 7, merged[1].Star)
}

func TestMergeDropsRemovedEntries(t *testing.T) {
	fresh := []*catalog.Addon{{Repo: "owner/kept", Name: "Kept"}}
	previous := []*catalog.Addon{
		{Repo: "owner/kept", Name: "Kept", Star: 1},
		{Repo: "owner/removed", Name: "Removed", Star: 99},
	}
	merged := Merge(fresh, previous)
	require.Len(t, merged, 1)
	require.Equal(t, "owner/kept", merged[0].Repo)
}

func TestMergeSkipsConflictingIDs(t *testing.T) {
	fresh := []*catalog.Addon{{Repo: "owner/addon", ID: "new@example.com"}}
	previous := []*catalog.Addon{{Repo: "owner/addon", ID: "old@example.com", Star: 42}}
	merged := Merge(fresh, previous)
	require.Equal(t, 0, merged[0].Star)
}

func TestMergeIsIdempotent(t *testing.T) {
	fresh := []*catalog.Addon{{Repo: "owner/addon", Name: "Addon"}}
	previous := []*catalog.Addon{{Repo: "owner/addon", Name: "Addon", Star: 42, Description: "desc"}}

	merged := Merge(Merge(fresh, previous), previous)
	require.Equal(t, 42, merged[0].Star)
	require.Equal(t, "desc", merged[0].Description)
}

func TestMergeCopiesAuthor(t *testing.T) {
	fresh := []*catalog.Addon{{Repo: "owner/addon"}}
	previous := []*catalog.Addon{{Repo: "owner/addon", Author: &catalog.Author{Name: "Jamie"}}}
	merged := Merge(fresh, previous)
	require.NotSame(t, previous[0].Author, merged[0].Author)
	require.Equal(t, "Jamie", merged[0].Author.Name)
}
