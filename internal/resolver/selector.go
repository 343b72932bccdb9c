package resolver

import (
	"sort"
	"strings"

	"github.com/google/go-github/v59/github"
)

const (
	contentTypeXPI           = "application/x-xpinstall"
	contentTypeZip           = "application/zip"
	contentTypeZipCompressed = "application/x-zip-compressed"
)

// AssetSelector picks the plausible addon archives among a release's assets,
// most preferred first. An empty result means the release carries no archive;
// more than one result is resolved by taking the first and logging a warning.
type AssetSelector func(assets []*github.ReleaseAsset) []*github.ReleaseAsset

// DefaultAssetSelector prefers assets named *.xpi, then assets with an
// xpinstall content type, then zip content types. Within a tier the most
// recently updated asset wins.
func DefaultAssetSelector(assets []*github.ReleaseAsset) []*github.ReleaseAsset {
	sorted := make([]*github.ReleaseAsset, len(assets))
	copy(sorted, assets)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].GetUpdatedAt().Time.After(sorted[j].GetUpdatedAt().Time)
	})

	tiers := []func(*github.ReleaseAsset) bool{
		func(a *github.ReleaseAsset) bool {
			return strings.HasSuffix(strings.ToLower(a.GetName()), ".xpi")
		},
		func(a *github.ReleaseAsset) bool {
			return a.GetContentType() == contentTypeXPI
		},
		func(a *github.ReleaseAsset) bool {
			ct := a.GetContentType()
			return ct == contentTypeZip || ct == contentTypeZipCompressed
		},
	}
	for _, matches := range tiers {
		var candidates []*github.ReleaseAsset
		for _, asset := range sorted {
			if matches(asset) {
				candidates = append(candidates, asset)
			}
		}
		if len(candidates) > 0 {
			return candidates
		}
	}
	return nil
}

func splitRepo(fullRepo string) (string, string, bool) {
	return strings.Cut(fullRepo, "/")
}

func sortReleasesByPublishedAt(releases []*github.RepositoryRelease) {
	sort.SliceStable(releases, func(i, j int) bool {
		return releases[i].GetPublishedAt().Time.After(releases[j].GetPublishedAt().Time)
	})
}
