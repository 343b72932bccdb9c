// Package reconcile merges a freshly scraped catalog with the previously
// published one. Everything derived in the current run keeps its fresh value;
// only fields this run could not derive are inherited.
package reconcile

import (
	"github.com/zotero-addons/addons-scraper/pkg/catalog"
)

// Merge inherits description, star count and author block from the previous
// catalog wherever the fresh entry is missing them. Entries are matched by
// repository identifier; an entry whose addon id conflicts with the previous
// one inherits nothing. Previous entries without a fresh counterpart are
// dropped, since the addon spec directory decides which addons exist.
// Merge is idempotent and deterministic.
func Merge(fresh, previous []*catalog.Addon) []*catalog.Addon {
	prevByRepo := make(map[string]*catalog.Addon, len(previous))
	for _, addon := range previous {
		prevByRepo[addon.Repo] = addon
	}
	for _, addon := range fresh {
		prev, ok := prevByRepo[addon.Repo]
		if !ok {
			continue
		}
		if addon.ID != "" && prev.ID != "" && addon.ID != prev.ID {
			continue
		}
		if addon.Description == "" {
			addon.Description = prev.Description
		}
		if addon.Star == 0 {
			addon.Star = prev.Star
		}
		if addon.Author == nil && prev.Author != nil {
			author := *prev.Author
			addon.Author = &author
		}
	}
	return fresh
}
