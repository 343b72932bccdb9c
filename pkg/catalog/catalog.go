// Package catalog defines the aggregated addon catalog document that is
// published for downstream consumers (the Zotero addon marketplaces).
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// XpiInfo holds the identity an addon declares inside its own archive.
type XpiInfo struct {
	ID             string `json:"id,omitempty"`
	Name           string `json:"name,omitempty"`
	CurrentVersion string `json:"currentVersion,omitempty"`
}

// Release describes one resolved release of an addon for a specific target
// Zotero version.
type Release struct {
	TargetZoteroVersion string   `json:"targetZoteroVersion"`
	TagName             string   `json:"tagName"`
	CurrentVersion      string   `json:"currentVersion,omitempty"`
	DownloadURL         string   `json:"downloadUrl,omitempty"`
	ReleaseDate         string   `json:"releaseDate,omitempty"`
	DownloadCount       int      `json:"downloadCount,omitempty"`
	AssetID             int64    `json:"assetId,omitempty"`
	XpiInfo             *XpiInfo `json:"xpiInfo,omitempty"`
}

type Author struct {
	Name   string `json:"name,omitempty"`
	URL    string `json:"url,omitempty"`
	Avatar string `json:"avatar,omitempty"`
}

// Addon is one entry of the published catalog.
type Addon struct {
	ID          string     `json:"id,omitempty"`
	Name        string     `json:"name"`
	Repo        string     `json:"repo"`
	Releases    []*Release `json:"releases"`
	Description string     `json:"description,omitempty"`
	Star        int        `json:"star,omitempty"`
	Author      *Author    `json:"author,omitempty"`
}

// Sort orders the catalog deterministically: entries by repository
// identifier, releases within an entry by target Zotero version. The output
// must not depend on the order in which entries were resolved.
func Sort(addons []*Addon) {
	sort.Slice(addons, func(i, j int) bool {
		return addons[i].Repo < addons[j].Repo
	})
	for _, addon := range addons {
		releases := addon.Releases
		sort.Slice(releases, func(i, j int) bool {
			return releases[i].TargetZoteroVersion < releases[j].TargetZoteroVersion
		})
	}
}

// Encode writes the catalog as a single JSON document.
func Encode(w io.Writer, addons []*Addon) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return enc.Encode(addons)
}

func Decode(r io.Reader) ([]*Addon, error) {
	addons := make([]*Addon, 0)
	if err := json.NewDecoder(r).Decode(&addons); err != nil {
		return nil, fmt.Errorf("failed to decode catalog: %w", err)
	}
	return addons, nil
}

func WriteFile(path string, addons []*Addon) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create catalog file: %w", err)
	}
	if err := Encode(f, addons); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func LoadFile(path string) ([]*Addon, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog file: %w", err)
	}
	defer f.Close()
	return Decode(f)
}

var (
	defaultRetryableClient     *retryablehttp.Client
	defaultRetryableClientInit sync.Once
)

func getDefaultRetryableClient() *retryablehttp.Client {
	defaultRetryableClientInit.Do(func() {
		defaultRetryableClient = retryablehttp.NewClient()
		defaultRetryableClient.Logger = nil
		defaultRetryableClient.HTTPClient.Timeout = time.Minute
	})
	return defaultRetryableClient
}

// Fetch downloads a previously published catalog, e.g. from the latest
// release of the aggregator repository.
func Fetch(ctx context.Context, url string) ([]*Addon, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	res, err := getDefaultRetryableClient().Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", res.StatusCode)
	}
	return Decode(res.Body)
}
