// Package xpistore is the content-addressed store of downloaded addon
// archives. Entries are keyed by the immutable GitHub asset id, so an archive
// is downloaded at most once across runs; the lockfile manifest hash is the
// cache key the surrounding persistence layer uses to decide whether a cache
// snapshot needs to be saved at all.
package xpistore

import (
	"archive/zip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/sirupsen/logrus"
	"go.opencensus.io/stats"
	"golang.org/x/sync/singleflight"

	"github.com/zotero-addons/addons-scraper/internal/metrics"
	"github.com/zotero-addons/addons-scraper/internal/xpi"
)

// ErrCacheIO marks a cache read problem. It always degrades to a cache miss
// and a fresh download, never to a fatal error.
var ErrCacheIO = errors.New("cache io error")

var (
	defaultRetryableClient     *retryablehttp.Client
	defaultRetryableClientInit sync.Once
)

func getDefaultRetryableClient() *retryablehttp.Client {
	defaultRetryableClientInit.Do(func() {
		defaultRetryableClient = retryablehttp.NewClient()
		defaultRetryableClient.Logger = nil
		defaultRetryableClient.HTTPClient.Timeout = 3 * time.Minute
	})
	return defaultRetryableClient
}

// Entry is one cached archive. Entries are never mutated in place, only
// added or superseded by a fresh download.
type Entry struct {
	AssetID int64     `json:"assetId"`
	File    string    `json:"file"`
	Size    int64     `json:"size"`
	SHA256  string    `json:"sha256"`
	AddedAt time.Time `json:"addedAt"`
}

type lockfile struct {
	Hash    string   `json:"hash"`
	Entries []*Entry `json:"entries"`
}

type Store struct {
	dir          string
	lockfilePath string
	log          *logrus.Logger

	mu      sync.Mutex
	entries map[int64]*Entry
	dirty   bool

	group singleflight.Group
}

// Open prepares the store directory and loads the lockfile manifest if one
// exists. A missing or unreadable lockfile starts the store empty.
func Open(dir, lockfileName string, log *logrus.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCacheIO, err)
	}
	s := &Store{
		dir:          dir,
		lockfilePath: filepath.Join(dir, lockfileName),
		log:          log,
		entries:      make(map[int64]*Entry),
	}
	s.loadLockfile()
	return s, nil
}

func (s *Store) loadLockfile() {
	data, err := os.ReadFile(s.lockfilePath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.log.Warnf("failed to read cache lockfile, starting empty: %v", err)
		}
		return
	}
	var lf lockfile
	if err := json.Unmarshal(data, &lf); err != nil {
		s.log.Warnf("failed to parse cache lockfile, starting empty: %v", err)
		return
	}
	for _, entry := range lf.Entries {
		s.entries[entry.AssetID] = entry
	}
}

// FileName builds the archive file name for a resolved release. Path
// separators in tag names are sanitized so the name stays a single path
// element.
func FileName(owner, repo, tag string, assetID int64) string {
	sanitize := func(v string) string {
		return strings.ReplaceAll(v, "/", "_")
	}
	return fmt.Sprintf("%s#%s+%s@%d.xpi", sanitize(owner), sanitize(repo), sanitize(tag), assetID)
}

// FetchOrReuse returns the local path of the archive for assetID, reusing a
// valid cache entry without any network call and downloading otherwise.
// Concurrent callers for the same asset id share a single download.
func (s *Store) FetchOrReuse(ctx context.Context, assetID int64, fileName, url string) (string, error) {
	v, err, _ := s.group.Do(strconv.FormatInt(assetID, 10), func() (any, error) {
		return s.fetchOrReuse(ctx, assetID, fileName, url)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (s *Store) fetchOrReuse(ctx context.Context, assetID int64, fileName, url string) (string, error) {
	if path, ok := s.lookup(assetID); ok {
		stats.Record(ctx, metrics.CounterCacheHit.M(1))
		s.log.Debugf("using cached archive %s", filepath.Base(path))
		return path, nil
	}
	stats.Record(ctx, metrics.CounterCacheMiss.M(1))
	return s.download(ctx, assetID, fileName, url)
}

// lookup verifies the entry's file is still on disk with the recorded size.
// Any mismatch degrades to a miss; the manifest entry is only superseded once
// a replacement download succeeds, so a failed refetch leaves the manifest
// hash untouched.
func (s *Store) lookup(assetID int64) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[assetID]
	if !ok {
		return "", false
	}
	path := filepath.Join(s.dir, entry.File)
	fi, err := os.Stat(path)
	if err != nil || fi.Size() != entry.Size {
		s.log.Warnf("%v: cached archive %s is missing or truncated, refetching", ErrCacheIO, entry.File)
		return "", false
	}
	return path, true
}

func (s *Store) download(ctx context.Context, assetID int64, fileName, url string) (string, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := getDefaultRetryableClient().Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to download archive: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("failed to download archive: unexpected status code %d", resp.StatusCode)
	}

	tmpFile, err := os.CreateTemp(s.dir, "download-*.xpi")
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCacheIO, err)
	}
	tmpName := tmpFile.Name()
	contentHash := sha256.New()
	n, err := io.Copy(tmpFile, io.TeeReader(resp.Body, contentHash))
	closeErr := tmpFile.Close()
	if err == nil {
		err = closeErr
	}
	if err == nil && resp.ContentLength >= 0 && n != resp.ContentLength {
		err = fmt.Errorf("unexpected content length: %d (should be %d)", n, resp.ContentLength)
	}
	if err == nil {
		err = verifyArchive(tmpName)
	}
	if err != nil {
		_ = os.Remove(tmpName)
		return "", err
	}

	path := filepath.Join(s.dir, fileName)
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("%w: %v", ErrCacheIO, err)
	}

	s.mu.Lock()
	s.entries[assetID] = &Entry{
		AssetID: assetID,
		File:    fileName,
		Size:    n,
		SHA256:  hex.EncodeToString(contentHash.Sum(nil)),
		AddedAt: time.Now().UTC(),
	}
	s.dirty = true
	s.mu.Unlock()

	stats.Record(ctx, metrics.CounterXpiDownloads.M(1))
	s.log.Infof("downloaded archive %s", fileName)
	return path, nil
}

// verifyArchive rejects payloads that are not well-formed zip containers
// before they enter the cache.
func verifyArchive(path string) error {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return fmt.Errorf("%w: %v", xpi.ErrCorruptArchive, err)
	}
	return zr.Close()
}

func (s *Store) sortedEntries() []*Entry {
	entries := make([]*Entry, 0, len(s.entries))
	for _, entry := range s.entries {
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].File < entries[j].File
	})
	return entries
}

// Hash is the externally visible cache key: a chained sha256 over the sorted
// entry file names and their content digests. It changes iff the entry set
// changed during the run; pure cache hits leave it untouched.
func (s *Store) Hash() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return hashEntries(s.sortedEntries())
}

func hashEntries(entries []*Entry) string {
	manifestHash := sha256.New()
	for _, entry := range entries {
		nameHash := sha256.Sum256([]byte(entry.File))
		manifestHash.Write([]byte(hex.EncodeToString(nameHash[:])))
		manifestHash.Write([]byte(entry.SHA256))
	}
	return hex.EncodeToString(manifestHash.Sum(nil))
}

// Dirty reports whether the entry set changed since the store was opened.
func (s *Store) Dirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dirty
}

// Flush rewrites the lockfile manifest if the entry set changed.
func (s *Store) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.dirty {
		return nil
	}
	entries := s.sortedEntries()
	data, err := json.MarshalIndent(&lockfile{
		Hash:    hashEntries(entries),
		Entries: entries,
	}, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(s.lockfilePath, data, 0o644); err != nil {
		return fmt.Errorf("%w: %v", ErrCacheIO, err)
	}
	s.dirty = false
	return nil
}
