// Package scraper orchestrates a run: it resolves every release request of
// every addon spec through a bounded worker pool, fetches and inspects the
// archives, and assembles the best-effort catalog entries. A single addon's
// failure degrades to a warning, never to a run abort.
package scraper

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/zotero-addons/addons-scraper/internal/addonspec"
	"github.com/zotero-addons/addons-scraper/internal/resolver"
	"github.com/zotero-addons/addons-scraper/internal/xpi"
	"github.com/zotero-addons/addons-scraper/internal/xpistore"
	"github.com/zotero-addons/addons-scraper/internal/zotero"
	"github.com/zotero-addons/addons-scraper/pkg/catalog"
)

const defaultWorkers = 10

// IssueReporter files deduplicated issues about addons that fail inspection.
type IssueReporter interface {
	ReportIssue(ctx context.Context, title, body, checkID string) error
}

type Scraper struct {
	log      *logrus.Logger
	resolver *resolver.Resolver
	store    *xpistore.Store
	reporter IssueReporter
	workers  int

	// set once the shared API budget is exhausted; remaining work is skipped
	rateExceeded atomic.Bool
}

type Option func(*Scraper)

func WithWorkers(n int) Option {
	return func(s *Scraper) {
		if n > 0 {
			s.workers = n
		}
	}
}

func WithIssueReporter(reporter IssueReporter) Option {
	return func(s *Scraper) {
		s.reporter = reporter
	}
}

func New(log *logrus.Logger, res *resolver.Resolver, store *xpistore.Store, opts ...Option) *Scraper {
	s := &Scraper{
		log:      log,
		resolver: res,
		store:    store,
		workers:  defaultWorkers,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Result carries the assembled entries plus the warnings collected along the
// way. Entries are always best-effort: a cancelled or partially failed run
// still yields everything that resolved.
type Result struct {
	Addons   []*catalog.Addon
	Warnings []string
}

// Run processes all specs concurrently and returns the sorted catalog
// entries. The final ordering does not depend on completion order.
func (s *Scraper) Run(ctx context.Context, specs []*addonspec.Spec) *Result {
	result := &Result{Addons: make([]*catalog.Addon, 0, len(specs))}
	var mu sync.Mutex

	g := new(errgroup.Group)
	g.SetLimit(s.workers)
	for _, spec := range specs {
		spec := spec
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			addon, warnings := s.scrapeAddon(ctx, spec)
			mu.Lock()
			defer mu.Unlock()
			result.Warnings = append(result.Warnings, warnings...)
			if addon != nil {
				result.Addons = append(result.Addons, addon)
			}
			return nil
		})
	}
	_ = g.Wait()

	catalog.Sort(result.Addons)
	return result
}

func (s *Scraper) scrapeAddon(ctx context.Context, spec *addonspec.Spec) (*catalog.Addon, []string) {
	var warnings []string
	warnf := func(format string, args ...any) {
		msg := fmt.Sprintf(format, args...)
		s.log.Warn(msg)
		warnings = append(warnings, msg)
	}

	addon := &catalog.Addon{
		ID:          spec.ID,
		Repo:        spec.Repo,
		Description: spec.Description,
	}
	s.fetchRepoIdentity(ctx, spec, addon)

	// identity derived from the archive of the highest target version
	var xpiID, xpiName, bestTarget string
	for _, req := range spec.Releases {
		if ctx.Err() != nil {
			break
		}
		if s.rateExceeded.Load() {
			warnf("%s@%s skipped: api rate budget exhausted", spec.Repo, req.TagName)
			continue
		}
		release, info, err := s.processRelease(ctx, spec, req, warnf)
		if err != nil {
			if errors.Is(err, resolver.ErrRateLimited) {
				s.rateExceeded.Store(true)
			}
			warnf("%s@%s: %v", spec.Repo, req.TagName, err)
			continue
		}
		if release == nil {
			continue
		}
		addon.Releases = append(addon.Releases, release)
		if info != nil && req.TargetZoteroVersion > bestTarget {
			bestTarget = req.TargetZoteroVersion
			xpiID = info.ID
			xpiName = info.Name
		}
	}

	if len(addon.Releases) == 0 {
		warnf("%s: no resolvable releases, entry omitted", spec.Repo)
		return nil, warnings
	}
	if addon.ID == "" {
		addon.ID = xpiID
	}
	addon.Name = firstNonEmpty(spec.Name, xpiName, spec.RepoName())
	return addon, warnings
}

// fetchRepoIdentity fills author and repository metadata. Failures here are
// never fatal for the entry; the reconciler can inherit these fields from the
// previous catalog.
func (s *Scraper) fetchRepoIdentity(ctx context.Context, spec *addonspec.Spec, addon *catalog.Addon) {
	if s.rateExceeded.Load() {
		return
	}
	user, err := s.resolver.UserInfo(ctx, spec.Owner())
	if err != nil {
		s.noteRateLimit(err)
		s.log.Debugf("failed to fetch user %s: %v", spec.Owner(), err)
	} else {
		addon.Author = &catalog.Author{
			Name:   user.Name,
			URL:    user.URL,
			Avatar: user.Avatar,
		}
	}
	repoInfo, err := s.resolver.RepoInfo(ctx, spec.Repo)
	if err != nil {
		s.noteRateLimit(err)
		s.log.Debugf("failed to fetch repo %s: %v", spec.Repo, err)
		return
	}
	if addon.Description == "" {
		addon.Description = repoInfo.Description
	}
	addon.Star = repoInfo.Stars
}

func (s *Scraper) noteRateLimit(err error) {
	if errors.Is(err, resolver.ErrRateLimited) {
		s.rateExceeded.Store(true)
	}
}

// processRelease resolves one release request and inspects its archive.
// A non-nil error means the request could not be resolved at all; a nil
// release with nil error means the archive turned out incompatible with the
// requested Zotero version and the request is dropped.
func (s *Scraper) processRelease(ctx context.Context, spec *addonspec.Spec, req *addonspec.ReleaseRequest, warnf func(string, ...any)) (*catalog.Release, *xpi.Info, error) {
	checkVersion, err := zotero.CheckVersion(req.TargetZoteroVersion)
	if err != nil {
		return nil, nil, err
	}

	resolved, err := s.resolver.Resolve(ctx, spec.Repo, resolver.ParseTagSelector(req.TagName))
	if err != nil {
		return nil, nil, err
	}

	release := &catalog.Release{
		TargetZoteroVersion: req.TargetZoteroVersion,
		TagName:             resolved.TagName,
		DownloadURL:         resolved.DownloadURL,
		ReleaseDate:         resolved.PublishedAt.UTC().Format(time.RFC3339),
		DownloadCount:       resolved.DownloadCount,
		AssetID:             resolved.AssetID,
	}

	fileName := xpistore.FileName(spec.Owner(), spec.RepoName(), resolved.TagName, resolved.AssetID)
	path, err := s.store.FetchOrReuse(ctx, resolved.AssetID, fileName, resolved.DownloadURL)
	if err != nil {
		// the resolved release fields survive with metadata absent
		warnf("%s@%s: %v", spec.Repo, resolved.TagName, err)
		s.reportParseFailure(ctx, spec, req, resolved.TagName)
		return release, nil, nil
	}

	info, err := xpi.Extract(path, s.log)
	if err != nil {
		warnf("%s@%s: %v", spec.Repo, resolved.TagName, err)
		s.reportParseFailure(ctx, spec, req, resolved.TagName)
		return release, nil, nil
	}

	release.CurrentVersion = info.Version
	release.XpiInfo = &catalog.XpiInfo{
		ID:             info.ID,
		Name:           info.Name,
		CurrentVersion: info.Version,
	}

	if !info.Compatible(checkVersion) {
		warnf("%s@%s is not compatible with Zotero %s (declares %s to %s)",
			spec.Repo, resolved.TagName, checkVersion, info.MinVersion, info.MaxVersion)
		s.reportIssue(ctx,
			fmt.Sprintf("Invalid %s xpi with zotero version %s", spec.Repo, checkVersion),
			fmt.Sprintf("xpi: https://github.com/%s @%s\nmin zotero Version: %s\nmax Zotero version: %s\nexpect Zotero version: %s\n",
				spec.Repo, resolved.TagName, info.MinVersion, info.MaxVersion, checkVersion),
			fmt.Sprintf("Target zotero version not match: %s+%s@%s", spec.Repo, resolved.TagName, req.TargetZoteroVersion))
		return nil, nil, nil
	}

	if (info.MinVersion == "" || info.MinVersion == "*") && (info.MaxVersion == "" || info.MaxVersion == "*") {
		s.reportIssue(ctx,
			fmt.Sprintf("Parse %s of zotero version failed", spec.Repo),
			fmt.Sprintf("xpi: https://github.com/%s @%s on %s\n", spec.Repo, resolved.TagName, req.TargetZoteroVersion),
			fmt.Sprintf("Parse min/max version failed: %s+%s@%s", spec.Repo, resolved.TagName, req.TargetZoteroVersion))
	}

	return release, info, nil
}

func (s *Scraper) reportParseFailure(ctx context.Context, spec *addonspec.Spec, req *addonspec.ReleaseRequest, tagName string) {
	s.reportIssue(ctx,
		fmt.Sprintf("Parse %s addon details failed", spec.Repo),
		fmt.Sprintf("xpi: https://github.com/%s @%s on %s\n", spec.Repo, tagName, req.TargetZoteroVersion),
		fmt.Sprintf("Parse details failed: %s+%s@%s", spec.Repo, tagName, req.TargetZoteroVersion))
}

func (s *Scraper) reportIssue(ctx context.Context, title, body, checkID string) {
	if s.reporter == nil {
		return
	}
	if err := s.reporter.ReportIssue(ctx, title, body, checkID); err != nil {
		s.log.Warnf("failed to report issue %q: %v", title, err)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
