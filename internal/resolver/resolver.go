// Package resolver turns (repository, tag selector) pairs into concrete
// release descriptors via the GitHub release history. Release lists and
// repository/user lookups are memoized so one API fetch serves every selector
// of a repository, and a shared rate budget stops the run from retry-storming
// once the API quota is nearly exhausted.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/go-github/v59/github"
	"github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"
	"go.opencensus.io/stats"
	"go.opencensus.io/tag"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/zotero-addons/addons-scraper/internal/metrics"
)

var (
	ErrNoReleaseFound = errors.New("no release found")
	ErrTagNotFound    = errors.New("tag not found")
	ErrAssetAmbiguous = errors.New("no addon archive asset found")
	ErrRateLimited    = errors.New("github api rate limit exceeded")
)

type SelectorKind int

const (
	// SelectorLatest picks the most recently published non-prerelease.
	SelectorLatest SelectorKind = iota
	// SelectorPre picks the most recently published prerelease, falling back
	// to the most recent release of any kind.
	SelectorPre
	// SelectorLiteral matches a tag exactly.
	SelectorLiteral
)

// TagSelector is the requested release identifier: a moving pointer
// ("latest", "pre") or a fixed tag.
type TagSelector struct {
	Kind SelectorKind
	Tag  string
}

func ParseTagSelector(s string) TagSelector {
	switch s {
	case "latest":
		return TagSelector{Kind: SelectorLatest}
	case "pre":
		return TagSelector{Kind: SelectorPre}
	}
	return TagSelector{Kind: SelectorLiteral, Tag: s}
}

func (t TagSelector) String() string {
	switch t.Kind {
	case SelectorLatest:
		return "latest"
	case SelectorPre:
		return "pre"
	}
	return t.Tag
}

// ResolvedRelease is a concrete, immutable release of an addon repository.
type ResolvedRelease struct {
	Selector      TagSelector
	TagName       string
	AssetID       int64
	AssetName     string
	DownloadURL   string
	PublishedAt   time.Time
	DownloadCount int
	Prerelease    bool
}

type UserInfo struct {
	Name   string
	URL    string
	Avatar string
}

type RepoInfo struct {
	Description string
	Stars       int
}

const (
	maxConcurrentAPIRequests = 4
	defaultRateReserve       = 32
	memoizeTTL               = 30 * time.Minute
)

type Resolver struct {
	gh          *github.Client
	log         *logrus.Logger
	cache       *cache.Cache
	sem         *semaphore.Weighted
	group       singleflight.Group
	selectAsset AssetSelector

	rateMu    sync.Mutex
	remaining int
	reserve   int
}

type Option func(*Resolver)

// WithAssetSelector overrides the policy that picks the addon archive among a
// release's assets.
func WithAssetSelector(sel AssetSelector) Option {
	return func(r *Resolver) {
		r.selectAsset = sel
	}
}

// WithRateReserve sets how many API requests are left untouched before the
// resolver starts failing fast with ErrRateLimited.
func WithRateReserve(n int) Option {
	return func(r *Resolver) {
		r.reserve = n
	}
}

func New(gh *github.Client, log *logrus.Logger, opts ...Option) *Resolver {
	r := &Resolver{
		gh:          gh,
		log:         log,
		cache:       cache.New(memoizeTTL, time.Hour),
		sem:         semaphore.NewWeighted(maxConcurrentAPIRequests),
		selectAsset: DefaultAssetSelector,
		remaining:   -1,
		reserve:     defaultRateReserve,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// checkBudget fails fast once the shared quota falls to the reserve, so
// concurrent workers do not each discover exhaustion independently.
func (r *Resolver) checkBudget() error {
	r.rateMu.Lock()
	defer r.rateMu.Unlock()
	if r.remaining >= 0 && r.remaining <= r.reserve {
		return fmt.Errorf("%w: %d requests remaining", ErrRateLimited, r.remaining)
	}
	return nil
}

// updateRate records the quota snapshot. Responses without rate headers leave
// the budget untouched; an unknown quota is not an exhausted one.
func (r *Resolver) updateRate(resp *github.Response) {
	if resp == nil || resp.Rate.Limit == 0 {
		return
	}
	r.rateMu.Lock()
	r.remaining = resp.Rate.Remaining
	r.rateMu.Unlock()
}

func (r *Resolver) wrapAPIError(err error) error {
	var rateLimitErr *github.RateLimitError
	var abuseErr *github.AbuseRateLimitError
	if errors.As(err, &rateLimitErr) || errors.As(err, &abuseErr) {
		return fmt.Errorf("%w: %v", ErrRateLimited, err)
	}
	return err
}

// Resolve returns the concrete release the selector points at. Literal tags
// are immutable and re-resolve identically; "latest" and "pre" may move
// between runs.
func (r *Resolver) Resolve(ctx context.Context, fullRepo string, sel TagSelector) (*ResolvedRelease, error) {
	releases, err := r.listReleases(ctx, fullRepo)
	if err != nil {
		r.recordFailure(ctx, fullRepo)
		return nil, err
	}

	var release *github.RepositoryRelease
	switch sel.Kind {
	case SelectorLatest:
		for _, rel := range releases {
			if !rel.GetPrerelease() {
				release = rel
				break
			}
		}
		if release == nil {
			r.recordFailure(ctx, fullRepo)
			return nil, fmt.Errorf("%w: %s has no stable release", ErrNoReleaseFound, fullRepo)
		}
	case SelectorPre:
		for _, rel := range releases {
			if rel.GetPrerelease() {
				release = rel
				break
			}
		}
		if release == nil && len(releases) > 0 {
			release = releases[0]
		}
		if release == nil {
			r.recordFailure(ctx, fullRepo)
			return nil, fmt.Errorf("%w: %s has no releases", ErrNoReleaseFound, fullRepo)
		}
	case SelectorLiteral:
		for _, rel := range releases {
			if rel.GetTagName() == sel.Tag {
				release = rel
				break
			}
		}
		if release == nil {
			r.recordFailure(ctx, fullRepo)
			return nil, fmt.Errorf("%w: %s has no release tagged %q", ErrTagNotFound, fullRepo, sel.Tag)
		}
	}

	asset, err := r.pickAsset(ctx, fullRepo, release)
	if err != nil {
		r.recordFailure(ctx, fullRepo)
		return nil, err
	}

	return &ResolvedRelease{
		Selector:      sel,
		TagName:       release.GetTagName(),
		AssetID:       asset.GetID(),
		AssetName:     asset.GetName(),
		DownloadURL:   asset.GetBrowserDownloadURL(),
		PublishedAt:   asset.GetUpdatedAt().Time,
		DownloadCount: asset.GetDownloadCount(),
		Prerelease:    release.GetPrerelease(),
	}, nil
}

func (r *Resolver) recordFailure(ctx context.Context, fullRepo string) {
	ctx, _ = tag.New(ctx, tag.Upsert(metrics.TagRepo, fullRepo))
	stats.Record(ctx, metrics.CounterResolveFailures.M(1))
}

func (r *Resolver) pickAsset(ctx context.Context, fullRepo string, release *github.RepositoryRelease) (*github.ReleaseAsset, error) {
	candidates := r.selectAsset(release.Assets)
	if len(candidates) == 0 {
		return nil, fmt.Errorf("%w: release %s of %s", ErrAssetAmbiguous, release.GetTagName(), fullRepo)
	}
	if len(candidates) > 1 {
		r.log.Warnf("%s@%s has %d plausible addon archives, using %s",
			fullRepo, release.GetTagName(), len(candidates), candidates[0].GetName())
		mctx, _ := tag.New(ctx, tag.Upsert(metrics.TagRepo, fullRepo))
		stats.Record(mctx, metrics.CounterAmbiguousAssets.M(1))
	}
	return candidates[0], nil
}

// listReleases fetches the full release history of a repository, skipping
// drafts, sorted by publish date descending. Results are memoized and
// concurrent fetches of the same repository are collapsed.
func (r *Resolver) listReleases(ctx context.Context, fullRepo string) ([]*github.RepositoryRelease, error) {
	key := "releases/" + fullRepo
	if cached, ok := r.cache.Get(key); ok {
		return cached.([]*github.RepositoryRelease), nil
	}
	v, err, _ := r.group.Do(key, func() (any, error) {
		releases, err := r.fetchReleases(ctx, fullRepo)
		if err != nil {
			return nil, err
		}
		r.cache.SetDefault(key, releases)
		return releases, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]*github.RepositoryRelease), nil
}

func (r *Resolver) fetchReleases(ctx context.Context, fullRepo string) ([]*github.RepositoryRelease, error) {
	owner, repo, found := splitRepo(fullRepo)
	if !found {
		return nil, fmt.Errorf("invalid repository %q", fullRepo)
	}
	ret := make([]*github.RepositoryRelease, 0)
	opts := &github.ListOptions{Page: 1, PerPage: 100}
	for {
		if err := r.checkBudget(); err != nil {
			return nil, err
		}
		if err := r.sem.Acquire(ctx, 1); err != nil {
			return nil, err
		}
		releases, resp, err := r.gh.Repositories.ListReleases(ctx, owner, repo, opts)
		r.sem.Release(1)
		r.updateRate(resp)
		if err != nil {
			return nil, r.wrapAPIError(err)
		}
		for _, release := range releases {
			// ignore drafts
			if release.GetDraft() {
				continue
			}
			ret = append(ret, release)
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	sortReleasesByPublishedAt(ret)
	return ret, nil
}

// UserInfo looks up the addon author's profile. Results are memoized since
// many addons share an owner.
func (r *Resolver) UserInfo(ctx context.Context, owner string) (*UserInfo, error) {
	key := "user/" + owner
	if cached, ok := r.cache.Get(key); ok {
		return cached.(*UserInfo), nil
	}
	v, err, _ := r.group.Do(key, func() (any, error) {
		if err := r.checkBudget(); err != nil {
			return nil, err
		}
		if err := r.sem.Acquire(ctx, 1); err != nil {
			return nil, err
		}
		user, resp, err := r.gh.Users.Get(ctx, owner)
		r.sem.Release(1)
		r.updateRate(resp)
		if err != nil {
			return nil, r.wrapAPIError(err)
		}
		info := &UserInfo{
			Name:   user.GetName(),
			URL:    user.GetHTMLURL(),
			Avatar: user.GetAvatarURL(),
		}
		if info.Name == "" {
			info.Name = owner
		}
		r.cache.SetDefault(key, info)
		return info, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*UserInfo), nil
}

// RepoInfo looks up the repository description and star count.
func (r *Resolver) RepoInfo(ctx context.Context, fullRepo string) (*RepoInfo, error) {
	key := "repo/" + fullRepo
	if cached, ok := r.cache.Get(key); ok {
		return cached.(*RepoInfo), nil
	}
	v, err, _ := r.group.Do(key, func() (any, error) {
		owner, repo, found := splitRepo(fullRepo)
		if !found {
			return nil, fmt.Errorf("invalid repository %q", fullRepo)
		}
		if err := r.checkBudget(); err != nil {
			return nil, err
		}
		if err := r.sem.Acquire(ctx, 1); err != nil {
			return nil, err
		}
		repository, resp, err := r.gh.Repositories.Get(ctx, owner, repo)
		r.sem.Release(1)
		r.updateRate(resp)
		if err != nil {
			return nil, r.wrapAPIError(err)
		}
		info := &RepoInfo{
			Description: repository.GetDescription(),
			Stars:       repository.GetStargazersCount(),
		}
		r.cache.SetDefault(key, info)
		return info, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*RepoInfo), nil
}
