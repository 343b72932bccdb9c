// Package publisher pushes the finished catalog to the aggregator
// repository: a timestamped release on the publish branch carrying the
// catalog as an asset, housekeeping of old releases, tags and action caches,
// and deduplicated issue reports about broken addons.
package publisher

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/go-github/v59/github"
	"github.com/sirupsen/logrus"
)

const (
	publishBranch    = "publish"
	catalogAssetName = "addon_infos.json"
	keepReleases     = 2
	keepTags         = 2
	keepCaches       = 1
	issueDedupWindow = 10 * 24 * time.Hour
	issueMarker      = "----"
)

type Publisher struct {
	gh    *github.Client
	log   *logrus.Logger
	owner string
	repo  string
}

func New(gh *github.Client, log *logrus.Logger, repository string) (*Publisher, error) {
	owner, repo, found := strings.Cut(repository, "/")
	if !found {
		return nil, fmt.Errorf("invalid aggregator repository %q", repository)
	}
	return &Publisher{gh: gh, log: log, owner: owner, repo: repo}, nil
}

// Publish creates a timestamped release on the publish branch and uploads the
// catalog document as its asset. Old releases and timestamp tags are pruned
// first so the repository keeps only the last few published snapshots.
func (p *Publisher) Publish(ctx context.Context, catalogFile string) error {
	p.deleteOldReleases(ctx)
	p.deleteOldTags(ctx)

	tagName := strconv.FormatInt(time.Now().Unix(), 10)
	body := fmt.Sprintf("![](https://img.shields.io/github/downloads/%s/%s/%s/total?label=downloads)\npublish %s",
		p.owner, p.repo, tagName, catalogAssetName)
	release, _, err := p.gh.Repositories.CreateRelease(ctx, p.owner, p.repo, &github.RepositoryRelease{
		TagName:              github.String(tagName),
		TargetCommitish:      github.String(publishBranch),
		Name:                 github.String(tagName),
		Body:                 github.String(body),
		Draft:                github.Bool(false),
		Prerelease:           github.Bool(false),
		GenerateReleaseNotes: github.Bool(false),
	})
	if err != nil {
		return fmt.Errorf("failed to create release: %w", err)
	}

	f, err := os.Open(catalogFile)
	if err != nil {
		return fmt.Errorf("failed to open catalog file: %w", err)
	}
	_, _, err = p.gh.Repositories.UploadReleaseAsset(ctx, p.owner, p.repo, release.GetID(),
		&github.UploadOptions{Name: catalogAssetName}, f)
	if closeErr := f.Close(); closeErr != nil {
		p.log.Errorf("failed to close catalog file: %v", closeErr)
	}
	if err != nil {
		return fmt.Errorf("failed to upload catalog asset: %w", err)
	}
	p.log.Infof("published %s as release %s", catalogAssetName, tagName)
	return nil
}

func (p *Publisher) deleteOldReleases(ctx context.Context) {
	releases, _, err := p.gh.Repositories.ListReleases(ctx, p.owner, p.repo, &github.ListOptions{PerPage: 100})
	if err != nil {
		p.log.Warnf("failed to list old releases: %v", err)
		return
	}
	if len(releases) <= keepReleases {
		return
	}
	sort.Slice(releases, func(i, j int) bool {
		return releases[i].GetTagName() > releases[j].GetTagName()
	})
	for _, release := range releases[keepReleases:] {
		if _, err := p.gh.Repositories.DeleteRelease(ctx, p.owner, p.repo, release.GetID()); err != nil {
			p.log.Warnf("failed to delete release %s: %v", release.GetTagName(), err)
			continue
		}
		p.log.Infof("deleted release %s", release.GetTagName())
	}
}

// deleteOldTags prunes the timestamp tags left behind by previous publishes.
// Only all-numeric tags of at least ten digits are considered.
func (p *Publisher) deleteOldTags(ctx context.Context) {
	refs, _, err := p.gh.Git.ListMatchingRefs(ctx, p.owner, p.repo, &github.ReferenceListOptions{
		Ref:         "tags/",
		ListOptions: github.ListOptions{PerPage: 100},
	})
	if err != nil {
		p.log.Warnf("failed to list tags: %v", err)
		return
	}
	tags := make([]string, 0, len(refs))
	for _, ref := range refs {
		tagName := strings.TrimPrefix(ref.GetRef(), "refs/tags/")
		if len(tagName) < 10 {
			continue
		}
		if _, err := strconv.ParseInt(tagName, 10, 64); err != nil {
			continue
		}
		tags = append(tags, tagName)
	}
	if len(tags) <= keepTags {
		return
	}
	sort.Sort(sort.Reverse(sort.StringSlice(tags)))
	for _, tagName := range tags[keepTags:] {
		if _, err := p.gh.Git.DeleteRef(ctx, p.owner, p.repo, "tags/"+tagName); err != nil {
			p.log.Warnf("failed to delete tag %s: %v", tagName, err)
			continue
		}
		p.log.Infof("deleted tag %s", tagName)
	}
}

// CleanupCaches removes old GitHub Actions caches, keeping only the most
// recently accessed snapshot.
func (p *Publisher) CleanupCaches(ctx context.Context) {
	caches, _, err := p.gh.Actions.ListCaches(ctx, p.owner, p.repo, &github.ActionsCacheListOptions{
		ListOptions: github.ListOptions{PerPage: 100},
		Sort:        github.String("last_accessed_at"),
		Direction:   github.String("desc"),
	})
	if err != nil {
		p.log.Warnf("failed to list action caches: %v", err)
		return
	}
	if caches.TotalCount <= keepCaches {
		return
	}
	for _, c := range caches.ActionsCaches[keepCaches:] {
		if _, err := p.gh.Actions.DeleteCachesByID(ctx, p.owner, p.repo, c.GetID()); err != nil {
			p.log.Warnf("failed to delete action cache %s: %v", c.GetKey(), err)
			continue
		}
		p.log.Infof("deleted action cache %s", c.GetKey())
	}
}

// ReportIssue files an issue on the aggregator repository. When checkID is
// set, the id is appended as a marker suffix and issue creation is skipped if
// an open issue with the same marker was updated within the dedup window.
func (p *Publisher) ReportIssue(ctx context.Context, title, body, checkID string) error {
	if checkID != "" {
		body = body + "\n" + issueMarker + checkID
		exists, err := p.issueExists(ctx, checkID)
		if err != nil {
			p.log.Warnf("failed to check for duplicate issues: %v", err)
		} else if exists {
			p.log.Debugf("issue already reported: %s", checkID)
			return nil
		}
	}
	issue, _, err := p.gh.Issues.Create(ctx, p.owner, p.repo, &github.IssueRequest{
		Title: github.String(title),
		Body:  github.String(body),
	})
	if err != nil {
		return fmt.Errorf("failed to create issue: %w", err)
	}
	p.log.Infof("issue created: %s", issue.GetHTMLURL())
	return nil
}

func (p *Publisher) issueExists(ctx context.Context, checkID string) (bool, error) {
	issues, _, err := p.gh.Issues.ListByRepo(ctx, p.owner, p.repo, &github.IssueListByRepoOptions{
		State:       "open",
		Since:       time.Now().Add(-issueDedupWindow),
		ListOptions: github.ListOptions{PerPage: 100},
	})
	if err != nil {
		return false, err
	}
	for _, issue := range issues {
		if strings.HasSuffix(issue.GetBody(), issueMarker+checkID) {
			return true, nil
		}
	}
	return false, nil
}
