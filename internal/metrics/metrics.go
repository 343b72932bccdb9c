package metrics

import (
	"fmt"

	"contrib.go.opencensus.io/exporter/stackdriver"
	"go.opencensus.io/stats"
	"go.opencensus.io/stats/view"
	"go.opencensus.io/tag"
)

var (
	CounterCacheHit        = stats.Int64("cache_hits", "Number of cache hits", "1")
	CounterCacheMiss       = stats.Int64("cache_misses", "Number of cache misses", "1")
	CounterXpiDownloads    = stats.Int64("xpi_downloads", "Number of downloaded addon archives", "1")
	CounterResolveFailures = stats.Int64("resolve_failures", "Number of failed release resolutions", "1")
	CounterAmbiguousAssets = stats.Int64("ambiguous_assets", "Number of releases with more than one plausible addon archive", "1")

	TagRepo     = tag.MustNewKey("repo")
	TagCacheKey = tag.MustNewKey("cache_key")
)

var views = []*view.View{
	{
		Name:        "cache_hits",
		Measure:     CounterCacheHit,
		Description: "Number of cache hits",
		Aggregation: view.Count(),
	},
	{
		Name:        "cache_misses",
		Measure:     CounterCacheMiss,
		Description: "Number of cache misses",
		Aggregation: view.Count(),
	},
	{
		Name:        "xpi_downloads",
		Measure:     CounterXpiDownloads,
		Description: "Number of downloaded addon archives",
		Aggregation: view.Count(),
	},
	{
		Name:        "resolve_failures",
		Measure:     CounterResolveFailures,
		Description: "Number of failed release resolutions",
		TagKeys:     []tag.Key{TagRepo},
		Aggregation: view.Count(),
	},
	{
		Name:        "ambiguous_assets",
		Measure:     CounterAmbiguousAssets,
		Description: "Number of releases with more than one plausible addon archive",
		TagKeys:     []tag.Key{TagRepo},
		Aggregation: view.Count(),
	},
}

func NewExporter(projectID, stage string) (*stackdriver.Exporter, error) {
	err := view.Register(views...)
	if err != nil {
		return nil, err
	}
	exporter, err := stackdriver.NewExporter(stackdriver.Options{
		ProjectID:    projectID,
		MetricPrefix: fmt.Sprintf("addons-scraper/%s", stage),
	})
	if err != nil {
		return nil, err
	}
	err = exporter.StartMetricsExporter()
	if err != nil {
		return nil, err
	}
	return exporter, nil
}
