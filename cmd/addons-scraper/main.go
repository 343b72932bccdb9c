package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/zotero-addons/addons-scraper/internal/addonspec"
	"github.com/zotero-addons/addons-scraper/internal/config"
	"github.com/zotero-addons/addons-scraper/internal/metrics"
	"github.com/zotero-addons/addons-scraper/internal/publisher"
	"github.com/zotero-addons/addons-scraper/internal/reconcile"
	"github.com/zotero-addons/addons-scraper/internal/resolver"
	"github.com/zotero-addons/addons-scraper/internal/scraper"
	"github.com/zotero-addons/addons-scraper/internal/xpistore"
	"github.com/zotero-addons/addons-scraper/pkg/catalog"
)

var version = "dev"

func main() {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	cmd := &cobra.Command{
		Use:     "addons-scraper",
		Short:   "Aggregate Zotero addon metadata from GitHub releases",
		Version: version,
		Args:    cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			if err := run(log, cmd, args); err != nil {
				log.Errorf("ERROR: %v", err)
				os.Exit(1)
			}
		},
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
	}

	cmd.PersistentFlags().StringP("input", "i", "addons", "directory containing the addon spec files")
	cmd.PersistentFlags().StringP("output", "o", "addon_infos.json", "path of the catalog file to write")
	cmd.PersistentFlags().String("cache-dir", "caches", "directory for the addon archive cache")
	cmd.PersistentFlags().String("cache-lockfile", "caches_lockfile", "name of the cache manifest file")
	cmd.PersistentFlags().StringArray("previous-info-urls", nil, "URLs of previously published catalogs to reconcile against")
	cmd.PersistentFlags().Bool("create-release", true, "publish the catalog as a release of the aggregator repository")
	cmd.PersistentFlags().Int("workers", 10, "number of addons processed concurrently")
	cmd.PersistentFlags().String("log-level", "info", "log level")
	cmd.PersistentFlags().SortFlags = false

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}

func run(log *logrus.Logger, cmd *cobra.Command, _ []string) error {
	logLevel, err := logrus.ParseLevel(must(cmd.PersistentFlags().GetString("log-level")))
	if err != nil {
		return err
	}
	log.SetLevel(logLevel)
	log.Infof("starting addons-scraper (version=%s)", version)

	cfg, err := config.NewConfigFromEnv()
	if err != nil {
		return err
	}

	if cfg.ProjectID != "" && !cfg.DisableMetrics {
		exporter, exporterErr := metrics.NewExporter(cfg.ProjectID, cfg.Stage)
		if exporterErr != nil {
			return exporterErr
		}
		defer exporter.Flush()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	specs, err := addonspec.LoadDir(must(cmd.PersistentFlags().GetString("input")), log)
	if err != nil {
		return err
	}
	if len(specs) == 0 {
		return fmt.Errorf("no addon specs found")
	}
	log.Infof("loaded %d addon specs", len(specs))

	ghClient := cfg.CreateGitHubClient()
	store, err := xpistore.Open(
		must(cmd.PersistentFlags().GetString("cache-dir")),
		must(cmd.PersistentFlags().GetString("cache-lockfile")),
		log,
	)
	if err != nil {
		return err
	}

	var pub *publisher.Publisher
	if cfg.GitHubRepository != "" {
		pub, err = publisher.New(ghClient, log, cfg.GitHubRepository)
		if err != nil {
			return err
		}
	}

	scraperOpts := []scraper.Option{
		scraper.WithWorkers(must(cmd.PersistentFlags().GetInt("workers"))),
	}
	if pub != nil {
		scraperOpts = append(scraperOpts, scraper.WithIssueReporter(pub))
	}
	s := scraper.New(log, resolver.New(ghClient, log), store, scraperOpts...)
	result := s.Run(ctx, specs)
	log.Infof("scraped %d of %d addons (%d warnings)", len(result.Addons), len(specs), len(result.Warnings))
	if len(result.Addons) == 0 {
		return fmt.Errorf("all %d addon specs failed", len(specs))
	}

	for _, url := range must(cmd.PersistentFlags().GetStringArray("previous-info-urls")) {
		previous, fetchErr := catalog.Fetch(ctx, url)
		if fetchErr != nil {
			log.Warnf("failed to fetch previous catalog %s: %v", url, fetchErr)
			continue
		}
		result.Addons = reconcile.Merge(result.Addons, previous)
	}
	catalog.Sort(result.Addons)

	output := must(cmd.PersistentFlags().GetString("output"))
	if err := catalog.WriteFile(output, result.Addons); err != nil {
		return err
	}
	log.Infof("wrote catalog to %s", output)

	if err := store.Flush(); err != nil {
		log.Warnf("failed to write cache manifest: %v", err)
	}
	log.Infof("cache key: %s", store.Hash())

	if must(cmd.PersistentFlags().GetBool("create-release")) && pub != nil {
		if err := pub.Publish(ctx, output); err != nil {
			return err
		}
		pub.CleanupCaches(ctx)
	}

	if cfg.HasR2() {
		s3Client, s3Err := cfg.CreateS3Client()
		if s3Err != nil {
			return s3Err
		}
		mirror := publisher.NewMirror(s3Client, cfg.GetBucket(), log)
		if err := mirror.Upload(ctx, "addon_infos.json", output); err != nil {
			log.Warnf("failed to mirror catalog: %v", err)
		}
	}

	return nil
}
