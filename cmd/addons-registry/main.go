package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/zotero-addons/addons-scraper/internal/config"
	"github.com/zotero-addons/addons-scraper/internal/metrics"
	"github.com/zotero-addons/addons-scraper/internal/server"
)

var version = "dev"

func setupLogger() *logrus.Logger {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	return log
}

func run(log *logrus.Logger) error {
	serverCfg, err := config.NewServerConfigFromEnv()
	if err != nil {
		return err
	}
	serverCfg.Version = version

	if serverCfg.ProjectID != "" && !serverCfg.DisableMetrics {
		exporter, exporterErr := metrics.NewExporter(serverCfg.ProjectID, serverCfg.Stage)
		if exporterErr != nil {
			return exporterErr
		}
		defer exporter.Flush()
	}

	log.Println("starting server...")
	srv := &http.Server{
		Addr:    serverCfg.GetServerAddr(),
		Handler: server.New(log, serverCfg),
	}
	go func() {
		log.Printf("listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Error(err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	<-ctx.Done()
	stop()

	log.Println("stopping server...")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); errors.Is(err, context.DeadlineExceeded) {
		log.Println("closing server...")
		if closeErr := srv.Close(); closeErr != nil {
			return closeErr
		}
	} else if err != nil {
		return err
	}
	log.Println("server stopped!")
	return nil
}

func main() {
	log := setupLogger()
	if err := run(log); err != nil {
		log.Fatal(err)
	}
}
