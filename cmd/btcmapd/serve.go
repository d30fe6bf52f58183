package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"github.com/untoldecay/btcmap/internal/conf"
	"github.com/untoldecay/btcmap/internal/geo"
	"github.com/untoldecay/btcmap/internal/gitea"
	"github.com/untoldecay/btcmap/internal/httpapi"
	"github.com/untoldecay/btcmap/internal/invoice"
	"github.com/untoldecay/btcmap/internal/issue"
	"github.com/untoldecay/btcmap/internal/jobs"
	"github.com/untoldecay/btcmap/internal/logging"
	"github.com/untoldecay/btcmap/internal/merge"
	"github.com/untoldecay/btcmap/internal/notify"
	"github.com/untoldecay/btcmap/internal/osmuser"
	"github.com/untoldecay/btcmap/internal/overpass"
	"github.com/untoldecay/btcmap/internal/report"
	"github.com/untoldecay/btcmap/internal/rpc"
	"github.com/untoldecay/btcmap/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the API server and background jobs",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().String("http-addr", "", "Listen address (overrides config)")
	serveCmd.Flags().Bool("no-jobs", false, "Disable background jobs")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	if addr, _ := cmd.Flags().GetString("http-addr"); addr != "" {
		conf.Set("http-addr", addr)
	}
	if noJobs, _ := cmd.Flags().GetBool("no-jobs"); noJobs {
		conf.Set("no-jobs", true)
	}

	dir, err := conf.DataDir()
	if err != nil {
		return err
	}

	// One daemon per data dir.
	lock := flock.New(filepath.Join(dir, "btcmapd.lock"))
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquiring instance lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("another btcmapd is already running against %s", dir)
	}
	defer func() { _ = lock.Unlock() }()

	logPath, err := conf.LogFilePath()
	if err != nil {
		return err
	}
	log, closeLog := logging.Setup(logging.ParseLevel(conf.GetString("log.level")), logPath)
	defer func() { _ = closeLog() }()

	ctx := context.Background()

	s, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	reqLogPath, err := conf.RequestLogPath()
	if err != nil {
		return err
	}
	reqLog, err := store.OpenRequestLog(ctx, reqLogPath)
	if err != nil {
		return fmt.Errorf("failed to open request log: %w", err)
	}
	defer reqLog.Close()

	notifier := notify.NewRouter(s, log, conf.GetString("matrix.url"))

	overpassClient := overpass.NewClient().WithEndpoint(conf.GetString("overpass.url"))
	overpassClient.HTTPClient.Timeout = conf.GetDuration("overpass.timeout")

	engines := jobs.Engines{
		Overpass: overpassClient,
		Merge:    merge.New(s, log).WithNotifier(notifier),
		Geo:      geo.New(s, log),
		Issue:    issue.New(s, log),
		Report:   report.New(s, log),
		Invoice: invoice.New(s, log,
			conf.GetString("lnbits.url"), conf.GetString("lnd.url")).WithNotifier(notifier),
		OsmUsers: osmuser.New(s, log, osmuser.NewClient(conf.GetString("osm.api-url"))),
		Gitea:    gitea.New(s, log, conf.GetString("gitea.url"), conf.GetString("gitea.repo")),
	}

	dispatcher := rpc.NewDispatcher(s, log, rpc.Deps{
		Overpass: engines.Overpass,
		Merge:    engines.Merge,
		Geo:      engines.Geo,
		Issue:    engines.Issue,
		Report:   engines.Report,
		Invoice:  engines.Invoice,
		OsmUsers: engines.OsmUsers,
		Gitea:    engines.Gitea,
	})

	if conf.GetBool("no-jobs") {
		log.Info("background jobs disabled")
	} else {
		sched, err := jobs.New(log, engines)
		if err != nil {
			return fmt.Errorf("failed to arm jobs: %w", err)
		}
		sched.Start()
		defer sched.Stop()
	}

	api := httpapi.New(s, reqLog, log, dispatcher)
	srv := &http.Server{
		Addr:              conf.GetString("http-addr"),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case err := <-errCh:
		return fmt.Errorf("http server failed: %w", err)
	case sig := <-sigCh:
		log.Info("received signal, shutting down gracefully", "signal", sig.String())
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, conf.GetDuration("shutdown-timeout"))
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("forced shutdown", "error", err)
	}
	return nil
}
