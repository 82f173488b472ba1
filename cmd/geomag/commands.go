package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/spf13/cobra"

	"github.com/nicktill/geomag/pkg/config"
	"github.com/nicktill/geomag/pkg/controller"
	"github.com/nicktill/geomag/pkg/domain"
	"github.com/nicktill/geomag/pkg/log"
	"github.com/nicktill/geomag/pkg/server"
	"github.com/nicktill/geomag/pkg/server/monitor"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Process one window from input to output",
		Args:  cobra.NoArgs,
		RunE:  runRunCmd,
	}
	addJobFlags(cmd)
	return cmd
}

func runRunCmd(cmd *cobra.Command, _ []string) error {
	fileCfg, err := loadJob(cmd)
	if err != nil {
		return err
	}
	start, err := parseTime("start", job.start)
	if err != nil {
		return err
	}
	end, err := parseTime("end", job.end)
	if err != nil {
		return err
	}

	p, err := buildPipeline(fileCfg)
	if err != nil {
		return err
	}
	defer closePipeline(cmd.Context(), p)

	return p.ctrl.Run(cmd.Context(), start, end)
}

func newUpdateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "update",
		Short: "Fill gaps in the output over the realtime window",
		Args:  cobra.NoArgs,
		RunE:  runUpdateCmd,
	}
	addJobFlags(cmd)
	return cmd
}

func runUpdateCmd(cmd *cobra.Command, _ []string) error {
	fileCfg, err := loadJob(cmd)
	if err != nil {
		return err
	}
	opts, err := updateOptions()
	if err != nil {
		return err
	}

	p, err := buildPipeline(fileCfg)
	if err != nil {
		return err
	}
	defer closePipeline(cmd.Context(), p)

	res, err := p.ctrl.RunAsUpdate(cmd.Context(), opts)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(cmd.OutOrStdout(), "gaps=%d processed=%d remaining=%d samples=%d\n",
		res.Gaps, res.Processed, res.Remaining, res.Samples)
	return err
}

func updateOptions() (controller.UpdateOptions, error) {
	if job.realtime <= 0 {
		return controller.UpdateOptions{}, domain.NewConfigurationError("--realtime must be greater than 0")
	}
	if job.updateLimit < 0 {
		return controller.UpdateOptions{}, domain.NewConfigurationError("--update-limit must not be negative")
	}
	opts := controller.UpdateOptions{
		Realtime:    time.Duration(job.realtime) * time.Second,
		UpdateLimit: job.updateLimit,
	}
	if job.end != "" {
		now, err := parseTime("end", job.end)
		if err != nil {
			return opts, err
		}
		opts.Now = now
	}
	return opts, nil
}

var schedulePort string

func newScheduleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Run updates periodically, retrying failures",
		Args:  cobra.NoArgs,
		RunE:  runScheduleCmd,
	}
	addJobFlags(cmd)
	cmd.Flags().StringVar(&schedulePort, "port", "", "serve health and metrics on this port")
	return cmd
}

func runScheduleCmd(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	lg := log.Get(ctx)

	fileCfg, err := loadJob(cmd)
	if err != nil {
		return err
	}
	opts, err := updateOptions()
	if err != nil {
		return err
	}
	if job.end != "" {
		return domain.NewConfigurationError("--end cannot be used with schedule")
	}
	every, err := time.ParseDuration(job.every)
	if err != nil || every <= 0 {
		return domain.NewConfigurationError("invalid --every %q", job.every)
	}

	p, err := buildPipeline(fileCfg)
	if err != nil {
		return err
	}
	defer closePipeline(ctx, p)

	updates := &monitor.UpdateMonitor{MaxAge: 3 * every}
	stop := make(chan bool)
	var wg sync.WaitGroup

	wg.Add(1)
	go server.RunUpdates(ctx, server.UpdateTask{
		Updater: p.ctrl,
		Options: opts,
		Every:   every,
		Retry:   server.DefaultRetry(),
		Monitor: updates,
	}, stop, &wg)

	for _, store := range p.badgers {
		wg.Add(1)
		go server.RunBadgerGC(ctx, store, config.BadgerGCInterval, stop, &wg)
	}

	var srv *http.Server
	if schedulePort != "" {
		router := mux.NewRouter()
		server.SetupRoutes(router, server.Routes{
			Updates: updates,
			Port:    schedulePort,
			Logger:  lg,
		})
		srv = &http.Server{
			Addr:              ":" + schedulePort,
			Handler:           router,
			ReadHeaderTimeout: config.ReadHeaderTimeout,
		}
		go listen(ctx, srv)
	}

	<-ctx.Done()
	lg.Info().Msg("shutdown signal received")
	close(stop)
	if srv != nil {
		shutdown(srv)
	}
	waitForTasks(ctx, &wg)
	return nil
}

var (
	serveDataDir string
	servePort    string
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve a local sample store over HTTP",
		Args:  cobra.NoArgs,
		RunE:  runServeCmd,
	}
	cmd.Flags().StringVar(&serveDataDir, "data-dir", "", "data directory (default $GEOMAG_DATA_DIR or the XDG data home)")
	cmd.Flags().StringVar(&servePort, "port", "", "listen port (default $PORT or "+config.DefaultPort+")")
	return cmd
}

func runServeCmd(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	lg := log.Get(ctx)

	cfg, err := server.LoadConfig(serveDataDir)
	if err != nil {
		return err
	}
	if servePort != "" {
		cfg.Port = servePort
	}

	store, err := server.InitializeStorage(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer func() {
		if cerr := store.Close(); cerr != nil {
			lg.Error().Err(cerr).Msg("failed to close storage")
		}
	}()

	storageMonitor, _ := server.InitializeMonitors(cfg)
	handler := server.NewHandler(store)
	if cfg.MaxStorageGB > 0 {
		handler.SetStorageChecker(storageMonitor)
		lg.Info().Int64("max_storage_gb", cfg.MaxStorageGB).Msg("storage limit enforcement enabled")
	}

	stop := make(chan bool)
	var wg sync.WaitGroup
	wg.Add(1)
	go server.RunBadgerGC(ctx, store, config.BadgerGCInterval, stop, &wg)

	srv := server.NewHTTPServer(cfg, server.Routes{
		Handler: handler,
		Storage: storageMonitor,
		Logger:  lg,
	})
	go listen(ctx, srv)

	<-ctx.Done()
	lg.Info().Msg("shutdown signal received")
	close(stop)
	shutdown(srv)
	waitForTasks(ctx, &wg)
	return nil
}

func listen(ctx context.Context, srv *http.Server) {
	lg := log.Get(ctx)
	lg.Info().Str("addr", srv.Addr).Msg("server listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		lg.Error().Err(err).Msg("server failed")
	}
}

func shutdown(srv *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), config.DefaultShutdownTimeout)
	defer cancel()
	_ = srv.Shutdown(ctx)
}

// waitForTasks waits for background tasks, bounded so a stuck task cannot
// hang the exit.
func waitForTasks(ctx context.Context, wg *sync.WaitGroup) {
	lg := log.Get(ctx)
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		lg.Info().Msg("all background tasks stopped")
	case <-time.After(config.DefaultShutdownTimeout):
		lg.Warn().Msg("some background tasks did not stop in time")
	}
}

func closePipeline(ctx context.Context, p *pipeline) {
	if err := p.Close(); err != nil {
		log.Get(ctx).Error().Err(err).Msg("failed to close stores")
	}
}
