// cmd/vaultscan/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/FairForge/vaultscan/internal/api"
	"github.com/FairForge/vaultscan/internal/config"
	"github.com/FairForge/vaultscan/internal/dbwatch"
	"github.com/FairForge/vaultscan/internal/events"
	"github.com/FairForge/vaultscan/internal/progress"
	"github.com/FairForge/vaultscan/internal/scanner"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// Exit codes for the scan command
const (
	exitIssues  = 1
	exitFailure = 2
)

type exitError struct {
	code int
	msg  string
}

func (e *exitError) Error() string { return e.msg }

var (
	configPath string
	profile    string
	interval   time.Duration
)

var rootCmd = &cobra.Command{
	Use:           "vaultscan",
	Short:         "Scan files against signature databases",
	SilenceUsage:  true,
	SilenceErrors: true,
	Run: func(cmd *cobra.Command, args []string) {
		_ = cmd.Help()
	},
}

var scanCmd = &cobra.Command{
	Use:   "scan [paths...]",
	Short: "Scan paths in the foreground",
	Long:  `The scan command walks the given paths, or the paths of a profile, and reports infected files. Ctrl-C aborts the scan.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), configPath)
		if err != nil {
			return err
		}
		defer a.close()
		return runScan(cmd.Context(), a, args)
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the control API",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), configPath)
		if err != nil {
			return err
		}
		defer a.close()
		return runServe(cmd.Context(), a)
	},
}

var profilesCmd = &cobra.Command{
	Use:   "profiles",
	Short: "List scan profiles",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), configPath)
		if err != nil {
			return err
		}
		defer a.close()

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		for _, p := range a.cfg.Profiles {
			for i, path := range p.Paths {
				name := p.Name
				if i > 0 {
					name = ""
				}
				fmt.Fprintf(tw, "%s\t%s\n", name, path)
			}
		}
		return tw.Flush()
	},
}

func runScan(ctx context.Context, a *app, args []string) error {
	paths, err := a.resolvePaths(args, profile)
	if err != nil {
		return err
	}

	tracker := progress.NewTracker()
	reporter := progress.NewReporter(os.Stdout, tracker, interval)
	a.bus.Subscribe("*", func(e events.Event) {
		tracker.Handle(e)
		reporter.Handle(e)
	})

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if !a.scans.Start(scanner.Request{Paths: paths}) {
		return errors.New("scanner is busy")
	}

	go func() {
		<-sigCtx.Done()
		a.scans.Abort()
	}()

	if err := a.scans.Wait(context.Background()); err != nil {
		return err
	}

	snap := a.scans.Snapshot()
	fmt.Printf("\nScanned %d files (%d bytes), %d failed, %d infected in %s\n",
		snap.Scanned, snap.Bytes, snap.Failed, snap.IssueCount,
		snap.Finished.Sub(snap.Started).Round(time.Millisecond))

	switch {
	case snap.Outcome == scanner.OutcomeAborted:
		return &exitError{code: exitFailure, msg: "scan aborted"}
	case snap.Outcome == scanner.OutcomeFailed:
		return &exitError{code: exitFailure, msg: "scan failed"}
	case snap.IssueCount > 0:
		return &exitError{code: exitIssues, msg: fmt.Sprintf("%d infected files found", snap.IssueCount)}
	}
	return nil
}

func runServe(ctx context.Context, a *app) error {
	eventLogger := events.NewEventLogger(a.logger)
	unsubscribe := a.bus.Subscribe("*", eventLogger.Handle)
	defer func() {
		// the active run keeps emitting until the app is closed
		a.close()
		unsubscribe()
		eventLogger.Close()
	}()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps := api.Deps{
		Config:  a.cfg,
		Scans:   a.scans,
		Engine:  a.pool,
		Reports: a.store,
		Events:  a.bus,
		Metrics: a.metrics,
	}

	if a.cfg.Engine.WatchDatabase {
		watcher, err := dbwatch.New(a.pool.DatabasePath(), a.pool, a.logger)
		if err != nil {
			a.logger.Warn("database watch disabled", zap.Error(err))
		} else {
			deps.Watcher = watcher
			go func() {
				if err := watcher.Run(ctx); err != nil {
					a.logger.Error("database watcher stopped", zap.Error(err))
				}
			}()
		}
	}

	server := api.NewServer(deps, a.logger)

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}

	a.logger.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("shutdown error", zap.Error(err))
	}
	return nil
}

func main() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c",
		config.GetEnvOrDefault("VAULTSCAN_CONFIG", "vaultscan.yaml"), "path to the config file")
	scanCmd.Flags().StringVarP(&profile, "profile", "p", "", "scan the paths of a profile")
	scanCmd.Flags().DurationVar(&interval, "progress-interval", time.Second, "minimum time between progress lines")

	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(profilesCmd)

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		var exit *exitError
		if errors.As(err, &exit) {
			os.Exit(exit.code)
		}
		os.Exit(exitFailure)
	}
}
