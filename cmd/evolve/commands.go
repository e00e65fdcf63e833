package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/Hensonam23/self-learning-ai/internal/executor"
	"github.com/Hensonam23/self-learning-ai/internal/metrics"
	"github.com/Hensonam23/self-learning-ai/internal/scheduler"
	"github.com/Hensonam23/self-learning-ai/internal/server"
	"github.com/Hensonam23/self-learning-ai/pkg/client"
)

// GlobalFlags holds the persistent flags shared by all commands.
type GlobalFlags struct {
	ConfigPath string
	APIUrl     string // when set, commands go through a running daemon
	APIKey     string
	APITimeout time.Duration
}

func buildRoot() *cobra.Command {
	var g GlobalFlags

	root := &cobra.Command{
		Use:           "evolve",
		Short:         "Autonomous change pipeline for a self-modifying deployment",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&g.ConfigPath, "config", "", "path to TOML config file")
	root.PersistentFlags().StringVar(&g.APIUrl, "api-url", "", "daemon API base URL (e.g. http://127.0.0.1:8787/api); when set, talk to a running daemon instead of acting locally")
	root.PersistentFlags().StringVar(&g.APIKey, "api-key", "", "API key for the daemon")
	root.PersistentFlags().DurationVar(&g.APITimeout, "api-timeout", 10*time.Second, "timeout for daemon API calls")

	root.AddCommand(
		newProposeCmd(&g),
		newListCmd(&g),
		newApplyLatestCmd(&g),
		newWatchdogTickCmd(&g),
		newSelftestCmd(&g),
		newBootSequenceCmd(&g),
		newServeCmd(&g),
	)
	return root
}

func (g *GlobalFlags) apiClient() *client.Client {
	return client.New(client.Config{
		BaseURL: g.APIUrl,
		APIKey:  g.APIKey,
		Timeout: g.APITimeout,
	})
}

func newProposeCmd(g *GlobalFlags) *cobra.Command {
	var title, file, command string
	cmd := &cobra.Command{
		Use:   "propose",
		Short: "Queue a change proposal",
		Long:  "Queue a change proposal. The payload comes from --file, --command, or stdin.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			payload, err := readPayload(file, command, cmd.InOrStdin())
			if err != nil {
				return err
			}
			if g.APIUrl != "" {
				id, err := g.apiClient().Propose(cmd.Context(), title, payload)
				if err != nil {
					return err
				}
				fmt.Println(id)
				return nil
			}
			a, err := loadApp(g.ConfigPath)
			if err != nil {
				return err
			}
			defer a.Close()
			id, err := a.store.Create(title, payload)
			if err != nil {
				return err
			}
			fmt.Println(id)
			return nil
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "short human-readable title")
	cmd.Flags().StringVar(&file, "file", "", "read the payload script from a file")
	cmd.Flags().StringVar(&command, "command", "", "wrap a single shell command as the payload")
	return cmd
}

func readPayload(file, command string, stdin io.Reader) (string, error) {
	switch {
	case file != "" && command != "":
		return "", errors.New("use either --file or --command, not both")
	case file != "":
		b, err := os.ReadFile(file)
		if err != nil {
			return "", err
		}
		return string(b), nil
	case command != "":
		return "#!/bin/sh\nset -e\n" + command + "\n", nil
	default:
		b, err := io.ReadAll(stdin)
		if err != nil {
			return "", err
		}
		return string(b), nil
	}
}

func newListCmd(g *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List proposals, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if g.APIUrl != "" {
				list, err := g.apiClient().List(cmd.Context())
				if err != nil {
					return err
				}
				printJSON(list)
				return nil
			}
			a, err := loadApp(g.ConfigPath)
			if err != nil {
				return err
			}
			defer a.Close()
			list, err := a.store.List()
			if err != nil {
				return err
			}
			printJSON(list)
			return nil
		},
	}
}

// rollbackFailedMarker is grepped for by operators and alerting; keep stable.
const rollbackFailedMarker = "ROLLBACK FAILED"

func newApplyLatestCmd(g *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "apply-latest",
		Short: "Apply the newest pending proposal",
		Long: "Apply the newest pending proposal under the maintenance lock.\n" +
			"Exit codes: 0 applied, no-op or skipped for contention; 1 the change\n" +
			"failed and was rolled back; 2 the rollback itself failed.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if g.APIUrl != "" {
				res, err := g.apiClient().ApplyLatest(cmd.Context())
				if err != nil {
					return err
				}
				printJSON(res)
				if res.Status == string(executor.StatusFailed) {
					os.Exit(1)
				}
				return nil
			}
			a, err := loadApp(g.ConfigPath)
			if err != nil {
				return err
			}
			defer a.Close()
			out, err := a.ex.ApplyLatest(cmd.Context())
			if err != nil {
				if errors.Is(err, executor.ErrRollbackFailed) {
					_, _ = fmt.Fprintf(os.Stderr, "%s: %v\n", rollbackFailedMarker, err)
					a.Close()
					os.Exit(2)
				}
				return err
			}
			printJSON(out)
			if out.Status == executor.StatusFailed {
				a.Close()
				os.Exit(1)
			}
			return nil
		},
	}
}

func newWatchdogTickCmd(g *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "watchdog-tick",
		Short: "Run one watchdog health pass",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if g.APIUrl != "" {
				return g.apiClient().WatchdogTick(cmd.Context())
			}
			a, err := loadApp(g.ConfigPath)
			if err != nil {
				return err
			}
			defer a.Close()
			return a.dog.Tick(cmd.Context())
		},
	}
}

func newSelftestCmd(g *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "selftest",
		Short: "Run the self-test suite against the deployment",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if g.APIUrl != "" {
				ok, output, err := g.apiClient().Selftest(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Print(output)
				if !ok {
					return errors.New("self-test failed")
				}
				return nil
			}
			a, err := loadApp(g.ConfigPath)
			if err != nil {
				return err
			}
			defer a.Close()
			res := a.suite.Run(cmd.Context())
			fmt.Print(res.Output)
			if !res.OK {
				return errors.New("self-test failed")
			}
			return nil
		},
	}
}

func newBootSequenceCmd(g *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "boot-sequence",
		Short: "Run the start-of-day sequence: verify, seed maintenance, apply, verify",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := loadApp(g.ConfigPath)
			if err != nil {
				return err
			}
			defer a.Close()
			err = a.boot().Run(cmd.Context())
			if errors.Is(err, executor.ErrRollbackFailed) {
				_, _ = fmt.Fprintf(os.Stderr, "%s: %v\n", rollbackFailedMarker, err)
				a.Close()
				os.Exit(2)
			}
			return err
		},
	}
}

func newServeCmd(g *GlobalFlags) *cobra.Command {
	var skipBoot bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the pipeline daemon: HTTP API, schedules and proposal watcher",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := loadApp(g.ConfigPath)
			if err != nil {
				return err
			}
			defer a.Close()
			return runServe(cmd.Context(), a, skipBoot)
		},
	}
	cmd.Flags().BoolVar(&skipBoot, "skip-boot", false, "do not run the boot sequence before serving")
	return cmd
}

func runServe(ctx context.Context, a *app, skipBoot bool) error {
	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		return err
	}

	if !skipBoot {
		if err := a.boot().Run(ctx); err != nil {
			if errors.Is(err, executor.ErrRollbackFailed) {
				_, _ = fmt.Fprintf(os.Stderr, "%s: %v\n", rollbackFailedMarker, err)
				a.Close()
				os.Exit(2)
			}
			// A degraded boot still serves; the watchdog and operators take
			// it from here.
			a.log.Error("boot sequence failed", "error", err)
		}
	}

	sched := scheduler.New(a.log)
	applyJob := &scheduler.Job{
		Name:     "apply",
		Schedule: a.cfg.Schedules.Apply,
		Run: func(ctx context.Context) error {
			_, err := a.ex.ApplyLatest(ctx)
			return err
		},
	}
	if err := sched.Add(applyJob); err != nil {
		return err
	}
	if err := sched.Add(&scheduler.Job{
		Name:     "watchdog",
		Schedule: a.cfg.Schedules.Watchdog,
		Run:      a.dog.Tick,
	}); err != nil {
		return err
	}
	sched.WatchProposals(a.store.Root(), applyJob)
	if err := sched.Start(ctx); err != nil {
		return err
	}
	defer sched.Stop()

	srv := server.NewServer(a.cfg.Server.Listen, server.Options{
		Store:    a.store,
		Executor: a.ex,
		Watchdog: a.dog,
		Suite:    a.suite,
		APIKey:   a.cfg.Server.APIKey,
		BasePath: a.cfg.Server.BasePath,
		Logger:   a.log,
	})
	a.log.Info("daemon listening", "addr", a.cfg.Server.Listen)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		a.log.Info("shutting down", "signal", sig.String())
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
