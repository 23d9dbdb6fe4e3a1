// Command rdosync runs the offline-first report sync engine: it drains the
// local queues against the remote backend, serves sync status over
// WebSocket and exposes queue and conflict inspection.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/construtech/rdosync/internal/cache"
	"github.com/construtech/rdosync/internal/config"
	"github.com/construtech/rdosync/internal/connectivity"
	apperrors "github.com/construtech/rdosync/internal/errors"
	"github.com/construtech/rdosync/internal/logging"
	"github.com/construtech/rdosync/internal/models"
	"github.com/construtech/rdosync/internal/remote"
	"github.com/construtech/rdosync/internal/status"
	"github.com/construtech/rdosync/internal/store"
	"github.com/construtech/rdosync/internal/sync"
)

func main() {
	app := &cli.App{
		Name:  "rdosync",
		Usage: "offline-first sync engine for daily construction reports",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to YAML config file",
				EnvVars: []string{"RDOSYNC_CONFIG"},
			},
		},
		Commands: []*cli.Command{
			syncCommand(),
			statusCommand(),
			retryCommand(),
			conflictsCommand(),
			serveCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// engine bundles everything a command needs.
type engine struct {
	cfg     *config.Config
	store   *store.Store
	cache   *cache.Manager
	service *sync.Service
	monitor *connectivity.Monitor
	writer  *sync.Writer
}

func (e *engine) Close() {
	e.cache.Stop()
	e.monitor.Stop()
	e.store.Close()
}

func openEngine(c *cli.Context) (*engine, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, err
	}
	logging.Init(os.Stderr, cfg.Logging.Level, cfg.Logging.JSON)

	st, err := store.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, err
	}

	remoteStore := remote.NewHTTPStore(cfg.Remote)

	var uploader remote.Uploader
	if cfg.Uploads.Endpoint != "" {
		up, err := remote.NewMinioUploader(cfg.Uploads)
		if err != nil {
			st.Close()
			return nil, err
		}
		uploader = up
	}

	cacheMgr := cache.NewManager(st, remoteStore, cfg.Cache)

	svc := sync.NewService(st, remoteStore, uploader, cacheMgr, cfg.Sync)

	monitor := connectivity.NewMonitor(cfg.Connectivity)
	if cfg.Connectivity.ProbeURL == "" && cfg.Remote.BaseURL != "" {
		monitor = connectivity.NewMonitor(config.ConnectivityConfig{
			ProbeURL:            cfg.Remote.BaseURL,
			ProbeTimeoutSeconds: cfg.Connectivity.ProbeTimeoutSeconds,
			IntervalSeconds:     cfg.Connectivity.IntervalSeconds,
		})
	}

	trigger := func() {
		if !monitor.Online() {
			return
		}
		go func() {
			if _, err := svc.Sync(context.Background()); err != nil && err != sync.ErrSyncInProgress {
				logging.Error("triggered sync failed", err, nil)
			}
		}()
	}
	writer := sync.NewWriter(st, trigger)

	return &engine{
		cfg:     cfg,
		store:   st,
		cache:   cacheMgr,
		service: svc,
		monitor: monitor,
		writer:  writer,
	}, nil
}

func syncCommand() *cli.Command {
	return &cli.Command{
		Name:  "sync",
		Usage: "run one drain cycle now",
		Action: func(c *cli.Context) error {
			e, err := openEngine(c)
			if err != nil {
				return err
			}
			defer e.Close()

			result, err := e.service.Sync(c.Context)
			if err != nil {
				return err
			}

			fmt.Printf("Operations: %d synced, %d failed\n", result.OpsSynced, result.OpsFailed)
			fmt.Printf("Reports:    %d synced, %d failed\n", result.ReportsSynced, result.ReportsFailed)
			if result.Conflicts > 0 {
				fmt.Printf("Conflicts:  %d detected, %d logged for review\n",
					result.Conflicts, result.ConflictsLogged)
			}
			fmt.Printf("Duration:   %s\n", result.Duration.Round(time.Millisecond))
			if result.Failed() {
				return cli.Exit("sync finished with failures", 1)
			}
			return nil
		},
	}
}

func statusCommand() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "show queue depths and cache usage",
		Action: func(c *cli.Context) error {
			e, err := openEngine(c)
			if err != nil {
				return err
			}
			defer e.Close()

			ops, err := e.store.CountPendingOperations()
			if err != nil {
				return err
			}
			pending, err := e.store.CountPendingReports(models.ReportStatusPending)
			if err != nil {
				return err
			}
			failed, err := e.store.CountPendingReports(models.ReportStatusFailed)
			if err != nil {
				return err
			}
			conflicts, err := e.store.UnresolvedConflicts()
			if err != nil {
				return err
			}
			stats := e.cache.Stats()

			fmt.Printf("Pending operations:   %d\n", ops)
			fmt.Printf("Pending reports:      %d\n", pending)
			fmt.Printf("Failed reports:       %d\n", failed)
			fmt.Printf("Unresolved conflicts: %d\n", len(conflicts))
			fmt.Printf("Cache usage:          %d bytes (%.1f%%), %d entries\n",
				stats.TrackedBytes, stats.PercentUsed, stats.Entries)
			return nil
		},
	}
}

func retryCommand() *cli.Command {
	return &cli.Command{
		Name:  "retry",
		Usage: "re-queue failed reports and run a drain cycle",
		Action: func(c *cli.Context) error {
			e, err := openEngine(c)
			if err != nil {
				return err
			}
			defer e.Close()

			n, err := e.service.RetryFailedReports()
			if err != nil {
				return err
			}
			fmt.Printf("Re-queued %d failed report(s)\n", n)
			if n == 0 {
				return nil
			}

			result, err := e.service.Sync(c.Context)
			if err != nil {
				return err
			}
			fmt.Printf("Reports: %d synced, %d failed\n", result.ReportsSynced, result.ReportsFailed)
			return nil
		},
	}
}

func conflictsCommand() *cli.Command {
	return &cli.Command{
		Name:  "conflicts",
		Usage: "inspect and resolve logged conflicts",
		Subcommands: []*cli.Command{
			{
				Name:  "list",
				Usage: "list conflicts awaiting review",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "json", Usage: "emit JSON"},
				},
				Action: func(c *cli.Context) error {
					e, err := openEngine(c)
					if err != nil {
						return err
					}
					defer e.Close()

					conflicts, err := e.store.UnresolvedConflicts()
					if err != nil {
						return err
					}
					if c.Bool("json") {
						return json.NewEncoder(os.Stdout).Encode(conflicts)
					}
					if len(conflicts) == 0 {
						fmt.Println("No conflicts awaiting review")
						return nil
					}
					for _, cf := range conflicts {
						fmt.Printf("%s  %s/%s  strategy=%s  detected=%s\n",
							cf.ID, cf.Collection, cf.RecordID, cf.Strategy,
							time.UnixMilli(cf.DetectedAt).Format(time.RFC3339))
						if cf.ConflictingFields != "" {
							fmt.Printf("    fields: %s\n", cf.ConflictingFields)
						}
					}
					return nil
				},
			},
			{
				Name:      "resolve",
				Usage:     "mark a conflict resolved",
				ArgsUsage: "<conflict-id> <keep_local|keep_remote>",
				Action: func(c *cli.Context) error {
					if c.NArg() != 2 {
						return apperrors.New(apperrors.CodeValidation,
							"usage: conflicts resolve <conflict-id> <keep_local|keep_remote>")
					}
					choice := c.Args().Get(1)
					if choice != "keep_local" && choice != "keep_remote" {
						return apperrors.New(apperrors.CodeValidation,
							"resolution must be keep_local or keep_remote")
					}

					e, err := openEngine(c)
					if err != nil {
						return err
					}
					defer e.Close()

					if err := e.store.ResolveConflict(c.Args().Get(0), choice); err != nil {
						return err
					}
					fmt.Println("Conflict resolved:", choice)
					return nil
				},
			},
		},
	}
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "run the engine: connectivity monitor, cache sweeper and status endpoint",
		Action: func(c *cli.Context) error {
			e, err := openEngine(c)
			if err != nil {
				return err
			}
			defer e.Close()

			hub := status.NewHub()
			defer hub.Stop()
			unsubscribe := hub.Bridge(e.service)
			defer unsubscribe()

			// Drain whenever connectivity comes back with work queued.
			e.monitor.OnChange(func(online bool) {
				hub.Broadcast(status.EventConnectivity, map[string]interface{}{"online": online})
				if !online {
					return
				}
				go func() {
					if _, err := e.service.Sync(context.Background()); err != nil && err != sync.ErrSyncInProgress {
						logging.Error("reconnect sync failed", err, nil)
					}
				}()
			})
			e.monitor.Start()
			e.cache.Start()
			go e.cache.PrefetchEssentialData(context.Background())

			mux := http.NewServeMux()
			mux.HandleFunc("/ws", hub.Handler())
			mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			})

			srv := &http.Server{
				Addr:              e.cfg.Status.ListenAddr,
				Handler:           mux,
				ReadHeaderTimeout: 5 * time.Second,
			}
			go func() {
				logging.Info("status endpoint listening", logging.Fields{"addr": srv.Addr})
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					logging.Error("status endpoint failed", err, nil)
				}
			}()

			// Initial drain if anything queued up while we were down.
			go func() {
				if e.monitor.Check(context.Background()) {
					if _, err := e.service.Sync(context.Background()); err != nil && err != sync.ErrSyncInProgress {
						logging.Error("startup sync failed", err, nil)
					}
				}
			}()

			sig := make(chan os.Signal, 1)
			signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
			<-sig

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
			logging.Info("shutdown complete", nil)
			return nil
		},
	}
}
