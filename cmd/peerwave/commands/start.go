package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/peerwave/peerwave/internal/logger"
	"github.com/peerwave/peerwave/pkg/api"
	"github.com/peerwave/peerwave/pkg/config"
	"github.com/peerwave/peerwave/pkg/metrics"
	promrec "github.com/peerwave/peerwave/pkg/metrics/prometheus"
	"github.com/peerwave/peerwave/pkg/node"
	tmemory "github.com/peerwave/peerwave/pkg/transport/memory"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start a mesh node",
	Long: `Start runs a node until interrupted. Without a radio binding the node
attaches to an in-process transport fabric; real deployments embed the
library and supply their transport (see pkg/transport).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := configPath()
		cfg, err := config.Load(path)
		if err != nil {
			return err
		}
		if err := logger.Init(logger.Config(cfg.Logging)); err != nil {
			return err
		}

		st, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer st.Close()

		var rec metrics.Recorder
		if cfg.Metrics.Enabled {
			rec = promrec.NewRecorder(prometheus.DefaultRegisterer)
		}

		n := node.New(cfg, st, nil, rec)
		if err := n.Initialize(); err != nil {
			return err
		}

		fabric := tmemory.NewNetwork()
		if err := n.SetTransport(fabric.Endpoint(n.PeerID())); err != nil {
			return err
		}

		ctx := context.Background()
		if err := n.Start(ctx); err != nil {
			return err
		}
		defer n.Destroy()

		var apiServer *api.Server
		if cfg.Metrics.Enabled {
			apiServer = api.NewServer(cfg.Metrics.ListenAddress, n)
			apiServer.Start()
		}

		// Hot-reload the log level on config file edits.
		if path != "" {
			stopWatch, err := config.Watch(path, func(next *config.Config) {
				logger.SetLevel(next.Logging.Level)
			})
			if err != nil {
				logger.Warn("config watch unavailable", logger.Err(err))
			} else {
				defer stopWatch()
			}
		}

		// Drain events into the log until a signal arrives.
		sigs := make(chan os.Signal, 1)
		signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
		fmt.Printf("peerwave node %s running\n", n.PeerID())

		for {
			select {
			case sig := <-sigs:
				logger.Info("shutting down", "signal", sig.String())
				if apiServer != nil {
					shutdownCtx, cancel := context.WithTimeout(ctx, cfg.ShutdownTimeout)
					if err := apiServer.Shutdown(shutdownCtx); err != nil {
						logger.Warn("api shutdown", logger.Err(err))
					}
					cancel()
				}
				return nil
			case e := <-n.Events():
				logger.Debug("event", "type", string(e.Type),
					logger.PeerID(e.PeerID), logger.Reason(e.Reason))
			}
		}
	},
}

func init() {
	rootCmd.AddCommand(startCmd)
}
