package cmd

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/alpacahq/oplogreplay/internal/di"
	"github.com/alpacahq/oplogreplay/metrics"
	"github.com/alpacahq/oplogreplay/utils"
	"github.com/alpacahq/oplogreplay/utils/log"
)

const (
	lagMonitorInterval = 10 * time.Second
	shutdownTimeout    = 5 * time.Second
)

// replayFlags holds the command line overrides of the configuration.
type replayFlags struct {
	configFilePath string
	replicaSet     string
	verbose        bool
	start          string
	pollInterval   time.Duration
	noIndexes      bool
	databases      []string
	database       string
	collection     string
	metricsListen  string
}

func (f *replayFlags) register(c *cobra.Command) {
	fl := c.Flags()
	fl.StringVarP(&f.configFilePath, "config", "c", "", "path to a YAML configuration file")
	fl.StringVarP(&f.replicaSet, "replSet", "r", "", "replica set name, discovered from the source when empty")
	fl.BoolVarP(&f.verbose, "verbose", "v", false, "increase verbosity")
	fl.StringVar(&f.start, "start", "", "replay entries after this <seconds>:<increment> instead of the checkpoint")
	fl.DurationVar(&f.pollInterval, "poll-interval", 0, "wait between two polls of an idle oplog")
	fl.BoolVar(&f.noIndexes, "no-indexes", false, "do not replay index creations and drops")
	fl.StringSliceVar(&f.databases, "databases", nil, "only replay these databases (glob patterns allowed)")
	fl.StringVar(&f.database, "database", "", "only tail the oplog of this database")
	fl.StringVar(&f.collection, "collection", "", "only tail the oplog of this collection (needs --database)")
	fl.StringVar(&f.metricsListen, "metrics-listen", "", "serve prometheus metrics on this address, e.g. :9090")
}

// config reads the configuration file, the environment, then the flags, each overriding the previous one.
func (f *replayFlags) config(cmd *cobra.Command, args []string) (*utils.ReplayConfig, error) {
	cfg := utils.NewDefaultConfig()
	if f.configFilePath != "" {
		data, err := os.ReadFile(f.configFilePath)
		if err != nil {
			return nil, errors.Wrap(err, "failed to read configuration file")
		}
		log.Info("using %v for configuration", f.configFilePath)
		if cfg, err = utils.ParseConfig(data); err != nil {
			return nil, errors.Wrap(err, "failed to parse configuration file")
		}
	}
	if err := cfg.ApplyEnv(nil); err != nil {
		return nil, err
	}

	if len(args) > 0 {
		cfg.Source = args[0]
	}
	if len(args) > 1 {
		cfg.Destination = args[1]
	}
	fl := cmd.Flags()
	if fl.Changed("replSet") {
		cfg.ReplicaSet = f.replicaSet
	}
	if f.verbose {
		cfg.LogLevel = log.DEBUG
	}
	if err := cfg.SetStartPosition(f.start); err != nil {
		return nil, err
	}
	if fl.Changed("poll-interval") {
		cfg.PollInterval = f.pollInterval
	}
	if f.noIndexes {
		cfg.ReplayIndexes = false
	}
	if fl.Changed("databases") {
		cfg.Databases = f.databases
	}
	if fl.Changed("database") {
		cfg.Database = f.database
	}
	if fl.Changed("collection") {
		cfg.Collection = f.collection
	}
	if fl.Changed("metrics-listen") {
		cfg.MetricsListen = f.metricsListen
	}
	return cfg, cfg.Validate()
}

// executeReplay implements the root command.
func executeReplay(cmd *cobra.Command, args []string, f *replayFlags) error {
	cfg, err := f.config(cmd, args)
	if err != nil {
		return err
	}
	// Don't output command usage once the arguments are correct
	cmd.SilenceUsage = true
	log.SetLevel(cfg.LogLevel)
	defer log.Sync()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	c := di.NewContainer(cfg)
	defer func() {
		if err2 := c.Close(context.Background()); err2 != nil {
			log.Warn("failed to close connections: %v", err2)
		}
	}()

	start := time.Now()
	r, err := c.GetReplayer(ctx)
	if err != nil {
		return err
	}
	startupTime := time.Since(start)
	metrics.StartupTime.Set(startupTime.Seconds())
	log.Info("startup time: %s", startupTime)

	if cfg.MetricsListen != "" {
		srv, err := serveMetrics(cfg.MetricsListen)
		if err != nil {
			return err
		}
		defer func() {
			sctx, scancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer scancel()
			_ = srv.Shutdown(sctx)
		}()
	}
	go metrics.StartLagMonitor(ctx, c.GetObserver(), r.Position, lagMonitorInterval)

	// Stop replaying on SIGINT/SIGTERM.
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(signalChan)
	go func() {
		select {
		case s := <-signalChan:
			log.Info("received %s, stopping after the current entry...", s)
			r.Stop()
		case <-ctx.Done():
		}
	}()

	log.Info("replaying oplogs...")
	err = r.Run(ctx)
	stats := r.Stats()
	log.Info("stopped at %d:%d: replayed=%d skipped=%d failed=%d",
		stats.LastTimestamp.T, stats.LastTimestamp.I, stats.Replayed, stats.Skipped, stats.Failed)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// serveMetrics starts the prometheus endpoint in the background.
func serveMetrics(addr string) (*http.Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to listen on %s", addr)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	log.Info("launching prometheus metrics server on %s...", ln.Addr())
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server error: %v", err)
		}
	}()
	return srv, nil
}
