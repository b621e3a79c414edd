package cli

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rudransh-shrivastava/peer-sync/internal/logger"
	"github.com/rudransh-shrivastava/peer-sync/internal/metrics"
	"github.com/rudransh-shrivastava/peer-sync/internal/node"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var (
	startAdvertising bool
	startBrowsing    bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "runs a peersync node",
	Long:  `runs a peersync node with an interactive prompt on stdin, logs go to stderr`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		log := logger.New(os.Stderr, cfg.Logging.Level)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		self, err := resolveIdentity(ctx, cfg)
		if err != nil {
			return err
		}
		log.Infof("Running as %s", self)

		m := metrics.New()
		if cfg.Metrics.Enabled {
			srv := serveMetrics(cfg.Metrics.Address, m, log)
			defer shutdownServer(srv)
		}

		n := node.FromConfig(cfg, self, log, m)
		runErr := make(chan error, 1)
		go func() { runErr <- n.Run(ctx) }()

		out := cmd.OutOrStdout()
		c := newConsole(n, out)
		var s *slider
		if term.IsTerminal(int(os.Stdout.Fd())) {
			s = newSlider(out)
		}
		go c.watch(n.Updates(), s)

		if startAdvertising {
			if err := n.StartAdvertising(ctx); err != nil {
				log.Warnf("Failed to start advertising: %v", err)
			}
		}
		if startBrowsing {
			if err := n.StartBrowsing(ctx); err != nil {
				log.Warnf("Failed to start browsing: %v", err)
			}
		}

		go func() {
			err := c.run(ctx, cmd.InOrStdin())
			switch {
			case errors.Is(err, io.EOF):
				log.Info("No more input, running until interrupted")
			case err != nil:
				log.Warnf("Console stopped: %v", err)
			default:
				stop()
			}
		}()

		return <-runErr
	},
}

func init() {
	runCmd.Flags().BoolVar(&startAdvertising, "advertise", false, "start advertising immediately")
	runCmd.Flags().BoolVar(&startBrowsing, "browse", false, "start browsing immediately")
}

func serveMetrics(addr string, m *metrics.Metrics, log *logrus.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		log.Infof("Serving metrics on %s/metrics", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("Metrics server stopped: %v", err)
		}
	}()
	return srv
}

func shutdownServer(srv *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
}
