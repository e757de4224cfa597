package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/lazyclaw/lazyops/internal/config"
	"github.com/lazyclaw/lazyops/internal/gateway"
	"github.com/lazyclaw/lazyops/internal/logging"
	"github.com/lazyclaw/lazyops/internal/metrics"
	"github.com/lazyclaw/lazyops/internal/models"
	"github.com/lazyclaw/lazyops/internal/notify"
	"github.com/lazyclaw/lazyops/internal/realtime"
	"github.com/lazyclaw/lazyops/internal/state"
	"github.com/lazyclaw/lazyops/internal/ui"
	"github.com/spf13/cobra"
)

// version is set with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

type rootOptions struct {
	configPath string
	mock       bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:          "lazyops",
		Short:        "Terminal dashboard for automation backends",
		Long:         "lazyops follows jobs, pipelines and sessions of one or more backends in real time\nand keeps an opportunity board in sync with optimistic updates.",
		Version:      version,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDashboard(opts)
		},
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "config file (default $XDG_CONFIG_HOME/lazyops/config.yml)")
	root.PersistentFlags().BoolVar(&opts.mock, "mock", false, "run against an in-process mock backend")

	root.AddCommand(newTailCmd(opts))
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "lazyops", version)
		},
	})
	return root
}

// setupLogging sends logs to the configured file, or to w when w is set
func setupLogging(cfg *config.Config, w io.Writer) (func(), error) {
	if w != nil {
		logging.Init(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format, Output: w})
		return func() {}, nil
	}
	path := cfg.Logging.File
	if path == "" {
		p, err := logging.DefaultFilePath()
		if err != nil {
			return nil, err
		}
		path = p
	}
	f, err := logging.OpenFile(path)
	if err != nil {
		return nil, err
	}
	logging.Init(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format, Output: f})
	return func() { _ = f.Close() }, nil
}

// startMock serves a mock backend on a loopback port
func startMock() (models.InstanceProfile, func(), error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return models.InstanceProfile{}, nil, fmt.Errorf("mock listener: %w", err)
	}
	mock := gateway.NewMock(gateway.MockOptions{EventInterval: 2 * time.Second, FailureRate: 0.1})
	srv := &http.Server{Handler: mock, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Warn().Err(err).Msg("Mock backend stopped")
		}
	}()
	logging.Info().Str("addr", ln.Addr().String()).Msg("Mock backend listening")

	profile := models.InstanceProfile{
		Name:      "mock",
		BaseURL:   "http://" + ln.Addr().String(),
		SessionID: "demo-session",
	}
	stop := func() {
		mock.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
	return profile, stop, nil
}

// prepare loads config, configures logging and starts optional services.
// The returned cleanup must run before exit.
func prepare(opts *rootOptions, logTo io.Writer) (*config.Config, bool, func(), error) {
	cfg, firstRun, err := config.Load(opts.configPath)
	if err != nil {
		return nil, false, nil, fmt.Errorf("loading config: %w", err)
	}

	closeLog, err := setupLogging(cfg, logTo)
	if err != nil {
		return nil, false, nil, fmt.Errorf("opening log: %w", err)
	}
	cleanups := []func(){closeLog}
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	if cfg.Metrics.Addr != "" {
		srv := metrics.Serve(cfg.Metrics.Addr)
		cleanups = append(cleanups, func() { _ = srv.Close() })
	}

	if opts.mock {
		profile, stop, err := startMock()
		if err != nil {
			cleanup()
			return nil, false, nil, err
		}
		cleanups = append(cleanups, stop)
		cfg.Instances = append([]models.InstanceProfile{profile}, cfg.Instances...)
	}
	return cfg, firstRun, cleanup, nil
}

func runDashboard(opts *rootOptions) error {
	cfg, firstRun, cleanup, err := prepare(opts, nil)
	if err != nil {
		return err
	}
	defer cleanup()

	if firstRun && !opts.mock {
		if err := config.Save(config.DefaultConfig(), opts.configPath); err != nil {
			logging.Warn().Err(err).Msg("Failed to write default config")
		}
	}

	uiState, err := state.Load("")
	if err != nil {
		logging.Warn().Err(err).Msg("Failed to load UI state, using defaults")
	}

	app := ui.NewApp(cfg, uiState, opts.mock)
	defer app.Close()

	p := tea.NewProgram(app, tea.WithAltScreen())
	finalModel, err := p.Run()
	if err != nil {
		return fmt.Errorf("running lazyops: %w", err)
	}

	if finalApp, ok := finalModel.(*ui.App); ok {
		if err := state.Save(finalApp.GetState(), ""); err != nil {
			logging.Warn().Err(err).Msg("Failed to save UI state")
		}
	}
	return nil
}

func newTailCmd(root *rootOptions) *cobra.Command {
	var category, minSeverity string
	cmd := &cobra.Command{
		Use:   "tail [instance]",
		Short: "Connect every channel of an instance and print its events",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := ""
			if len(args) == 1 {
				name = args[0]
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runTail(ctx, root, name, realtime.Query{
				Category:    models.Category(category),
				MinSeverity: models.Severity(minSeverity),
			})
		},
	}
	cmd.Flags().StringVar(&category, "category", "", "only job, pipeline or session events")
	cmd.Flags().StringVar(&minSeverity, "min-severity", "", "hide events below this severity")
	return cmd
}

func runTail(ctx context.Context, opts *rootOptions, name string, filter realtime.Query) error {
	cfg, _, cleanup, err := prepare(opts, os.Stderr)
	if err != nil {
		return err
	}
	defer cleanup()

	if len(cfg.Instances) == 0 {
		return errors.New("no instances configured; add one to the config file or use --mock")
	}
	profile := &cfg.Instances[0]
	if name != "" {
		if profile = cfg.GetInstance(name); profile == nil {
			return fmt.Errorf("unknown instance %q", name)
		}
	}

	queue := notify.NewQueue(cfg.QueueOptions()...)
	defer queue.Close()
	inst, err := gateway.OpenInstance(*profile, cfg.InstanceOptions(queue))
	if err != nil {
		return err
	}
	defer inst.Close()

	logger := logging.With("tail").Str("instance", inst.Name()).Logger()
	inst.Start()
	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("Stopping")
			return nil
		case msg := <-inst.Updates():
			switch m := msg.(type) {
			case gateway.ChannelStatusMsg:
				logger.Info().
					Str("channel", m.Status.Channel).
					Str("state", m.Status.Label()).
					Int("attempt", m.Status.Attempt).
					Msg("Channel status")
			case gateway.EventMsg:
				if !filter.Matches(m.Event) {
					continue
				}
				logger.Info().
					Str("channel", m.Channel).
					Str("category", string(m.Event.Category)).
					Str("type", m.Event.Type).
					Str("severity", string(m.Event.Severity)).
					Str("id", m.Event.ID).
					Msg(m.Event.Message)
			}
		}
	}
}
