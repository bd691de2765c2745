package cli

import (
	"context"
	"errors"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"spesesync/internal/authority"
	"spesesync/internal/config"
	"spesesync/internal/ledger"
	applog "spesesync/internal/log"
)

const (
	// DefaultWait bounds how long a command polls for the authority's echo.
	DefaultWait  = 5 * time.Second
	pollInterval = 20 * time.Millisecond
)

var errRejected = errors.New("expense rejected by the authority")

type options struct {
	configPath string
	authority  string
	url        string
	principal  string
	seedFile   string
	currency   string
	logLevel   string
	wait       time.Duration
}

type app struct {
	factory authority.Factory
	opts    options
	cfg     *config.Config
	logger  *applog.Logger
}

// NewRootCommand builds the spese command tree. A nil factory opens
// authorities with authority.NewFactory.
func NewRootCommand(factory authority.Factory) *cobra.Command {
	a := &app{factory: factory}

	root := &cobra.Command{
		Use:   "spese",
		Short: "Record and inspect expenses",
		Long: `spese records expenses optimistically and reconciles them with a ledger
authority: an in-process memory ledger or a spese-server over websocket.

Example usage:
  spese add 12.50 food
  spese --authority remote --url ws://localhost:8081/ws summary
  spese breakdown --scope window`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
	}

	f := root.PersistentFlags()
	f.StringVar(&a.opts.configPath, "config", os.Getenv("SPESE_CONFIG"), "TOML configuration file")
	f.StringVar(&a.opts.authority, "authority", "", "authority type: memory or remote")
	f.StringVar(&a.opts.url, "url", "", "websocket URL of the remote authority")
	f.StringVar(&a.opts.principal, "principal", "", "ledger owner")
	f.StringVar(&a.opts.seedFile, "seed", "", "seed file for the memory authority")
	f.StringVar(&a.opts.currency, "currency", "", "ISO 4217 currency used to render amounts")
	f.StringVar(&a.opts.logLevel, "log-level", "", "log level: debug, info, warn or error")
	f.DurationVar(&a.opts.wait, "wait", DefaultWait, "how long to wait for the authority to answer")

	root.AddCommand(
		newAddCommand(a),
		newRevokeCommand(a),
		newRecentCommand(a),
		newRangeCommand(a),
		newSummaryCommand(a),
		newBreakdownCommand(a),
	)
	return root
}

// setup loads the configuration and applies the flags the user set
// explicitly on top of it.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.LoadWithFile(a.opts.configPath)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("authority") {
		cfg.Authority = a.opts.authority
	}
	if flags.Changed("url") {
		cfg.AuthorityURL = a.opts.url
	}
	if flags.Changed("principal") {
		cfg.Principal = a.opts.principal
	}
	if flags.Changed("currency") {
		cfg.Currency = strings.ToUpper(a.opts.currency)
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = a.opts.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	a.cfg = cfg
	a.logger = NewLogger(cmd.ErrOrStderr(), cfg.LogLevel, applog.ComponentCLI)
	if a.factory == nil {
		a.factory = authority.NewFactory(a.logger)
	}
	return nil
}

// open connects to the configured authority and builds a view over it. The
// returned func releases the authority.
func (a *app) open(ctx context.Context) (*ledger.View, func(), error) {
	acfg, err := authority.FromAppConfig(a.cfg)
	if err != nil {
		return nil, nil, err
	}
	acfg.SeedFile = a.opts.seedFile

	res, err := a.factory.Open(ctx, acfg)
	if err != nil {
		return nil, nil, err
	}
	view := ledger.New(res.Authority,
		ledger.WithWindow(a.cfg.Window()),
		ledger.WithLogger(a.logger))

	release := func() {
		if res.Cleanup == nil {
			return
		}
		if err := res.Cleanup(); err != nil {
			a.logger.Warn("Failed to close authority", applog.FieldError, err)
		}
	}
	return view, release, nil
}

// settle polls until done holds or the wait elapses. It reports whether done
// held.
func (a *app) settle(ctx context.Context, done func() bool) bool {
	if done() {
		return true
	}
	ctx, cancel := context.WithTimeout(ctx, a.opts.wait)
	defer cancel()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return done()
		case <-ticker.C:
			if done() {
				return true
			}
		}
	}
}
