package authority

import (
	"context"
	"fmt"
	"time"

	"spesesync/internal/authority/memory"
	"spesesync/internal/authority/remote"
	applog "spesesync/internal/log"
)

// DefaultFactory implements the Factory interface
type DefaultFactory struct {
	logger *applog.Logger
}

// NewFactory creates a new authority factory
func NewFactory(logger *applog.Logger) Factory {
	if logger == nil {
		logger = applog.Default(applog.ComponentAuthority)
	}
	return &DefaultFactory{
		logger: logger.WithComponent(applog.ComponentAuthority),
	}
}

// Open implements Factory.Open
func (f *DefaultFactory) Open(ctx context.Context, config Config) (*Result, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	switch config.Type {
	case MemoryAuthority:
		return f.openMemory(config)
	case RemoteAuthority:
		return f.openRemote(ctx, config)
	default:
		return nil, errInvalidType(config.Type)
	}
}

func (f *DefaultFactory) openMemory(config Config) (*Result, error) {
	opts := []memory.Option{memory.WithPrincipal(config.Principal)}
	if config.Window > 0 {
		opts = append(opts, memory.WithWindow(config.Window))
	}
	if config.SeedFile != "" {
		seed, err := memory.ReadSeedFile(config.SeedFile, time.Now())
		if err != nil {
			return nil, fmt.Errorf("failed to load seed: %w", err)
		}
		opts = append(opts, memory.WithSeed(seed))
	}

	a := memory.New(opts...)
	f.logger.Info("Initialized memory authority",
		applog.FieldPrincipal, config.Principal,
		"seed_file", config.SeedFile)

	return &Result{
		Authority: a,
		Cleanup:   nil,
	}, nil
}

func (f *DefaultFactory) openRemote(ctx context.Context, config Config) (*Result, error) {
	a, err := remote.Dial(ctx, remote.Config{
		URL:         config.URL,
		Principal:   config.Principal,
		InitTimeout: config.InitTimeout,
		Logger:      f.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to authority: %w", err)
	}

	f.logger.Info("Connected to remote authority",
		"url", config.URL,
		applog.FieldPrincipal, config.Principal)

	return &Result{
		Authority: a,
		Cleanup:   a.Close,
	}, nil
}
