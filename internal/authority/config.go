package authority

import (
	"fmt"
	"time"

	"spesesync/internal/config"
)

// Config holds configuration for authority creation
type Config struct {
	Type Type

	Principal string
	Window    time.Duration

	// Remote specific
	URL         string
	InitTimeout time.Duration

	// Memory specific: optional seed file, see memory.ReadSeedFile
	SeedFile string
}

// FromAppConfig converts the application config to authority config
func FromAppConfig(appConfig *config.Config) (Config, error) {
	if appConfig == nil {
		return Config{}, fmt.Errorf("app config is nil")
	}

	t := Type(appConfig.Authority)
	if !t.IsValid() {
		return Config{}, errInvalidType(t)
	}

	return Config{
		Type:        t,
		Principal:   appConfig.Principal,
		Window:      appConfig.Window(),
		URL:         appConfig.AuthorityURL,
		InitTimeout: appConfig.InitTimeout,
	}, nil
}

// Validate validates the authority configuration
func (c Config) Validate() error {
	if !c.Type.IsValid() {
		return errInvalidType(c.Type)
	}
	if c.Principal == "" {
		return fmt.Errorf("principal is required")
	}
	if c.Type == RemoteAuthority && c.URL == "" {
		return fmt.Errorf("URL is required for remote authority")
	}
	return nil
}
