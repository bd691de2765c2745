package authority

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"spesesync/internal/config"
	applog "spesesync/internal/log"
)

func TestType_IsValid(t *testing.T) {
	tests := []struct {
		in   Type
		want bool
	}{
		{MemoryAuthority, true},
		{RemoteAuthority, true},
		{"sqlite", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := tt.in.IsValid(); got != tt.want {
			t.Errorf("Type(%q).IsValid() = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestFromAppConfig(t *testing.T) {
	if _, err := FromAppConfig(nil); err == nil {
		t.Fatal("expected error for nil config")
	}

	app := &config.Config{
		Authority:    "remote",
		AuthorityURL: "ws://example.test/ws",
		Principal:    "alice",
		WindowDays:   7,
		InitTimeout:  time.Second,
	}
	cfg, err := FromAppConfig(app)
	if err != nil {
		t.Fatalf("FromAppConfig() error = %v", err)
	}
	if cfg.Type != RemoteAuthority || cfg.URL != app.AuthorityURL || cfg.Window != 7*24*time.Hour {
		t.Errorf("unexpected config: %+v", cfg)
	}

	app.Authority = "pigeon"
	if _, err := FromAppConfig(app); err == nil || !strings.Contains(err.Error(), "invalid authority type") {
		t.Errorf("expected invalid type error, got %v", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{"memory", Config{Type: MemoryAuthority, Principal: "a"}, false},
		{"remote", Config{Type: RemoteAuthority, Principal: "a", URL: "ws://x"}, false},
		{"remote without url", Config{Type: RemoteAuthority, Principal: "a"}, true},
		{"missing principal", Config{Type: MemoryAuthority}, true},
		{"bad type", Config{Type: "x", Principal: "a"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.config.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestOpenMemoryWithSeed(t *testing.T) {
	seed := filepath.Join(t.TempDir(), "seed.txt")
	if err := os.WriteFile(seed, []byte("10 food\n2.5\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	f := NewFactory(applog.Discard())
	res, err := f.Open(context.Background(), Config{Type: MemoryAuthority, Principal: "alice", SeedFile: seed})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if res.Cleanup != nil {
		t.Error("memory authority needs no cleanup")
	}
	snap, ok := res.Authority.TakeInit()
	if !ok {
		t.Fatal("expected seeded snapshot")
	}
	if snap.Lifetime.Alive != 2 || snap.Lifetime.Total != 1250 {
		t.Errorf("unexpected lifetime stats: %+v", snap.Lifetime)
	}
}

func TestOpenRemoteFailure(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	f := NewFactory(nil)
	_, err := f.Open(ctx, Config{Type: RemoteAuthority, Principal: "a", URL: "ws://127.0.0.1:1/ws"})
	if err == nil || !strings.Contains(err.Error(), "failed to connect to authority") {
		t.Errorf("expected connect error, got %v", err)
	}
}
