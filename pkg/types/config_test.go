package types

import (
	"errors"
	"testing"
	"time"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr error
	}{
		{
			name:    "empty api url returns ErrAPIURLEmpty",
			config:  Config{Timeout: time.Second},
			wantErr: ErrAPIURLEmpty,
		},
		{
			name:    "relative api url returns ErrAPIURLInvalid",
			config:  Config{APIURL: "/api", Timeout: time.Second},
			wantErr: ErrAPIURLInvalid,
		},
		{
			name:    "non-http scheme returns ErrAPIURLInvalid",
			config:  Config{APIURL: "ftp://example.com/api", Timeout: time.Second},
			wantErr: ErrAPIURLInvalid,
		},
		{
			name:    "zero timeout returns ErrTimeoutInvalid",
			config:  Config{APIURL: DefaultAPIURL},
			wantErr: ErrTimeoutInvalid,
		},
		{
			name:   "valid config",
			config: Config{APIURL: DefaultAPIURL, Timeout: DefaultTimeout},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("expected nil error, got %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected error %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestServerConfigValidate(t *testing.T) {
	valid := ServerConfig{Listen: DefaultListen, DataDir: "/tmp/data", JWTSecret: "s", TokenTTL: time.Hour}

	tests := []struct {
		name    string
		mutate  func(*ServerConfig)
		wantErr error
	}{
		{"valid", func(*ServerConfig) {}, nil},
		{"empty listen", func(c *ServerConfig) { c.Listen = "" }, ErrListenEmpty},
		{"empty data dir", func(c *ServerConfig) { c.DataDir = "" }, ErrDataDirEmpty},
		{"empty secret", func(c *ServerConfig) { c.JWTSecret = "" }, ErrJWTSecretEmpty},
		{"zero ttl", func(c *ServerConfig) { c.TokenTTL = 0 }, ErrTokenTTLInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			err := cfg.Validate()
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected error %v, got %v", tt.wantErr, err)
			}
		})
	}
}
