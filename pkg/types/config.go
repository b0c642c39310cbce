package types

import (
	"errors"
	"net/url"
	"time"
)

// Config holds the console's connection settings.
type Config struct {
	APIURL   string        `json:"api_url" yaml:"api_url" mapstructure:"api_url"`
	Token    string        `json:"token" yaml:"token" mapstructure:"token"`
	Timeout  time.Duration `json:"timeout" yaml:"timeout" mapstructure:"timeout"`
	BasePath string        `json:"base_path" yaml:"base_path" mapstructure:"base_path"`
}

// ServerConfig holds the development backend settings.
type ServerConfig struct {
	Listen    string        `json:"listen" yaml:"listen" mapstructure:"listen"`
	DataDir   string        `json:"data_dir" yaml:"data_dir" mapstructure:"data_dir"`
	JWTSecret string        `json:"jwt_secret" yaml:"jwt_secret" mapstructure:"jwt_secret"`
	TokenTTL  time.Duration `json:"token_ttl" yaml:"token_ttl" mapstructure:"token_ttl"`
}

// Defaults applied when a setting is absent.
const (
	DefaultAPIURL   = "http://127.0.0.1:8080/api"
	DefaultTimeout  = 60 * time.Second
	DefaultBasePath = "/"
	DefaultListen   = "127.0.0.1:8080"
	DefaultTokenTTL = 24 * time.Hour
)

// Config validation errors.
var (
	ErrAPIURLEmpty     = errors.New("api_url must not be empty")
	ErrAPIURLInvalid   = errors.New("api_url must be an absolute http(s) URL")
	ErrTimeoutInvalid  = errors.New("timeout must be positive")
	ErrListenEmpty     = errors.New("listen address must not be empty")
	ErrJWTSecretEmpty  = errors.New("jwt_secret must not be empty")
	ErrTokenTTLInvalid = errors.New("token_ttl must be positive")
	ErrDataDirEmpty    = errors.New("data_dir must not be empty")
)

// Validate checks that the Config is well-formed.
func (c Config) Validate() error {
	if c.APIURL == "" {
		return ErrAPIURLEmpty
	}
	u, err := url.Parse(c.APIURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return ErrAPIURLInvalid
	}
	if c.Timeout <= 0 {
		return ErrTimeoutInvalid
	}
	return nil
}

// Validate checks that the ServerConfig is well-formed.
func (c ServerConfig) Validate() error {
	if c.Listen == "" {
		return ErrListenEmpty
	}
	if c.DataDir == "" {
		return ErrDataDirEmpty
	}
	if c.JWTSecret == "" {
		return ErrJWTSecretEmpty
	}
	if c.TokenTTL <= 0 {
		return ErrTokenTTLInvalid
	}
	return nil
}
