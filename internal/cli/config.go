package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/mesh-intelligence/assetdesk/internal/paths"
	"github.com/mesh-intelligence/assetdesk/pkg/types"
)

const (
	configFileName = "config"
	configFileType = "yaml"
	envPrefix      = "ASSETDESK"

	cfgKeyAPIURL    = "api_url"
	cfgKeyToken     = "token"
	cfgKeyTimeout   = "timeout"
	cfgKeyBasePath  = "base_path"
	cfgKeyListen    = "listen"
	cfgKeyDataDir   = "data_dir"
	cfgKeyJWTSecret = "jwt_secret"
	cfgKeyTokenTTL  = "token_ttl"
)

// defaultConfigYAML is written to config.yaml on first run. The dev server
// secret is generated per installation.
const defaultConfigYAML = `# assetdesk configuration

# Backend REST API
api_url: %s
timeout: %s
base_path: %s

# Session token, written by "assetdesk login"
token: ""

# Development backend ("assetdesk serve")
listen: %s
jwt_secret: %s
token_ttl: %s
# data_dir:
`

// settings is the loaded configuration and where it came from.
type settings struct {
	v         *viper.Viper
	configDir string
}

// loadConfig reads config.yaml from the resolved config directory using
// Viper. It creates the directory and a default config.yaml on first run.
// ASSETDESK_* environment variables override file values.
func loadConfig(flags *rootFlags) (*settings, error) {
	configDir, err := paths.ResolveConfigDir(flags.configDir)
	if err != nil {
		return nil, fmt.Errorf("resolve config dir: %w", err)
	}
	if err := paths.EnsureDir(configDir); err != nil {
		return nil, fmt.Errorf("ensure config dir: %w", err)
	}
	if err := ensureDefaultConfigFile(configDir); err != nil {
		return nil, fmt.Errorf("ensure default config: %w", err)
	}

	v := viper.New()
	v.SetDefault(cfgKeyAPIURL, types.DefaultAPIURL)
	v.SetDefault(cfgKeyTimeout, types.DefaultTimeout)
	v.SetDefault(cfgKeyBasePath, types.DefaultBasePath)
	v.SetDefault(cfgKeyListen, types.DefaultListen)
	v.SetDefault(cfgKeyTokenTTL, types.DefaultTokenTTL)
	v.SetConfigName(configFileName)
	v.SetConfigType(configFileType)
	v.AddConfigPath(configDir)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	if flags.apiURL != "" {
		v.Set(cfgKeyAPIURL, flags.apiURL)
	}
	return &settings{v: v, configDir: configDir}, nil
}

func ensureDefaultConfigFile(configDir string) error {
	path := paths.ConfigFile(configDir)
	_, err := os.Stat(path)
	if err == nil {
		return nil
	}
	if !os.IsNotExist(err) {
		return fmt.Errorf("stat config file: %w", err)
	}
	content := fmt.Sprintf(defaultConfigYAML,
		types.DefaultAPIURL, types.DefaultTimeout, types.DefaultBasePath,
		types.DefaultListen, uuid.NewString(), types.DefaultTokenTTL)
	return os.WriteFile(path, []byte(content), 0o600)
}

// Console returns the console settings.
func (s *settings) Console() types.Config {
	return types.Config{
		APIURL:   s.v.GetString(cfgKeyAPIURL),
		Token:    s.v.GetString(cfgKeyToken),
		Timeout:  s.v.GetDuration(cfgKeyTimeout),
		BasePath: s.v.GetString(cfgKeyBasePath),
	}
}

// Server returns the development backend settings with the data directory
// resolved against dataDirFlag.
func (s *settings) Server(dataDirFlag string) (types.ServerConfig, error) {
	dataDir, err := paths.ResolveDataDir(dataDirFlag, s.v.GetString(cfgKeyDataDir))
	if err != nil {
		return types.ServerConfig{}, fmt.Errorf("resolve data dir: %w", err)
	}
	return types.ServerConfig{
		Listen:    s.v.GetString(cfgKeyListen),
		DataDir:   dataDir,
		JWTSecret: s.v.GetString(cfgKeyJWTSecret),
		TokenTTL:  s.v.GetDuration(cfgKeyTokenTTL),
	}, nil
}

// SaveToken stores token in config.yaml, keeping the rest of the file
// (comments included) as written.
func (s *settings) SaveToken(token string) error {
	path := paths.ConfigFile(s.configDir)
	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("read config: %w", err)
	}

	var doc yaml.Node
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("parse config: %w", err)
		}
	}
	if doc.Kind == 0 {
		doc = yaml.Node{Kind: yaml.DocumentNode, Content: []*yaml.Node{{Kind: yaml.MappingNode}}}
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return fmt.Errorf("parse config: %s is not a mapping", path)
	}
	setScalar(root, cfgKeyToken, token)

	out, err := yaml.Marshal(&doc)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, out, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	s.v.Set(cfgKeyToken, token)
	return nil
}

func setScalar(mapping *yaml.Node, key, value string) {
	for i := 0; i+1 < len(mapping.Content); i += 2 {
		if mapping.Content[i].Value == key {
			mapping.Content[i+1].Kind = yaml.ScalarNode
			mapping.Content[i+1].Tag = "!!str"
			mapping.Content[i+1].Value = value
			mapping.Content[i+1].Style = yaml.DoubleQuotedStyle
			return
		}
	}
	mapping.Content = append(mapping.Content,
		&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key},
		&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: value, Style: yaml.DoubleQuotedStyle},
	)
}

