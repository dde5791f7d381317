// Package config loads psync settings from a YAML file and the environment.
//
// Precedence, highest first: PSYNC_* environment variables, the config file,
// built-in defaults. A few settings also fall back to the unprefixed variables
// other Jira tooling uses (JIRA_URL, JIRA_USERNAME, JIRA_API_TOKEN).
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const envPrefix = "PSYNC"

// DefaultFileName is the config file looked up when no path is given.
const DefaultFileName = "psync.yaml"

// Config keys.
const (
	KeyHost = "host"

	KeyJiraURL      = "jira.url"
	KeyJiraUsername = "jira.username"
	KeyJiraAPIToken = "jira.api_token"
	KeyJiraTimeout  = "jira.timeout"

	KeyServerAddr            = "server.addr"
	KeyServerShutdownTimeout = "server.shutdown_timeout"

	KeyStorageBackend = "storage.backend"
	KeyStoragePath    = "storage.path"
	KeyDoltDatabase   = "storage.dolt.database"
	KeyDoltServerMode = "storage.dolt.server_mode"
	KeyDoltHost       = "storage.dolt.host"
	KeyDoltPort       = "storage.dolt.port"
	KeyDoltUser       = "storage.dolt.user"
	KeyDoltPassword   = "storage.dolt.password"
	KeyDoltDSN        = "storage.dolt.dsn"

	KeyLogLevel  = "log.level"
	KeyLogFormat = "log.format"

	KeyRolesPortalOwner     = "roles.portal_owner"
	KeyRolesClient          = "roles.client"
	KeyRolesInternal        = "roles.internal"
	KeyAsAClientYes         = "as_a_client_yes"
	KeyCustomEventThreshold = "custom_event_threshold"
	KeySupportUser          = "support_user"

	KeyPriorityTable = "priority.table"
	KeyPriorityWatch = "priority.watch"

	KeyWebhookSecret = "webhook.secret"
	KeyWebhookMode   = "webhook.mode"
)

// Storage backends.
const (
	BackendSQLite = "sqlite"
	BackendDolt   = "dolt"
	BackendMemory = "memory"
)

// Webhook modes. Server mode receives the host's own webhooks; cloud mode also
// accepts the per-resource routes of a remote portal.
const (
	ModeServer = "server"
	ModeCloud  = "cloud"
)

// legacyEnv maps keys to the unprefixed variables read when the key is unset.
var legacyEnv = map[string]string{
	KeyJiraURL:      "JIRA_URL",
	KeyJiraUsername: "JIRA_USERNAME",
	KeyJiraAPIToken: "JIRA_API_TOKEN",
}

// Config is the complete psync configuration.
type Config struct {
	Host    string        `mapstructure:"host" yaml:"host"`
	Jira    JiraConfig    `mapstructure:"jira" yaml:"jira"`
	Server  ServerConfig  `mapstructure:"server" yaml:"server"`
	Storage StorageConfig `mapstructure:"storage" yaml:"storage"`
	Log     LogConfig     `mapstructure:"log" yaml:"log"`

	// Fields maps logical field roles to custom field IDs.
	Fields   map[string]string `mapstructure:"fields" yaml:"fields"`
	Projects []ProjectConfig   `mapstructure:"projects" yaml:"projects"`
	Roles    RolesConfig       `mapstructure:"roles" yaml:"roles"`

	AsAClientYes         string `mapstructure:"as_a_client_yes" yaml:"as_a_client_yes"`
	CustomEventThreshold int64  `mapstructure:"custom_event_threshold" yaml:"custom_event_threshold"`
	SupportUser          string `mapstructure:"support_user" yaml:"support_user"`

	Priority    PriorityConfig    `mapstructure:"priority" yaml:"priority"`
	Transitions TransitionsConfig `mapstructure:"transitions" yaml:"transitions"`
	Webhook     WebhookConfig     `mapstructure:"webhook" yaml:"webhook"`

	// File is the config file the values were read from, if any.
	File string `mapstructure:"-" yaml:"-"`
}

// JiraConfig holds host connection settings.
type JiraConfig struct {
	URL      string        `mapstructure:"url" yaml:"url"`
	Username string        `mapstructure:"username" yaml:"username"`
	APIToken string        `mapstructure:"api_token" yaml:"api_token"`
	Timeout  time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// ServerConfig holds webhook listener settings.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr" yaml:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// StorageConfig selects and configures the link store backend.
type StorageConfig struct {
	Backend string     `mapstructure:"backend" yaml:"backend"`
	Path    string     `mapstructure:"path" yaml:"path"`
	Dolt    DoltConfig `mapstructure:"dolt" yaml:"dolt"`
}

// DoltConfig holds Dolt settings. Path doubles as the embedded database directory.
type DoltConfig struct {
	Database   string `mapstructure:"database" yaml:"database"`
	ServerMode bool   `mapstructure:"server_mode" yaml:"server_mode"`
	Host       string `mapstructure:"host" yaml:"host"`
	Port       int    `mapstructure:"port" yaml:"port"`
	User       string `mapstructure:"user" yaml:"user"`
	Password   string `mapstructure:"password" yaml:"password"`
	DSN        string `mapstructure:"dsn" yaml:"dsn"`
}

// LogConfig selects log verbosity and encoding.
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// RolesConfig names the project roles the engine relies on.
type RolesConfig struct {
	PortalOwner string `mapstructure:"portal_owner" yaml:"portal_owner"`
	Client      string `mapstructure:"client" yaml:"client"`
	Internal    string `mapstructure:"internal" yaml:"internal"`
}

// PriorityConfig points at the priority table file.
type PriorityConfig struct {
	Table string `mapstructure:"table" yaml:"table"`
	Watch bool   `mapstructure:"watch" yaml:"watch"`
}

// TransitionsConfig holds the workflow action tables.
type TransitionsConfig struct {
	Actions []ActionConfig `mapstructure:"actions" yaml:"actions"`
	Events  []EventConfig  `mapstructure:"events" yaml:"events"`
}

// ActionConfig maps the status a source issue moved to onto an action of the target.
type ActionConfig struct {
	Workflow     string `mapstructure:"workflow" yaml:"workflow,omitempty"`
	SourceStatus string `mapstructure:"source_status" yaml:"source_status"`
	TargetStatus string `mapstructure:"target_status" yaml:"target_status,omitempty"`
	Action       int    `mapstructure:"action" yaml:"action"`
	Name         string `mapstructure:"name" yaml:"name,omitempty"`
}

// EventConfig maps an event type onto an action of the target's workflow.
// Event accepts a built-in event name or a numeric event type ID.
type EventConfig struct {
	Workflow string `mapstructure:"workflow" yaml:"workflow,omitempty"`
	Event    string `mapstructure:"event" yaml:"event"`
	Action   int    `mapstructure:"action" yaml:"action"`
}

// WebhookConfig configures the inbound event boundary.
type WebhookConfig struct {
	Secret string `mapstructure:"secret" yaml:"secret"`
	Mode   string `mapstructure:"mode" yaml:"mode"`
	// EventTypes maps custom event names sent by the host to their type IDs.
	EventTypes map[string]int64 `mapstructure:"event_types" yaml:"event_types"`
}

// Option customises Load.
type Option func(*loadSettings)

type loadSettings struct {
	file       string
	workingDir string
	lookupEnv  func(string) (string, bool)
}

// WithFile loads the given file. The file must exist.
func WithFile(path string) Option {
	return func(s *loadSettings) { s.file = path }
}

// WithWorkingDir sets the directory searched for DefaultFileName.
func WithWorkingDir(dir string) Option {
	return func(s *loadSettings) { s.workingDir = dir }
}

// withLookupEnv replaces os.LookupEnv for the legacy fallbacks.
func withLookupEnv(fn func(string) (string, bool)) Option {
	return func(s *loadSettings) { s.lookupEnv = fn }
}

// Load reads the configuration. Without WithFile, DefaultFileName is looked up in
// the working directory and then in the user config directory; a missing file
// leaves defaults and environment only.
func Load(opts ...Option) (*Config, error) {
	settings := &loadSettings{lookupEnv: os.LookupEnv}
	for _, o := range opts {
		o(settings)
	}

	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	path := strings.TrimSpace(settings.file)
	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("config file: %w", err)
		}
	} else {
		found, err := findConfigFile(settings.workingDir)
		if err != nil {
			return nil, err
		}
		path = found
	}
	if err := mergeConfigFile(v, path); err != nil {
		return nil, err
	}
	applyLegacyEnv(v, settings.lookupEnv)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	cfg.File = path
	for i := range cfg.Projects {
		cfg.Projects[i].normalize()
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault(KeyHost, "jira")
	v.SetDefault(KeyJiraURL, "")
	v.SetDefault(KeyJiraUsername, "")
	v.SetDefault(KeyJiraAPIToken, "")
	v.SetDefault(KeyJiraTimeout, 30*time.Second)
	v.SetDefault(KeyServerAddr, ":8080")
	v.SetDefault(KeyServerShutdownTimeout, 10*time.Second)
	v.SetDefault(KeyStorageBackend, BackendSQLite)
	v.SetDefault(KeyStoragePath, filepath.Join(".psync", "links.db"))
	v.SetDefault(KeyDoltDatabase, "portalsync")
	v.SetDefault(KeyDoltServerMode, false)
	v.SetDefault(KeyDoltHost, "")
	v.SetDefault(KeyDoltPort, 0)
	v.SetDefault(KeyDoltUser, "")
	v.SetDefault(KeyDoltPassword, "")
	v.SetDefault(KeyDoltDSN, "")
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyLogFormat, "text")
	v.SetDefault(KeyRolesPortalOwner, "Portal Owner")
	v.SetDefault(KeyRolesClient, "Client")
	v.SetDefault(KeyRolesInternal, "Internal Users")
	v.SetDefault(KeyAsAClientYes, "Check if Yes")
	v.SetDefault(KeyCustomEventThreshold, 10000)
	v.SetDefault(KeySupportUser, "")
	v.SetDefault(KeyPriorityTable, "")
	v.SetDefault(KeyPriorityWatch, true)
	v.SetDefault(KeyWebhookSecret, "")
	v.SetDefault(KeyWebhookMode, ModeServer)
}

func applyLegacyEnv(v *viper.Viper, lookup func(string) (string, bool)) {
	for key, env := range legacyEnv {
		if v.GetString(key) != "" {
			continue
		}
		if val, ok := lookup(env); ok && val != "" {
			v.Set(key, val)
		}
	}
}

func mergeConfigFile(v *viper.Viper, path string) error {
	if path == "" {
		return nil
	}
	//nolint:gosec // G304: the config path comes from the operator
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := v.MergeConfig(bytes.NewReader(data)); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

// findConfigFile returns the first DefaultFileName found in dir or the user
// config directory, or "" when there is none.
func findConfigFile(dir string) (string, error) {
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("determine working directory: %w", err)
		}
		dir = wd
	}
	candidates := []string{filepath.Join(dir, DefaultFileName)}
	if userDir, err := os.UserConfigDir(); err == nil {
		candidates = append(candidates, filepath.Join(userDir, "psync", DefaultFileName))
	}
	for _, c := range candidates {
		info, err := os.Stat(c)
		switch {
		case err == nil && info.IsDir():
			return "", fmt.Errorf("config path %s is a directory", c)
		case err == nil:
			return c, nil
		case !errors.Is(err, fs.ErrNotExist):
			return "", fmt.Errorf("stat %s: %w", c, err)
		}
	}
	return "", nil
}
