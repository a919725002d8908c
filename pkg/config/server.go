package config

import (
	"path/filepath"

	"github.com/sidkik/mirrorsync/pkg/errors"
)

const (
	// ServerConfigPath is the default path to the server config.
	ServerConfigPath = configDir + "/server.yaml"

	// SupportedServerConfigVersion is the server config version understood
	// by this binary. Config files that don't specify a version default to
	// it.
	SupportedServerConfigVersion = "v1alpha1"

	// DefaultPort is the port the server listens on when none is configured.
	DefaultPort = 10080

	// DefaultHost is the address the server binds to when none is
	// configured.
	DefaultHost = "0.0.0.0"

	// DefaultMaxFileSize is the size limit applied when the limit is enabled
	// without an explicit size.
	DefaultMaxFileSize = 250 * 1024
)

// DefaultServerPathRegex are the server-side filter rules used when the
// config doesn't set any.
var DefaultServerPathRegex = []string{`\.DS_Store$`, `(^|/)__MACOSX(/|$)`}

// Server configures the sync server.
type Server struct {
	Version string `json:"version,omitempty"`
	Host    string `json:"host,omitempty"`
	Port    int    `json:"port,omitempty"`

	// Dir is the directory mirrored to clients. Required.
	Dir string `json:"dir"`

	PathRegex           []string `json:"pathRegex,omitempty"`
	EnableFileSizeLimit bool     `json:"enableFileSizeLimit,omitempty"`
	MaxFileSize         int64    `json:"maxFileSize,omitempty"`
}

func (s Server) getVersion() string {
	return s.Version
}

// DefaultServer returns the server config used when no config file exists.
func DefaultServer() Server {
	return Server{
		Version:     SupportedServerConfigVersion,
		Host:        DefaultHost,
		Port:        DefaultPort,
		PathRegex:   append([]string{}, DefaultServerPathRegex...),
		MaxFileSize: DefaultMaxFileSize,
	}
}

// ParseServer parses the server config at path. An empty path selects the
// default location. A missing file isn't an error: the defaults are
// returned instead.
func ParseServer(path string) (Server, error) {
	if path == "" {
		var err error
		path, err = homedirExpand(ServerConfigPath)
		if err != nil {
			return Server{}, errors.WithContext(err, "expand config path")
		}
	}

	config := DefaultServer()
	if err := parseConfig(path, &config, SupportedServerConfigVersion); err != nil {
		if _, ok := err.(errors.FileNotFound); ok {
			return DefaultServer(), nil
		}
		return Server{}, errors.WithContext(err, "parse")
	}

	dir, err := expandPath(config.Dir, path)
	if err != nil {
		return Server{}, errors.WithContext(err, "expand dir")
	}
	config.Dir = dir
	return config, nil
}

// Validate checks that the config can be used to start a server.
func (s Server) Validate() error {
	if s.Dir == "" {
		return errors.NewFriendlyError("No directory to serve. " +
			"Set `dir` in the server config, or pass --dir.")
	}
	if s.Port <= 0 || s.Port > 65535 {
		return errors.NewFriendlyError("Invalid port %d.", s.Port)
	}
	if s.EnableFileSizeLimit && s.MaxFileSize <= 0 {
		return errors.NewFriendlyError("The file size limit is enabled, " +
			"but maxFileSize isn't positive.")
	}
	return nil
}

// WriteServer writes the server config to path. An empty path selects the
// default location.
func WriteServer(path string, cfg Server) error {
	cfg.Version = SupportedServerConfigVersion
	if path == "" {
		var err error
		path, err = homedirExpand(ServerConfigPath)
		if err != nil {
			return errors.WithContext(err, "expand config path")
		}
	}

	if cfg.Dir != "" && !filepath.IsAbs(cfg.Dir) {
		abs, err := filepath.Abs(cfg.Dir)
		if err != nil {
			return errors.WithContext(err, "resolve dir")
		}
		cfg.Dir = abs
	}
	return writeConfig(path, cfg)
}
