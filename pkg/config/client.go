package config

import (
	"path/filepath"

	"github.com/sidkik/mirrorsync/pkg/errors"
)

const (
	// ClientConfigPath is the default path to the client config.
	ClientConfigPath = configDir + "/client.yaml"

	// SupportedClientConfigVersion is the client config version understood
	// by this binary.
	SupportedClientConfigVersion = "v1alpha1"
)

// Client contains the settings of a sync client. They're read when a
// session is configured, so edits take effect on the next connect or
// reconfigure.
type Client struct {
	Version   string `json:"version,omitempty"`
	ServerURL string `json:"serverURL"`
	TargetDir string `json:"targetDir"`
	Codec     string `json:"codec,omitempty"`

	EnableFileSizeLimit bool     `json:"enableFileSizeLimit,omitempty"`
	MaxFileSize         int64    `json:"maxFileSize,omitempty"`
	PathRegex           []string `json:"pathRegex,omitempty"`
}

func (c Client) getVersion() string {
	return c.Version
}

// ParseClient parses the client config at the default path.
func ParseClient() (Client, error) {
	path, err := GetClientConfigPath()
	if err != nil {
		return Client{}, errors.WithContext(err, "expand config path")
	}

	config := Client{Version: SupportedClientConfigVersion}
	if err := parseConfig(path, &config, SupportedClientConfigVersion); err != nil {
		if _, ok := err.(errors.FileNotFound); ok {
			return Client{}, errors.NewFriendlyError("The mirrorsync client config "+
				"file doesn't exist at %q. Please run `mirrorsync config` to "+
				"create it.", path)
		}
		return Client{}, errors.WithContext(err, "parse")
	}

	config.TargetDir, err = expandPath(config.TargetDir, path)
	if err != nil {
		return Client{}, errors.WithContext(err, "expand target dir")
	}
	return config, nil
}

// WriteClient writes the given client config to disk.
func WriteClient(cfg Client) error {
	cfg.Version = SupportedClientConfigVersion
	path, err := GetClientConfigPath()
	if err != nil {
		return errors.WithContext(err, "expand config path")
	}

	if cfg.TargetDir != "" && !filepath.IsAbs(cfg.TargetDir) {
		abs, err := filepath.Abs(cfg.TargetDir)
		if err != nil {
			return errors.WithContext(err, "resolve target dir")
		}
		cfg.TargetDir = abs
	}
	return writeConfig(path, cfg)
}

// GetClientConfigPath returns the expanded path to the client config.
func GetClientConfigPath() (string, error) {
	return homedirExpand(ClientConfigPath)
}
