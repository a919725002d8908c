package serve

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sidkik/mirrorsync/pkg/config"
	"github.com/sidkik/mirrorsync/pkg/errors"
	"github.com/sidkik/mirrorsync/pkg/sync"
)

func TestLoadConfig(t *testing.T) {
	fromFile := config.DefaultServer()
	fromFile.Dir = "/srv/shared"
	fromFile.Port = 9000

	tests := []struct {
		name     string
		args     []string
		fileCfg  config.Server
		expCfg   config.Server
		expError bool
	}{
		{
			name:    "FileOnly",
			fileCfg: fromFile,
			expCfg:  fromFile,
		},
		{
			name:    "FlagsOverrideFile",
			args:    []string{"-p", "10081", "-H", "127.0.0.1", "--path-regex", `\.tmp$`},
			fileCfg: fromFile,
			expCfg: func() config.Server {
				cfg := fromFile
				cfg.Port = 10081
				cfg.Host = "127.0.0.1"
				cfg.PathRegex = []string{`\.tmp$`}
				return cfg
			}(),
		},
		{
			name:    "DirFromFlag",
			args:    []string{"--dir", "/data", "--enable-file-size-limit", "--max-file-size", "1024"},
			fileCfg: config.DefaultServer(),
			expCfg: func() config.Server {
				cfg := config.DefaultServer()
				cfg.Dir = "/data"
				cfg.EnableFileSizeLimit = true
				cfg.MaxFileSize = 1024
				return cfg
			}(),
		},
		{
			name:     "NoDir",
			fileCfg:  config.DefaultServer(),
			expError: true,
		},
	}

	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			parseServerConfig = func(path string) (config.Server, error) {
				assert.Equal(t, "", path)
				return test.fileCfg, nil
			}

			cmd := New()
			require.NoError(t, cmd.Flags().Parse(test.args))

			var flags serveFlags
			flags.host, _ = cmd.Flags().GetString("host")
			flags.port, _ = cmd.Flags().GetInt("port")
			flags.dir, _ = cmd.Flags().GetString("dir")
			flags.policy.PathRegex, _ = cmd.Flags().GetStringArray("path-regex")
			flags.policy.EnableFileSizeLimit, _ = cmd.Flags().GetBool("enable-file-size-limit")
			flags.policy.MaxFileSize, _ = cmd.Flags().GetInt64("max-file-size")

			cfg, err := loadConfig(cmd.Flags(), flags)
			if test.expError {
				assert.IsType(t, errors.FriendlyError{}, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, test.expCfg, cfg)
		})
	}
}

func TestSaveConfig(t *testing.T) {
	parseServerConfig = func(string) (config.Server, error) {
		return config.DefaultServer(), nil
	}

	var savedPath string
	var saved config.Server
	writeServerConfig = func(path string, cfg config.Server) error {
		savedPath, saved = path, cfg
		return nil
	}

	var ran config.Server
	runServer = func(_ context.Context, cfg config.Server, _ sync.Options) error {
		ran = cfg
		return nil
	}

	cmd := New()
	cmd.SetArgs([]string{"--save", "--config", "/etc/mirrorsync.yaml", "--dir", "/data"})
	require.NoError(t, cmd.Execute())

	exp := config.DefaultServer()
	exp.Dir = "/data"
	assert.Equal(t, "/etc/mirrorsync.yaml", savedPath)
	assert.Equal(t, exp, saved)
	assert.Equal(t, exp, ran)
}
