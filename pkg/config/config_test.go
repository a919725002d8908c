package config

import (
	"fmt"
	"strings"
	"testing"

	"github.com/ghodss/yaml"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sidkik/mirrorsync/pkg/errors"
)

func TestParseClient(t *testing.T) {
	out := "/home/user/.mirrorsync/client.yaml"
	clientEmptyVersion := Client{
		ServerURL: "ws://localhost:10080",
		TargetDir: "/data/mirror",
	}
	clientCorrectVersion := Client{
		Version:   SupportedClientConfigVersion,
		ServerURL: "ws://localhost:10080",
		TargetDir: "/data/mirror",
		PathRegex: []string{`\.tmp$`},
	}
	clientIncorrectVersion := Client{
		Version:   "incorrect_version",
		ServerURL: "ws://localhost:10080",
	}
	clientEmptyVersionString, err := yaml.Marshal(clientEmptyVersion)
	require.NoError(t, err)
	clientCorrectVersionString, err := yaml.Marshal(clientCorrectVersion)
	require.NoError(t, err)
	clientIncorrectVersionString, err := yaml.Marshal(clientIncorrectVersion)
	require.NoError(t, err)

	withVersion := clientEmptyVersion
	withVersion.Version = SupportedClientConfigVersion

	tests := []struct {
		name      string
		input     []byte
		expConfig Client
		expError  error
	}{
		{
			name:      "EmptyVersion",
			input:     clientEmptyVersionString,
			expConfig: withVersion,
		},
		{
			name:      "CorrectVersion",
			input:     clientCorrectVersionString,
			expConfig: clientCorrectVersion,
		},
		{
			name:  "IncorrectVersion",
			input: clientIncorrectVersionString,
			expError: errors.WithContext(incompatibleVersionError{
				path:   out,
				exp:    SupportedClientConfigVersion,
				actual: clientIncorrectVersion.Version,
			}, "parse"),
		},
		{
			name: "ExtraFields",
			input: []byte(fmt.Sprintf(
				"version: %s\nextra: fields", SupportedClientConfigVersion)),
			expError: errors.WithContext(
				errors.NewFriendlyError(parseConfigErrTemplate, out,
					errors.New("error unmarshaling JSON: while decoding JSON: "+
						`json: unknown field "extra"`)),
				"parse"),
		},
		{
			name:      "RelativeTargetDir",
			input:     []byte("serverURL: ws://host:1\ntargetDir: mirror\n"),
			expConfig: Client{Version: SupportedClientConfigVersion, ServerURL: "ws://host:1", TargetDir: "/home/user/.mirrorsync/mirror"},
		},
	}

	fs = afero.NewMemMapFs()
	homedirExpand = func(path string) (string, error) {
		if path == ClientConfigPath {
			return out, nil
		}
		return path, nil
	}
	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			require.NoError(t, afero.WriteFile(fs, out, test.input, 0644))
			config, err := ParseClient()
			assert.Equal(t, test.expConfig, config)
			assert.Equal(t, test.expError, err)
		})
	}
}

// expandHome expands a leading ~ to a fixed home directory, and leaves other
// paths alone.
func expandHome(path string) (string, error) {
	if path == "~" || strings.HasPrefix(path, "~/") {
		return "/home/user" + strings.TrimPrefix(path, "~"), nil
	}
	return path, nil
}

func TestParseClientMissing(t *testing.T) {
	fs = afero.NewMemMapFs()
	homedirExpand = expandHome

	_, err := ParseClient()
	assert.IsType(t, errors.FriendlyError{}, err)
}

func TestParseWrittenClient(t *testing.T) {
	fs = afero.NewMemMapFs()
	homedirExpand = expandHome

	client := Client{
		ServerURL:           "ws://10.0.0.2:10080",
		TargetDir:           "/data/mirror",
		EnableFileSizeLimit: true,
		MaxFileSize:         1024,
		PathRegex:           []string{`\.log$`},
	}

	// Write the config to disk, and assert that we get the same config when
	// we parse it.
	require.NoError(t, WriteClient(client))

	parsed, err := ParseClient()
	require.NoError(t, err)

	client.Version = SupportedClientConfigVersion
	assert.Equal(t, client, parsed)
}

func TestParseServer(t *testing.T) {
	fs = afero.NewMemMapFs()
	homedirExpand = func(path string) (string, error) {
		return path, nil
	}

	// A missing config falls back to the defaults.
	cfg, err := ParseServer("/etc/mirrorsync/server.yaml")
	require.NoError(t, err)
	assert.Equal(t, DefaultServer(), cfg)
	assert.Error(t, cfg.Validate())

	// Fields that aren't set keep their defaults.
	require.NoError(t, afero.WriteFile(fs, "/etc/mirrorsync/server.yaml",
		[]byte("dir: shared\nenableFileSizeLimit: true\n"), 0644))
	cfg, err = ParseServer("/etc/mirrorsync/server.yaml")
	require.NoError(t, err)

	exp := DefaultServer()
	exp.Dir = "/etc/mirrorsync/shared"
	exp.EnableFileSizeLimit = true
	assert.Equal(t, exp, cfg)
	assert.NoError(t, cfg.Validate())
}

func TestServerValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Server)
		expOK  bool
	}{
		{name: "Valid", mutate: func(*Server) {}, expOK: true},
		{name: "NoDir", mutate: func(s *Server) { s.Dir = "" }},
		{name: "BadPort", mutate: func(s *Server) { s.Port = 70000 }},
		{name: "ZeroLimit", mutate: func(s *Server) {
			s.EnableFileSizeLimit = true
			s.MaxFileSize = 0
		}},
	}

	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			cfg := DefaultServer()
			cfg.Dir = "/srv"
			test.mutate(&cfg)
			if test.expOK {
				assert.NoError(t, cfg.Validate())
			} else {
				assert.Error(t, cfg.Validate())
			}
		})
	}
}

func TestWriteServer(t *testing.T) {
	fs = afero.NewMemMapFs()
	homedirExpand = expandHome

	cfg := DefaultServer()
	cfg.Dir = "/srv/shared"
	cfg.Port = 9000
	cfg.PathRegex = []string{`\.tmp$`}
	require.NoError(t, WriteServer("", cfg))

	parsed, err := ParseServer("")
	require.NoError(t, err)
	assert.Equal(t, cfg, parsed)
}
