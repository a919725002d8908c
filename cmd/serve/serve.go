package serve

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/sidkik/mirrorsync/cmd/util"
	"github.com/sidkik/mirrorsync/pkg/config"
	"github.com/sidkik/mirrorsync/pkg/errors"
	"github.com/sidkik/mirrorsync/pkg/server"
	"github.com/sidkik/mirrorsync/pkg/sync"
)

// Mocked out for unit testing.
var (
	parseServerConfig = config.ParseServer
	writeServerConfig = config.WriteServer
	runServer         = server.Run
)

type serveFlags struct {
	configPath string
	host       string
	port       int
	dir        string
	save       bool
	policy     util.PolicyFlags
}

// New creates a new `serve` command.
func New() *cobra.Command {
	var flags serveFlags
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Mirror a directory to a connecting client",
		Long: "Serve a directory over a websocket. One client at a time may " +
			"connect to mirror it.\nLocal changes are pushed to the client " +
			"as they happen, and the client can pull or push the whole tree.",
		Run: func(cmd *cobra.Command, _ []string) {
			cfg, err := loadConfig(cmd.Flags(), flags)
			if err != nil {
				util.HandleFatalError(err)
			}

			if flags.save {
				if err := writeServerConfig(flags.configPath, cfg); err != nil {
					util.HandleFatalError(errors.WithContext(err, "save config"))
				}
				log.Info("Saved server config")
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			if err := runServer(ctx, cfg, sync.Options{}); err != nil {
				util.HandleFatalError(errors.WithContext(err, "serve"))
			}
			log.Info("Server stopped")
		},
	}

	cmd.Flags().StringVar(&flags.configPath, "config", "",
		"Path to the server config. Defaults to "+config.ServerConfigPath+".")
	cmd.Flags().StringVarP(&flags.host, "host", "H", config.DefaultHost,
		"The address to listen on.")
	cmd.Flags().IntVarP(&flags.port, "port", "p", config.DefaultPort,
		"The port to listen on.")
	cmd.Flags().StringVarP(&flags.dir, "dir", "d", "",
		"The directory to mirror. It's created if it doesn't exist.")
	cmd.Flags().BoolVar(&flags.save, "save", false,
		"Write the effective settings back to the config file before serving.")
	util.AddPolicyFlags(cmd.Flags(), &flags.policy)
	return cmd
}

// loadConfig reads the server config, and overrides it with the flags that
// were set.
func loadConfig(fs *pflag.FlagSet, flags serveFlags) (config.Server, error) {
	cfg, err := parseServerConfig(flags.configPath)
	if err != nil {
		return config.Server{}, errors.WithContext(err, "read config")
	}

	if fs.Changed("host") {
		cfg.Host = flags.host
	}
	if fs.Changed("port") {
		cfg.Port = flags.port
	}
	if fs.Changed("dir") {
		cfg.Dir = flags.dir
	}

	policy := sync.Config{
		EnableFileSizeLimit: cfg.EnableFileSizeLimit,
		MaxFileSize:         cfg.MaxFileSize,
		PathRegex:           cfg.PathRegex,
	}
	flags.policy.Apply(fs, &policy)
	cfg.EnableFileSizeLimit = policy.EnableFileSizeLimit
	cfg.MaxFileSize = policy.MaxFileSize
	cfg.PathRegex = policy.PathRegex

	if err := cfg.Validate(); err != nil {
		return config.Server{}, err
	}
	return cfg, nil
}
