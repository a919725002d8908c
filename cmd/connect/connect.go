package connect

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/sidkik/mirrorsync/cmd/util"
	"github.com/sidkik/mirrorsync/pkg/client"
	"github.com/sidkik/mirrorsync/pkg/config"
	"github.com/sidkik/mirrorsync/pkg/errors"
	"github.com/sidkik/mirrorsync/pkg/sync"
)

// Mocked out for unit testing.
var (
	stdout            io.Writer = os.Stdout
	parseClientConfig           = config.ParseClient
)

type connectFlags struct {
	dir     string
	codec   string
	pull    bool
	push    bool
	once    bool
	timeout time.Duration
	policy  util.PolicyFlags
}

// New creates a new `connect` command.
func New() *cobra.Command {
	var flags connectFlags
	cmd := &cobra.Command{
		Use:   "connect [server_url]",
		Short: "Mirror a server's directory into a local directory",
		Long: "Connect to a mirrorsync server and apply the changes it pushes " +
			"to the target directory.\nThe server URL and target directory " +
			"default to the values in " + config.ClientConfigPath + ".",
		Args: cobra.MaximumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			cfg, err := loadConfig(cmd.Flags(), flags, args)
			if err != nil {
				util.HandleFatalError(err)
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			if err := run(ctx, cfg, flags); err != nil {
				util.HandleFatalError(err)
			}
		},
	}

	cmd.Flags().StringVarP(&flags.dir, "dir", "d", "",
		"The local directory to mirror into.")
	cmd.Flags().StringVar(&flags.codec, "codec", "",
		"The wire codec to request: json or cbor.")
	cmd.Flags().BoolVar(&flags.pull, "pull", false,
		"Pull the server's whole tree after connecting.")
	cmd.Flags().BoolVar(&flags.push, "push", false,
		"Upload the whole target directory after connecting.")
	cmd.Flags().BoolVar(&flags.once, "once", false,
		"Disconnect after the initial pull or push instead of staying connected.")
	cmd.Flags().DurationVar(&flags.timeout, "timeout", client.DefaultConnectTimeout,
		"How long to wait for the connection to be established.")
	util.AddPolicyFlags(cmd.Flags(), &flags.policy)
	return cmd
}

// loadConfig reads the client config, and overrides it with the arguments
// and flags that were set. A config file is only required if the server URL
// or target directory aren't given on the command line.
func loadConfig(fs *pflag.FlagSet, flags connectFlags, args []string) (config.Client, error) {
	var cfg config.Client
	if len(args) == 0 || !fs.Changed("dir") {
		var err error
		cfg, err = parseClientConfig()
		if err != nil {
			return config.Client{}, err
		}
	}

	if len(args) == 1 {
		cfg.ServerURL = args[0]
	}
	if fs.Changed("dir") {
		cfg.TargetDir = flags.dir
	}
	if fs.Changed("codec") {
		cfg.Codec = flags.codec
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

	if cfg.ServerURL == "" {
		return config.Client{}, errors.NewFriendlyError("No server URL is configured. " +
			"Pass it as an argument, or run `mirrorsync config --server <url>`.")
	}
	return cfg, nil
}

func run(ctx context.Context, cfg config.Client, flags connectFlags) error {
	if flags.pull && flags.push {
		return errors.NewFriendlyError("Only one of --pull and --push may be set.")
	}

	c := client.New(cfg, &util.TerminalReporter{Out: stdout}, sync.Options{})
	c.SetConnectTimeout(flags.timeout)
	if err := c.Connect(ctx); err != nil {
		return err
	}
	defer c.Disconnect()

	switch {
	case flags.pull:
		if err := c.Pull(ctx); err != nil {
			return errors.WithContext(err, "pull")
		}
	case flags.push:
		if err := c.Push(ctx); err != nil {
			return errors.WithContext(err, "push")
		}
	}

	if flags.once {
		return nil
	}

	err := c.Wait(ctx)
	switch {
	case err == errors.ErrRejected:
		return errors.NewFriendlyError("The server rejected the connection " +
			"because another client is already connected.")
	case err == context.Canceled:
		log.Debug("Interrupted")
		return nil
	case err == errors.ErrConnectionClosed:
		return errors.NewFriendlyError("Lost the connection to %s.", cfg.ServerURL)
	}
	return err
}
