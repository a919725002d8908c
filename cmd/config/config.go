package config

import (
	"bufio"
	"fmt"
	"io"
	"net/url"
	"os"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/sidkik/mirrorsync/cmd/util"
	"github.com/sidkik/mirrorsync/pkg/config"
	"github.com/sidkik/mirrorsync/pkg/errors"
	"github.com/sidkik/mirrorsync/pkg/sync"
	"github.com/sidkik/mirrorsync/pkg/transport"
)

// DefaultServerURL is suggested when no server has been configured yet.
const DefaultServerURL = "ws://localhost:10080"

// Mocked for unit testing.
var (
	stdout              io.Writer = os.Stdout
	stdin               io.Reader = os.Stdin
	parseClientConfig             = config.ParseClient
	writeClientConfig             = config.WriteClient
	getWorkingDirectory           = os.Getwd
)

// New creates a new `config` command.
func New() *cobra.Command {
	var cliOpts config.Client
	var policyFlags util.PolicyFlags
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Setup the mirrorsync client configuration",
		Run: func(cmd *cobra.Command, _ []string) {
			if err := SetupConfig(cliOpts, policyFlags, cmd); err != nil {
				err = errors.NewFriendlyError("Failed to setup configuration:\n%s",
					errors.GetPrintableMessage(err))
				util.HandleFatalError(err)
			}
		},
	}
	cmd.Flags().StringVar(&cliOpts.ServerURL, "server", "",
		"Set the server URL in the config. "+
			"Optional: If not set, `mirrorsync config` will interactively prompt.")
	cmd.Flags().StringVar(&cliOpts.TargetDir, "dir", "",
		"Set the target directory in the config. "+
			"Optional: If not set, `mirrorsync config` will interactively prompt.")
	cmd.Flags().StringVar(&cliOpts.Codec, "codec", "",
		"Set the wire codec: json or cbor.")
	util.AddPolicyFlags(cmd.Flags(), &policyFlags)

	// Setup the commands for querying the contents of the client config.
	type getterSpec struct {
		use, short string
		fn         func(config.Client) string
	}

	getters := []getterSpec{
		{
			use:   "get-server",
			short: "Get the currently configured server URL",
			fn:    func(cfg config.Client) string { return cfg.ServerURL },
		},
		{
			use:   "get-dir",
			short: "Get the currently configured target directory",
			fn:    func(cfg config.Client) string { return cfg.TargetDir },
		},
	}
	for _, getter := range getters {
		getter := getter
		cmd.AddCommand(&cobra.Command{
			Use:   getter.use,
			Short: getter.short,
			Run: func(_ *cobra.Command, _ []string) {
				cfg, err := parseClientConfig()
				if err != nil {
					err = errors.WithContext(err, "read config")
					util.HandleFatalError(err)
				}

				fmt.Fprintln(stdout, getter.fn(cfg))
			},
		})
	}

	return cmd
}

// SetupConfig writes the client config. Fields that weren't given on the
// command line are prompted for, and settings that have no prompt keep their
// current value unless a flag overrides them.
func SetupConfig(cliOpts config.Client, policyFlags util.PolicyFlags, cmd *cobra.Command) error {
	if cliOpts.Codec != "" {
		if _, err := transport.GetCodec(cliOpts.Codec); err != nil {
			return err
		}
	}

	currConfig, err := parseClientConfig()
	if err != nil {
		currConfig = config.Client{}
		log.WithError(err).Debug("Failed to read current config")
	}

	cfg, err := generateConfig(cliOpts, currConfig)
	if err != nil {
		return errors.WithContext(err, "generate config")
	}

	policy := sync.Config{
		EnableFileSizeLimit: cfg.EnableFileSizeLimit,
		MaxFileSize:         cfg.MaxFileSize,
		PathRegex:           cfg.PathRegex,
	}
	policyFlags.Apply(cmd.Flags(), &policy)
	cfg.EnableFileSizeLimit = policy.EnableFileSizeLimit
	cfg.MaxFileSize = policy.MaxFileSize
	cfg.PathRegex = policy.PathRegex

	if err := writeClientConfig(cfg); err != nil {
		return errors.WithContext(err, "write config")
	}

	path, err := config.GetClientConfigPath()
	if err != nil {
		return errors.WithContext(err, "get client config path")
	}

	fmt.Fprintf(stdout, "Wrote config to %s\n", path)
	return nil
}

func serverURLValidationFn(rawURL string) (string, bool) {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return "The server URL must look like ws://host:port.", false
	}

	if parsed.Scheme != "ws" && parsed.Scheme != "wss" {
		return "The server URL must start with ws:// or wss://.", false
	}
	return "", true
}

func targetDirValidationFn(dir string) (string, bool) {
	if strings.TrimSpace(dir) == "" {
		return "The target directory can't be empty.", false
	}
	return "", true
}

type prompt struct {
	helpString, prompt, defaultAnswer, currAnswer string
	field                                         *string
	validationFn                                  func(string) (string, bool)
}

// generateConfig interacts with the user to decide what the desired
// configuration is. Fields set in cliOpts aren't prompted for.
func generateConfig(cliOpts, currConfig config.Client) (config.Client, error) {
	cfg := currConfig
	cfg.ServerURL = cliOpts.ServerURL
	cfg.TargetDir = cliOpts.TargetDir
	if cliOpts.Codec != "" {
		cfg.Codec = cliOpts.Codec
	}

	var prompts []prompt
	if cliOpts.ServerURL == "" {
		prompts = append(prompts, prompt{
			helpString:    "Enter the URL of the mirrorsync server.",
			prompt:        "Server URL",
			defaultAnswer: DefaultServerURL,
			currAnswer:    currConfig.ServerURL,
			field:         &cfg.ServerURL,
			validationFn:  serverURLValidationFn,
		})
	}

	if cliOpts.TargetDir == "" {
		defaultDir, err := getWorkingDirectory()
		if err != nil {
			log.WithError(err).Info("Failed to get working directory")
		}
		prompts = append(prompts, prompt{
			helpString: "Enter the local directory to mirror the server into.\n" +
				"It defaults to the current directory.",
			prompt:        "Target directory",
			defaultAnswer: defaultDir,
			currAnswer:    currConfig.TargetDir,
			field:         &cfg.TargetDir,
			validationFn:  targetDirValidationFn,
		})
	}

	for _, prompt := range prompts {
		for {
			resp, err := promptUser(prompt.helpString, prompt.prompt,
				prompt.defaultAnswer, prompt.currAnswer)
			if err != nil {
				return config.Client{}, errors.WithContext(err, "read response")
			}

			validationErr, ok := prompt.validationFn(resp)
			if ok {
				*prompt.field = resp
				break
			}
			fmt.Fprintln(stdout, validationErr)
		}
	}

	if msg, ok := serverURLValidationFn(cfg.ServerURL); !ok {
		return config.Client{}, errors.NewFriendlyError("%s", msg)
	}
	return cfg, nil
}

func promptUser(helpString, prompt, defaultAnswer, currAnswer string) (string, error) {
	// Separate fields with a blank line.
	defer fmt.Fprintln(stdout)

	options := []string{}
	if defaultAnswer != "" {
		options = append(options, defaultAnswer)
	}
	if currAnswer != "" && currAnswer != defaultAnswer {
		options = append(options, currAnswer)
	}
	options = append(options, "(Enter manually)")

	fmt.Fprintln(stdout, helpString+"\n"+prompt+":")

	stdinReader := bufio.NewReader(stdin)

	if nOptions := len(options); nOptions > 1 {
		fmt.Fprintln(stdout)
		for i, option := range options {
			if i == 0 {
				option = fmt.Sprintf("%s (recommended)", option)
			}
			fmt.Fprintf(stdout, "\t%d. %s\n", i+1, option)
		}
		fmt.Fprintln(stdout)

		for {
			fmt.Fprintf(stdout, "Please choose one [1-%d]: ", nOptions)
			choiceStr, err := stdinReader.ReadString('\n')
			if err != nil {
				return "", err
			}

			// An empty choice picks the recommended option.
			choice := 1
			if choiceStr = strings.TrimSpace(choiceStr); choiceStr != "" {
				choice, err = strconv.Atoi(choiceStr)
				if err != nil || choice < 1 || choice > nOptions {
					continue
				}
			}

			if choice == nOptions {
				break
			}
			return options[choice-1], nil
		}
	}

	fmt.Fprint(stdout, "Please enter manually: ")
	resp, err := stdinReader.ReadString('\n')
	if err != nil && !(err == io.EOF && resp != "") {
		return "", err
	}
	return strings.TrimSpace(resp), nil
}
