package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/telekom/cloudctl/pkg/auth"
	"github.com/telekom/cloudctl/pkg/config"
	"github.com/telekom/cloudctl/pkg/metrics"
	"github.com/telekom/cloudctl/pkg/output"
	"github.com/telekom/cloudctl/pkg/system"
)

type Config struct {
	ConfigPath   string
	OutputWriter io.Writer
	ErrWriter    io.Writer
	// AuthOptions are applied last when the authenticator is built.
	AuthOptions []auth.Option
}

type runtimeState struct {
	configPath       string
	cfg              *config.Config
	outputFormat     string
	baseURLOverride  string
	clientIDOverride string
	metricsTextfile  string
	noBrowser        bool
	debug            bool
	writer           io.Writer
	errWriter        io.Writer
	log              *zap.SugaredLogger
	authOptions      []auth.Option
	authenticator    *auth.Authenticator
}

type runtimeKey struct{}

func DefaultConfig() Config {
	return Config{
		ConfigPath:   config.DefaultConfigPath(),
		OutputWriter: os.Stdout,
		ErrWriter:    os.Stderr,
	}
}

func NewRootCommand(cfg Config) *cobra.Command {
	rt := &runtimeState{
		configPath:  cfg.ConfigPath,
		writer:      cfg.OutputWriter,
		errWriter:   cfg.ErrWriter,
		authOptions: cfg.AuthOptions,
	}

	root := &cobra.Command{
		Use:           "cloudctl",
		Short:         "Command line client for the cloud platform",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if rt.writer == nil {
				rt.writer = os.Stdout
			}
			if rt.errWriter == nil {
				rt.errWriter = os.Stderr
			}
			if rt.configPath == "" {
				rt.configPath = config.DefaultConfigPath()
			}
			if rt.outputFormat == "" {
				rt.outputFormat = os.Getenv("CLOUDCTL_OUTPUT")
			}
			if rt.baseURLOverride == "" {
				rt.baseURLOverride = os.Getenv("CLOUDCTL_BASE_URL")
			}
			if rt.clientIDOverride == "" {
				rt.clientIDOverride = os.Getenv("CLOUDCTL_CLIENT_ID")
			}
			if rt.metricsTextfile == "" {
				rt.metricsTextfile = os.Getenv("CLOUDCTL_METRICS_TEXTFILE")
			}
			if !rt.noBrowser {
				rt.noBrowser = strings.EqualFold(os.Getenv("CLOUDCTL_NO_BROWSER"), "true")
			}
			if !rt.debug {
				rt.debug = strings.EqualFold(os.Getenv("CLOUDCTL_DEBUG"), "true")
			}
			rt.log = system.NewLogger(rt.debug, rt.errWriter)

			if cmd.Name() == "init" && cmd.Parent() != nil && cmd.Parent().Name() == "config" {
				return nil
			}
			if cmd.Name() == "version" || cmd.Name() == "completion" {
				return nil
			}
			return rt.EnsureConfigLoaded()
		},
	}

	root.PersistentFlags().StringVar(&rt.configPath, "config", rt.configPath, "Path to config file")
	root.PersistentFlags().StringVarP(&rt.outputFormat, "output", "o", "", "Output format: table, json, yaml")
	root.PersistentFlags().StringVar(&rt.baseURLOverride, "base-url", "", "Authentication server base URL override")
	root.PersistentFlags().StringVar(&rt.clientIDOverride, "client-id", "", "OAuth client ID override")
	root.PersistentFlags().StringVar(&rt.metricsTextfile, "metrics-textfile", "", "Write auth metrics in Prometheus text format to this file")
	root.PersistentFlags().BoolVar(&rt.noBrowser, "no-browser", false, "Print the login URL instead of opening a browser")
	root.PersistentFlags().BoolVar(&rt.debug, "debug", false, "Enable debug logging on stderr")

	root.SetContext(context.WithValue(context.Background(), runtimeKey{}, rt))

	root.AddCommand(
		NewAuthCommand(),
		NewConfigCommand(),
		NewCompletionCommand(),
		NewVersionCommand(),
	)

	return root
}

func getRuntime(cmd *cobra.Command) (*runtimeState, error) {
	rt, ok := cmd.Context().Value(runtimeKey{}).(*runtimeState)
	if !ok || rt == nil {
		return nil, errors.New("runtime not initialized")
	}
	return rt, nil
}

// EnsureConfigLoaded reads the config file. Without one, the base URL and
// client ID overrides are enough to run.
func (rt *runtimeState) EnsureConfigLoaded() error {
	if rt.cfg != nil {
		return nil
	}
	cfg, err := config.Load(rt.configPathValue())
	if errors.Is(err, fs.ErrNotExist) && rt.baseURLOverride != "" && rt.clientIDOverride != "" {
		def := config.DefaultConfig()
		rt.cfg = &def
		return nil
	}
	if err != nil {
		return err
	}
	rt.cfg = cfg
	return nil
}

func (rt *runtimeState) OutputFormat() (output.Format, error) {
	if rt.outputFormat != "" {
		return output.ParseFormat(rt.outputFormat)
	}
	if rt.cfg != nil && rt.cfg.Settings.OutputFormat != "" {
		return output.ParseFormat(rt.cfg.Settings.OutputFormat)
	}
	return output.FormatTable, nil
}

func (rt *runtimeState) NoBrowser() bool {
	return rt.noBrowser || (rt.cfg != nil && rt.cfg.Settings.NoBrowser)
}

func (rt *runtimeState) MetricsTextfile() string {
	if rt.metricsTextfile != "" {
		return rt.metricsTextfile
	}
	if rt.cfg != nil {
		return rt.cfg.Settings.MetricsTextfile
	}
	return ""
}

func (rt *runtimeState) Writer() io.Writer {
	if rt.writer != nil {
		return rt.writer
	}
	return os.Stdout
}

func (rt *runtimeState) ErrWriter() io.Writer {
	if rt.errWriter != nil {
		return rt.errWriter
	}
	return os.Stderr
}

func (rt *runtimeState) Logger() *zap.SugaredLogger {
	if rt.log == nil {
		rt.log = zap.NewNop().Sugar()
	}
	return rt.log
}

func (rt *runtimeState) configPathValue() string {
	if rt.configPath == "" {
		return config.DefaultConfigPath()
	}
	return rt.configPath
}

// Authenticator builds the facade once per process.
func (rt *runtimeState) Authenticator() (*auth.Authenticator, error) {
	if rt.authenticator != nil {
		return rt.authenticator, nil
	}
	if err := rt.EnsureConfigLoaded(); err != nil {
		return nil, err
	}
	authCfg, err := rt.authConfig()
	if err != nil {
		return nil, err
	}
	opts := []auth.Option{auth.WithLogger(rt.Logger())}
	if rt.NoBrowser() {
		opts = append(opts, auth.WithBrowser(auth.ManualBrowser{Out: rt.ErrWriter()}))
	}
	opts = append(opts, rt.authOptions...)
	a, err := auth.New(authCfg, opts...)
	if err != nil {
		return nil, err
	}
	rt.authenticator = a
	return a, nil
}

func (rt *runtimeState) authConfig() (auth.Config, error) {
	ac := rt.cfg.Auth
	if rt.baseURLOverride != "" {
		ac.BaseURL = rt.baseURLOverride
	}
	if rt.clientIDOverride != "" {
		ac.ClientID = rt.clientIDOverride
	}
	if err := ac.Validate(); err != nil {
		return auth.Config{}, &auth.Error{Kind: auth.KindInvalidConfig, Message: err.Error(), Cause: err}
	}
	timeout, _ := ac.CallbackTimeoutDuration()
	buffer, _ := ac.ExpiryBufferDuration()

	var portRange *auth.PortRange
	if ac.PortRange != "" {
		first, last, _ := config.ParsePortRange(ac.PortRange)
		portRange = &auth.PortRange{First: first, Last: last}
	}
	return auth.Config{
		BaseURL:         ac.BaseURL,
		AuthorizePath:   ac.AuthorizePath,
		TokenPath:       ac.TokenPath,
		ClientID:        ac.ClientID,
		RedirectURI:     ac.RedirectURI,
		Scopes:          ac.Scopes,
		PortRange:       portRange,
		CallbackTimeout: timeout,
		ExpiryBuffer:    buffer,
		StateBytes:      ac.StateBytes,
		Discovery:       ac.Discovery,
		ExtraAuthParams: ac.ExtraAuthParams,
		KeychainService: ac.KeychainService,
		KeychainAccount: ac.KeychainAccount,
		TLS: auth.TLSOptions{
			CAFile:          ac.CAFile,
			InsecureSkipTLS: ac.InsecureSkipTLS,
		},
	}, nil
}

// flushMetrics writes the auth counters when a textfile is configured.
func (rt *runtimeState) flushMetrics() {
	path := rt.MetricsTextfile()
	if path == "" {
		return
	}
	if err := metrics.WriteTextfile(path); err != nil {
		rt.Logger().Warnw("Failed to write metrics textfile", "path", path, "error", err)
	}
}

// FormatError renders err for the terminal. Auth failures get the
// user-facing message for their kind.
func FormatError(err error) string {
	if auth.KindOf(err) != "" {
		return "Error: " + auth.UserMessage(err)
	}
	return fmt.Sprintf("Error: %v", err)
}
