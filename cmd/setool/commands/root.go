// Package commands implements the setool CLI commands.
package commands

import (
	"fmt"
	"strings"

	"github.com/pion/logging"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/gregLibert/smartcard-service/pkg/pcsc"
	"github.com/gregLibert/smartcard-service/pkg/smartcard"
)

// Configuration keys, also accepted as SETOOL_<KEY> environment variables
// (dashes become underscores).
const (
	keyVirtual      = "virtual"
	keyLogLevel     = "log-level"
	keyPollInterval = "poll-interval"
)

var v = viper.New()

var rootCmd = &cobra.Command{
	Use:   "setool",
	Short: "Secure element tool",
	Long: `setool talks to secure elements through PC/SC readers.

It opens a session on a reader, a basic or logical channel on an applet, and
exchanges APDUs on that channel. With --virtual it runs against an in-process
simulated reader instead of the PC/SC daemon.

Every flag can also be set from the environment, e.g. SETOOL_VIRTUAL=true or
SETOOL_LOG_LEVEL=debug.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	addGlobalFlags(rootCmd.PersistentFlags())

	v.SetEnvPrefix("SETOOL")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(rootCmd.PersistentFlags()); err != nil {
		panic(err)
	}

	rootCmd.AddCommand(readersCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

func addGlobalFlags(fs *pflag.FlagSet) {
	fs.Bool(keyVirtual, false, "use the simulated reader instead of PC/SC")
	fs.String(keyLogLevel, "warn", "log level: disabled, error, warn, info, debug, trace")
	fs.Duration(keyPollInterval, pcsc.DefaultPollInterval, "reader status poll interval")
}

var logLevels = map[string]logging.LogLevel{
	"disabled": logging.LogLevelDisabled,
	"error":    logging.LogLevelError,
	"warn":     logging.LogLevelWarn,
	"info":     logging.LogLevelInfo,
	"debug":    logging.LogLevelDebug,
	"trace":    logging.LogLevelTrace,
}

func loggerFactory() (logging.LoggerFactory, error) {
	name := strings.ToLower(v.GetString(keyLogLevel))
	level, ok := logLevels[name]
	if !ok {
		return nil, fmt.Errorf("unknown log level %q", name)
	}
	lf := logging.NewDefaultLoggerFactory()
	lf.DefaultLogLevel = level
	return lf, nil
}

// newService builds the service from the global configuration. It is not initialized.
func newService() (*smartcard.Service, error) {
	lf, err := loggerFactory()
	if err != nil {
		return nil, err
	}

	cfg := pcsc.Config{
		PollInterval:  v.GetDuration(keyPollInterval),
		LoggerFactory: lf,
	}
	if v.GetBool(keyVirtual) {
		cfg.ContextFactory = demoSimulator(lf)
	}

	return smartcard.New(smartcard.Config{
		Connector:     pcsc.NewConnector(cfg),
		LoggerFactory: lf,
	}), nil
}

// withService initializes a service for the duration of fn.
func withService(fn func(*smartcard.Service) error) error {
	svc, err := newService()
	if err != nil {
		return err
	}
	if err := svc.Initialize(); err != nil {
		return fmt.Errorf("initialize: %w", err)
	}

	err = fn(svc)
	if derr := svc.Deinitialize(); derr != nil && err == nil {
		err = fmt.Errorf("deinitialize: %w", derr)
	}
	return err
}
