// Package main is the hh-events entrypoint. It connects to the realtime event
// stream and prints every domain event it receives.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	realtime "github.com/holyhome/realtime-go"
)

// CLI command definitions.
var (
	logger logrus.FieldLogger = logrus.StandardLogger()

	configPath string
	flagCfg    fileConfig

	rootCmd = &cobra.Command{
		Use:          "hh-events",
		Short:        "Realtime event stream tools.",
		SilenceUsage: true,
	}

	watchCmd = &cobra.Command{
		Use:   "watch [event_type...]",
		Short: "Connects and prints events, optionally only the given types.",
		RunE:  runWatch,
	}

	typesCmd = &cobra.Command{
		Use:   "types",
		Short: "Lists the known event types.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			for _, t := range knownEventTypes {
				fmt.Fprintln(cmd.OutOrStdout(), t)
			}
			return nil
		},
	}
)

var knownEventTypes = []string{
	realtime.EventBillCreated,
	realtime.EventConsumptionCreated,
	realtime.EventPaymentCreated,
	realtime.EventChoreUpdated,
	realtime.EventLoanCreated,
	realtime.EventLoanPaymentCreated,
	realtime.EventLoanDeleted,
	realtime.EventBalanceUpdated,
	realtime.EventSupplyItemAdded,
	realtime.EventSupplyItemBought,
	realtime.EventSupplyBudgetGrew,
	realtime.EventSupplyBudgetLow,
	realtime.EventPermissionsUpdated,
}

// setLogger sets the standard logger's level and formatter.
func setLogger(level string) {
	customFormatter := new(logrus.TextFormatter)
	customFormatter.TimestampFormat = time.RFC3339
	customFormatter.FullTimestamp = true
	logrus.SetFormatter(customFormatter)
	logrus.SetOutput(os.Stderr)
	switch strings.ToLower(level) {
	case "trace":
		logrus.SetLevel(logrus.TraceLevel)
	case "debug":
		logrus.SetLevel(logrus.DebugLevel)
	case "warn":
		logrus.SetLevel(logrus.WarnLevel)
	case "error":
		logrus.SetLevel(logrus.ErrorLevel)
	default:
		logrus.SetLevel(logrus.InfoLevel)
	}
}

func runWatch(cmd *cobra.Command, args []string) error {
	fileCfg, err := loadConfigFile(configPath)
	if err != nil {
		return errors.Wrap(err, "load config failed")
	}
	cfg := fileCfg.merge(flagCfg)
	setLogger(cfg.LogLevel)

	out, err := newPrinter(cmd.OutOrStdout(), cfg.Format)
	if err != nil {
		return errors.Wrap(err, "new printer failed")
	}
	tokens, err := cfg.tokenSource()
	if err != nil {
		return errors.Wrap(err, "new token source failed")
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// The first terminal client error ends the command.
	fatal := make(chan realtime.ClientError, 1)
	logErrors := realtime.LogErrors(logger)

	client, err := realtime.NewClient(cfg.clientConfig(), tokens,
		realtime.WithLogger(logger),
		realtime.WithReconnectPolicy(cfg.reconnectPolicy()),
		realtime.WithErrorHandler(func(e realtime.ClientError) {
			logErrors(e)
			if e.Kind.Terminal() {
				select {
				case fatal <- e:
				default:
				}
			}
		}),
		realtime.WithStateHandler(func(s realtime.ConnectionState) {
			logger.WithField("state", s.String()).Debug("connection state changed")
		}),
	)
	if err != nil {
		return errors.Wrap(err, "new client failed")
	}
	defer client.Close()

	bus := realtime.NewBus(logger)
	defer bus.Close()
	client.On(realtime.Wildcard, bus.Forward)

	if len(args) == 0 {
		bus.On(realtime.Wildcard, out.handle)
	}
	for _, t := range args {
		bus.On(t, out.handle)
	}

	client.OnDisconnect(func(err error) {
		logger.WithError(err).Warn("disconnected, waiting for reconnect")
	})
	client.OnReconnect(func() {
		logger.Info("reconnected")
	})

	if err := client.Connect(ctx); err != nil {
		var cerr *realtime.ClientError
		if !errors.As(err, &cerr) || cerr.Kind.Terminal() {
			return errors.Wrap(err, "connect failed")
		}
		logger.WithError(err).Warn("initial connect failed, retrying")
	}

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		return nil
	case e := <-fatal:
		return errors.Wrap(&e, "event stream stopped")
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")
	rootCmd.PersistentFlags().StringVar(&flagCfg.LogLevel, "log-level", "", "trace, debug, info, warn or error (env "+envLogLevel+")")

	flags := watchCmd.Flags()
	flags.StringVar(&flagCfg.APIURL, "api-url", "", "API base URL (env HOLYHOME_API_URL)")
	flags.StringVar(&flagCfg.Origin, "origin", "", "origin for a relative API URL (env HOLYHOME_ORIGIN)")
	flags.StringVar(&flagCfg.AccessToken, "token", "", "access token (env "+envAccessToken+")")
	flags.StringVar(&flagCfg.RefreshToken, "refresh-token", "", "refresh token enabling automatic renewal (env "+envRefreshToken+")")
	flags.StringVarP(&flagCfg.Format, "output", "o", "", "output format: text or json")
	flags.DurationVar(&flagCfg.HandshakeTimeout, "handshake-timeout", 0, "WebSocket handshake timeout")
	flags.IntVar(&flagCfg.Reconnect.MaxAttempts, "max-attempts", 0, "reconnect attempts before giving up")

	rootCmd.AddCommand(
		watchCmd,
		typesCmd,
	)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		logger.Fatal(errors.Wrap(err, "execute root command failed"))
	}
}
