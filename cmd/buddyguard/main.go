// Command buddyguard operates the buddyGuard escrow: orders, permits,
// deployments and the ops API.
package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/ahwlsqja/buddyguard-ops/internal/common/errors"
	"github.com/ahwlsqja/buddyguard-ops/internal/config"
)

// state is filled in by the app's Before hook and shared by every command.
type state struct {
	cfg    *config.Config
	logger *zap.Logger
}

func main() {
	st := &state{}
	app := newApp(st)

	err := app.Run(os.Args)
	if err == nil {
		if st.logger != nil {
			_ = st.logger.Sync()
		}
		return
	}

	logger := st.logger
	if logger == nil {
		// config failed to load; fall back to the process environment
		var logErr error
		logger, logErr = initLogger(os.Getenv("ENVIRONMENT"), os.Getenv("LOG_LEVEL"))
		if logErr != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
	}
	logFailure(logger, err)
	_ = logger.Sync()
	os.Exit(1)
}

func newApp(st *state) *cli.App {
	return &cli.App{
		Name:  "buddyguard",
		Usage: "buddyGuard escrow operator toolkit",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:  "env-file",
				Usage: "Env files loaded before the process environment (default: .env)",
			},
		},
		Before: func(c *cli.Context) error {
			cfg, err := config.Load(c.StringSlice("env-file")...)
			if err != nil {
				return err
			}
			logger, err := initLogger(cfg.Environment, cfg.LogLevel)
			if err != nil {
				return errors.Configuration("invalid LOG_LEVEL").WithError(err)
			}
			st.cfg = cfg
			st.logger = logger
			return nil
		},
		Commands: []*cli.Command{
			createOrderCmd(st),
			createOrderWithPermitCmd(st),
			completeOrderCmd(st),
			changeGuardiansCmd(st),
			setGuardianPricingCmd(st),
			approveTokenCmd(st),
			permitCmd(st),
			deployCmd(st),
			serveCmd(st),
		},
	}
}

func initLogger(environment, level string) (*zap.Logger, error) {
	zcfg := zap.NewDevelopmentConfig()
	if environment == "production" {
		zcfg = zap.NewProductionConfig()
	}
	if level != "" {
		lvl, err := zap.ParseAtomicLevel(level)
		if err != nil {
			return nil, err
		}
		zcfg.Level = lvl
	}
	return zcfg.Build()
}

func logFailure(logger *zap.Logger, err error) {
	fields := []zap.Field{zap.Error(err)}
	if appErr, ok := errors.AsAppError(err); ok {
		fields = append(fields,
			zap.String("code", appErr.Code),
			zap.Bool("retryable", appErr.Retryable()),
		)
		if len(appErr.Details) > 0 {
			fields = append(fields, zap.Any("details", appErr.Details))
		}
	}
	logger.Error("command failed", fields...)
}
