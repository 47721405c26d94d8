package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/engeditor/session/frontend"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap/zapcore"
)

func main() {
	app := &cli.App{
		Name:  "eng-ui",
		Usage: "headless editor front end, launched by eng-agent",
		Flags: []cli.Flag{
			&cli.UintFlag{
				Name:     "agent-port",
				Usage:    "Port of the agent to attach to.",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "agent-token",
				Usage:    "Auth token of the agent.",
				Required: true,
			},
			&cli.BoolFlag{
				Name:  "test-mode",
				Usage: "Exit after the handshake.",
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Minimum log level. One of [debug,info,warn,error].",
				EnvVars: []string{"ENG_UI_LOG_LEVEL"},
				Value:   "info",
			},
		},
		Action: func(ctx *cli.Context) error {
			port := ctx.Uint("agent-port")
			if port > 65535 {
				return fmt.Errorf("invalid agent port %d", port)
			}
			var level zapcore.Level
			if err := level.UnmarshalText([]byte(ctx.String("log-level"))); err != nil {
				return fmt.Errorf("parsing log level: %w", err)
			}

			fe, err := frontend.New(
				uint16(port),
				ctx.String("agent-token"),
				frontend.WithLogLevel(level),
				frontend.WithTestMode(ctx.Bool("test-mode")),
			)
			if err != nil {
				return err
			}

			runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return fe.Run(runCtx)
		},
	}
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
