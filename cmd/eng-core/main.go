package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/engeditor/session/core"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap/zapcore"
)

func main() {
	app := &cli.App{
		Name:  "eng-core",
		Usage: "the editor content server; reads its auth token on stdin and prints its port on stdout",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Minimum log level. One of [debug,info,warn,error].",
				EnvVars: []string{"ENG_CORE_LOG_LEVEL"},
				Value:   "info",
			},
		},
		Action: func(ctx *cli.Context) error {
			var level zapcore.Level
			if err := level.UnmarshalText([]byte(ctx.String("log-level"))); err != nil {
				return fmt.Errorf("parsing log level: %w", err)
			}

			server, err := core.New(core.WithLogLevel(level))
			if err != nil {
				return fmt.Errorf("building core server: %w", err)
			}

			runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return server.Run(runCtx)
		},
	}
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
