package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/engeditor/session/agent"
	"github.com/engeditor/session/internal/config"
	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:  "eng-agent",
		Usage: "start an editor session, or open a window in the one already running",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "test-mode",
				Usage:   "Launch front ends in test mode, where they exit after the handshake.",
				EnvVars: []string{"ENG_AGENT_TEST_MODE"},
			},
			&cli.BoolFlag{
				Name:    "daemon",
				Usage:   "Keep the session running after the first front end exits.",
				EnvVars: []string{"ENG_AGENT_DAEMON"},
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Minimum log level. One of [debug,info,warn,error].",
				EnvVars: []string{"ENG_AGENT_LOG_LEVEL"},
				Value:   "info",
			},
			&cli.StringFlag{
				Name:    "config",
				Usage:   "Path to the YAML config file.",
				EnvVars: []string{"ENG_AGENT_CONFIG"},
				Value:   config.DefaultPath(),
			},
			&cli.DurationFlag{
				Name:    "delegation-timeout",
				Usage:   "How long to wait for an already running agent to answer.",
				EnvVars: []string{"ENG_AGENT_DELEGATION_TIMEOUT"},
				Value:   agent.DefaultDelegationTimeout,
			},
			&cli.DurationFlag{
				Name:    "handshake-timeout",
				Usage:   "How long the content server has to announce its port.",
				EnvVars: []string{"ENG_AGENT_HANDSHAKE_TIMEOUT"},
				Value:   10 * time.Second,
			},
		},
		Action: func(ctx *cli.Context) error {
			cfg, err := config.Load(ctx.String("config"))
			if err != nil {
				return err
			}
			if ctx.IsSet("test-mode") {
				cfg.TestMode = ctx.Bool("test-mode")
			}
			if ctx.IsSet("daemon") {
				cfg.Daemon = ctx.Bool("daemon")
			}
			if ctx.IsSet("log-level") {
				cfg.LogLevel = ctx.String("log-level")
			}
			if ctx.IsSet("delegation-timeout") {
				cfg.DelegationTimeout = ctx.Duration("delegation-timeout")
			}
			if ctx.IsSet("handshake-timeout") {
				cfg.HandshakeTimeout = ctx.Duration("handshake-timeout")
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			level, err := cfg.Level()
			if err != nil {
				return err
			}

			opts := []agent.Option{
				agent.WithLogLevel(level),
				agent.WithTestMode(cfg.TestMode),
				agent.WithDaemon(cfg.Daemon),
				agent.WithDelegationTimeout(cfg.DelegationTimeout),
				agent.WithHandshakeTimeout(cfg.HandshakeTimeout),
			}
			// the environment overrides take precedence over the config file
			if cfg.CorePath != "" && os.Getenv(agent.CorePathEnv) == "" {
				opts = append(opts, agent.WithCorePath(cfg.CorePath))
			}
			if cfg.UIPath != "" && os.Getenv(agent.UIPathEnv) == "" {
				opts = append(opts, agent.WithUIPath(cfg.UIPath))
			}

			coordinator, err := agent.New(opts...)
			if err != nil {
				return fmt.Errorf("building agent: %w", err)
			}

			runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			_, err = coordinator.Run(runCtx)
			return err
		},
	}
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
