// Copyright 2023 The go-adkihon Authors
// This file is part of go-adkihon.
//
// go-adkihon is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// go-adkihon is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with go-adkihon. If not, see <http://www.gnu.org/licenses/>.

// adkihon is the attack-defense CTF game server. It runs the round
// scheduler, the flag submission API and the public scoreboard from a single
// JSON game document.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"

	"github.com/adkihon/go-adkihon/config"
	"github.com/adkihon/go-adkihon/core"
	"github.com/adkihon/go-adkihon/gamedb/mongodb"
	"github.com/adkihon/go-adkihon/web"
)

var (
	configFlag = &cli.StringFlag{
		Name:    "config",
		Usage:   "path to the game configuration document",
		Value:   "volume/config.json",
		Aliases: []string{"c"},
	}
	verbosityFlag = &cli.StringFlag{
		Name:  "verbosity",
		Usage: "log level (trace, debug, info, warn, error)",
		Value: "info",
	}
	logJSONFlag = &cli.BoolFlag{
		Name:  "log.json",
		Usage: "emit logs as JSON instead of console format",
	}
)

func main() {
	app := &cli.App{
		Name:   "adkihon",
		Usage:  "attack-defense CTF game server",
		Flags:  []cli.Flag{configFlag, verbosityFlag, logJSONFlag},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func run(ctx *cli.Context) error {
	// A missing .env is fine, the environment may be set by other means.
	_ = godotenv.Load()

	logger, err := newLogger(ctx.String(verbosityFlag.Name), ctx.Bool(logJSONFlag.Name))
	if err != nil {
		return err
	}

	cfg, err := config.Load(ctx.String(configFlag.Name))
	if err != nil {
		return err
	}

	db, err := mongodb.New(cfg.Mongo)
	if err != nil {
		return fmt.Errorf("store connection failed: %w", err)
	}
	defer db.Close()

	engine, err := core.NewEngine(db, cfg, logger)
	if err != nil {
		return err
	}
	if err := engine.Start(); err != nil {
		return err
	}
	defer engine.Stop()

	server := web.NewServer(engine, cfg, logger)
	serverErr := server.Start()

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigc)

	select {
	case sig := <-sigc:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-serverErr:
		if err != nil {
			logger.Error().Err(err).Msg("http facade failed")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Stop(shutdownCtx)
}

func newLogger(verbosity string, asJSON bool) (zerolog.Logger, error) {
	level, err := zerolog.ParseLevel(verbosity)
	if err != nil {
		return zerolog.Logger{}, fmt.Errorf("invalid verbosity %q: %w", verbosity, err)
	}
	if asJSON {
		return zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger(), nil
	}
	out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	return zerolog.New(out).Level(level).With().Timestamp().Logger(), nil
}
