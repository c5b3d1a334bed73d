// SPDX-FileCopyrightText: Copyright 2023 The Minder Authors
// SPDX-License-Identifier: Apache-2.0

// Package logging configures the zerolog logger shared by the store,
// subscription, and coordinator implementations, following the teacher's
// internal/logger.FromFlags pattern.
package logging

import (
	"os"

	"github.com/rs/zerolog"
)

// Format selects the console output encoding.
type Format string

const (
	// Text renders human-readable console output, the default in
	// development.
	Text Format = "text"
	// JSON renders newline-delimited JSON, suited to log aggregation.
	JSON Format = "json"
)

// Config is the logging surface passed to FromConfig (mapstructure-tagged
// to match the teacher's config struct convention). occurrent.StoreConfig
// carries no logging settings.
type Config struct {
	Level  string `mapstructure:"level"`
	Format Format `mapstructure:"format"`
}

// DefaultConfig returns info-level, text-formatted logging.
func DefaultConfig() Config {
	return Config{Level: "info", Format: Text}
}

// FromConfig builds a zerolog.Logger per cfg and installs it as zerolog's
// default context logger, so zerolog.Ctx(ctx) resolves sensibly even for
// a context nobody explicitly attached a logger to.
func FromConfig(cfg Config) zerolog.Logger {
	zerolog.SetGlobalLevel(levelFromString(cfg.Level))

	var writer zerolog.LevelWriter
	if cfg.Format == Text {
		writer = zerolog.MultiLevelWriter(zerolog.NewConsoleWriter())
	} else {
		writer = zerolog.MultiLevelWriter(os.Stdout)
	}

	logger := zerolog.New(writer).With().Timestamp().Logger()
	zerolog.DefaultContextLogger = &logger
	return logger
}

func levelFromString(level string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return zerolog.InfoLevel
	}
	return lvl
}
