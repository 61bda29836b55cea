// ///////////////////////////////////////////////////////////////////////////
//
// # TableHash - Merkle digests for sorted tables
//
// Copyright (C) 2023 - 2026, pgEdge (https://www.pgedge.com/)
//
// This software is released under the PostgreSQL License:
// https://opensource.org/license/postgresql
//
// ///////////////////////////////////////////////////////////////////////////

package main

import (
	"os"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/pgedge/tablehash/internal/cli"
	"github.com/pgedge/tablehash/pkg/config"
	"github.com/pgedge/tablehash/pkg/logger"
)

func main() {
	if !shouldSkipConfig(os.Args[1:]) {
		// Without a config file the built-in defaults apply.
		if cfgPath, err := config.Find(); err == nil {
			if err := config.Init(cfgPath); err != nil {
				logger.Fatal("loading config (%s): %v", cfgPath, err)
			}
			if config.Cfg.DebugMode {
				logger.SetLevel(log.DebugLevel)
			}
		} else {
			logger.Debug("no %s found, using defaults", config.FileName)
		}
	}

	app := cli.SetupCLI()
	if err := app.Run(os.Args); err != nil {
		logger.Error("%v", err)
		os.Exit(1)
	}
}

func shouldSkipConfig(args []string) bool {
	if len(args) == 0 {
		return true
	}

	for _, arg := range args {
		if arg == "--help" || arg == "-h" || arg == "help" {
			return true
		}
	}

	var commandPath []string
	for _, arg := range args {
		if arg == "--" {
			break
		}
		if strings.HasPrefix(arg, "-") {
			continue
		}
		commandPath = append(commandPath, arg)
		if len(commandPath) >= 2 {
			break
		}
	}

	if len(commandPath) == 0 {
		return true
	}

	if commandPath[0] == "config" {
		return len(commandPath) == 1 || commandPath[1] == "init"
	}
	return false
}
