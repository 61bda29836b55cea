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
	"path/filepath"

	"github.com/pgedge/tablehash/internal/cli"
	"github.com/pgedge/tablehash/pkg/config"
	"github.com/pgedge/tablehash/pkg/logger"
)

// Runs only the HTTP API. The config file is read from the working
// directory, or from the install root one level above the binary.
func main() {
	cfgPath := config.FileName
	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		execPath, err := os.Executable()
		if err != nil {
			logger.Fatal("unable to determine executable path: %v", err)
		}
		root := filepath.Dir(filepath.Dir(execPath))
		cfgPath = filepath.Join(root, config.FileName)
	}
	if err := config.Init(cfgPath); err != nil {
		logger.Fatal("loading config (%s): %v", cfgPath, err)
	}

	args := append([]string{os.Args[0], "start", "--component", "api"}, os.Args[1:]...)
	app := cli.SetupCLI()
	if err := app.Run(args); err != nil {
		logger.Error("%v", err)
		os.Exit(1)
	}
}
