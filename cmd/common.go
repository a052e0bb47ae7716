package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Lorenzo-Protocol/lorenzo-bridge-bonder/config"
	"github.com/Lorenzo-Protocol/lorenzo-bridge-bonder/db"
)

// loadConfig reads the --config file and builds the root logger honoring --debug.
func loadConfig(c *cobra.Command) (*config.Config, *zap.Logger, error) {
	configFile, err := c.Flags().GetString("config")
	if err != nil {
		return nil, nil, err
	}
	enableDebug, err := c.Flags().GetBool("debug")
	if err != nil {
		return nil, nil, err
	}

	cfg, err := config.NewConfig(configFile)
	if err != nil {
		return nil, nil, err
	}
	logger, err := cfg.CreateLogger(enableDebug)
	if err != nil {
		return nil, nil, err
	}
	return &cfg, logger, nil
}

func openDatabase(c *cobra.Command) (*config.Config, db.IDB, *zap.Logger, error) {
	cfg, logger, err := loadConfig(c)
	if err != nil {
		return nil, nil, nil, err
	}
	database, err := db.Open(cfg.Database)
	if err != nil {
		return nil, nil, nil, err
	}
	return cfg, database, logger, nil
}
