package main

import (
	"os"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"repair-pricing-backend/config"
)

const defaultConfigPath = "./config/config.yaml"

func main() {
	if err := rootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCommand() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:          "repaird",
		Short:        "Dynamic repair pricing and booking progress service",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// A missing .env is normal outside local development.
			if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
				log.Warnf("Could not read .env: %v", err)
			}
			if !cmd.Flags().Changed("config") {
				if p := os.Getenv("CONFIG_PATH"); p != "" {
					configPath = p
				}
			}
			return nil
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", defaultConfigPath, "Path to the YAML configuration (default from CONFIG_PATH)")

	load := func() (*config.Config, error) {
		cfg, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		level, _ := log.ParseLevel(cfg.LogLevel)
		log.SetLevel(level)
		log.Printf("Configuration loaded from %s", configPath)
		return cfg, nil
	}

	serve := serveCommand(load)
	root.AddCommand(serve, quoteCommand(load))
	// Running without a subcommand serves.
	root.RunE = serve.RunE
	return root
}
