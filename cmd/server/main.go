package main

import (
	"fmt"
	"os"

	"github.com/dxpcore/dxp-chat/internal/config"
	"github.com/dxpcore/dxp-chat/internal/database"
	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:           "dxp-chat",
		Short:         "Real-time chat for the DXP travel portal",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a config file")
	root.PersistentFlags().AddFlagSet(config.FlagSet())

	root.AddCommand(serveCmd(), migrateCmd(), tokenCmd())
	root.SetGlobalNormalizationFunc(config.NormalizeFlagName)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "dxp-chat:", err)
		os.Exit(1)
	}
}

func loadConfig(cmd *cobra.Command) (*config.Config, hclog.Logger, error) {
	v, err := config.NewViper(cmd.Flags(), configPath)
	if err != nil {
		return nil, nil, err
	}

	cfg, err := config.NewConfig(v)
	if err != nil {
		return nil, nil, fmt.Errorf("config: %w", err)
	}

	logger := hclog.New(&hclog.LoggerOptions{
		Name:  "dxp-chat",
		Level: hclog.LevelFromString(cfg.LogLevel),
	})
	return cfg, logger, nil
}

// openStore opens the configured message store. Postgres schemas are
// migrated before use.
func openStore(cfg *config.Config, logger hclog.Logger) (database.ChatRepository, error) {
	switch cfg.Store {
	case config.StoreBuntDB:
		logger.Info("opening buntdb store", "path", cfg.BuntDBPath)
		return database.NewBuntChatRepository(cfg.BuntDBPath)
	default:
		db, err := database.NewPgChatRepository(cfg.DatabaseDSN)
		if err != nil {
			return nil, fmt.Errorf("db open: %w", err)
		}
		if err := db.Migrate(); err != nil {
			db.Close()
			return nil, err
		}
		return db, nil
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cfg.Store != config.StorePostgres {
				return fmt.Errorf("migrations only apply to the %s store", config.StorePostgres)
			}

			db, err := database.NewPgChatRepository(cfg.DatabaseDSN)
			if err != nil {
				return fmt.Errorf("db open: %w", err)
			}
			defer db.Close()

			if err := db.Migrate(); err != nil {
				return err
			}
			logger.Info("migrations applied")
			return nil
		},
	}
}
