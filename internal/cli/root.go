package cli

import (
	"fmt"

	"github.com/lazypower/curator/internal/config"
	"github.com/lazypower/curator/internal/engine"
	"github.com/lazypower/curator/internal/store"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "curator",
	Short: "Score, merge and prune learned correction patterns",
	Long: "Curator keeps a store of learned corrections healthy: it scores every pattern, " +
		"folds near-duplicates together and prunes low-value patterns into a restorable backup ledger.",
	SilenceUsage: true,
}

var (
	configPath string
	dbPath     string
)

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default ~/.curator/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "Database path, overrides database.path")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(teachCmd)
	rootCmd.AddCommand(outcomeCmd)
	rootCmd.AddCommand(favoriteCmd)
	rootCmd.AddCommand(unfavoriteCmd)
	rootCmd.AddCommand(scoreCmd)
	rootCmd.AddCommand(topCmd)
	rootCmd.AddCommand(bottomCmd)
	rootCmd.AddCommand(distributionCmd)
	rootCmd.AddCommand(mergeCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(candidatesCmd)
	rootCmd.AddCommand(pruneCmd)
	rootCmd.AddCommand(restoreCmd)
	rootCmd.AddCommand(backupsCmd)
	rootCmd.AddCommand(maintainCmd)
}

// loadConfig reads the config file named by --config (or the default path)
// and applies the --db override.
func loadConfig() (config.Config, error) {
	path := configPath
	if path == "" {
		var err error
		path, err = config.DefaultPath()
		if err != nil {
			return config.Config{}, err
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return cfg, fmt.Errorf("load config: %w", err)
	}
	if dbPath != "" {
		cfg.Database.Path = dbPath
	}
	return cfg, nil
}

// storeCloser is a pattern store that owns an open database handle.
type storeCloser interface {
	engine.Store
	Close() error
}

// openStore opens the configured backend and returns it with its resolved path.
func openStore(cfg config.DatabaseConfig) (storeCloser, string, error) {
	path := cfg.Path
	if path == "" {
		var err error
		path, err = store.DefaultDBPath(cfg.Backend)
		if err != nil {
			return nil, "", fmt.Errorf("resolve db path: %w", err)
		}
	}

	switch cfg.Backend {
	case "badger":
		kv, err := store.OpenKV(path)
		if err != nil {
			return nil, "", err
		}
		return kv, path, nil
	default:
		db, err := store.Open(path)
		if err != nil {
			return nil, "", err
		}
		return db, path, nil
	}
}

// openEngine is the helper every data command uses: config, store, engine.
// The returned func closes the store.
func openEngine() (*engine.Engine, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	s, _, err := openStore(cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("open db: %w", err)
	}
	eng, err := engine.New(s, cfg)
	if err != nil {
		s.Close()
		return nil, nil, err
	}
	closeFn := func() {
		eng.Stop()
		s.Close()
	}
	return eng, closeFn, nil
}
