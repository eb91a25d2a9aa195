package cli

import (
	"context"
	"os"

	"github.com/outofforest/logger"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"pier2pier.dev/go/pier2pier/internal/config"
	"pier2pier.dev/go/pier2pier/internal/logging"
	"pier2pier.dev/go/pier2pier/internal/store"
)

var (
	version    = "dev"
	cfgFile    string
	userFlag   string
	verboseLog bool
)

func SetVersion(v string) {
	version = v
}

// RootCmd is the root command, exported for documentation generation
var RootCmd = &cobra.Command{
	Use:   "pier2pier",
	Short: "Serverless peer-to-peer chat over hand-exchanged sigils",
	Long: `pier2pier - Serverless peer-to-peer chat over hand-exchanged sigils

Two people connect by swapping sigils through any channel they trust: a
chat message, a QR code, a piece of paper. No rendezvous server is
involved. Conversations are stored locally, one store per identity.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// For internal use, keep an alias
var rootCmd = RootCmd

func Execute() error {
	return RootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default $HOME/.config/pier2pier/config.toml)")
	rootCmd.PersistentFlags().StringVarP(&userFlag, "user", "u", "", "identity to act as (default from config, else \"default\")")
	rootCmd.PersistentFlags().BoolVarP(&verboseLog, "verbose", "v", false, "verbose output")
}

// env is the per-command runtime: configuration, logger and the user's
// opened store.
type env struct {
	cfg    *config.Config
	paths  *config.Paths
	log    *zap.Logger
	store  *store.Gateway
	userID string
}

func loadConfig() (*config.Config, *config.Paths, error) {
	paths, err := config.GetPaths()
	if err != nil {
		return nil, nil, err
	}

	cfg, err := config.LoadFrom(configPath(paths))
	if err != nil {
		return nil, nil, err
	}

	if userFlag != "" {
		cfg.Identity.User = userFlag
	}
	if verboseLog {
		cfg.Logging.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, errors.Wrap(err, "invalid configuration")
	}
	return cfg, paths, nil
}

func configPath(paths *config.Paths) string {
	if cfgFile != "" {
		return cfgFile
	}
	return paths.ConfigFile
}

// setup loads the configuration, builds the logger and opens the store.
// Failing to open the store ends the command: nothing can be served
// without it.
func setup(cmd *cobra.Command) (context.Context, *env, error) {
	cfg, paths, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}

	buffer := logging.NewBuffer(logging.BufferSize)
	log, err := logging.New(cfg.LogConfig(), os.Stderr, buffer)
	if err != nil {
		return nil, nil, err
	}
	ctx := logger.WithLogger(cmd.Context(), log)

	dataDir := paths.StoreDir(cfg)
	gw := store.New(dataDir, store.WithLogger(log.Named("store")), store.WithLogBuffer(buffer))
	if err := gw.Open(ctx, cfg.Identity.User); err != nil {
		return nil, nil, errors.Wrapf(err, "open store in %s", dataDir)
	}

	e := &env{
		cfg:    cfg,
		paths:  paths,
		log:    log,
		store:  gw,
		userID: gw.UserID(),
	}
	return ctx, e, nil
}

func (e *env) close() {
	if err := e.store.Cleanup(); err != nil {
		e.log.Warn("Closing store failed", zap.Error(err))
	}
	_ = e.log.Sync()
}
