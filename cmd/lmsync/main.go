package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fatih/color"
	"github.com/lmittmann/tint"
	"github.com/lmsync/lmsync/internal/utils"
	"github.com/lmsync/lmsync/internal/version"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	home, _        = os.UserHomeDir()
	defaultDataDir = filepath.Join(home, ".lmsync")
	configFileName = "config"
)

var (
	red    = color.New(color.FgHiRed, color.Bold).SprintFunc()
	green  = color.New(color.FgHiGreen).SprintFunc()
	cyan   = color.New(color.FgHiCyan).SprintFunc()
	yellow = color.New(color.FgHiYellow).SprintFunc()
)

var rootCmd = &cobra.Command{
	Use:     "lmsync",
	Short:   "Sync course files from your LMS to local folders",
	Version: version.Detailed(),
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return loadConfig(cmd)
	},
}

func init() {
	rootCmd.PersistentFlags().SortFlags = false
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default "+filepath.Join(defaultDataDir, "config.json")+")")
	rootCmd.PersistentFlags().String("base-url", "", "LMS base URL (e.g. https://school.instructure.com)")
	rootCmd.PersistentFlags().String("token", "", "LMS API access token")
	rootCmd.PersistentFlags().String("data-dir", defaultDataDir, "directory for registry and logs")

	rootCmd.AddCommand(syncCmd, statusCmd, ignoreCmd, unignoreCmd, historyCmd, bindCmd, unbindCmd)
}

func main() {
	setupLogging()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func setupLogging() {
	consoleHandler := tint.NewHandler(os.Stderr, &tint.Options{
		Level:      slog.LevelInfo,
		TimeFormat: "15:04:05",
		NoColor:    !isatty.IsTerminal(os.Stderr.Fd()),
	})

	handlers := []slog.Handler{consoleHandler}

	logPath := filepath.Join(defaultDataDir, "logs", "lmsync.log")
	if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err == nil {
		if file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644); err == nil {
			handlers = append(handlers, slog.NewTextHandler(file, &slog.HandlerOptions{
				Level: slog.LevelDebug,
			}))
		}
	}

	slog.SetDefault(slog.New(utils.NewMultiLogHandler(handlers...)))
}

func loadConfig(cmd *cobra.Command) error {
	if cmd.Flag("config").Changed {
		configFilePath, _ := cmd.Flags().GetString("config")
		viper.SetConfigFile(configFilePath)
	} else {
		viper.AddConfigPath(defaultDataDir)
		viper.AddConfigPath(filepath.Join(home, ".config", "lmsync"))
		viper.SetConfigName(configFileName)
		viper.SetConfigType("json")
	}

	if err := viper.ReadInConfig(); err != nil {
		enoent := errors.Is(err, os.ErrNotExist)
		_, notFound := err.(viper.ConfigFileNotFoundError)
		if !enoent && !notFound {
			return fmt.Errorf("config read '%s': %w", viper.ConfigFileUsed(), err)
		}
	}

	viper.BindPFlag("base_url", cmd.Flags().Lookup("base-url"))
	viper.BindPFlag("token", cmd.Flags().Lookup("token"))
	viper.BindPFlag("data_dir", cmd.Flags().Lookup("data-dir"))

	viper.SetEnvPrefix("LMSYNC")
	viper.AutomaticEnv()

	return nil
}
