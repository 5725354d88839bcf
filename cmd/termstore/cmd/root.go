package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/treeverse/termstore/pkg/config"
	"github.com/treeverse/termstore/pkg/logging"
	"github.com/treeverse/termstore/pkg/version"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:     "termstore",
	Short:   "termstore keeps versioned terminology objects with their branches, locks and index",
	Version: version.Version,
}

// Execute runs the command line and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

//nolint:gochecknoinits
func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default searches ., ~/.termstore and /etc/termstore for config.yaml)")
	rootCmd.SetGlobalNormalizationFunc(normalizeFlagName)
}

// normalizeFlagName accepts underscores in place of dashes: --base_time is --base-time.
func normalizeFlagName(_ *pflag.FlagSet, name string) pflag.NormalizedName {
	return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
}

// configSearchPath lists the directories searched for config.yaml when no
// --config is given.
func configSearchPath() []string {
	dirs := []string{"."}
	if home, err := homedir.Dir(); err == nil {
		dirs = append(dirs, filepath.Join(home, ".termstore"))
	}
	return append(dirs, "/etc/termstore")
}

var readConfig = sync.OnceValues(func() (*config.Config, error) {
	if cfgFile != "" {
		file, err := homedir.Expand(cfgFile)
		if err != nil {
			return nil, fmt.Errorf("config file %s: %w", cfgFile, err)
		}
		viper.SetConfigFile(file)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		for _, dir := range configSearchPath() {
			viper.AddConfigPath(dir)
		}
	}
	config.SetupEnv()

	var notFound viper.ConfigFileNotFoundError
	if err := viper.ReadInConfig(); err != nil && !errors.As(err, &notFound) {
		return nil, fmt.Errorf("read %s: %w", viper.ConfigFileUsed(), err)
	}
	cfg, err := config.NewConfig()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logging.Default().
		WithField(logging.PhaseFieldKey, "startup").
		WithField("file", viper.ConfigFileUsed()).
		WithFields(cfg.ToLoggerFields()).
		Info("Config loaded")
	return cfg, nil
})

// loadConfig returns the configuration, exiting when it cannot be read or is invalid.
func loadConfig() *config.Config {
	cfg, err := readConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Failed to load config:", err)
		os.Exit(1)
	}
	return cfg
}
