package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/fulmenhq/gofulmen/telemetry"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/scaffoldir/scaffoldir/internal/appid"
	"github.com/scaffoldir/scaffoldir/internal/config"
	"github.com/scaffoldir/scaffoldir/internal/observability"
	"github.com/scaffoldir/scaffoldir/internal/server/handlers"
)

var (
	cfgFile string
	verbose bool

	// Version info set by main package
	versionInfo struct {
		Version   string
		Commit    string
		BuildDate string
	}
)

// SetVersionInfo is called by main package to set version information
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
	handlers.SetVersionInfo(version, commit, buildDate)
}

var rootCmd = &cobra.Command{
	Use:           filepath.Base(os.Args[0]),
	Short:         "Directory backend for scaffolding businesses",
	SilenceUsage:  true,
	SilenceErrors: false,
}

// Execute runs the root command. Called once by main.main().
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Commands must not emit telemetry to stdout while loading config;
	// serve installs the real system.
	if sys, err := telemetry.NewSystem(&telemetry.Config{Enabled: false}); err == nil {
		telemetry.SetGlobalSystem(sys)
	}

	identity := appid.Get()
	rootCmd.Use = identity.BinaryName
	rootCmd.Short = identity.Description
	rootCmd.Long = fmt.Sprintf("%s - %s\n\nUse the subcommands to scrape, inspect and serve the directory.", identity.BinaryName, identity.Description)

	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		fmt.Sprintf("config file (default is %s)", displayPath(config.DefaultConfigPath())))
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output (sets log level to debug)")

	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
}

// initConfig points the loader at --config and starts the CLI logger.
// Commands call loadConfig for the typed configuration.
func initConfig() {
	identity := appid.Get()
	observability.InitCLILogger(identity.BinaryName, verbose)

	if cfgFile != "" {
		if _, err := os.Stat(cfgFile); err != nil {
			ExitWithCode(observability.CLILogger, foundry.ExitFileNotFound, "Config file not readable", err)
		}
		config.SetConfigFile(cfgFile)
		observability.CLILogger.Debug("Using config file", zap.String("path", cfgFile))
	}
}

// loadConfig loads the layered configuration with flag values bound in viper
// applied last.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(flagOverrides())
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// boundKeys are the config paths commands bind flags to with viper.BindPFlag.
var boundKeys = []string{
	"server.host",
	"server.port",
	"rate_limit.backend",
	"overpass.timeout",
}

func flagOverrides() map[string]any {
	overrides := map[string]any{}
	for _, key := range boundKeys {
		if !viper.IsSet(key) {
			continue
		}
		setPath(overrides, strings.Split(key, "."), viper.Get(key))
	}
	return overrides
}

func setPath(dst map[string]any, path []string, value any) {
	for _, part := range path[:len(path)-1] {
		next, ok := dst[part].(map[string]any)
		if !ok {
			next = map[string]any{}
			dst[part] = next
		}
		dst = next
	}
	dst[path[len(path)-1]] = value
}

func displayPath(path string) string {
	if path == "" {
		return "$XDG_CONFIG_HOME/" + appid.Get().ConfigName + "/config.yaml"
	}
	return path
}
