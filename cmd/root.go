package cmd

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/zjrosen/relay/internal/config"
)

var (
	version   = "dev"
	cfgFile   string
	debugFlag bool
	cfg       config.Config
)

var rootCmd = &cobra.Command{
	Use:     "relay",
	Short:   "A dispatch layer for model-backed services",
	Long:    `Relay registers prompts, schemas and codecs under validated identities and executes model calls through configured provider clients with retry, tracing and auditing.`,
	Version: version,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "",
		"config file (default: ~/.config/relay/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debugFlag, "debug", false,
		"enable debug logging to relay.log")
}

func initConfig() {
	defaults := config.Defaults()
	viper.SetDefault("engine.max_attempts", defaults.Engine.MaxAttempts)
	viper.SetDefault("engine.backoff_initial", defaults.Engine.BackoffInitial)
	viper.SetDefault("engine.backoff_factor", defaults.Engine.BackoffFactor)
	viper.SetDefault("engine.backoff_jitter", defaults.Engine.BackoffJitter)
	viper.SetDefault("engine.backoff_max", defaults.Engine.BackoffMax)
	viper.SetDefault("prompts.debounce", defaults.Prompts.Debounce)
	viper.SetDefault("audit.enabled", defaults.Audit.Enabled)
	viper.SetDefault("audit.db_path", defaults.Audit.DBPath)
	viper.SetDefault("tracing.enabled", defaults.Tracing.Enabled)
	viper.SetDefault("tracing.exporter", defaults.Tracing.Exporter)
	viper.SetDefault("tracing.file_path", defaults.Tracing.FilePath)
	viper.SetDefault("tracing.otlp_endpoint", defaults.Tracing.OTLPEndpoint)
	viper.SetDefault("tracing.sample_rate", defaults.Tracing.SampleRate)
	viper.SetDefault("tracing.service_name", defaults.Tracing.ServiceName)

	viper.SetEnvPrefix("RELAY")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		// Config lookup order:
		// 1. .relay/config.yaml (current directory)
		// 2. ~/.config/relay/config.yaml (user config)
		if _, err := os.Stat(".relay/config.yaml"); err == nil {
			viper.SetConfigFile(".relay/config.yaml")
		} else {
			viper.AddConfigPath(config.ConfigDir())
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
	}

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			cobra.CheckErr(err)
		}
		// No config file found anywhere - continue with defaults.
	}

	_ = viper.Unmarshal(&cfg)
}

// configInitCmd writes a commented default config file.
var configInitCmd = &cobra.Command{
	Use:   "config:init [path]",
	Short: "Write a default config file",
	Long: `Write a commented default configuration file.

Without an argument the file is written to ~/.config/relay/config.yaml.
Refuses to overwrite an existing file.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := filepath.Join(config.ConfigDir(), "config.yaml")
		if len(args) == 1 {
			path = args[0]
		}
		if err := config.WriteDefaultConfig(path); err != nil {
			return err
		}
		cmd.Printf("wrote %s\n", path)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(configInitCmd)
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// SetVersion sets the version string (called from main with ldflags)
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}
