package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ppiankov/xfattach/internal/model"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const version = "xfattach v0.1.0"

var (
	cfgFile string
	verbose bool
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "xfattach",
	Short: "xfattach - download attachments referenced by xenforo-dl exports",
	Long: `xfattach walks a directory of text exports written by xenforo-dl, finds the
attachment blocks embedded in them and downloads every attachment into an
"attachments" directory next to the export that references it.

Downloads run one at a time with a pause between requests so forums are not
hammered. Nothing is remembered between runs: existing files are never
overwritten, new downloads get a numbered name instead.`,
	SilenceErrors: true,
	SilenceUsage:  true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version)
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $HOME/.xfattach/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	// Bind flags to viper
	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))

	rootCmd.AddCommand(versionCmd)
}

// initConfig reads in config file and ENV variables
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error finding home directory: %v\n", err)
			return
		}

		viper.AddConfigPath(filepath.Join(home, ".xfattach"))
		viper.SetConfigType("yaml")
		viper.SetConfigName("config")
	}

	setDefaults(viper.GetViper(), model.DefaultConfig())
	bindEnv(viper.GetViper())

	if err := viper.ReadInConfig(); err == nil && verbose {
		fmt.Fprintf(os.Stderr, "Using config file: %s\n", viper.ConfigFileUsed())
	}
}

// bindEnv maps XFATTACH_DELAY_MS, XFATTACH_HTTP_TIMEOUT, ... onto config keys
func bindEnv(v *viper.Viper) {
	v.SetEnvPrefix("XFATTACH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Short aliases for the settings people export most
	_ = v.BindEnv("http.cookie", "XFATTACH_COOKIE", "XFATTACH_HTTP_COOKIE")
	_ = v.BindEnv("http.user_agent", "XFATTACH_USER_AGENT", "XFATTACH_HTTP_USER_AGENT")
}

// setDefaults registers every config key so env variables and config files can override it
func setDefaults(v *viper.Viper, cfg *model.Config) {
	v.SetDefault("root", cfg.Root)
	v.SetDefault("delay_ms", cfg.DelayMS)
	v.SetDefault("ignore", cfg.Ignore)
	v.SetDefault("verbose", cfg.Verbose)
	v.SetDefault("http.user_agent", cfg.HTTP.UserAgent)
	v.SetDefault("http.cookie", cfg.HTTP.Cookie)
	v.SetDefault("http.timeout", cfg.HTTP.Timeout)
	v.SetDefault("http.insecure_tls", cfg.HTTP.InsecureTLS)
	v.SetDefault("http.cookie_jar", cfg.HTTP.CookieJar)
	v.SetDefault("http.http_proxy", cfg.HTTP.HTTPProxy)
	v.SetDefault("http.https_proxy", cfg.HTTP.HTTPSProxy)
	v.SetDefault("http.no_proxy", cfg.HTTP.NoProxy)
	v.SetDefault("rate_limit.requests_per_second", cfg.Rate.RequestsPerSecond)
	v.SetDefault("rate_limit.burst", cfg.Rate.Burst)
	v.SetDefault("robots.enabled", cfg.Robots.Enabled)
	v.SetDefault("robots.cache_ttl", cfg.Robots.CacheTTL)
	v.SetDefault("disk.min_free_mb", cfg.Disk.MinFreeMB)
}

// loadConfig builds the effective configuration (flags > env > file > defaults)
func loadConfig(v *viper.Viper) (*model.Config, error) {
	// An unparseable delay falls back to the default instead of failing the run
	if raw := strings.TrimSpace(v.GetString("delay_ms")); raw != "" {
		delay, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			delay = model.DefaultDelayMS
		}
		v.Set("delay_ms", delay)
	}

	cfg := model.DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.Normalize()

	return cfg, nil
}
