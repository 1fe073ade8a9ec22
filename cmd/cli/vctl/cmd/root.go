package cmd

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/verdant-os/verdantd/pkg/control"
	"github.com/verdant-os/verdantd/pkg/daemon"
)

var (
	socketPath   string
	outputFormat string
	cfgFile      string
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:           "vctl",
	Short:         "Control a running verdantd service supervisor",
	Long:          `vctl talks to a running verdantd daemon over its control socket to inspect and manage supervised service instances.`,
	SilenceUsage:  true,
	SilenceErrors: false,
}

// Execute adds all child commands to the root command and sets flags appropriately
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.vctl/config)")
	rootCmd.PersistentFlags().StringVar(&socketPath, "socket", "", "daemon control socket path")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "output", "table", "output format: table or json")
}

// initConfig reads in config file and ENV variables if set
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(filepath.Join(home, ".vctl"))
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
	}

	viper.AutomaticEnv()
	viper.BindEnv("socket", "VERDANTD_SOCKET")

	if err := viper.ReadInConfig(); err == nil {
		if socketPath == "" && viper.GetString("socket") != "" {
			socketPath = viper.GetString("socket")
		}
	}
	if socketPath == "" && viper.GetString("socket") != "" {
		socketPath = viper.GetString("socket")
	}
	if socketPath == "" {
		socketPath = daemon.DefaultSocketPath
	}
}

// newClient creates a control client for the configured socket
func newClient() *control.Client {
	return control.NewClient(socketPath)
}

// IsJSONOutput returns true if JSON output is requested
func IsJSONOutput() bool {
	return outputFormat == "json"
}
