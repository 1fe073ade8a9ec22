package main

import (
	"fmt"
	"os"

	flags "github.com/jessevdk/go-flags"

	"github.com/verdant-os/verdantd/pkg/daemon"
	"github.com/verdant-os/verdantd/pkg/logging"
)

type flagOptions struct {
	Config   string `long:"config" description:"path to daemon configuration file"`
	UnitsDir string `long:"units-dir" description:"directory of unit files (overrides config)"`
	Socket   string `long:"socket" description:"control socket path (overrides config)"`
	LogLevel string `long:"log-level" description:"log level: debug, info, warn, error (overrides config)"`
	Validate bool   `long:"validate" description:"validate configuration and unit files, then exit"`
}

func main() {
	var opts flagOptions
	parser := flags.NewParser(&opts, flags.HelpFlag)
	if _, err := parser.ParseArgs(os.Args[1:]); err != nil {
		fmt.Printf("Command line flags parsing failed: %v\n", err)
		os.Exit(1)
	}

	config, err := loadConfig(opts)
	if err != nil {
		fmt.Printf("Configuration error: %v\n", err)
		os.Exit(1)
	}

	if opts.Validate {
		fmt.Println("Configuration OK")
		return
	}

	zapAdapter, err := logging.NewZapAdapter(config.Daemon.LogLevel)
	if err != nil {
		fmt.Printf("Failed to initialize logging: %v\n", err)
		os.Exit(1)
	}
	defer zapAdapter.Sync()

	logger := logging.NewLogger("verdantd: ", zapAdapter.Funcs())

	if err := daemon.Run(config, logger); err != nil {
		logger.Errorf("Daemon failed: %v", err)
		zapAdapter.Sync()
		os.Exit(1)
	}
}

func loadConfig(opts flagOptions) (*daemon.Config, error) {
	var config *daemon.Config
	if opts.Config != "" {
		loaded, err := daemon.LoadConfigFromFile(opts.Config)
		if err != nil {
			return nil, err
		}
		config = loaded
	} else {
		config = daemon.DefaultConfig()
	}

	// Flags win over the file.
	if opts.UnitsDir != "" {
		config.Daemon.UnitsDir = opts.UnitsDir
	}
	if opts.Socket != "" {
		config.Daemon.SocketPath = opts.Socket
	}
	if opts.LogLevel != "" {
		config.Daemon.LogLevel = opts.LogLevel
	}

	return config, daemon.ValidateConfig(config)
}
