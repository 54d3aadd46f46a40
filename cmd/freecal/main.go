package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"freecal/internal/config"
	appLog "freecal/internal/log"
)

const usage = `usage: freecal <command> [flags]

commands:
  free    compute the free time of one day from .ics files
  create  write an .ics file from a YAML event definition file
  serve   run the HTTP API and refresh the free-time calendar on a schedule

Run "freecal <command> -h" for the flags of a command.
`

// commonFlags are accepted by every command.
type commonFlags struct {
	configPath string
	envFile    string
}

func (c *commonFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&c.configPath, "config", "", "Path to config file (defaults are used when empty)")
	fs.StringVar(&c.envFile, "env-file", ".env", "Optional .env file with FREECAL_* overrides")
}

// load reads the config (or defaults), applies environment overrides and
// configures logging.
func (c *commonFlags) load() (*config.Config, error) {
	cfg := config.DefaultConfig()
	if c.configPath != "" {
		loaded, err := config.Load(c.configPath)
		if err != nil {
			return nil, fmt.Errorf("load config %s: %w", c.configPath, err)
		}
		cfg = loaded
	}
	if err := cfg.ApplyEnv(c.envFile); err != nil {
		return nil, fmt.Errorf("apply env: %w", err)
	}

	if err := appLog.Init(cfg.Env); err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	appLog.SetLevel(appLog.ParseLevel(cfg.LogLevel))
	return cfg, nil
}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "free":
		err = runFree(ctx, os.Args[2:], os.Stdout)
	case "create":
		err = runCreate(os.Args[2:], os.Stdout)
	case "serve":
		err = runServe(ctx, os.Args[2:])
	case "-h", "--help", "help":
		fmt.Fprint(os.Stdout, usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", os.Args[1], usage)
		os.Exit(2)
	}

	appLog.Sync()
	if err != nil {
		fmt.Fprintln(os.Stderr, "freecal:", err)
		cancel()
		os.Exit(1)
	}
}
