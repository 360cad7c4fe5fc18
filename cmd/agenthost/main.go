// Command agenthost runs background agents and talks to a running host.
package main

import (
	"io"
	"log"
	"os"

	"github.com/fatih/color"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"background-agents/internal/config"
)

type rootFlags struct {
	configPath string
	bus        string
	redisAddr  string
	redisDB    int
	listen     string
	manifest   string
	jwtSecret  string
	quiet      bool
}

func newRootCmd() *cobra.Command {
	var rf rootFlags
	root := &cobra.Command{
		Use:           "agenthost",
		Short:         "Run and drive background agents",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	flags := root.PersistentFlags()
	flags.StringVarP(&rf.configPath, "config", "c", os.Getenv(config.EnvPrefix+"CONFIG"), "YAML config file")
	flags.StringVar(&rf.bus, "bus", "", "Message bus: redis or local")
	flags.StringVar(&rf.redisAddr, "redis-addr", "", "Redis address")
	flags.IntVar(&rf.redisDB, "redis-db", 0, "Redis database")
	flags.StringVarP(&rf.listen, "listen", "l", "", "HTTP listen address")
	flags.StringVarP(&rf.manifest, "manifest", "m", "", "Package manifest (package.json or .yaml)")
	flags.StringVar(&rf.jwtSecret, "jwt-secret", "", "HS256 secret for API bearer tokens")
	flags.BoolVarP(&rf.quiet, "quiet", "q", false, "Suppress host logging")

	root.AddCommand(
		newServeCmd(&rf),
		newSendCmd(&rf),
		newValidateCmd(&rf),
		newWatchCmd(&rf),
		newGetCmd(&rf),
		newTokenCmd(&rf),
	)
	return root
}

// load reads the config file and env, then applies flags the user set.
func (rf *rootFlags) load(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load(rf.configPath)
	if err != nil {
		return config.Config{}, err
	}
	flags := cmd.Flags()
	if flags.Changed("bus") {
		cfg.Bus = rf.bus
	}
	if flags.Changed("redis-addr") {
		cfg.Redis.Addr = rf.redisAddr
	}
	if flags.Changed("redis-db") {
		cfg.Redis.DB = rf.redisDB
	}
	if flags.Changed("listen") {
		cfg.HTTP.Listen = rf.listen
	}
	if flags.Changed("manifest") {
		cfg.Manifest = rf.manifest
	}
	if flags.Changed("jwt-secret") {
		cfg.HTTP.JWTSecret = rf.jwtSecret
	}
	return cfg, cfg.Validate()
}

func (rf *rootFlags) logger(cmd *cobra.Command) *log.Logger {
	if rf.quiet {
		return log.New(io.Discard, "", 0)
	}
	return log.New(cmd.ErrOrStderr(), "agenthost ", log.LstdFlags)
}

func redisOptions(cfg config.Config) *redis.Options {
	return &redis.Options{Addr: cfg.Redis.Addr, DB: cfg.Redis.DB, Password: cfg.Redis.Password}
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		color.New(color.FgRed).Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func bold(format string, a ...interface{}) string {
	return color.New(color.Bold).Sprintf(format, a...)
}

var (
	okMark   = color.GreenString("✓")
	failMark = color.RedString("✗")
)
