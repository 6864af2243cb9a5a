// psram-host talks to serial PSRAM chips through the firmware bridge, local
// Linux pins, or the built-in simulator.
package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"picopsram/core"
	"picopsram/host/board"
	"picopsram/host/config"
)

var app = &cli.App{
	Name:            "psram-host",
	Usage:           "drive serial PSRAM over SPI and QSPI",
	HideHelpCommand: true,
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "load configuration from `FILE`",
		},
		&cli.StringFlag{
			Name:  "backend",
			Usage: "override the configured backend (bridge, periph, sim)",
		},
		&cli.StringFlag{
			Name:  "device",
			Usage: "override the bridge serial `PATH`",
		},
		&cli.BoolFlag{
			Name:    "verbose",
			Aliases: []string{"v"},
			Usage:   "log bus transactions",
		},
	},
	Commands: []*cli.Command{
		idCommand,
		selftestCommand,
		readCommand,
		writeCommand,
	},
}

func main() {
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newLogger builds a console logger; verbose also routes core debug output
// through it
func newLogger(verbose bool) (*zap.SugaredLogger, error) {
	level := zap.InfoLevel
	if verbose {
		level = zap.DebugLevel
	}
	cfg := zap.Config{
		Level:    zap.NewAtomicLevelAt(level),
		Encoding: "console",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "ts",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalColorLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.StringDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		DisableStacktrace: true,
		OutputPaths:       []string{"stderr"},
		ErrorOutputPaths:  []string{"stderr"},
	}
	logger, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	log := logger.Sugar().Named("psram")

	if verbose {
		core.SetDebugWriter(func(s string) { log.Debug(s) })
		core.SetDebugEnabled(true)
	}
	return log, nil
}

// loadConfig reads --config, or starts from the defaults, then applies the
// command-line overrides
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg := config.Default()
	if path := c.String("config"); path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return nil, err
		}
	}
	if c.IsSet("backend") {
		cfg.Backend = c.String("backend")
	}
	if c.IsSet("device") {
		cfg.Serial.Device = c.String("device")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// withBoard opens the configured bus for the duration of fn
func withBoard(c *cli.Context, fn func(b *board.Board, log *zap.SugaredLogger) error) (err error) {
	log, err := newLogger(c.Bool("verbose"))
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	b, err := board.Open(cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := b.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	if err = fn(b, log); err != nil && c.Bool("verbose") {
		core.DumpTrace()
	}
	return err
}
