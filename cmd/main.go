package main

import (
	"io"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v2"

	"github.com/JP-Makers/rs-dbc/base"
)

var log = base.Logger

const ConfigPath = "./config.json"

func main() {
	app := newApp()
	if err := app.Run(os.Args); err != nil {
		log.Fatalln(err)
	}
}

func newApp() *cli.App {
	app := cli.NewApp()

	app.Name = "candbc"
	app.Usage = "parse DBC files and decode mirrored CAN traffic"
	app.HideHelpCommand = true
	app.Metadata = map[string]interface{}{}

	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "path to the configuration `file` (json or yaml)",
			EnvVars: []string{"CANDBC_CONFIG"},
		},
		&cli.StringFlag{
			Name:  "log-level",
			Usage: "override the configured log `level`",
		},
		&cli.StringFlag{
			Name:  "encoding",
			Usage: "character `set` of the DBC file, e.g. gbk or windows-1252",
		},
	}

	var logFile io.Closer

	app.Before = func(c *cli.Context) error {
		cfg, err := loadConfig(c.String("config"))
		if err != nil {
			return err
		}

		if c.IsSet("log-level") {
			cfg.LogLevel = c.String("log-level")
		}
		if c.IsSet("encoding") {
			cfg.DBC.Encoding = c.String("encoding")
		}

		logFile, err = base.InitLog(&cfg.LOG, cfg.LOG.Dir)
		if err != nil {
			return err
		}

		c.App.Metadata["config"] = cfg
		return nil
	}

	app.After = func(c *cli.Context) error {
		if logFile != nil {
			return logFile.Close()
		}
		return nil
	}

	app.Commands = []*cli.Command{
		cmdDump,
		cmdBits,
		cmdExport,
		cmdImport,
		cmdVerify,
		cmdServe,
		cmdSimulate,
	}

	return app
}

// loadConfig falls back to ./config.json when it exists and to the
// built-in defaults otherwise.
func loadConfig(path string) (*base.Config, error) {
	if path == "" {
		if _, err := os.Stat(ConfigPath); err != nil {
			return base.NewConfig(), nil
		}
		path = ConfigPath
	}

	return base.LoadConfig(filepath.Clean(path))
}

func appConfig(c *cli.Context) *base.Config {
	if cfg, ok := c.App.Metadata["config"].(*base.Config); ok {
		return cfg
	}
	return base.NewConfig()
}
