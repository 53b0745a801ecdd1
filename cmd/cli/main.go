package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/propsignal/propctl/pkg/config"
	"github.com/propsignal/propctl/pkg/data"
	"github.com/propsignal/propctl/pkg/net"
)

const (
	dirMode = 0700

	formatJSON = "json"
	formatYAML = "yaml"
)

var (
	name    = "propctl"
	version = "v0.0.1-default"
	commit  = ""

	dbFilePath   = path.Join(getHomeDir(), data.DataFileName)
	configDir    = getHomeDir()
	outputFormat = formatJSON
	debug        = false

	debugFlag = &cli.BoolFlag{
		Name:        "debug",
		Usage:       "Prints verbose logs (optional, default: false)",
		Destination: &debug,
	}

	dbFilePathFlag = &cli.StringFlag{
		Name:        "db",
		Usage:       fmt.Sprintf("Path to the Sqlite database file (optional, defaults to $HOME/.%s/data.db)", name),
		Destination: &dbFilePath,
		Value:       dbFilePath,
	}

	configDirFlag = &cli.StringFlag{
		Name:        "config",
		Usage:       fmt.Sprintf("Path to the config directory (optional, defaults to $HOME/.%s)", name),
		Destination: &configDir,
		Value:       configDir,
	}

	formatFlag = &cli.StringFlag{
		Name:        "format",
		Usage:       "Output format [json, yaml]",
		Destination: &outputFormat,
		Value:       formatJSON,
	}
)

func main() {
	initLogging()

	app := &cli.App{
		Name:            name,
		Version:         fmt.Sprintf("%s - (commit: %s)", version, commit),
		Compiled:        time.Now(),
		HideHelpCommand: true,
		Usage:           "Operations CLI for the projection model fleet",
		Flags: []cli.Flag{
			debugFlag,
			dbFilePathFlag,
			configDirFlag,
			formatFlag,
		},
		Commands: []*cli.Command{
			modelCmd,
			generateCmd,
			enrichCmd,
			consolidateCmd,
			gradeCmd,
			signalCmd,
			curateCmd,
			governCmd,
			reportCmd,
			authCmd,
		},
		Before: func(c *cli.Context) error {
			if c.Bool(debugFlag.Name) {
				log.SetLevel(log.DebugLevel)
			}
			return data.Init(dbFilePath)
		},
	}

	if err := app.Run(os.Args); err != nil {
		fatalErr(err)
	}
}

func initLogging() {
	log.SetOutput(os.Stderr)
	log.SetLevel(log.InfoLevel)
	log.SetFormatter(&log.TextFormatter{
		FullTimestamp: true,
	})
}

func fatalErr(err error) {
	log.Error(err)
	os.Exit(1)
}

func getHomeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		log.Errorf("error getting home dir: %s", err)
		return "."
	}

	dir := filepath.Join(home, "."+name)
	if _, err := os.Stat(dir); errors.Is(err, os.ErrNotExist) {
		if err := os.Mkdir(dir, dirMode); err != nil {
			log.Errorf("error creating dir: %s", err)
			return home
		}
	}
	return dir
}

func getStoreDB() (*sql.DB, error) {
	return data.GetDB(dbFilePath)
}

func getConf() (*config.Config, error) {
	return config.ReadOrCreate(configDir)
}

func getSources(ctx context.Context, conf *config.Config) *net.Sources {
	token, err := getProviderToken()
	if err != nil {
		log.Debugf("no provider token available: %v", err)
	}
	return net.NewSources(ctx, token,
		conf.Sources.FeatureURL, conf.Sources.LineURL, conf.Sources.OutcomeURL)
}

func render(v any) error {
	switch outputFormat {
	case formatYAML:
		b, err := yaml.Marshal(v)
		if err != nil {
			return errors.Wrap(err, "error encoding yaml")
		}
		fmt.Print(string(b))
		return nil
	case formatJSON:
		e := json.NewEncoder(os.Stdout)
		e.SetIndent("", "  ")
		if err := e.Encode(v); err != nil {
			return errors.Wrap(err, "error encoding json")
		}
		return nil
	default:
		return errors.Errorf("unsupported output format: %s", outputFormat)
	}
}
