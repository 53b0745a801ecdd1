package main

import (
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/propsignal/propctl/pkg/data"
	"github.com/propsignal/propctl/pkg/generate"
)

const jobStaleAfter = 2 * time.Hour

var (
	occurrenceFlag = &cli.StringFlag{
		Name:     "occurrence",
		Aliases:  []string{"o"},
		Usage:    "Occurrence id (e.g. game id)",
		Required: true,
	}

	entitiesFlag = &cli.StringSliceFlag{
		Name:     "entity",
		Aliases:  []string{"e"},
		Usage:    "Entity id eligible for prediction (repeatable)",
		Required: true,
	}

	modeFlag = &cli.StringFlag{
		Name:  "mode",
		Usage: "Run mode [initial, backfill]",
		Value: data.RunModeInitial,
	}

	parallelismFlag = &cli.IntFlag{
		Name:  "parallelism",
		Usage: "Max concurrent generation tasks",
	}

	generateCmd = &cli.Command{
		Name:    "generate",
		Aliases: []string{"g"},
		Usage:   "Generate predictions for every active model over the given slate",
		Action:  cmdGenerate,
		Flags: []cli.Flag{
			occurrenceFlag,
			entitiesFlag,
			modeFlag,
			parallelismFlag,
		},
	}

	enrichCmd = &cli.Command{
		Name:   "enrich",
		Usage:  "Apply late-arriving market lines to existing predictions",
		Action: cmdEnrich,
		Flags: []cli.Flag{
			occurrenceFlag,
		},
	}
)

func cmdGenerate(c *cli.Context) error {
	db, err := getStoreDB()
	if err != nil {
		return err
	}
	defer db.Close()

	conf, err := getConf()
	if err != nil {
		return err
	}

	occurrence := c.String(occurrenceFlag.Name)
	runID := uuid.NewString()

	// Guard against the same slate being triggered twice concurrently by
	// the scheduler; the write path itself is idempotent either way.
	claimed, err := data.ClaimJobRun(db, "generate", occurrence, runID, jobStaleAfter)
	if err != nil {
		return err
	}
	if !claimed {
		log.Warnf("generation already in flight for %s, skipping", occurrence)
		return nil
	}
	defer func() {
		if err := data.FinishJobRun(db, "generate", occurrence, runID); err != nil {
			log.Errorf("failed to finish job run: %v", err)
		}
	}()

	mode := c.String(modeFlag.Name)
	if mode != data.RunModeInitial && mode != data.RunModeBackfill {
		return errors.Errorf("unsupported run mode: %s", mode)
	}

	units := make([]generate.Unit, 0)
	for _, e := range c.StringSlice(entitiesFlag.Name) {
		units = append(units, generate.Unit{EntityID: e, OccurrenceID: occurrence})
	}

	sources := getSources(c.Context, conf)
	res, err := generate.Run(c.Context, db, units, sources, sources, generate.Options{
		Mode:        mode,
		Parallelism: c.Int(parallelismFlag.Name),
	})
	if err != nil {
		return err
	}
	return render(res)
}

func cmdEnrich(c *cli.Context) error {
	db, err := getStoreDB()
	if err != nil {
		return err
	}
	defer db.Close()

	conf, err := getConf()
	if err != nil {
		return err
	}

	sources := getSources(c.Context, conf)
	res, err := generate.EnrichOccurrence(c.Context, db, c.String(occurrenceFlag.Name), sources, sources)
	if err != nil {
		return err
	}
	return render(res)
}
