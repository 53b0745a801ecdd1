package main

import (
	"github.com/urfave/cli/v2"

	"github.com/propsignal/propctl/pkg/signal"
)

var (
	signalCmd = &cli.Command{
		Name:            "signal",
		Aliases:         []string{"s"},
		Usage:           "Evaluate signals and manage their trust status",
		HideHelpCommand: true,
		Subcommands: []*cli.Command{
			{
				Name:   "evaluate",
				Usage:  "Run every evaluator over an occurrence's active predictions",
				Action: cmdEvaluateSignals,
				Flags: []cli.Flag{
					occurrenceFlag,
				},
			},
			{
				Name:   "health",
				Usage:  "Recompute rolling signal health and apply trust transitions",
				Action: cmdSignalHealth,
			},
		},
	}

	curateCmd = &cli.Command{
		Name:   "curate",
		Usage:  "Compose the curated best-bets list for an occurrence",
		Action: cmdCurate,
		Flags: []cli.Flag{
			occurrenceFlag,
		},
	}
)

func cmdEvaluateSignals(c *cli.Context) error {
	db, err := getStoreDB()
	if err != nil {
		return err
	}
	defer db.Close()

	conf, err := getConf()
	if err != nil {
		return err
	}

	res, err := signal.EvaluateOccurrence(c.Context, db, c.String(occurrenceFlag.Name), conf.Signals)
	if err != nil {
		return err
	}
	return render(res)
}

func cmdSignalHealth(c *cli.Context) error {
	db, err := getStoreDB()
	if err != nil {
		return err
	}
	defer db.Close()

	conf, err := getConf()
	if err != nil {
		return err
	}

	stats, err := signal.GovernSignals(db, conf.Signals)
	if err != nil {
		return err
	}
	return render(stats)
}

func cmdCurate(c *cli.Context) error {
	db, err := getStoreDB()
	if err != nil {
		return err
	}
	defer db.Close()

	conf, err := getConf()
	if err != nil {
		return err
	}

	picks, err := signal.Curate(db, c.String(occurrenceFlag.Name), conf.Curation)
	if err != nil {
		return err
	}
	return render(picks)
}
