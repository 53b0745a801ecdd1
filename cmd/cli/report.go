package main

import (
	"github.com/urfave/cli/v2"

	"github.com/propsignal/propctl/pkg/data"
)

var (
	windowFlag = &cli.IntFlag{
		Name:  "days",
		Usage: "Rolling window in days",
		Value: 30,
	}

	reportModelFlag = &cli.StringFlag{
		Name:  "model",
		Usage: "Scope the tier report to one model (optional)",
	}

	reportCmd = &cli.Command{
		Name:            "report",
		Aliases:         []string{"r"},
		Usage:           "Health and accuracy reports",
		HideHelpCommand: true,
		Subcommands: []*cli.Command{
			{
				Name:   "models",
				Usage:  "Hit-rate and error metrics per model over the window",
				Action: cmdModelReport,
				Flags: []cli.Flag{
					windowFlag,
				},
			},
			{
				Name:   "tiers",
				Usage:  "Per-tier bias and error over the window",
				Action: cmdTierReport,
				Flags: []cli.Flag{
					windowFlag,
					reportModelFlag,
				},
			},
		},
	}
)

func cmdModelReport(c *cli.Context) error {
	db, err := getStoreDB()
	if err != nil {
		return err
	}
	defer db.Close()

	list, err := data.GetModelReports(db, c.Int(windowFlag.Name))
	if err != nil {
		return err
	}
	return render(list)
}

func cmdTierReport(c *cli.Context) error {
	db, err := getStoreDB()
	if err != nil {
		return err
	}
	defer db.Close()

	list, err := data.GetTierReports(db, c.String(reportModelFlag.Name), c.Int(windowFlag.Name))
	if err != nil {
		return err
	}
	return render(list)
}
