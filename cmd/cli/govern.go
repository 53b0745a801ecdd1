package main

import (
	"github.com/urfave/cli/v2"

	"github.com/propsignal/propctl/pkg/fleet"
)

var (
	reasonFlag = &cli.StringFlag{
		Name:  "reason",
		Usage: "Reason recorded on the transition",
	}

	governCmd = &cli.Command{
		Name:            "govern",
		Usage:           "Apply lifecycle governance to the fleet",
		HideHelpCommand: true,
		Subcommands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "Evaluate every non-retired model and apply transitions",
				Action: cmdGovernRun,
			},
			{
				Name:   "retire",
				Usage:  "Administratively retire a model (bypasses sample gates)",
				Action: cmdRetireModel,
				Flags: []cli.Flag{
					modelIDFlag,
					reasonFlag,
				},
			},
		},
	}
)

func cmdGovernRun(c *cli.Context) error {
	db, err := getStoreDB()
	if err != nil {
		return err
	}
	defer db.Close()

	conf, err := getConf()
	if err != nil {
		return err
	}

	verdicts, err := fleet.GovernModels(db, conf.Governance)
	if err != nil {
		return err
	}
	return render(verdicts)
}

func cmdRetireModel(c *cli.Context) error {
	db, err := getStoreDB()
	if err != nil {
		return err
	}
	defer db.Close()

	if err := fleet.RetireModel(db, c.String(modelIDFlag.Name), c.String(reasonFlag.Name)); err != nil {
		return err
	}
	return render(map[string]string{
		"model":     c.String(modelIDFlag.Name),
		"lifecycle": "retired",
	})
}
