package main

import (
	"github.com/urfave/cli/v2"

	"github.com/propsignal/propctl/pkg/data"
	"github.com/propsignal/propctl/pkg/fleet"
)

var (
	modelIDFlag = &cli.StringFlag{
		Name:     "id",
		Usage:    "Model id (e.g. pts_linear_v2, pts_quantile_q80)",
		Required: true,
	}

	artifactFlag = &cli.StringFlag{
		Name:  "artifact",
		Usage: "Path to the trained model artifact",
	}

	trainedFromFlag = &cli.StringFlag{
		Name:  "trained-from",
		Usage: "Start of the training window (e.g. 2025-10-01)",
	}

	trainedToFlag = &cli.StringFlag{
		Name:  "trained-to",
		Usage: "End of the training window",
	}

	reissueFlag = &cli.BoolFlag{
		Name:  "reissue",
		Usage: "Reissue an existing id as a new version",
	}

	allModelsFlag = &cli.BoolFlag{
		Name:  "all",
		Usage: "Include retired models",
	}

	modelCmd = &cli.Command{
		Name:            "model",
		Aliases:         []string{"m"},
		Usage:           "Manage the model registry",
		HideHelpCommand: true,
		Subcommands: []*cli.Command{
			{
				Name:   "register",
				Usage:  "Register a model descriptor (new models start in shadow)",
				Action: cmdRegisterModel,
				Flags: []cli.Flag{
					modelIDFlag,
					artifactFlag,
					trainedFromFlag,
					trainedToFlag,
					reissueFlag,
				},
			},
			{
				Name:   "list",
				Usage:  "List registered models",
				Action: cmdListModels,
				Flags: []cli.Flag{
					allModelsFlag,
				},
			},
			{
				Name:   "history",
				Usage:  "Show the lifecycle transition history of a model",
				Action: cmdModelHistory,
				Flags: []cli.Flag{
					modelIDFlag,
				},
			},
		},
	}
)

func cmdRegisterModel(c *cli.Context) error {
	db, err := getStoreDB()
	if err != nil {
		return err
	}
	defer db.Close()

	id := c.String(modelIDFlag.Name)
	m := &data.Model{
		ID:           id,
		Family:       fleet.Classify(id).Kind,
		TrainedFrom:  c.String(trainedFromFlag.Name),
		TrainedTo:    c.String(trainedToFlag.Name),
		ArtifactPath: c.String(artifactFlag.Name),
	}

	if err := data.RegisterModel(db, m, c.Bool(reissueFlag.Name)); err != nil {
		return err
	}
	return render(m)
}

func cmdListModels(c *cli.Context) error {
	db, err := getStoreDB()
	if err != nil {
		return err
	}
	defer db.Close()

	var list []*data.Model
	if c.Bool(allModelsFlag.Name) {
		list, err = data.ListAllModels(db)
	} else {
		list, err = data.ListActiveModels(db)
	}
	if err != nil {
		return err
	}
	return render(list)
}

func cmdModelHistory(c *cli.Context) error {
	db, err := getStoreDB()
	if err != nil {
		return err
	}
	defer db.Close()

	list, err := data.GetModelTransitions(db, c.String(modelIDFlag.Name))
	if err != nil {
		return err
	}
	return render(list)
}
