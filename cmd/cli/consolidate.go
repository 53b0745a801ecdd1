package main

import (
	"github.com/urfave/cli/v2"

	"github.com/propsignal/propctl/pkg/data"
)

var (
	consolidateCmd = &cli.Command{
		Name:    "consolidate",
		Aliases: []string{"c"},
		Usage:   "Deactivate duplicate predictions older than the visibility lag",
		Action:  cmdConsolidate,
	}
)

// cmdConsolidate is the delayed phase of the two-phase merge. It is
// scheduled independently of generation and safe to re-run at will.
func cmdConsolidate(c *cli.Context) error {
	db, err := getStoreDB()
	if err != nil {
		return err
	}
	defer db.Close()

	conf, err := getConf()
	if err != nil {
		return err
	}

	res, err := data.CleanupDuplicates(db, conf.Store.VisibilityLag, conf.Store.CleanupAlertMax)
	if err != nil {
		return err
	}
	return render(res)
}
