package main

import (
	"github.com/urfave/cli/v2"

	"github.com/propsignal/propctl/pkg/grade"
)

var (
	gradeCmd = &cli.Command{
		Name:   "grade",
		Usage:  "Grade predictions for an occurrence against realized outcomes",
		Action: cmdGrade,
		Flags: []cli.Flag{
			occurrenceFlag,
		},
	}
)

func cmdGrade(c *cli.Context) error {
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
	sum, err := grade.Occurrence(c.Context, db, c.String(occurrenceFlag.Name), sources, conf.Grading)
	if err != nil {
		return err
	}
	return render(sum)
}
