package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var dashboardCmd = &cobra.Command{
	Use:   "dashboard",
	Short: "Show task statistics and upcoming deadlines",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()
		d, err := newClient().Dashboard(ctx)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "companies: %d  tasks: %d  todo: %d  in progress: %d  done: %d\n",
			d.TotalCompanies, d.TotalTasks, d.TodoTasks, d.InProgressTasks, d.DoneTasks)
		if len(d.UpcomingTasks) == 0 {
			return nil
		}
		fmt.Fprintln(out)
		w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "DUE\tSTATUS\tTITLE\tCOMPANY")
		for _, t := range d.UpcomingTasks {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", t.DueDate.Format("2006-01-02"), t.Status, t.Title, deref(t.CompanyName))
		}
		return w.Flush()
	},
}
