package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"preptracker/internal/client"
	"preptracker/internal/model"
	"preptracker/internal/taskfilter"

	"github.com/spf13/cobra"
)

var (
	taskPage         int
	taskPageSize     int
	taskCriteria     taskfilter.Criteria
	taskStatus       string
	taskServerFilter bool

	taskInput     client.TaskInput
	taskCompanyID string
)

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "Manage preparation tasks",
}

var tasksListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks ordered by due date",
	Long: `List one page of tasks ordered by due date.

Filters narrow the fetched page locally unless --server-filter is given, in
which case the server filters before paginating and the counts reflect the
filtered set.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		criteria := taskCriteria
		criteria.Status = model.TaskStatus(taskStatus)
		if criteria.Status != "" && !criteria.Status.Valid() {
			return fmt.Errorf("invalid status %q: must be one of TODO, IN_PROGRESS, DONE", taskStatus)
		}

		ctx, cancel := commandContext(cmd)
		defer cancel()
		page, err := newClient().ListTasks(ctx, client.ListTasksOptions{
			Page:         taskPage,
			PageSize:     taskPageSize,
			Criteria:     criteria,
			ServerFilter: taskServerFilter,
		})
		if err != nil {
			return err
		}
		if err := printTasks(cmd.OutOrStdout(), page.Items); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "page %d/%d, %d total\n", page.Page, page.TotalPages, page.TotalCount)
		return nil
	},
}

var tasksAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a task",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()
		in := taskInput
		if taskCompanyID != "" {
			in.CompanyID = &taskCompanyID
		}
		task, err := newClient().CreateTask(ctx, in)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "created task %s (%s)\n", task.ID, task.Status)
		return nil
	},
}

var tasksStatusCmd = &cobra.Command{
	Use:   "status <id> <TODO|IN_PROGRESS|DONE>",
	Short: "Change a task's status",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		status := model.TaskStatus(args[1])
		if !status.Valid() {
			return fmt.Errorf("invalid status %q", args[1])
		}
		ctx, cancel := commandContext(cmd)
		defer cancel()
		return newClient().UpdateTaskStatus(ctx, args[0], status)
	},
}

func init() {
	f := tasksListCmd.Flags()
	f.IntVar(&taskPage, "page", 1, "page number")
	f.IntVar(&taskPageSize, "page-size", 10, "items per page (1-75)")
	f.StringVar(&taskStatus, "status", "", "filter by status")
	f.StringVar(&taskCriteria.CompanyID, "company", "", "filter by company id")
	f.StringVar(&taskCriteria.Type, "type", "", "filter by type (case-insensitive)")
	f.StringVar(&taskCriteria.Search, "search", "", "search title and description")
	f.BoolVar(&taskServerFilter, "server-filter", false, "filter on the server before paginating")

	a := tasksAddCmd.Flags()
	a.StringVar(&taskInput.Title, "title", "", "task title")
	a.StringVar(&taskInput.Type, "type", "", "task type, e.g. DSA")
	a.StringVar(&taskInput.Topic, "topic", "", "topic")
	a.StringVar(&taskInput.DueDate, "due", "", "due date (YYYY-MM-DD or RFC3339)")
	a.StringVar(&taskInput.Status, "status", "", "initial status (default TODO)")
	a.StringVar(&taskCompanyID, "company", "", "company id")
	for _, name := range []string{"title", "type", "topic", "due"} {
		_ = tasksAddCmd.MarkFlagRequired(name)
	}

	tasksCmd.AddCommand(tasksListCmd, tasksAddCmd, tasksStatusCmd)
}

func printTasks(out io.Writer, tasks []client.Task) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tDUE\tSTATUS\tTYPE\tTITLE\tCOMPANY")
	for _, t := range tasks {
		company := "-"
		if t.Company != nil {
			company = t.Company.Name
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			t.ID, t.DueDate.Format("2006-01-02"), t.Status, t.Type, t.Title, company)
	}
	return w.Flush()
}
