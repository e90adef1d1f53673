package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/leadgen-cli/internal/model"
	"github.com/sells-group/leadgen-cli/internal/store"
)

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "Inspect search tasks",
	Long:  "Commands for listing tasks and viewing their results and logs.",
}

// -- tasks list --

var tasksListCmd = &cobra.Command{
	Use:   "list",
	Short: "List search tasks",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		status, _ := cmd.Flags().GetString("status")
		customer, _ := cmd.Flags().GetString("customer")
		limit, _ := cmd.Flags().GetInt("limit")

		tasks, err := st.ListTasks(ctx, store.TaskFilter{
			Status:     model.TaskStatus(status),
			CustomerID: customer,
			Limit:      limit,
		})
		if err != nil {
			return eris.Wrap(err, "tasks list")
		}

		if len(tasks) == 0 {
			fmt.Fprintln(os.Stderr, "No tasks found.")
			return nil
		}

		formatTasksList(os.Stdout, tasks)
		return nil
	},
}

// -- tasks show --

var tasksShowCmd = &cobra.Command{
	Use:   "show <task-id>",
	Short: "Show full details of a task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		t, err := st.GetTask(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "tasks show")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(t)
	},
}

// -- tasks results --

var tasksResultsCmd = &cobra.Command{
	Use:   "results <task-id>",
	Short: "Show the results delivered for a task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		results, err := st.ListResults(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "tasks results")
		}

		if len(results) == 0 {
			fmt.Fprintln(os.Stderr, "No results found.")
			return nil
		}

		formatResultsList(os.Stdout, results)
		return nil
	},
}

// -- tasks log --

var tasksLogCmd = &cobra.Command{
	Use:   "log <task-id>",
	Short: "Show the progress log of a task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		entries, err := st.ListLog(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "tasks log")
		}

		for _, e := range entries {
			fmt.Printf("%s  %-4s  %s\n", e.CreatedAt.Format("2006-01-02 15:04:05"), e.Level, e.Message)
		}
		return nil
	},
}

// -- tasks stop --

var tasksStopCmd = &cobra.Command{
	Use:   "stop <task-id>",
	Short: "Stop a running task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.Service.Stop(ctx, args[0]); err != nil {
			return err
		}
		fmt.Printf("Task %s stopped.\n", truncateID(args[0]))
		return nil
	},
}

func init() {
	tasksListCmd.Flags().String("status", "", "filter by task status (running, complete, stopped, failed)")
	tasksListCmd.Flags().String("customer", "", "filter by customer ID")
	tasksListCmd.Flags().Int("limit", 50, "max number of tasks to display")

	tasksCmd.AddCommand(tasksListCmd)
	tasksCmd.AddCommand(tasksShowCmd)
	tasksCmd.AddCommand(tasksResultsCmd)
	tasksCmd.AddCommand(tasksLogCmd)
	tasksCmd.AddCommand(tasksStopCmd)
	rootCmd.AddCommand(tasksCmd)
}

// formatTasksList writes a tabular list of tasks to w.
func formatTasksList(out io.Writer, tasks []model.Task) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tCUSTOMER\tQUERY\tCOUNT\tSTATUS\tCREATED")
	_, _ = fmt.Fprintln(w, "--\t--------\t-----\t-----\t------\t-------")

	for _, t := range tasks {
		query := fmt.Sprintf("%s / %s / %s", t.Query.Name, t.Query.Title, t.Query.Region)
		if len(query) > 40 {
			query = query[:37] + "..."
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
			truncateID(t.ID),
			t.CustomerID,
			query,
			t.RequestedCount,
			t.Status,
			t.CreatedAt.Format("2006-01-02 15:04"),
		)
	}
	_ = w.Flush()
}

// formatResultsList writes a tabular list of results to w.
func formatResultsList(out io.Writer, results []model.SearchResult) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "CANDIDATE\tNAME\tPHONE\tSTATE\tSCORE\tUPDATED")
	_, _ = fmt.Fprintln(w, "---------\t----\t-----\t-----\t-----\t-------")

	for _, r := range results {
		score := ""
		if r.Score > 0 {
			score = fmt.Sprintf("%.2f", r.Score)
		}
		state := string(r.PhoneState)
		if r.NoResponse {
			state = "no response from provider"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			truncateID(r.CandidateID),
			r.Candidate.FullName,
			r.Phone,
			state,
			score,
			r.UpdatedAt.Format("2006-01-02 15:04"),
		)
	}
	_ = w.Flush()
}

// truncateID returns the first 8 characters of an ID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
