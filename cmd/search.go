package main

import (
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sells-group/leadgen-cli/internal/model"
)

var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "Start a lead search task",
	Long:  "Acquires candidates for a name/title/region query, dispatches phone reveals, and prints the created task. Reveals resolve via the webhook on a running serve instance.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		customer, _ := cmd.Flags().GetString("customer")
		name, _ := cmd.Flags().GetString("name")
		title, _ := cmd.Flags().GetString("title")
		region, _ := cmd.Flags().GetString("region")
		count, _ := cmd.Flags().GetInt("count")
		ageMin, _ := cmd.Flags().GetInt("age-min")
		ageMax, _ := cmd.Flags().GetInt("age-max")

		var ageFilter *model.AgeRange
		if ageMin > 0 || ageMax > 0 {
			ageFilter = &model.AgeRange{Min: ageMin, Max: ageMax}
		}

		q := model.Query{Name: name, Title: title, Region: region}
		t, err := env.Service.Start(ctx, customer, q, count, ageFilter)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(t)
	},
}

func init() {
	searchCmd.Flags().String("customer", "", "customer ID the leads are assigned to")
	searchCmd.Flags().String("name", "", "person name to search for")
	searchCmd.Flags().String("title", "", "job title to search for")
	searchCmd.Flags().String("region", "", "region to search in")
	searchCmd.Flags().Int("count", 10, "number of leads to acquire")
	searchCmd.Flags().Int("age-min", 0, "minimum age filter (applied after verification)")
	searchCmd.Flags().Int("age-max", 0, "maximum age filter (applied after verification)")
	_ = searchCmd.MarkFlagRequired("customer")

	rootCmd.AddCommand(searchCmd)
}
