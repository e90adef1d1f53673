package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/sells-group/leadgen-cli/internal/ledger"
)

var gcCmd = &cobra.Command{
	Use:   "gc",
	Short: "Prune expired cache entries and aged-out assignments",
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

		start := time.Now()

		cacheDeleted, err := st.DeleteExpiredCache(ctx)
		if err != nil {
			return err
		}

		led := ledger.New(st, cfg.Acquire.AssignmentExpiryDays)
		assignmentsDeleted, err := led.PruneExpired(ctx)
		if err != nil {
			return err
		}

		fmt.Printf("Deleted %d expired cache entries and %d aged-out assignments in %s.\n",
			cacheDeleted, assignmentsDeleted, time.Since(start).Round(time.Millisecond))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(gcCmd)
}
