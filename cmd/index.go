package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Show how many records of a category have been ingested",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		category, _ := cmd.Flags().GetString("category")
		if category == "" {
			category = cfg.Pipeline.Category
		}
		if category == "" {
			return eris.New("a category is required (--category or pipeline.category)")
		}

		st, err := initStore(ctx, cfg.Store)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		ix, err := st.LoadIndex(ctx, category)
		if err != nil {
			return eris.Wrap(err, "index")
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %d records indexed\n", category, len(ix))
		return nil
	},
}

func init() {
	indexCmd.Flags().String("category", "", "category to inspect")
	rootCmd.AddCommand(indexCmd)
}
