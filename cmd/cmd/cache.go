package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and manage the similarity cache",
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show similarity cache statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		size, err := st.SimilarityCacheSize(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("Cached pair scores: %d\n", size)
		return nil
	},
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every cached similarity score",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.ClearSimilarityCache(cmd.Context()); err != nil {
			return err
		}
		fmt.Println("Similarity cache cleared")
		return nil
	},
}

func init() {
	cacheCmd.AddCommand(cacheStatsCmd)
	cacheCmd.AddCommand(cacheClearCmd)
	rootCmd.AddCommand(cacheCmd)
}
