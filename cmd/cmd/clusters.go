package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var clustersCmd = &cobra.Command{
	Use:   "clusters <topic>",
	Short: "List clusters for a topic",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		clusters, err := st.GetClustersByTopic(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if len(clusters) == 0 {
			fmt.Printf("No clusters for topic %q\n", args[0])
			return nil
		}

		for _, c := range clusters {
			fmt.Printf("%s  %q\n", c.ID, c.Name)
			fmt.Printf("  members (%d): %s\n", len(c.MemberIDs), strings.Join(c.MemberIDs, ", "))
			fmt.Printf("  features: %d term(s), %d entity(ies), %d claim(s)\n",
				len(c.Features.TechnicalTerms), len(c.Features.Entities), len(c.Features.Claims))
			if c.ArticleID != nil {
				fmt.Printf("  article: %d\n", *c.ArticleID)
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(clustersCmd)
}
