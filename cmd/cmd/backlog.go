package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var backlogCmd = &cobra.Command{
	Use:   "backlog <topic>",
	Short: "List unclusterable conversations for a topic",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		records, err := st.GetUnclusterableRecords(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if len(records) == 0 {
			fmt.Printf("Backlog for topic %q is empty\n", args[0])
			return nil
		}

		for _, r := range records {
			fmt.Printf("%s  (marked %s)\n", r.ConversationID, r.MarkedAt.Format("2006-01-02 15:04"))
			fmt.Printf("  %s\n", r.Reason)
		}
		return nil
	},
}

var backlogReprocessCmd = &cobra.Command{
	Use:   "reprocess <topic>",
	Short: "Re-run clustering for every backlog conversation of a topic",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := buildRuntime(cmd.Context())
		if err != nil {
			return err
		}
		defer rt.Close()

		reports, err := rt.orchestrator.ReprocessBacklog(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if len(reports) == 0 {
			fmt.Printf("Nothing to reprocess for topic %q\n", args[0])
			return nil
		}
		for i := range reports {
			printReport(&reports[i])
		}
		return nil
	},
}

func init() {
	backlogCmd.AddCommand(backlogReprocessCmd)
	rootCmd.AddCommand(backlogCmd)
}
