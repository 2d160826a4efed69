package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/darksunexists/darksun-sub000/internal/features"
)

// reextractCmd refreshes a conversation's features and drops every
// cached similarity score involving it, since those scores were
// computed against the stale features.
var reextractCmd = &cobra.Command{
	Use:   "reextract <conversation-id>",
	Short: "Re-extract a conversation's features and invalidate its cached scores",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := buildRuntime(cmd.Context())
		if err != nil {
			return err
		}
		defer rt.Close()

		ctx := cmd.Context()
		conv, err := rt.store.GetConversation(ctx, args[0])
		if err != nil {
			return err
		}

		extracted, err := rt.extractor.Extract(ctx, features.ConversationText(conv))
		if err != nil {
			return fmt.Errorf("feature extraction failed: %w", err)
		}
		if err := rt.store.UpdateConversationFeatures(ctx, conv.ID, extracted); err != nil {
			return err
		}

		invalidated, err := rt.store.InvalidateSimilarityFor(ctx, conv.ID)
		if err != nil {
			return err
		}

		fmt.Printf("Re-extracted features for %s: %d term(s), %d entity(ies), %d claim(s)\n",
			conv.ID, len(extracted.TechnicalTerms), len(extracted.Entities), len(extracted.Claims))
		fmt.Printf("Invalidated %d cached similarity score(s)\n", invalidated)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(reextractCmd)
}
