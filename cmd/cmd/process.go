package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/darksunexists/darksun-sub000/internal/clusterer"
	"github.com/darksunexists/darksun-sub000/internal/core"
	"github.com/darksunexists/darksun-sub000/internal/cost"
	"github.com/darksunexists/darksun-sub000/internal/features"
	"github.com/darksunexists/darksun-sub000/internal/pipeline"
)

var processDryRun bool

// conversationInput is the on-disk ingest format: a single conversation
// or an array of them.
type conversationInput struct {
	ID    string      `json:"id"`
	Topic string      `json:"topic"`
	Title string      `json:"title"`
	Turns []core.Turn `json:"turns"`
}

var processCmd = &cobra.Command{
	Use:   "process <file.json>",
	Short: "Ingest conversations and run the clustering pass",
	Long: `Reads one conversation (or an array of conversations) from a JSON
file, extracts content features, runs the clustering pass, and applies
the resulting article decision. With --dry-run, prints a cost estimate
instead of calling the LLM.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		conversations, err := readConversations(args[0])
		if err != nil {
			return err
		}
		if len(conversations) == 0 {
			return fmt.Errorf("no conversations in %s", args[0])
		}

		if processDryRun {
			return printCostEstimate(cmd.Context(), conversations)
		}

		rt, err := buildRuntime(cmd.Context())
		if err != nil {
			return err
		}
		defer rt.Close()

		for _, conv := range conversations {
			report, err := rt.orchestrator.ProcessConversation(cmd.Context(), conv)
			if err != nil {
				return fmt.Errorf("processing %s: %w", conv.ID, err)
			}
			printReport(report)
		}

		stats := rt.scorer.Stats()
		fmt.Printf("\nPass totals: %d cache hit(s), %d oracle call(s), %d failure(s)\n",
			stats.CacheHits, stats.OracleCalls, stats.Failures)
		return nil
	},
}

func init() {
	processCmd.Flags().BoolVar(&processDryRun, "dry-run", false, "estimate LLM cost without making any calls")
	rootCmd.AddCommand(processCmd)
}

func readConversations(path string) ([]*core.Conversation, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	var inputs []conversationInput
	if err := json.Unmarshal(data, &inputs); err != nil {
		var single conversationInput
		if err := json.Unmarshal(data, &single); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
		inputs = []conversationInput{single}
	}

	now := time.Now().UTC()
	conversations := make([]*core.Conversation, 0, len(inputs))
	for _, in := range inputs {
		if in.Topic == "" {
			return nil, fmt.Errorf("conversation %q has no topic", in.ID)
		}
		id := in.ID
		if id == "" {
			id = uuid.NewString()
		}
		conversations = append(conversations, &core.Conversation{
			ID:        id,
			Topic:     in.Topic,
			Title:     in.Title,
			Turns:     in.Turns,
			CreatedAt: now,
		})
	}
	return conversations, nil
}

// printCostEstimate projects the pass cost against the current store
// state without touching the LLM.
func printCostEstimate(ctx context.Context, conversations []*core.Conversation) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	comparisons := 0
	totalChars := 0
	for _, conv := range conversations {
		totalChars += len(features.ConversationText(conv))

		clusters, err := st.GetClustersByTopic(ctx, conv.Topic)
		if err != nil {
			return err
		}
		for _, c := range clusters {
			comparisons += len(c.MemberIDs)
		}
		backlog, err := st.GetUnclusterableByTopic(ctx, conv.Topic)
		if err != nil {
			return err
		}
		comparisons += len(backlog)
	}

	avgChars := 0
	if len(conversations) > 0 {
		avgChars = totalChars / len(conversations)
	}
	estimate := cost.EstimatePassCost(cost.PassInputs{
		Comparisons:          comparisons,
		Extractions:          len(conversations),
		Syntheses:            len(conversations),
		AvgConversationChars: avgChars,
	}, cfg.LLM.Model)
	fmt.Print(estimate.FormatEstimate())
	return nil
}

func printReport(report *pipeline.Report) {
	fmt.Printf("conversation %s (%s)\n", report.ConversationID, report.Topic)
	if report.Extracted {
		fmt.Println("  features: extracted")
	}
	if report.Decision == nil {
		fmt.Println("  clustering: deferred (no features)")
	} else {
		fmt.Printf("  clustering: %s\n", report.Decision.Outcome)
		fmt.Printf("    %s\n", report.Decision.Reason)
		if report.Decision.Outcome == clusterer.OutcomeCreated && len(report.Decision.AbsorbedIDs) > 0 {
			fmt.Printf("    absorbed from backlog: %v\n", report.Decision.AbsorbedIDs)
		}
	}
	if report.Article != nil {
		fmt.Printf("  article: %s\n", report.Article.Action)
		fmt.Printf("    %s\n", report.Article.Reason)
	}
	if report.BacklogSize > 0 {
		fmt.Printf("  backlog: %d conversation(s) waiting\n", report.BacklogSize)
	}
}
