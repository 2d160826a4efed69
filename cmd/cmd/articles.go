package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/darksunexists/darksun-sub000/internal/article"
	"github.com/darksunexists/darksun-sub000/internal/core"
)

var articlesCmd = &cobra.Command{
	Use:   "articles <topic>",
	Short: "List articles for a topic",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		articles, err := st.GetArticlesByTopic(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if len(articles) == 0 {
			fmt.Printf("No articles for topic %q\n", args[0])
			return nil
		}
		for _, a := range articles {
			fmt.Printf("%d  %q  v%d  (updated %s)\n",
				a.ID, a.Title, a.CurrentVersion, a.UpdatedAt.Format("2006-01-02"))
		}
		return nil
	},
}

var articlesShowCmd = &cobra.Command{
	Use:   "show <article-id>",
	Short: "Print an article with its version history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseArticleID(args[0])
		if err != nil {
			return err
		}
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		art, err := st.GetArticle(cmd.Context(), id)
		if err != nil {
			return err
		}
		versions, err := st.GetArticleVersions(cmd.Context(), id)
		if err != nil {
			return err
		}
		sources, err := st.GetSourceConversationIDs(cmd.Context(), id)
		if err != nil {
			return err
		}

		fmt.Printf("# %s (v%d)\n\n%s\n\n", art.Title, art.CurrentVersion, art.Content)
		fmt.Printf("Sources (%d): %v\n", len(sources), sources)
		fmt.Printf("Versions:\n")
		for _, v := range versions {
			fmt.Printf("  v%d  %q  %s\n", v.Version, v.Title, v.CreatedAt.Format("2006-01-02 15:04"))
		}
		return nil
	},
}

var articlesRelationsCmd = &cobra.Command{
	Use:   "relations <article-id>",
	Short: "Show typed links between an article and its neighbors",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseArticleID(args[0])
		if err != nil {
			return err
		}
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		relations, err := st.GetArticleRelations(cmd.Context(), id)
		if err != nil {
			return err
		}
		if len(relations) == 0 {
			fmt.Printf("Article %d has no relations\n", id)
			return nil
		}
		for _, rel := range relations {
			fmt.Printf("%d -[%s]-> %d\n", rel.SourceArticleID, rel.Type, rel.TargetArticleID)
		}
		return nil
	},
}

// articlesReissueCmd creates a successor article from an existing one:
// the text is re-synthesized from the original sources, the new article
// points at its parent, and the parent gains a version recording the
// handoff.
var articlesReissueCmd = &cobra.Command{
	Use:   "reissue <article-id>",
	Short: "Re-synthesize an article as a new article superseding the old one",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseArticleID(args[0])
		if err != nil {
			return err
		}
		rt, err := buildRuntime(cmd.Context())
		if err != nil {
			return err
		}
		defer rt.Close()

		ctx := cmd.Context()
		art, err := rt.store.GetArticle(ctx, id)
		if err != nil {
			return err
		}
		conversations, err := rt.store.GetSourceConversationsForArticle(ctx, id)
		if err != nil {
			return err
		}
		if len(conversations) == 0 {
			return fmt.Errorf("article %d has no source conversations to reissue from", id)
		}

		var merged core.ContentFeatures
		for _, conv := range conversations {
			if conv.Features != nil {
				merged = core.MergeFeatures(merged, *conv.Features)
			}
		}

		synth := article.NewLLMSynthesizer(rt.client, 0)
		title, content, err := synth.SynthesizeUpdatedArticle(ctx, art, conversations, merged)
		if err != nil {
			return err
		}

		sourceIDs := make([]string, 0, len(conversations))
		for _, conv := range conversations {
			sourceIDs = append(sourceIDs, conv.ID)
		}
		newID, err := rt.store.CreateArticle(ctx, title, content, art.Topic, art.RoomID, sourceIDs, &id)
		if err != nil {
			return err
		}

		fmt.Printf("Reissued article %d as article %d %q\n", id, newID, title)
		return nil
	},
}

func parseArticleID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid article id %q", raw)
	}
	return id, nil
}

func init() {
	articlesCmd.AddCommand(articlesShowCmd)
	articlesCmd.AddCommand(articlesRelationsCmd)
	articlesCmd.AddCommand(articlesReissueCmd)
	rootCmd.AddCommand(articlesCmd)
}
