package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/recall/internal/search"
	"github.com/fyrsmithlabs/recall/internal/store"
)

var (
	// search command flags
	searchDays    int
	searchProject string
	searchLimit   int
	searchContent bool

	// context command flags
	ctxDepth int

	// list command flags
	listLimit int
)

func init() {
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(contextCmd)
	rootCmd.AddCommand(treeCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(showCmd)

	searchCmd.Flags().IntVar(&searchDays, "days", 0, "Only match messages from the last N days")
	searchCmd.Flags().StringVar(&searchProject, "project", "", "Only match messages from this project path")
	searchCmd.Flags().IntVar(&searchLimit, "limit", 10, "Maximum number of hits")
	searchCmd.Flags().BoolVar(&searchContent, "content", false, "Include full message content in results")

	contextCmd.Flags().IntVar(&ctxDepth, "depth", 2, "Ancestor and descendant levels to include")

	listCmd.Flags().IntVar(&listLimit, "limit", 20, "Maximum number of conversations")
}

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Full-text search across indexed messages",
	Long: `Search indexed messages. Summarized messages match on their
summaries; the rest match on raw content.

Quoted phrases match exactly; AND, OR, and NOT work between terms.
Plain terms are implicitly ANDed.

Examples:
  # Find messages about a bug
  recall search "eviction bug"

  # Recent hits from one project
  recall search sqlite --days 7 --project /home/dev/recall

  # Boolean operators
  recall search 'watcher AND NOT flaky'

  # Full content, machine-readable
  recall search timeout --content --json`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSearch,
}

var contextCmd = &cobra.Command{
	Use:   "context <message-id>",
	Short: "Show the thread around one message",
	Long: `Show a message with its ancestor chain (nearest first) and its
descendants down to the requested depth.

Examples:
  # Two levels each way (default)
  recall context 8f2c1d9a-4b7e-4f10-9c3d-2a6b8e1f5d70

  # Just the direct parent and replies
  recall context 8f2c1d9a-4b7e-4f10-9c3d-2a6b8e1f5d70 --depth 1`,
	Args: cobra.ExactArgs(1),
	RunE: runContext,
}

var treeCmd = &cobra.Command{
	Use:   "tree <session-id>",
	Short: "Reconstruct a conversation's tree structure",
	Long: `Print a session's messages as the tree their parent links form,
marking branch points and sidechains.

Examples:
  recall tree 0c9d8e7f-6a5b-4c3d-2e1f-0a9b8c7d6e5f
  recall tree 0c9d8e7f-6a5b-4c3d-2e1f-0a9b8c7d6e5f --json`,
	Args: cobra.ExactArgs(1),
	RunE: runTree,
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List recently updated conversations",
	Long: `List conversations most recently touched by indexing.

Examples:
  recall list
  recall list --limit 50 --json`,
	RunE: runList,
}

var showCmd = &cobra.Command{
	Use:   "show <message-id>",
	Short: "Print one message's full raw content",
	Long: `Print the complete raw content of a single message to stdout.

Examples:
  recall show 8f2c1d9a-4b7e-4f10-9c3d-2a6b8e1f5d70`,
	Args: cobra.ExactArgs(1),
	RunE: runShow,
}

// initSearchService opens the store and builds the query service.
// Callers must Close the returned store.
func initSearchService() (*search.Service, *store.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return nil, nil, err
	}

	st, err := openStore(cfg, logger)
	if err != nil {
		return nil, nil, err
	}

	svc, err := search.NewService(st, logger)
	if err != nil {
		st.Close()
		return nil, nil, err
	}

	return svc, st, nil
}

func runSearch(cmd *cobra.Command, args []string) error {
	svc, st, err := initSearchService()
	if err != nil {
		return err
	}
	defer st.Close()

	hits, err := svc.Search(cmd.Context(), search.Options{
		Query:          strings.Join(args, " "),
		Days:           searchDays,
		Project:        searchProject,
		Limit:          searchLimit,
		IncludeContent: searchContent,
	})
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	if outputAsJSON {
		return outputJSON(hits)
	}

	if len(hits) == 0 {
		cmd.Println("No matches")
		return nil
	}

	if searchContent {
		for i, h := range hits {
			fmt.Printf("%d. [%s] %s  %s  %s\n", i+1, h.Role,
				h.MessageID, h.Timestamp.Format("2006-01-02 15:04"), h.ProjectPath)
			fmt.Println(h.Content)
			fmt.Println()
		}
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "MESSAGE\tWHEN\tROLE\tPROJECT\tSNIPPET")
	for _, h := range hits {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			truncate(h.MessageID, 12),
			h.Timestamp.Format("2006-01-02 15:04"),
			h.Role,
			truncate(h.ProjectPath, 28),
			truncate(oneLine(h.Snippet), 64),
		)
	}
	w.Flush()

	return nil
}

func runContext(cmd *cobra.Command, args []string) error {
	svc, st, err := initSearchService()
	if err != nil {
		return err
	}
	defer st.Close()

	c, err := svc.GetContext(cmd.Context(), args[0], ctxDepth)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("message %s not found", args[0])
	}
	if err != nil {
		return fmt.Errorf("context lookup failed: %w", err)
	}

	if outputAsJSON {
		return outputJSON(c)
	}

	if len(c.Ancestors) > 0 {
		cmd.Println("Ancestors (nearest first):")
		for _, m := range c.Ancestors {
			printMessageLine(os.Stdout, "  ", string(m.Role), m.MessageID, contentHead(m.Summary, m.RawContent))
		}
		cmd.Println()
	}

	cmd.Printf("Target [%s] %s  %s\n", c.Target.Role, c.Target.MessageID,
		c.Target.Timestamp.Format("2006-01-02 15:04"))
	cmd.Println(c.Target.RawContent)

	if len(c.Descendants) > 0 {
		cmd.Println()
		cmd.Println("Descendants:")
		for _, d := range c.Descendants {
			prefix := fmt.Sprintf("  L%d ", d.Level)
			printMessageLine(os.Stdout, prefix, string(d.Role), d.MessageID, contentHead(d.Summary, d.RawContent))
		}
	}

	return nil
}

func runTree(cmd *cobra.Command, args []string) error {
	svc, st, err := initSearchService()
	if err != nil {
		return err
	}
	defer st.Close()

	tree, err := svc.GetTree(cmd.Context(), args[0])
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("session %s not found", args[0])
	}
	if err != nil {
		return fmt.Errorf("tree lookup failed: %w", err)
	}

	if outputAsJSON {
		return outputJSON(tree)
	}

	cmd.Printf("Session: %s\n", tree.SessionID)
	if tree.ProjectPath != "" {
		cmd.Printf("Project: %s\n", tree.ProjectPath)
	}
	if tree.TitleSummary != "" {
		cmd.Printf("Title:   %s\n", tree.TitleSummary)
	}
	cmd.Printf("Messages: %d\n\n", tree.MessageCount)

	for _, root := range tree.Roots {
		printTreeNode(os.Stdout, root, 0)
	}

	return nil
}

func runList(cmd *cobra.Command, args []string) error {
	svc, st, err := initSearchService()
	if err != nil {
		return err
	}
	defer st.Close()

	convs, err := svc.ListConversations(cmd.Context(), listLimit)
	if err != nil {
		return fmt.Errorf("listing conversations failed: %w", err)
	}

	if outputAsJSON {
		return outputJSON(convs)
	}

	if len(convs) == 0 {
		cmd.Println("No conversations indexed")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SESSION\tPROJECT\tTITLE\tMESSAGES\tUPDATED")
	for _, c := range convs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
			truncate(c.SessionID, 12),
			truncate(c.ProjectPath, 28),
			truncate(oneLine(c.TitleSummary), 40),
			c.MessageCount,
			c.UpdatedAt.Format("2006-01-02 15:04"),
		)
	}
	w.Flush()

	return nil
}

func runShow(cmd *cobra.Command, args []string) error {
	svc, st, err := initSearchService()
	if err != nil {
		return err
	}
	defer st.Close()

	m, err := svc.GetMessage(cmd.Context(), args[0])
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("message %s not found", args[0])
	}
	if err != nil {
		return fmt.Errorf("message lookup failed: %w", err)
	}

	if outputAsJSON {
		return outputJSON(m)
	}

	fmt.Println(m.RawContent)
	return nil
}

// Output helpers

func printMessageLine(w io.Writer, prefix, role, id, head string) {
	fmt.Fprintf(w, "%s[%s] %s  %s\n", prefix, role, truncate(id, 12), truncate(oneLine(head), 64))
}

func printTreeNode(w io.Writer, node *search.TreeNode, depth int) {
	marker := ""
	if node.BranchPoint {
		marker = " *"
	}
	if node.Message.IsSidechain {
		marker += " (side)"
	}

	fmt.Fprintf(w, "%s[%s] %s%s  %s\n",
		strings.Repeat("  ", depth),
		node.Message.Role,
		truncate(node.Message.MessageID, 12),
		marker,
		truncate(oneLine(contentHead(node.Message.Summary, node.Message.RawContent)), 60),
	)

	for _, child := range node.Children {
		printTreeNode(w, child, depth+1)
	}
}

// contentHead prefers the summary when one exists.
func contentHead(summary, raw string) string {
	if summary != "" {
		return summary
	}
	return raw
}
