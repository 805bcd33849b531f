package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/perebor/askdb/internal/agent"
	"github.com/perebor/askdb/internal/config"
	"github.com/perebor/askdb/internal/storage"
)

// --- query ---

var queryCmd = &cobra.Command{
	Use:   "query <question>",
	Short: "Ask a question about the dataset",
	Long: `Ask a question about the dataset in plain language.

Examples:
  askdb query "show me top 5 regions by sales"
  askdb query --user alice "forecast next quarter revenue trend"
  askdb query --table orders "how many orders shipped same day"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		user, _ := cmd.Flags().GetString("user")
		table, _ := cmd.Flags().GetString("table")
		asJSON, _ := cmd.Flags().GetBool("json")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post("/v1/query", agent.QueryRequest{
			UserID: user,
			Text:   strings.Join(args, " "),
			Table:  table,
		})
		if err != nil {
			return err
		}

		var res agent.Result
		if err := decodeJSON(resp, &res); err != nil {
			return err
		}

		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		}

		printResult(res)
		return nil
	},
}

func init() {
	queryCmd.Flags().String("user", "", "user id for the cognitive profile")
	queryCmd.Flags().String("table", "", "table to query (default: orders)")
	queryCmd.Flags().Bool("json", false, "print the raw JSON response")
}

// --- stats ---

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show query performance counters",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get("/stats")
		if err != nil {
			return err
		}

		var snap agent.Snapshot
		if err := decodeJSON(resp, &snap); err != nil {
			return err
		}

		printStatus("Total queries", "%d", snap.TotalQueries)
		printStatus("Cache hits", "%d (%.0f%%)", snap.CacheHits, snap.CacheHitRate*100)
		printStatus("Fast path", "%d", snap.FastPath)
		printStatus("LLM queries", "%d", snap.LLMQueries)
		printStatus("Failures", "%d", snap.Failures)
		printStatus("Avg latency", "%.0fms", snap.AvgDurationMs)
		printStatus("Cache entries", "%d", snap.Cache.Entries)
		return nil
	},
}

// --- cache ---

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the result cache",
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Clear cached query results",
	RunE: func(cmd *cobra.Command, args []string) error {
		scope, _ := cmd.Flags().GetString("scope")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post("/cache/clear", map[string]string{"scope": scope})
		if err != nil {
			return err
		}

		var result map[string]int
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Removed %d cache entries", result["removed"])
		return nil
	},
}

func init() {
	cacheClearCmd.Flags().String("scope", "", "only clear entries whose key starts with this prefix")
	cacheCmd.AddCommand(cacheClearCmd)
}

// --- profile ---

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Manage user cognitive profiles",
}

var profileShowCmd = &cobra.Command{
	Use:   "show <user>",
	Short: "Show a user's profile as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get("/profile/" + args[0])
		if err != nil {
			return err
		}

		var p any
		if err := decodeJSON(resp, &p); err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(p)
	},
}

var profileSetCmd = &cobra.Command{
	Use:   "set <user>",
	Short: "Set a user's expertise or capacity level",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		expertise, _ := cmd.Flags().GetInt("expertise")
		capacity, _ := cmd.Flags().GetInt("capacity")
		if expertise == 0 && capacity == 0 {
			return fmt.Errorf("one of --expertise or --capacity is required")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.patch("/profile/"+args[0], map[string]int{
			"expertise_level":     expertise,
			"processing_capacity": capacity,
		})
		if err != nil {
			return err
		}

		var result map[string]any
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Updated profile for %s", args[0])
		return nil
	},
}

func init() {
	profileSetCmd.Flags().Int("expertise", 0, "expertise level (1-5)")
	profileSetCmd.Flags().Int("capacity", 0, "processing capacity (1-5)")
	profileCmd.AddCommand(profileShowCmd)
	profileCmd.AddCommand(profileSetCmd)
}

// --- interactions ---

var interactionsCmd = &cobra.Command{
	Use:   "interactions",
	Short: "Inspect the interaction log",
}

var interactionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent interactions",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(fmt.Sprintf("/interactions?limit=%d", limit))
		if err != nil {
			return err
		}

		var interactions []struct {
			ID        string `json:"ID"`
			UserID    string `json:"UserID"`
			UserQuery string `json:"UserQuery"`
			Source    string `json:"Source"`
			Status    string `json:"Status"`
		}
		if err := decodeJSON(resp, &interactions); err != nil {
			return err
		}

		if len(interactions) == 0 {
			fmt.Println("No interactions found.")
			return nil
		}

		for _, ix := range interactions {
			query := ix.UserQuery
			if len(query) > 80 {
				query = query[:80] + "..."
			}
			fmt.Printf("%s  %-10s %-9s %s\n",
				colorize(colorCyan, shortID(ix.ID)),
				ix.UserID,
				ix.Source,
				query,
			)
		}
		return nil
	},
}

var interactionsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a single interaction",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get("/interactions/" + args[0])
		if err != nil {
			return err
		}

		var interaction any
		if err := decodeJSON(resp, &interaction); err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(interaction)
	},
}

var interactionsFeedbackCmd = &cobra.Command{
	Use:   "feedback <id>",
	Short: "Record feedback on an interaction",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		score, _ := cmd.Flags().GetInt("score")
		notes, _ := cmd.Flags().GetString("notes")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post("/interactions/"+args[0]+"/feedback", map[string]any{
			"score": score,
			"notes": notes,
		})
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Feedback recorded")
		return nil
	},
}

func init() {
	interactionsListCmd.Flags().Int("limit", 20, "maximum number of interactions to list")
	interactionsFeedbackCmd.Flags().Int("score", 0, "feedback score: -1, 0, or 1")
	interactionsFeedbackCmd.Flags().String("notes", "", "optional feedback notes")
	interactionsCmd.AddCommand(interactionsListCmd)
	interactionsCmd.AddCommand(interactionsShowCmd)
	interactionsCmd.AddCommand(interactionsFeedbackCmd)
}

// --- load ---

var loadCmd = &cobra.Command{
	Use:   "load <csv-file>",
	Short: "Load the orders dataset from a CSV export",
	Long: `Load the orders dataset from a CSV export into local storage.

The CSV must carry the superstore column set (row id, order id, dates,
customer, region, category, sales, quantity, discount, profit).
Existing rows with the same row id are replaced.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		store, err := storage.Open(cfg.Storage.DataDir)
		if err != nil {
			return fmt.Errorf("opening storage: %w", err)
		}
		defer store.Close()

		printStep("Loading %s...", args[0])
		n, err := store.LoadOrdersCSV(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		printSuccess("Loaded %d rows", n)
		return nil
	},
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		keys := config.ShowAll(cfg)
		for _, k := range keys {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			if strings.Contains(err.Error(), "unknown config key") {
				fmt.Fprintf(os.Stderr, "valid keys: %s\n", strings.Join(config.ValidKeys(), ", "))
			}
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
