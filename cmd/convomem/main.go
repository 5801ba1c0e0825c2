// Command convomem is the CLI surface for the convomem memory store
// (§6): init, status, index, import, eval, recall, session.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/convomem/convomem/internal/config"
	"github.com/convomem/convomem/internal/memlog"
	"github.com/convomem/convomem/pkg/importer"
	"github.com/convomem/convomem/pkg/memory"
	"github.com/convomem/convomem/pkg/recall"
)

// Exit codes per §6: 0 success; 1 service uninitialized; 2 invalid
// arguments; 3 storage failure; 4 embedding failure (non-fatal => 0
// with warning, so 4 is reserved and currently unused by any path that
// returns instead of warning-and-continuing).
const (
	exitOK              = 0
	exitNotInitialized  = 1
	exitInvalidArgs     = 2
	exitStorageFailure  = 3
	exitEmbeddingFailed = 4
)

var (
	configRoot string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "convomem",
	Short: "Local conversational memory store",
	Long:  `convomem stores, indexes, and recalls conversation history for an interactive assistant.`,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configRoot, "config-root", defaultConfigRoot(), "Config root directory")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")

	recallCmd.Flags().Bool("verbose", false, "Print scores alongside results")
	recallCmd.Flags().Bool("list", false, "List results without prompt formatting")
	recallCmd.Flags().Bool("stats", false, "Print store stats alongside results")
	recallCmd.Flags().String("mode", "auto", "Recall mode: auto, manual, or inject")
	recallCmd.Flags().String("session", "", "Current session id, excluded from results")
	recallCmd.Flags().Int("top-k", 0, "Override configured max_results")

	importCmd.Flags().Bool("dry-run", false, "Report without writing")

	rootCmd.AddCommand(
		initCmd,
		statusCmd,
		indexCmd,
		indexAllCmd,
		importCmd,
		evalCmd,
		recallCmd,
		recallApplyCmd,
		sessionCmd,
	)
}

func defaultConfigRoot() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".convomem")
}

func logger() memlog.Logger {
	level := memlog.LevelInfo
	if verbose {
		level = memlog.LevelDebug
	}
	return memlog.NewStd(level)
}

// openService builds and initializes the Memory service from
// <configRoot>/memory/config.json, per openStore()'s role in the
// teacher's CLI.
func openService(ctx context.Context) (*memory.Service, error) {
	cfg := config.Load(configRoot, logger())
	svc := memory.New(cfg, logger())
	if err := svc.Initialize(ctx); err != nil {
		return nil, fmt.Errorf("openService: %w", err)
	}
	return svc, nil
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create config, open the store, and apply schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		memDir := filepath.Join(configRoot, "memory")
		if err := os.MkdirAll(memDir, 0o755); err != nil {
			os.Exit(exitStorageFailure)
			return err
		}

		configPath := filepath.Join(memDir, "config.json")
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			cfg := config.Default()
			cfg.Storage.DBPath = filepath.Join(memDir, "memory.db")
			data, err := json.MarshalIndent(cfg, "", "  ")
			if err != nil {
				os.Exit(exitStorageFailure)
				return err
			}
			if err := os.WriteFile(configPath, data, 0o644); err != nil {
				os.Exit(exitStorageFailure)
				return err
			}
		}

		svc, err := openService(ctx)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(exitStorageFailure)
			return nil
		}
		defer svc.Close()

		fmt.Printf("convomem initialized at %s\n", configRoot)
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print totals and capability flags",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		svc, err := openService(ctx)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(exitNotInitialized)
			return nil
		}
		defer svc.Close()

		stats, err := svc.GetStats(ctx)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(exitStorageFailure)
			return nil
		}

		fmt.Printf("sessions: %d\n", stats.SessionCount)
		fmt.Printf("messages: %d\n", stats.MessageCount)
		fmt.Printf("indexed vectors: %d\n", stats.IndexedVectors)
		fmt.Printf("vector search available: %t\n", stats.VecAvailable)
		return nil
	},
}

var indexCmd = &cobra.Command{
	Use:   "index [id]",
	Short: "Force indexing of a single session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		svc, err := openService(ctx)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(exitNotInitialized)
			return nil
		}
		defer svc.Close()

		if err := svc.IndexSession(ctx, args[0], true); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(exitStorageFailure)
			return nil
		}
		fmt.Printf("indexed session %s\n", args[0])
		return nil
	},
}

var indexAllCmd = &cobra.Command{
	Use:   "index-all",
	Short: "Force indexing of every session",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		svc, err := openService(ctx)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(exitNotInitialized)
			return nil
		}
		defer svc.Close()

		n, err := svc.BatchIndex(ctx, true)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(exitStorageFailure)
			return nil
		}
		fmt.Printf("indexed %d sessions\n", n)
		return nil
	},
}

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import legacy .wire session logs",
	RunE: func(cmd *cobra.Command, args []string) error {
		dryRun, _ := cmd.Flags().GetBool("dry-run")

		ctx := context.Background()
		svc, err := openService(ctx)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(exitNotInitialized)
			return nil
		}
		defer svc.Close()

		sessionsDir := filepath.Join(configRoot, "sessions")
		report, err := importer.Import(ctx, svc, sessionsDir, dryRun)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(exitStorageFailure)
			return nil
		}

		fmt.Print(importer.FormatReport(report))
		return nil
	},
}

var evalCmd = &cobra.Command{
	Use:   "eval",
	Short: "Run the recall evaluation harness",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		svc, err := openService(ctx)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(exitNotInitialized)
			return nil
		}
		defer svc.Close()

		evalDir := filepath.Join(configRoot, "memory", "evaluations")
		queriesPath := filepath.Join(evalDir, "queries.json")
		data, err := os.ReadFile(queriesPath)
		if err != nil {
			fmt.Printf("no evaluation queries found at %s\n", queriesPath)
			return nil
		}

		var cases []struct {
			Query             string `json:"query"`
			ExpectedSessionID string `json:"expected_session_id"`
		}
		if err := json.Unmarshal(data, &cases); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(exitInvalidArgs)
			return nil
		}

		hits := 0
		for _, c := range cases {
			results, err := svc.Recall(ctx, c.Query, memory.RecallOptions{TopK: 10})
			if err != nil {
				continue
			}
			for _, r := range results {
				if r.Session.ID == c.ExpectedSessionID {
					hits++
					break
				}
			}
		}

		hitRate := 0.0
		if len(cases) > 0 {
			hitRate = float64(hits) / float64(len(cases))
		}

		if err := os.MkdirAll(evalDir, 0o755); err == nil {
			name := evalTimestampName()
			report := map[string]any{
				"total_queries": len(cases),
				"hits":          hits,
				"hit_rate":      hitRate,
			}
			if data, err := json.MarshalIndent(report, "", "  "); err == nil {
				_ = os.WriteFile(filepath.Join(evalDir, name+".json"), data, 0o644)
			}
			md := fmt.Sprintf("# Recall evaluation\n\nqueries: %d\nhits: %d\nhit_rate: %.3f\n", len(cases), hits, hitRate)
			_ = os.WriteFile(filepath.Join(evalDir, name+".md"), []byte(md), 0o644)
		}

		fmt.Printf("hit rate: %.1f%% (%d/%d)\n", hitRate*100, hits, len(cases))
		return nil
	},
}

func evalTimestampName() string {
	return time.Now().UTC().Format("20060102T150405Z")
}

var recallCmd = &cobra.Command{
	Use:   "recall [query]",
	Short: "Run recall against stored conversation history",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		svc, err := openService(ctx)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(exitNotInitialized)
			return nil
		}
		defer svc.Close()

		mode, _ := cmd.Flags().GetString("mode")
		if mode != "auto" && mode != "manual" && mode != "inject" {
			fmt.Fprintf(os.Stderr, "invalid --mode %q: want auto, manual, or inject\n", mode)
			os.Exit(exitInvalidArgs)
			return nil
		}

		verboseFlag, _ := cmd.Flags().GetBool("verbose")
		listFlag, _ := cmd.Flags().GetBool("list")
		statsFlag, _ := cmd.Flags().GetBool("stats")
		sessionID, _ := cmd.Flags().GetString("session")
		topK, _ := cmd.Flags().GetInt("top-k")

		var query string
		if len(args) > 0 {
			query = args[0]
		}

		results, err := svc.Recall(ctx, query, memory.RecallOptions{
			CurrentSessionID: sessionID,
			TopK:             topK,
		})
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(exitStorageFailure)
			return nil
		}

		if statsFlag {
			stats, err := svc.GetStats(ctx)
			if err == nil {
				fmt.Printf("sessions=%d messages=%d vectors=%d\n", stats.SessionCount, stats.MessageCount, stats.IndexedVectors)
			}
		}

		if listFlag || mode != "inject" {
			for i, r := range results {
				if verboseFlag {
					fmt.Printf("%d. %s (combined=%.3f decayed=%.3f vector=%.3f keyword=%.3f)\n",
						i+1, r.Session.Title, r.CombinedScore, r.DecayedScore, r.VectorScore, r.KeywordScore)
				} else {
					fmt.Printf("%d. %s\n", i+1, r.Session.Title)
				}
			}
			return nil
		}

		fmt.Print(recall.BuildPromptContext(results, 2000))
		return nil
	},
}

var recallApplyCmd = &cobra.Command{
	Use:   "recall-apply [N[,M[-P]]|all]",
	Short: "Describe which recall results would be injected",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		spec := args[0]
		if spec != "all" {
			for _, part := range strings.Split(spec, ",") {
				if strings.Contains(part, "-") {
					bounds := strings.SplitN(part, "-", 2)
					if len(bounds) != 2 {
						fmt.Fprintf(os.Stderr, "invalid range %q\n", part)
						os.Exit(exitInvalidArgs)
						return nil
					}
					for _, b := range bounds {
						if _, err := strconv.Atoi(b); err != nil {
							fmt.Fprintf(os.Stderr, "invalid index %q\n", b)
							os.Exit(exitInvalidArgs)
							return nil
						}
					}
				} else if _, err := strconv.Atoi(part); err != nil {
					fmt.Fprintf(os.Stderr, "invalid index %q\n", part)
					os.Exit(exitInvalidArgs)
					return nil
				}
			}
		}
		fmt.Printf("recall selection: %s\n", spec)
		return nil
	},
}

var sessionCmd = &cobra.Command{
	Use:   "session <id>",
	Short: "Fetch and render a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		svc, err := openService(ctx)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(exitNotInitialized)
			return nil
		}
		defer svc.Close()

		sess, err := svc.GetSession(ctx, args[0])
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(exitInvalidArgs)
			return nil
		}

		messages, err := svc.GetMessages(ctx, args[0], 0, 0)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(exitStorageFailure)
			return nil
		}

		fmt.Printf("%s (%d messages)\n", sess.Title, len(messages))
		if sess.Summary != "" {
			fmt.Printf("summary: %s\n", sess.Summary)
		}
		for _, m := range messages {
			fmt.Printf("[%s] %s\n", m.Role, m.Content)
		}
		return nil
	},
}
