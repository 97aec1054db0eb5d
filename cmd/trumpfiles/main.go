package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"unicode/utf8"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/TobiSchelling/trumpfiles/internal/aggregate"
	"github.com/TobiSchelling/trumpfiles/internal/catalog"
	"github.com/TobiSchelling/trumpfiles/internal/config"
	"github.com/TobiSchelling/trumpfiles/internal/database"
	"github.com/TobiSchelling/trumpfiles/internal/fetch"
	"github.com/TobiSchelling/trumpfiles/internal/server"
	"github.com/TobiSchelling/trumpfiles/internal/upstream"
)

var version = "dev"

var (
	verbose    bool
	configPath string
	cfg        *config.Config
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "trumpfiles",
	Short:   "Catalog and dashboard of scored Trump-era events",
	Long:    "trumpfiles imports scored event entries, serves the searchable catalog and the visualizer dashboard, and moderates visitor feedback.",
	Version: version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		setLogFlags(verbose)

		// Skip config loading for init and version
		if cmd.Name() == "init" || cmd.Name() == "version" {
			return nil
		}

		path, err := config.ResolveConfigPath(configPath)
		if err != nil {
			return err
		}
		cfg, err = config.Load(path)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		if strings.EqualFold(cfg.Logging.Level, "DEBUG") {
			setLogFlags(true)
		}
		return nil
	},
}

func setLogFlags(debug bool) {
	if debug {
		log.SetFlags(log.LstdFlags | log.Lshortfile)
	} else {
		log.SetFlags(log.LstdFlags)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(chartsCmd)
	rootCmd.AddCommand(commentsCmd)
	rootCmd.AddCommand(sourcesCmd)
	rootCmd.AddCommand(serveCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("trumpfiles", version)
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration in ~/.config/trumpfiles/",
	RunE: func(cmd *cobra.Command, args []string) error {
		target := filepath.Join(config.ConfigDir(), "config.yaml")
		if _, err := os.Stat(target); err == nil {
			fmt.Printf("Config already exists: %s\n", target)
			return nil
		}

		if err := os.MkdirAll(config.ConfigDir(), 0o755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}

		if err := os.WriteFile(target, config.DefaultConfigYAML, 0o644); err != nil {
			return fmt.Errorf("writing config: %w", err)
		}

		fmt.Printf("Created config: %s\n", target)
		fmt.Println("Edit it to set the admin token, dashboard metrics, and upstream database.")
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show database status",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		stats, err := db.GetStats()
		if err != nil {
			return fmt.Errorf("getting stats: %w", err)
		}

		fmt.Printf("Database: %s\n\n", db.Path())
		fmt.Println("Catalog:")
		fmt.Printf("  Entries: %s\n", humanize.Comma(int64(stats.TotalEntries)))
		fmt.Printf("  Sources: %s\n", humanize.Comma(int64(stats.TotalSources)))
		fmt.Printf("  Average danger: %.1f\n", stats.AvgDanger)
		fmt.Println("\nCommunity:")
		fmt.Printf("  Comments: %s (%s pending)\n", humanize.Comma(int64(stats.TotalComments)), humanize.Comma(int64(stats.PendingComments)))
		fmt.Printf("  Score submissions: %s\n", humanize.Comma(int64(stats.TotalScores)))
		fmt.Printf("  Votes: %s\n", humanize.Comma(int64(stats.TotalVotes)))
		if stats.ImportErrors > 0 {
			fmt.Printf("\nImport errors recorded: %d\n", stats.ImportErrors)
		}
		return nil
	},
}

// --- import command ---

var importCmd = &cobra.Command{
	Use:   "import [file]",
	Short: "Import entries from a JSON file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("reading %s: %w", args[0], err)
		}

		entries, err := catalog.ParseImport(data)
		if err != nil {
			var verrs catalog.ValidationErrors
			if errors.As(err, &verrs) {
				fmt.Printf("Validation failed (%d problems):\n", len(verrs))
				for _, e := range verrs {
					fmt.Printf("  %s\n", e.Error())
				}
				return errors.New("nothing imported")
			}
			return err
		}

		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		inserted, err := db.InsertEntries(entries)
		if err != nil {
			if recErr := db.RecordImportError(err.Error(), filepath.Base(args[0])); recErr != nil {
				log.Printf("Error recording import failure: %v", recErr)
			}
			return fmt.Errorf("importing entries: %w", err)
		}

		fmt.Println("Import complete:")
		fmt.Printf("  Entries in file: %d\n", len(entries))
		fmt.Printf("  Inserted: %d\n", inserted)
		fmt.Printf("  Skipped (already present): %d\n", len(entries)-inserted)
		return nil
	},
}

// --- sync command ---

var syncView string

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Copy entries from the upstream Postgres view",
	RunE: func(cmd *cobra.Command, args []string) error {
		dsn, err := cfg.PostgresDSN()
		if err != nil {
			return err
		}
		view := cfg.Postgres.View
		if syncView != "" {
			view = syncView
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		client, err := upstream.Connect(ctx, dsn)
		if err != nil {
			return err
		}
		defer client.Close()

		fmt.Printf("Reading entries from %s...\n", view)
		entries, err := client.FetchEntries(ctx, view)
		if err != nil {
			return err
		}

		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		inserted, err := db.InsertEntries(entries)
		if err != nil {
			return fmt.Errorf("storing entries: %w", err)
		}

		fmt.Println("\nSync complete:")
		fmt.Printf("  Upstream entries: %d\n", len(entries))
		fmt.Printf("  New entries: %d\n", inserted)
		fmt.Printf("  Already present: %d\n", len(entries)-inserted)
		return nil
	},
}

func init() {
	syncCmd.Flags().StringVar(&syncView, "view", "", "Override the upstream view name")
}

// --- charts command ---

var (
	chartsJSON bool
	chartsA    string
	chartsB    string
)

var chartsCmd = &cobra.Command{
	Use:   "charts",
	Short: "Print the dashboard datasets",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := cfg.DashboardOptions()
		for i, name := range []string{chartsA, chartsB} {
			if name == "" {
				continue
			}
			m, err := aggregate.ParseMetric(name)
			if err != nil {
				return err
			}
			opts.CrossTab[i] = m
		}

		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		entries, err := db.GetAllEntries()
		if err != nil {
			return err
		}
		d := cfg.Engine().Dashboard(entries, opts)

		if chartsJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(d)
		}
		printDashboard(d)
		return nil
	},
}

func init() {
	chartsCmd.Flags().BoolVar(&chartsJSON, "json", false, "Print JSON instead of tables")
	chartsCmd.Flags().StringVar(&chartsA, "a", "", "First cross-tab metric")
	chartsCmd.Flags().StringVar(&chartsB, "b", "", "Second cross-tab metric")
}

func printDashboard(d aggregate.Dashboard) {
	s := d.Summary
	fmt.Printf("Entries: %d  avg danger: %.1f  avg absurdity: %.1f  max danger: %.1f  high on both: %d\n",
		s.Total, s.AvgDanger, s.AvgAbsurdity, s.MaxDanger, s.HighOnBoth)
	fmt.Printf("Missing scores: %s\n", d.MissingScores)

	fmt.Println("\nCategories:")
	for _, c := range d.Categories {
		fmt.Printf("  %-40s %5d\n", c.Name, c.Value)
	}

	fmt.Println("\nPhases:")
	for _, p := range d.Phases {
		fmt.Printf("  %-40s %5d\n", p.Name, p.Value)
	}

	fmt.Println("\nTimeline:")
	for _, b := range d.Timeline {
		fmt.Printf("  %-8s %5d", b.Year, b.Count)
		for _, a := range b.Averages {
			fmt.Printf("  %s %.1f", a.Metric, a.Value)
		}
		fmt.Println()
	}

	fmt.Println("\nProfile:")
	for _, p := range d.Profile {
		fmt.Printf("  %-20s %5.2f\n", p.Dimension, p.Value)
	}
	if d.TopDimension != nil {
		fmt.Printf("  Highest: %s\n", d.TopDimension.Dimension)
	}

	a, b := d.CrossMetrics[0], d.CrossMetrics[1]
	fmt.Printf("\n%s vs %s by category:\n", a.Label(), b.Label())
	for _, r := range d.CrossTab {
		fmt.Printf("  %-40s %5d  %5.1f  %5.1f\n", r.Category, r.Count, r.Average(a), r.Average(b))
	}
	if d.EraShift != nil {
		fmt.Printf("\n%s shift between eras: %+.1f\n", a.Label(), *d.EraShift)
	}
}

// --- comments command ---

var commentsCmd = &cobra.Command{
	Use:   "comments",
	Short: "Moderate visitor comments",
}

var commentsPendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "List comments awaiting approval",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		pending, err := db.GetPendingComments()
		if err != nil {
			return err
		}
		if len(pending) == 0 {
			fmt.Println("No comments awaiting approval.")
			return nil
		}

		fmt.Printf("Pending comments (%d):\n\n", len(pending))
		for _, c := range pending {
			text := truncate(c.CommentText, 60)
			fmt.Printf("  [%s] entry #%d by %s\n", c.ID, c.EntryNumber, c.UserName)
			fmt.Printf("        %s\n", text)
		}
		return nil
	},
}

var commentsApproveCmd = &cobra.Command{
	Use:   "approve [id]",
	Short: "Approve a pending comment",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		ok, err := db.ApproveComment(args[0])
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("comment %s not found", args[0])
		}
		fmt.Printf("Approved comment %s\n", args[0])
		return nil
	},
}

var commentsDeleteCmd = &cobra.Command{
	Use:   "delete [id]",
	Short: "Delete a comment",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		ok, err := db.DeleteComment(args[0])
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("comment %s not found", args[0])
		}
		fmt.Printf("Deleted comment %s\n", args[0])
		return nil
	},
}

func init() {
	commentsCmd.AddCommand(commentsPendingCmd)
	commentsCmd.AddCommand(commentsApproveCmd)
	commentsCmd.AddCommand(commentsDeleteCmd)
}

// --- sources command ---

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "Maintain entry source links",
}

var sourcesResolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Fetch page titles for sources that have none",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		fmt.Println("Resolving source titles...")
		res, err := fetch.NewTitleResolver(db, cfg.FetchTimeout()).ResolveMissingTitles(ctx)
		if err != nil {
			return err
		}

		fmt.Println("\nResolution complete:")
		fmt.Printf("  Resolved: %d\n", res.Resolved)
		fmt.Printf("  Failed: %d\n", res.Failed)
		fmt.Printf("  Skipped (domain errored): %d\n", res.Skipped)
		return nil
	},
}

func init() {
	sourcesCmd.AddCommand(sourcesResolveCmd)
}

// --- serve command ---

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the web server",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		if servePort > 0 {
			cfg.Server.Port = servePort
		}
		fmt.Printf("Starting server at http://%s\n", cfg.Addr())
		fmt.Println("Press Ctrl+C to stop")
		return server.Serve(db, cfg)
	},
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Port to run server on (overrides config)")
}

func openDB() (*database.DB, error) {
	dataDir := cfg.GetDataDir()
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	return database.OpenInDir(dataDir)
}

// truncate shortens s to at most n runes, marking the cut with "...".
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}
