package main

import (
	"bufio"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/lotas/sortbench/internal/applog"
	"github.com/lotas/sortbench/internal/bridge"
	"github.com/lotas/sortbench/internal/config"
	"github.com/lotas/sortbench/internal/dataset"
	"github.com/lotas/sortbench/internal/store"
	"github.com/lotas/sortbench/internal/tui"
)

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "export":
			runExport(os.Args[2:])
			return
		case "revs":
			runRevs()
			return
		case "delete":
			runDelete(os.Args[2:])
			return
		case "cache":
			runCache(os.Args[2:])
			return
		case "help", "--help", "-h":
			printHelp()
			return
		}
	}

	fs := flag.NewFlagSet("sortbench", flag.ExitOnError)
	configPath := fs.String("config", "", "Config file path (default: ~/.config/sortbench/config.yaml)")
	dbPath := fs.String("db", "", "Database path (overrides config)")
	port := fs.Int("port", -1, "WebSocket port for companion viewers, 0 disables (overrides config)")
	fresh := fs.Bool("fresh", false, "Ignore saved curations and start from the dataset")
	fs.Parse(reorderArgs(os.Args[1:]))

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: sortbench [flags] <dataset.json[.lz4]>")
		os.Exit(1)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	db, resolvedDB, err := openDB(*dbPath, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	logDir := cfg.LogDir
	if logDir == "" {
		logDir = filepath.Dir(resolvedDB)
	}
	if err := applog.Init(logDir); err != nil {
		fmt.Fprintf(os.Stderr, "Error opening log: %v\n", err)
		os.Exit(1)
	}
	defer applog.Close()

	ds, err := dataset.Load(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	applog.Info("dataset.loaded", "name", ds.Name, "spikes", len(ds.Assignments))

	var cur *store.CurationFull
	if !*fresh {
		cur, err = store.GetLatestCuration(db, ds.Name)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading curation: %v\n", err)
			os.Exit(1)
		}
		if cur != nil {
			applog.Info("curation.restored", "rev", cur.Rev)
		}
	}

	resolvedPort := cfg.BridgePort
	if *port >= 0 {
		resolvedPort = *port
	}
	var srv *bridge.Server
	if resolvedPort > 0 {
		srv = bridge.New(resolvedPort)
	}

	session, err := tui.NewSession(cfg, db, ds, srv, cur)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if err := tui.Run(session); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printHelp() {
	fmt.Print(`sortbench — spike sorting curation workbench

Usage:
  sortbench [flags] <dataset.json[.lz4]>       Start the TUI (default)
    --config <path>      Config file (default: ~/.config/sortbench/config.yaml)
    --db <path>          Database path (overrides config)
    --port <n>           WebSocket port for companion viewers, 0 disables
    --fresh              Ignore saved curations and start from the dataset

  sortbench export <dataset.json[.lz4]>        Export the latest curation
    --rev <n>            Curation revision (default: latest)
    --out <file>         Output file (default: <name>.curated.json)
    --db <path>          Database path

  sortbench revs                               List saved curations
  sortbench delete <dataset> <rev> [--yes]     Delete a saved curation
  sortbench cache [--clear]                    List or clear cached derived data

Environment:
  SORTBENCH_DB           Default database path (overridden by --db flag)
`)
}

func loadConfig(flagPath string) (*config.Config, error) {
	path := flagPath
	if path == "" {
		var err error
		path, err = config.DefaultPath()
		if err != nil {
			return nil, err
		}
	}
	return config.Load(path)
}

// openDB resolves the database path (flag > env > config > default) and
// opens it.
func openDB(flagPath string, cfg *config.Config) (*sql.DB, string, error) {
	path := flagPath
	if path == "" {
		path = os.Getenv("SORTBENCH_DB")
	}
	if path == "" && cfg != nil {
		path = cfg.DBPath
	}
	if path == "" {
		var err error
		path, err = store.DefaultDBPath()
		if err != nil {
			return nil, "", err
		}
	}
	db, err := store.OpenDB(path)
	return db, path, err
}

func runExport(args []string) {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	rev := fs.Int("rev", 0, "Curation revision (default: latest)")
	out := fs.String("out", "", "Output file path")
	dbPath := fs.String("db", "", "Database path")
	fs.Parse(reorderArgs(args))

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: sortbench export <dataset.json[.lz4]> [--rev N] [--out file]")
		os.Exit(1)
	}

	ds, err := dataset.Load(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	db, _, err := openDB(*dbPath, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	var cur *store.CurationFull
	if *rev > 0 {
		cur, err = store.GetCuration(db, ds.Name, *rev)
	} else {
		cur, err = store.GetLatestCuration(db, ds.Name)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if cur == nil {
		fmt.Fprintf(os.Stderr, "No saved curation for dataset %q.\n", ds.Name)
		os.Exit(1)
	}

	path := *out
	if path == "" {
		path = ds.Name + ".curated.json"
	}
	exp := dataset.Export{
		Name:          ds.Name,
		SpikeClusters: cur.Assignments,
		NextClusterID: cur.NextClusterID,
		Groups:        cur.Groups,
		Labels:        cur.Labels,
	}
	if err := dataset.Write(path, exp); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Exported %s rev %d to %s\n", ds.Name, cur.Rev, path)
}

func runRevs() {
	db, _, err := openDB("", nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	curs, err := store.ListCurations(db)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error listing curations: %v\n", err)
		os.Exit(1)
	}
	if len(curs) == 0 {
		fmt.Println("No saved curations.")
		return
	}

	fmt.Printf("%-5s %-20s %8s %8s  %s\n", "REV", "DATASET", "SPIKES", "CLUSTERS", "CREATED")
	for _, c := range curs {
		fmt.Printf("%5d %-20s %8d %8d  %s\n",
			c.Rev,
			c.Dataset,
			c.NSpikes,
			c.NClusters,
			c.CreatedAt.Format("2006-01-02 15:04"),
		)
	}
}

func runDelete(args []string) {
	fs := flag.NewFlagSet("delete", flag.ExitOnError)
	yes := fs.Bool("yes", false, "Skip confirmation prompt")
	dbPath := fs.String("db", "", "Database path")
	fs.Parse(reorderArgs(args))

	if fs.NArg() < 2 {
		fmt.Fprintln(os.Stderr, "Usage: sortbench delete <dataset> <rev> [--yes]")
		os.Exit(1)
	}
	rev, err := strconv.Atoi(fs.Arg(1))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid revision number: %s\n", fs.Arg(1))
		os.Exit(1)
	}

	if !*yes {
		fmt.Printf("Delete curation %s rev %d? [y/N] ", fs.Arg(0), rev)
		reader := bufio.NewReader(os.Stdin)
		answer, _ := reader.ReadString('\n')
		answer = strings.TrimSpace(strings.ToLower(answer))
		if answer != "y" && answer != "yes" {
			fmt.Println("Aborted.")
			return
		}
	}

	db, _, err := openDB(*dbPath, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := store.DeleteCuration(db, fs.Arg(0), rev); err != nil {
		fmt.Fprintf(os.Stderr, "Error deleting curation: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Curation %s rev %d deleted.\n", fs.Arg(0), rev)
}

func runCache(args []string) {
	fs := flag.NewFlagSet("cache", flag.ExitOnError)
	clear := fs.Bool("clear", false, "Delete all cache entries")
	dbPath := fs.String("db", "", "Database path")
	fs.Parse(reorderArgs(args))

	db, _, err := openDB(*dbPath, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	if *clear {
		n, err := store.ClearCache(db)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error clearing cache: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Removed %d cache entries.\n", n)
		return
	}

	entries, err := store.ListCache(db)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error listing cache: %v\n", err)
		os.Exit(1)
	}
	if len(entries) == 0 {
		fmt.Println("Cache is empty.")
		return
	}

	fmt.Printf("%-40s %10s  %s\n", "KEY", "SIZE", "UPDATED")
	for _, e := range entries {
		fmt.Printf("%-40s %10d  %s\n", e.Key, e.Size, e.UpdatedAt.Format("2006-01-02 15:04"))
	}
}

// reorderArgs moves flag arguments before positional arguments so that
// flag.Parse handles them correctly (it stops at the first non-flag arg).
func reorderArgs(args []string) []string {
	var flags, positional []string
	for i := 0; i < len(args); i++ {
		if strings.HasPrefix(args[i], "-") {
			flags = append(flags, args[i])
			if i+1 < len(args) && !strings.HasPrefix(args[i+1], "-") {
				flags = append(flags, args[i+1])
				i++
			}
		} else {
			positional = append(positional, args[i])
		}
	}
	return append(flags, positional...)
}
