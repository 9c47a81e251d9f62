// Command kibo snapshots and restores the tracked build-artifact set of a
// developer workspace.
package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/docopt/docopt-go"
	log "github.com/sirupsen/logrus"

	"github.com/t7a/kibo/internal/kibo"
)

// The CLI surface is translated from original_source/src/cli.rs's clap
// subcommands into docopt syntax. docopt ties option arity to the option
// string itself, so an option cannot be boolean in one subcommand and
// value-taking in another (clap allows that per-subcommand; docopt does
// not) -- save/load's "--include-db[=<dbname>]" becomes "--include-db"
// plus a separate "--db=<dbname>", and list's sort selector becomes a
// single valued "--sort=<key>" instead of four same-named boolean flags.
const usage = `kibo: fast, deterministic snapshot and restore of build artifacts.

Usage:
  kibo save <name> [-y] [-v] [--include-db] [--db=<dbname>] [--compression-level=<n>] [--directories=<csv>] [--add-directories=<csv>] [--files=<csv>] [--add-files=<csv>] [--progress | --no-progress]
  kibo load <name> [-v] [--include-db] [--db=<dbname>] [--progress | --no-progress]
  kibo list [--sort=<key>]
  kibo rm <name>...
  kibo prune [-v]
  kibo history [--last=<n>] [--snapshot=<name>] [--json]
  kibo init
  kibo config
  kibo -h | --help

Options:
  -y                         Overwrite an existing snapshot of the same name.
  -v                         Verbose: watch for mid-save filesystem churn, or verbose prune output.
  --include-db               Also dump (save) or restore (load) a database.
  --db=<dbname>              Database name, when not set in the [database] config block.
  --compression-level=<n>    Override the configured zstd compression level (0-10).
  --directories=<csv>        Override the tracked directory base names for this save.
  --add-directories=<csv>    Add directory base names on top of the configured list.
  --files=<csv>              Override the tracked file glob patterns for this save.
  --add-files=<csv>          Add file glob patterns on top of the configured list.
  --progress                 Force the progress bar on.
  --no-progress              Force the progress bar off.
  --sort=<key>                Sort snapshot listing by name|size|files|created [default: created].
  --last=<n>                 Show only the last N history entries.
  --snapshot=<name>          Show only history entries for one snapshot.
  --json                     Emit history as a JSON array.
`

// Opts binds docopt's parse result, grounded on the teacher's cmd/pb/main.go
// Opts struct: one bool/string field per usage token, dispatched below with
// the same switch-true idiom.
type Opts struct {
	Save    bool
	Load    bool
	List    bool
	Rm      bool
	Prune   bool
	History bool
	Init    bool
	Config  bool

	Name []string `docopt:"<name>"`

	Y bool `docopt:"-y"`
	V bool `docopt:"-v"`

	IncludeDb        bool   `docopt:"--include-db"`
	Dbname           string `docopt:"--db"`
	CompressionLevel string `docopt:"--compression-level"`
	Directories      string `docopt:"--directories"`
	AddDirectories   string `docopt:"--add-directories"`
	Files            string `docopt:"--files"`
	AddFiles         string `docopt:"--add-files"`
	Progress         bool   `docopt:"--progress"`
	NoProgress       bool   `docopt:"--no-progress"`

	Sort string `docopt:"--sort"`

	Last     string `docopt:"--last"`
	Snapshot string `docopt:"--snapshot"`
	JSON     bool   `docopt:"--json"`
}

func init() {
	log.SetFormatter(&log.TextFormatter{
		CallerPrettyfier: func(f *runtime.Frame) (string, string) {
			return filepath.Base(f.Function), fmt.Sprintf("%s:%d", filepath.Base(f.File), f.Line)
		},
		FullTimestamp: true,
	})
	log.SetReportCaller(true)
	if os.Getenv("DEBUG") != "" {
		log.SetLevel(log.DebugLevel)
	}
}

func main() {
	raw, err := docopt.ParseArgs(usage, os.Args[1:], "")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	opts := &Opts{}
	if bindErr := raw.Bind(opts); bindErr != nil {
		fmt.Fprintln(os.Stderr, bindErr)
		os.Exit(2)
	}

	os.Exit(run(opts))
}

// run dispatches to one subcommand, switch-true style (cmd/pb/main.go),
// returning the process exit code documented in spec.md 6 rather than
// calling os.Exit itself, so defers in each handler still fire.
func run(opts *Opts) int {
	switch true {
	case opts.Init:
		return cmdInit()
	case opts.Config:
		return cmdConfig()
	case opts.Save:
		return cmdSave(opts)
	case opts.Load:
		return cmdLoad(opts)
	case opts.List:
		return cmdList(opts)
	case opts.Rm:
		return cmdRm(opts)
	case opts.Prune:
		return cmdPrune(opts)
	case opts.History:
		return cmdHistory(opts)
	default:
		fmt.Fprintln(os.Stderr, usage)
		return 2
	}
}

func cmdInit() int {
	root, err := os.Getwd()
	if err != nil {
		log.Error(err)
		return 1
	}
	if writeErr := kibo.WriteDefaultConfig(root); writeErr != nil {
		log.Error(writeErr)
		return kibo.ExitCode(writeErr)
	}
	if ensureErr := kibo.EnsureLayout(root); ensureErr != nil {
		log.Error(ensureErr)
		return kibo.ExitCode(ensureErr)
	}
	fmt.Println("initialized", filepath.Join(root, kibo.ConfigFile))
	return 0
}

func cmdConfig() int {
	root, err := kibo.FindRepoRoot(".")
	if err != nil {
		log.Error(err)
		return kibo.ExitCode(err)
	}
	editor := os.Getenv("EDITOR")
	if editor == "" {
		editor = "vim"
	}
	cmd := exec.Command(editor, filepath.Join(root, kibo.ConfigFile))
	cmd.Stdin, cmd.Stdout, cmd.Stderr = os.Stdin, os.Stdout, os.Stderr
	if runErr := cmd.Run(); runErr != nil {
		log.Error(runErr)
		return 1
	}
	return 0
}

func cmdSave(opts *Opts) int {
	root, cfg, err := loadWorkspace()
	if err != nil {
		log.Error(err)
		return kibo.ExitCode(err)
	}

	name := opts.Name[0]
	saveOpts := kibo.SaveOptions{
		Overwrite:  opts.Y,
		Verbose:    opts.V,
		Progress:   opts.Progress,
		NoProgress: opts.NoProgress,
	}
	if opts.IncludeDb {
		saveOpts.IncludeDB = opts.Dbname
		if saveOpts.IncludeDB == "" && cfg.Database != nil {
			saveOpts.IncludeDB = cfg.Database.Name
		}
	}
	if opts.CompressionLevel != "" {
		lvl, parseErr := strconv.Atoi(opts.CompressionLevel)
		if parseErr != nil {
			log.Errorf("invalid --compression-level: %v", parseErr)
			return 2
		}
		saveOpts.CompressionLevel = &lvl
	}
	saveOpts.Directories = overlayCSV(cfg.Directories, opts.Directories, opts.AddDirectories)
	saveOpts.Files = overlayCSV(cfg.Files, opts.Files, opts.AddFiles)

	now := time.Now()
	m, saveErr := kibo.Save(context.Background(), root, cfg, name, saveOpts, now)
	kibo.LogEntry(root, kibo.NewHistoryEntry(now, "save", name, saveFlags(opts)))
	if saveErr != nil {
		log.Error(saveErr)
		return kibo.ExitCode(saveErr)
	}
	fmt.Printf("saved %s: %d files, %s\n", m.Name, m.FileCount, m.HumanSize())
	return 0
}

func cmdLoad(opts *Opts) int {
	root, cfg, err := loadWorkspace()
	if err != nil {
		log.Error(err)
		return kibo.ExitCode(err)
	}

	name := opts.Name[0]
	loadOpts := kibo.LoadOptions{
		IncludeDB:  opts.IncludeDb,
		DBName:     opts.Dbname,
		Progress:   opts.Progress,
		NoProgress: opts.NoProgress,
	}

	now := time.Now()
	res, loadErr := kibo.Load(context.Background(), root, cfg, name, loadOpts)
	kibo.LogEntry(root, kibo.NewHistoryEntry(now, "load", name, loadFlags(opts)))
	if loadErr != nil {
		log.Error(loadErr)
		if res != nil {
			fmt.Printf("restored %d files, deleted %d files, %d directories (partial)\n", res.FilesRestored, res.FilesDeleted, res.DirsDeleted)
		}
		return kibo.ExitCode(loadErr)
	}
	fmt.Printf("restored %d files, deleted %d files, %d directories\n", res.FilesRestored, res.FilesDeleted, res.DirsDeleted)
	return 0
}

func cmdList(opts *Opts) int {
	root, _, err := loadWorkspace()
	if err != nil {
		log.Error(err)
		return kibo.ExitCode(err)
	}

	key := kibo.SortByCreated
	switch opts.Sort {
	case "name":
		key = kibo.SortByName
	case "size":
		key = kibo.SortBySize
	case "files":
		key = kibo.SortByFiles
	}

	infos, listErr := kibo.ListSnapshots(root, key)
	if listErr != nil {
		log.Error(listErr)
		return kibo.ExitCode(listErr)
	}
	for _, info := range infos {
		fmt.Printf("%-24s %-20s %8d files  %s\n", info.Name, info.CreatedAt.Time().Format(time.RFC3339), info.FileCount, kibo.FormatSize(info.TotalSize))
	}
	return 0
}

func cmdRm(opts *Opts) int {
	root, _, err := loadWorkspace()
	if err != nil {
		log.Error(err)
		return kibo.ExitCode(err)
	}

	code := 0
	for _, name := range opts.Name {
		if rmErr := kibo.RemoveSnapshot(root, name); rmErr != nil {
			log.Error(rmErr)
			code = kibo.ExitCode(rmErr)
			continue
		}
		kibo.LogEntry(root, kibo.NewHistoryEntry(time.Now(), "rm", name, nil))
		fmt.Println("removed", name)
	}
	return code
}

func cmdPrune(opts *Opts) int {
	root, _, err := loadWorkspace()
	if err != nil {
		log.Error(err)
		return kibo.ExitCode(err)
	}

	res, pruneErr := kibo.Prune(root)
	kibo.LogEntry(root, kibo.NewHistoryEntry(time.Now(), "prune", "", pruneFlags(opts)))
	if pruneErr != nil {
		log.Error(pruneErr)
		return kibo.ExitCode(pruneErr)
	}
	if opts.V {
		fmt.Printf("reclaimed %d blobs (%s), %d db dumps (%s)\n",
			res.BlobsDeleted, kibo.FormatSize(res.BlobBytesFreed),
			res.DumpsDeleted, kibo.FormatSize(res.DumpBytesFreed))
	} else {
		fmt.Printf("reclaimed %s\n", kibo.FormatSize(res.BlobBytesFreed+res.DumpBytesFreed))
	}
	return 0
}

func cmdHistory(opts *Opts) int {
	root, _, err := loadWorkspace()
	if err != nil {
		log.Error(err)
		return kibo.ExitCode(err)
	}

	entries, readErr := kibo.ReadHistory(root)
	if readErr != nil {
		log.Error(readErr)
		return kibo.ExitCode(readErr)
	}

	if opts.Snapshot != "" {
		filtered := entries[:0]
		for _, e := range entries {
			if e.Snapshot == opts.Snapshot {
				filtered = append(filtered, e)
			}
		}
		entries = filtered
	}
	if opts.Last != "" {
		if n, parseErr := strconv.Atoi(opts.Last); parseErr == nil && n >= 0 && n < len(entries) {
			entries = entries[len(entries)-n:]
		}
	}

	if opts.JSON {
		buf, jsonErr := kibo.HistoryEntriesJSON(entries)
		if jsonErr != nil {
			log.Error(jsonErr)
			return 1
		}
		fmt.Println(string(buf))
		return 0
	}
	for _, e := range entries {
		fmt.Println(e.Display())
	}
	return 0
}

func loadWorkspace() (root string, cfg *kibo.Config, err error) {
	root, err = kibo.FindRepoRoot(".")
	if err != nil {
		return "", nil, err
	}
	cfg, err = kibo.LoadConfig(root)
	if err != nil {
		return "", nil, err
	}
	return root, cfg, nil
}

func overlayCSV(configured []string, override, add string) []string {
	if override != "" {
		return splitCSV(override)
	}
	if add == "" {
		return configured
	}
	return append(append([]string{}, configured...), splitCSV(add)...)
}

func splitCSV(csv string) []string {
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func saveFlags(opts *Opts) []string {
	var flags []string
	if opts.Y {
		flags = append(flags, "-y")
	}
	if opts.IncludeDb {
		flags = append(flags, "--include-db")
	}
	return flags
}

func loadFlags(opts *Opts) []string {
	var flags []string
	if opts.IncludeDb {
		flags = append(flags, "--include-db")
	}
	return flags
}

func pruneFlags(opts *Opts) []string {
	if opts.V {
		return []string{"-v"}
	}
	return nil
}
