package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/metcalfc/panels/internal/catalog"
	"github.com/metcalfc/panels/internal/config"
	"github.com/metcalfc/panels/internal/logging"
	"github.com/metcalfc/panels/internal/reader"
	"github.com/metcalfc/panels/internal/service"
	"github.com/metcalfc/panels/internal/state"
	"github.com/metcalfc/panels/internal/tts"
)

// ttsPollInterval is how often a starting speech server is checked.
const ttsPollInterval = 500 * time.Millisecond

// Version info (injected via ldflags)
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

type cliFlags struct {
	configPath  string
	list        bool
	asJSON      bool
	info        string
	page        int
	out         string
	epub        bool
	fresh       bool
	showVersion bool
	target      string
}

func parseFlags(prog, title string, args []string, stderr io.Writer) (cliFlags, error) {
	var f cliFlags
	fs := flag.NewFlagSet(prog, flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&f.configPath, "config", "", "Config file (default: $XDG_CONFIG_HOME/panels/config.toml)")
	fs.BoolVar(&f.list, "list", false, "Print the catalog and exit")
	fs.BoolVar(&f.asJSON, "json", false, "Print the catalog (or -info) as JSON and exit")
	fs.StringVar(&f.info, "info", "", "Print page or text statistics for a document and exit")
	fs.IntVar(&f.page, "page", 0, "Zero-based page to export with -out")
	fs.StringVar(&f.out, "out", "", "Export the -page of the comic given as argument to this file")
	fs.BoolVar(&f.epub, "epub", false, "Include EPUB books in the catalog")
	fs.BoolVar(&f.fresh, "fresh", false, "Ignore saved reading positions")
	fs.BoolVar(&f.showVersion, "v", false, "Show version information")
	fs.BoolVar(&f.showVersion, "version", false, "Show version information")
	fs.Usage = func() {
		fmt.Fprintf(stderr, "%s\n\n", title)
		fmt.Fprintf(stderr, "Usage:\n")
		fmt.Fprintf(stderr, "  %s [options] [folder]\n\n", prog)
		fmt.Fprintf(stderr, "Options:\n")
		fs.PrintDefaults()
		fmt.Fprintf(stderr, "\nDocuments: Comic (.zip), %s\n", strings.Join(reader.SupportedFormats(), ", "))
		fmt.Fprintf(stderr, "\nExamples:\n")
		fmt.Fprintf(stderr, "  %s ~/Comics                       Browse a library\n", prog)
		fmt.Fprintf(stderr, "  %s -list ~/Comics                 Print the catalog\n", prog)
		fmt.Fprintf(stderr, "  %s -info ~/Comics/vol1.zip        Show page count\n", prog)
		fmt.Fprintf(stderr, "  %s -page 0 -out cover.jpg vol1.zip  Export a page\n", prog)
	}
	if err := fs.Parse(args); err != nil {
		return f, err
	}
	if fs.NArg() > 1 {
		return f, fmt.Errorf("expected at most one folder or file, got %d", fs.NArg())
	}
	f.target = fs.Arg(0)
	return f, nil
}

// env holds everything a shell needs for one session.
type env struct {
	cfg    *config.Config
	logger *zap.Logger
	svc    *service.Service
	store  *state.StateStore
	speech *tts.Supervisor
}

func newEnv(f cliFlags) (*env, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return nil, err
	}
	if f.epub {
		cfg.Library.EPUB = true
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.File)
	if err != nil {
		return nil, err
	}

	svc := service.New(
		service.WithLogger(logger.Named("service")),
		service.WithCoverWorkers(cfg.Covers.Workers),
		service.WithScanOptions(
			catalog.WithEPUB(cfg.Library.EPUB),
			catalog.WithExcludeDirs(cfg.Library.ExcludeDirs...),
		),
	)

	// Reading positions are a convenience; run without them if the state
	// dir is unusable.
	store, err := state.NewStateStore()
	if err != nil {
		logger.Warn("reading state unavailable", zap.Error(err))
		store = nil
	}

	speech := tts.NewSupervisor(
		tts.WithBaseURL(cfg.TTS.BaseURL),
		tts.WithCommand(cfg.TTS.Command...),
		tts.WithEngine(cfg.TTS.Engine),
		tts.WithLogger(logger.Named("tts")),
	)

	return &env{cfg: cfg, logger: logger, svc: svc, store: store, speech: speech}, nil
}

func (e *env) close() {
	e.speech.Stop()
	_ = e.logger.Sync()
}

// libraryRoot picks the folder to open: the command line, the configured
// root, the last folder used, then the working directory.
func (e *env) libraryRoot(target string) string {
	if target != "" {
		return target
	}
	if e.cfg.Library.Root != "" {
		return e.cfg.Library.Root
	}
	if e.store != nil {
		if last := e.store.LastFolder(); last != "" {
			if info, err := os.Stat(last); err == nil && info.IsDir() {
				return last
			}
		}
	}
	wd, _ := os.Getwd()
	return wd
}

func (e *env) rememberFolder(root string) {
	if e.store == nil {
		return
	}
	if abs, err := filepath.Abs(root); err == nil {
		root = abs
	}
	if err := e.store.SetLastFolder(root); err != nil {
		e.logger.Debug("save last folder", zap.Error(err))
	}
}

// savedPosition returns the stored position for a document, keyed by its
// content hash. The hash is returned so the position can be updated later.
func (e *env) savedPosition(path string, fresh bool) (hash string, pos state.Position) {
	if e.store == nil {
		return "", pos
	}
	hash, err := state.ComputeHash(path)
	if err != nil {
		return "", pos
	}
	if fresh {
		return hash, pos
	}
	return hash, e.store.GetPosition(hash)
}

// comicDoc is an opened comic: its page count and where to resume.
type comicDoc struct {
	entry catalog.Entry
	info  service.ComicInfo
	hash  string
	start int
}

// loadComic reads a comic's page count and saved page. It does I/O and must
// not run on a UI loop.
func loadComic(e *env, entry catalog.Entry, fresh bool) (comicDoc, error) {
	info, err := e.svc.GetComicInfo(entry.Path)
	if err != nil {
		return comicDoc{entry: entry}, err
	}
	hash, pos := e.savedPosition(entry.Path, fresh)
	start := pos.Page
	if start < 0 || start >= info.TotalPages {
		start = 0
	}
	return comicDoc{entry: entry, info: info, hash: hash, start: start}, nil
}

// textDoc is an opened text document.
type textDoc struct {
	entry    catalog.Entry
	text     string
	headings []reader.Heading
	stats    reader.Stats
	hash     string
	line     int
}

// loadText reads a text document with its statistics, outline and saved
// line. It does I/O and must not run on a UI loop.
func loadText(e *env, entry catalog.Entry, fresh bool) (textDoc, error) {
	text, err := e.svc.LoadTextFile(entry.Path)
	if err != nil {
		return textDoc{entry: entry}, err
	}
	stats, err := e.svc.GetTextInfo(entry.Path)
	if err != nil {
		return textDoc{entry: entry}, err
	}
	headings, err := reader.Headings(entry.Path)
	if err != nil {
		e.logger.Debug("outline unavailable", zap.String("path", entry.Path), zap.Error(err))
	}
	hash, pos := e.savedPosition(entry.Path, fresh)
	return textDoc{
		entry:    entry,
		text:     text,
		headings: headings,
		stats:    stats,
		hash:     hash,
		line:     pos.Line,
	}, nil
}

var errUsage = errors.New("usage")

// runBatch handles the non-interactive flags. It reports whether it did
// anything.
func runBatch(w io.Writer, e *env, f cliFlags) (bool, error) {
	switch {
	case f.info != "":
		return true, printInfo(w, e.svc, f.info, f.asJSON)
	case f.out != "":
		if f.target == "" {
			return true, fmt.Errorf("%w: -out needs a comic archive argument", errUsage)
		}
		return true, exportPage(e.svc, f.target, f.page, f.out)
	case f.list || f.asJSON:
		root := e.libraryRoot(f.target)
		entries, err := e.svc.ScanFolder(root)
		if err != nil {
			return true, err
		}
		return true, printCatalog(w, entries, f.asJSON)
	}
	return false, nil
}

func printCatalog(w io.Writer, entries []catalog.Entry, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if entries == nil {
			entries = []catalog.Entry{}
		}
		return enc.Encode(entries)
	}
	for _, en := range entries {
		if _, err := fmt.Fprintf(w, "%-4s  %s\n", en.Kind, en.DisplayName); err != nil {
			return err
		}
	}
	return nil
}

func printInfo(w io.Writer, svc *service.Service, path string, asJSON bool) error {
	kind, ok := catalog.Classify(path, true)
	if !ok {
		return fmt.Errorf("%w: unsupported document %s", errUsage, path)
	}

	var v any
	if !kind.IsText() {
		info, err := svc.GetComicInfo(path)
		if err != nil {
			return err
		}
		if !asJSON {
			_, err = fmt.Fprintf(w, "%s: %d pages\n", info.Filename, info.TotalPages)
			return err
		}
		v = info
	} else {
		st, err := svc.GetTextInfo(path)
		if err != nil {
			return err
		}
		if !asJSON {
			_, err = fmt.Fprintf(w, "%s (%s): %d characters, %d lines\n", st.Filename, st.FileType, st.CharCount, st.LineCount)
			return err
		}
		v = st
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func exportPage(svc *service.Service, path string, index int, out string) error {
	_, data, err := svc.LoadPageBytes(path, index)
	if err != nil {
		return err
	}
	return os.WriteFile(out, data, 0644)
}

// exportName builds a file name for a page exported from the viewer.
func exportName(comicPath string, index int, mime string) string {
	base := strings.TrimSuffix(filepath.Base(comicPath), filepath.Ext(comicPath))
	ext := strings.TrimPrefix(mime, "image/")
	if ext == "jpeg" {
		ext = "jpg"
	}
	return fmt.Sprintf("%s-p%03d.%s", base, index+1, ext)
}

func fail(prog string, err error) {
	fmt.Fprintf(os.Stderr, "Error: %s\n", service.Message(err))
	if errors.Is(err, errUsage) {
		fmt.Fprintf(os.Stderr, "Try: %s -h\n", prog)
	}
	os.Exit(1)
}
