//go:build !gui

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"go.uber.org/zap"

	"github.com/metcalfc/panels/internal/catalog"
	"github.com/metcalfc/panels/internal/datauri"
	"github.com/metcalfc/panels/internal/reader"
	"github.com/metcalfc/panels/internal/service"
	"github.com/metcalfc/panels/internal/tts"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FFAA00"))

	headingStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#888888")).
			Italic(true)

	statusStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#888888")).
			Padding(0, 1)

	controlsStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666")).
			Italic(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF0000")).
			Bold(true)

	pageStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#444444")).
			Padding(1, 4)
)

type screen int

const (
	screenLibrary screen = iota
	screenComic
	screenText
)

type entryItem struct{ catalog.Entry }

func (i entryItem) Title() string       { return i.DisplayName }
func (i entryItem) Description() string { return kindLabel(i.Kind) }
func (i entryItem) FilterValue() string { return i.DisplayName }

func kindLabel(k catalog.Kind) string {
	switch k {
	case catalog.Zip:
		return "comic archive"
	case catalog.Markdown:
		return "markdown"
	case catalog.EPUB:
		return "epub book"
	default:
		return "plain text"
	}
}

type (
	scannedMsg struct {
		entries []catalog.Entry
		err     error
	}
	libraryChangedMsg struct{}
	comicOpenedMsg    struct {
		comicDoc
		err error
	}
	pageLoadedMsg struct {
		path  string
		index int
		asset datauri.Asset
		size  int
		err   error
	}
	textOpenedMsg struct {
		textDoc
		err error
	}
	statusMsg    string
	errMsg       struct{ err error }
	ttsStatusMsg tts.State
)

type model struct {
	env   *env
	root  string
	fresh bool

	screen  screen
	library list.Model
	spinner spinner.Model
	loading bool
	status  string
	err     error
	width   int
	height  int

	comic     catalog.Entry
	comicHash string
	info      service.ComicInfo
	page      int
	asset     datauri.Asset
	pageSize  int

	doc     catalog.Entry
	docHash string
	pager   *reader.Pager
	stats   reader.Stats

	ttsState tts.State
}

func newModel(e *env, root string, fresh bool) model {
	l := list.New(nil, list.NewDefaultDelegate(), 0, 0)
	l.Title = "panels · " + filepath.Base(root)
	l.KeyMap.Quit.SetEnabled(false)
	l.SetStatusBarItemName("document", "documents")

	return model{
		env:     e,
		root:    root,
		fresh:   fresh,
		library: l,
		spinner: spinner.New(spinner.WithSpinner(spinner.Dot)),
		loading: true,
		width:   80,
		height:  24,
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, scanCmd(m.env.svc, m.root))
}

func scanCmd(svc *service.Service, root string) tea.Cmd {
	return func() tea.Msg {
		entries, err := svc.ScanFolder(root)
		return scannedMsg{entries: entries, err: err}
	}
}

func openComicCmd(e *env, entry catalog.Entry, fresh bool) tea.Cmd {
	return func() tea.Msg {
		doc, err := loadComic(e, entry, fresh)
		return comicOpenedMsg{comicDoc: doc, err: err}
	}
}

func loadPageCmd(svc *service.Service, path string, index int) tea.Cmd {
	return func() tea.Msg {
		asset, data, err := svc.LoadPageBytes(path, index)
		return pageLoadedMsg{path: path, index: index, asset: asset, size: len(data), err: err}
	}
}

func openTextCmd(e *env, entry catalog.Entry, fresh bool) tea.Cmd {
	return func() tea.Msg {
		doc, err := loadText(e, entry, fresh)
		return textOpenedMsg{textDoc: doc, err: err}
	}
}

func exportCmd(svc *service.Service, path string, index int, dest string) tea.Cmd {
	return func() tea.Msg {
		if err := exportPage(svc, path, index, dest); err != nil {
			return errMsg{err}
		}
		return statusMsg("saved " + dest)
	}
}

func ttsPollCmd(speech *tts.Supervisor) tea.Cmd {
	return tea.Tick(ttsPollInterval, func(time.Time) tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return ttsStatusMsg(speech.Status(ctx))
	})
}

func speakCmd(speech *tts.Supervisor, text, engine, dir string) tea.Cmd {
	return func() tea.Msg {
		asset, err := speech.Speak(context.Background(), text, engine)
		if err != nil {
			return errMsg{err}
		}
		path, err := tts.SaveAudio(asset.String(), filepath.Join(dir, tts.SuggestedName(asset)))
		if err != nil {
			return errMsg{err}
		}
		return statusMsg("audio saved to " + path)
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.library.SetSize(msg.Width, msg.Height-1)
		if m.pager != nil {
			m.pager.SetSize(msg.Width, m.textRows())
		}
		return m, nil

	case spinner.TickMsg:
		if !m.loading {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case scannedMsg:
		if msg.err != nil {
			m.env.logger.Warn("scan failed", zap.String("root", m.root), zap.Error(msg.err))
			if m.screen == screenLibrary {
				m.loading = false
				m.err = msg.err
			}
			return m, nil
		}
		if m.screen == screenLibrary {
			m.loading = false
			m.err = nil
		}
		items := make([]list.Item, len(msg.entries))
		for i, e := range msg.entries {
			items[i] = entryItem{e}
		}
		return m, m.library.SetItems(items)

	case libraryChangedMsg:
		return m, scanCmd(m.env.svc, m.root)

	case comicOpenedMsg:
		if msg.err != nil {
			m.loading = false
			m.err = msg.err
			return m, nil
		}
		m.screen = screenComic
		m.comic = msg.entry
		m.comicHash = msg.hash
		m.info = msg.info
		m.page = msg.start
		m.asset = datauri.Asset{}
		m.pageSize = 0
		if msg.info.TotalPages == 0 {
			m.loading = false
			return m, nil
		}
		return m, loadPageCmd(m.env.svc, m.comic.Path, m.page)

	case pageLoadedMsg:
		if m.screen != screenComic || msg.path != m.comic.Path || msg.index != m.page {
			return m, nil
		}
		m.loading = false
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.err = nil
		m.asset = msg.asset
		m.pageSize = msg.size
		return m, nil

	case textOpenedMsg:
		m.loading = false
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.err = nil
		m.screen = screenText
		m.doc = msg.entry
		m.docHash = msg.hash
		m.stats = msg.stats
		m.pager = reader.NewPager(msg.text, msg.headings)
		m.pager.SetSize(m.width, m.textRows())
		m.pager.JumpToLine(msg.line)
		return m, nil

	case statusMsg:
		m.loading = false
		m.err = nil
		m.status = string(msg)
		return m, nil

	case errMsg:
		m.loading = false
		m.err = msg.err
		return m, nil

	case ttsStatusMsg:
		m.ttsState = tts.State(msg)
		if m.ttsState == tts.Starting {
			return m, ttsPollCmd(m.env.speech)
		}
		return m, nil

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			m.savePosition()
			return m, tea.Quit
		}
		switch m.screen {
		case screenComic:
			return m.updateComic(msg)
		case screenText:
			return m.updateText(msg)
		default:
			return m.updateLibrary(msg)
		}
	}

	if m.screen == screenLibrary {
		var cmd tea.Cmd
		m.library, cmd = m.library.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m model) updateLibrary(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.library.FilterState() == list.Filtering {
		var cmd tea.Cmd
		m.library, cmd = m.library.Update(msg)
		return m, cmd
	}

	switch msg.String() {
	case "q":
		return m, tea.Quit
	case "enter":
		item, ok := m.library.SelectedItem().(entryItem)
		if !ok {
			return m, nil
		}
		return m.open(item.Entry)
	case "r":
		m.loading = true
		return m, tea.Batch(m.spinner.Tick, scanCmd(m.env.svc, m.root))
	case "T":
		return m.toggleTTS()
	}

	var cmd tea.Cmd
	m.library, cmd = m.library.Update(msg)
	return m, cmd
}

func (m model) open(entry catalog.Entry) (tea.Model, tea.Cmd) {
	m.loading = true
	m.status = ""
	m.err = nil
	if entry.Kind.IsText() {
		return m, tea.Batch(m.spinner.Tick, openTextCmd(m.env, entry, m.fresh))
	}
	return m, tea.Batch(m.spinner.Tick, openComicCmd(m.env, entry, m.fresh))
}

func (m model) updateComic(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q":
		m.savePosition()
		return m, tea.Quit
	case "esc", "backspace":
		m.savePosition()
		m.screen = screenLibrary
		m.loading = false
		m.err = nil
		return m, nil
	case "right", "l", " ", "n", "pgdown":
		return m.gotoPage(m.page + 1)
	case "left", "h", "p", "pgup":
		return m.gotoPage(m.page - 1)
	case "home", "g":
		return m.gotoPage(0)
	case "end", "G":
		return m.gotoPage(m.info.TotalPages - 1)
	case "e":
		if m.asset.Mime == "" {
			return m, nil
		}
		dest := exportName(m.comic.Path, m.page, m.asset.Mime)
		return m, exportCmd(m.env.svc, m.comic.Path, m.page, dest)
	}
	return m, nil
}

func (m model) gotoPage(index int) (tea.Model, tea.Cmd) {
	if index < 0 || index >= m.info.TotalPages || index == m.page {
		return m, nil
	}
	m.page = index
	m.loading = true
	m.status = ""
	m.savePosition()
	return m, tea.Batch(m.spinner.Tick, loadPageCmd(m.env.svc, m.comic.Path, index))
}

func (m model) updateText(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q":
		m.savePosition()
		return m, tea.Quit
	case "esc", "backspace":
		m.savePosition()
		m.screen = screenLibrary
		m.pager = nil
		m.err = nil
		return m, nil
	case "down", "j":
		m.pager.ScrollDown(1)
	case "up", "k":
		m.pager.ScrollUp(1)
	case " ", "pgdown", "f":
		m.pager.PageDown()
	case "pgup", "b":
		m.pager.PageUp()
	case "home", "g":
		m.pager.Home()
	case "end", "G":
		m.pager.End()
	case "]":
		m.pager.NextHeading()
	case "[":
		m.pager.PrevHeading()
	case "T":
		return m.toggleTTS()
	case "s":
		return m.speak()
	}
	return m, nil
}

func (m model) toggleTTS() (tea.Model, tea.Cmd) {
	switch m.env.speech.State() {
	case tts.Starting, tts.Ready:
		m.env.speech.Stop()
		m.ttsState = tts.Stopped
		m.status = "speech server stopped"
		return m, nil
	}
	if err := m.env.speech.Start(); err != nil {
		m.err = err
		return m, nil
	}
	m.ttsState = tts.Starting
	m.status = "starting speech server"
	return m, ttsPollCmd(m.env.speech)
}

func (m model) speak() (tea.Model, tea.Cmd) {
	if m.ttsState != tts.Ready {
		m.status = "speech server not ready (T to start)"
		return m, nil
	}
	text := strings.TrimSpace(strings.Join(m.pager.View(), "\n"))
	if text == "" {
		return m, nil
	}
	dir, _ := os.Getwd()
	m.loading = true
	m.status = "synthesizing"
	return m, tea.Batch(m.spinner.Tick, speakCmd(m.env.speech, text, m.env.cfg.TTS.Engine, dir))
}

func (m model) savePosition() {
	store := m.env.store
	if store == nil {
		return
	}
	var err error
	switch {
	case m.screen == screenComic && m.comicHash != "":
		err = store.SetPage(m.comicHash, m.page)
	case m.screen == screenText && m.docHash != "" && m.pager != nil:
		err = store.SetLine(m.docHash, m.pager.CurrentLine())
	}
	if err != nil {
		m.env.logger.Debug("save position", zap.Error(err))
	}
}

// textRows is the number of pager rows: the screen minus title and status.
func (m model) textRows() int {
	if rows := m.height - 3; rows > 0 {
		return rows
	}
	return 1
}

func (m model) View() string {
	switch m.screen {
	case screenComic:
		return m.comicView()
	case screenText:
		return m.textView()
	}
	return m.library.View() + "\n" + m.footer("enter: open  /: filter  r: rescan  T: speech server  q: quit")
}

func (m model) footer(controls string) string {
	switch {
	case m.err != nil:
		return errorStyle.Render("Error: " + service.Message(m.err))
	case m.loading:
		return m.spinner.View() + " " + statusStyle.Render(m.status)
	case m.status != "":
		return statusStyle.Render(m.status)
	}
	return controlsStyle.Render(controls)
}

func (m model) comicView() string {
	var sb strings.Builder
	sb.WriteString(titleStyle.Render(m.comic.DisplayName))
	sb.WriteString("\n\n")

	var body string
	switch {
	case m.info.TotalPages == 0:
		body = "This archive has no pages."
	case m.asset.Mime == "":
		body = fmt.Sprintf("Page %d/%d\n\nloading…", m.page+1, m.info.TotalPages)
	default:
		body = fmt.Sprintf("Page %d/%d\n\n%s · %s", m.page+1, m.info.TotalPages, m.asset.Mime, formatSize(m.pageSize))
	}
	box := pageStyle.Render(body)
	sb.WriteString(lipgloss.Place(m.width, m.height-4, lipgloss.Center, lipgloss.Center, box))
	sb.WriteString("\n")
	sb.WriteString(m.footer("←/→: page  home/end: first/last  e: export page  esc: library  q: quit"))
	return sb.String()
}

func (m model) textView() string {
	var sb strings.Builder
	title := titleStyle.Render(m.doc.DisplayName)
	if h := m.pager.CurrentHeading(); h != "" {
		title += "  " + headingStyle.Render(h)
	}
	sb.WriteString(title)
	sb.WriteString("\n")

	rows := m.pager.View()
	sb.WriteString(strings.Join(rows, "\n"))
	for i := len(rows); i < m.textRows(); i++ {
		sb.WriteString("\n")
	}
	sb.WriteString("\n")

	current, total := m.pager.Progress()
	speech := ""
	if m.ttsState != tts.Stopped {
		speech = " | speech: " + m.ttsState.String()
	}
	sb.WriteString(statusStyle.Render(fmt.Sprintf("Line %d/%d | %d chars%s", current, total, m.stats.CharCount, speech)))
	sb.WriteString("\n")
	sb.WriteString(m.footer("↑/↓: scroll  space/b: page  [/]: section  s: speak  T: speech server  esc: library"))
	return sb.String()
}

func formatSize(n int) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := unit, 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGT"[exp])
}

// watchLibrary rescans whenever the library folder changes.
func watchLibrary(ctx context.Context, e *env, root string, p *tea.Program) {
	w, err := catalog.NewWatcher(root,
		catalog.WithLogger(e.logger.Named("watch")),
		catalog.WithEPUB(e.cfg.Library.EPUB),
		catalog.WithExcludeDirs(e.cfg.Library.ExcludeDirs...),
	)
	if err != nil {
		e.logger.Warn("library watch disabled", zap.Error(err))
		return
	}
	go func() {
		if err := w.Run(ctx, func() { p.Send(libraryChangedMsg{}) }); err != nil {
			e.logger.Warn("library watch stopped", zap.Error(err))
		}
	}()
}

func main() {
	const prog = "panels"
	f, err := parseFlags(prog, "Panels - Terminal Comic and Document Library", os.Args[1:], os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		os.Exit(2)
	}

	if f.showVersion {
		fmt.Printf("panels %s (commit: %s, built: %s)\n", version, commit, date)
		os.Exit(0)
	}

	e, err := newEnv(f)
	if err != nil {
		fail(prog, err)
	}
	defer e.close()

	handled, err := runBatch(os.Stdout, e, f)
	if err != nil {
		e.close()
		fail(prog, err)
	}
	if handled {
		return
	}

	// A document argument opens it directly inside its folder.
	var direct *catalog.Entry
	root := e.libraryRoot(f.target)
	if info, err := os.Stat(root); err == nil && !info.IsDir() {
		kind, ok := catalog.Classify(root, true)
		if !ok {
			e.close()
			fail(prog, fmt.Errorf("%w: unsupported document %s", errUsage, root))
		}
		direct = &catalog.Entry{DisplayName: filepath.Base(root), Path: root, Kind: kind}
		root = filepath.Dir(root)
	}
	e.rememberFolder(root)

	m := newModel(e, root, f.fresh)
	var start tea.Model = m
	if direct != nil {
		opened, cmd := m.open(*direct)
		start = startModel{opened, cmd}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p := tea.NewProgram(start, tea.WithAltScreen(), tea.WithContext(ctx))
	if e.cfg.Library.Watch {
		watchLibrary(ctx, e, root, p)
	}

	if _, err := p.Run(); err != nil && ctx.Err() == nil {
		e.close()
		fail(prog, err)
	}
}

// startModel runs an extra command alongside the model's own Init.
type startModel struct {
	tea.Model
	cmd tea.Cmd
}

func (s startModel) Init() tea.Cmd {
	return tea.Batch(s.Model.Init(), s.cmd)
}
