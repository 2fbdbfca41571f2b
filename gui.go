//go:build gui

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/app"
	"fyne.io/fyne/v2/canvas"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/theme"
	"fyne.io/fyne/v2/widget"
	"go.uber.org/zap"

	// Page decoders beyond the image/* defaults.
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"

	"github.com/metcalfc/panels/internal/catalog"
	"github.com/metcalfc/panels/internal/datauri"
	"github.com/metcalfc/panels/internal/reader"
	"github.com/metcalfc/panels/internal/service"
	"github.com/metcalfc/panels/internal/tts"
)

const (
	thumbWidth  = 48
	thumbHeight = 64
	// speakLines is how much of a text document one Speak request covers.
	speakLines = 40
)

type viewer struct {
	env   *env
	fresh bool
	win   fyne.Window

	root    string
	entries []catalog.Entry
	thumbs  map[string]fyne.Resource
	list    *widget.List
	cancel  context.CancelFunc

	content *fyne.Container

	// Results of background loads carry the sequence they were started
	// under and are dropped when a newer load has begun.
	scanSeq uint64
	docSeq  uint64
	pageSeq uint64

	comic     catalog.Entry
	comicHash string
	total     int
	page      int
	want      int
	pageImage *canvas.Image
	pageLabel *widget.Label

	doc       catalog.Entry
	docHash   string
	docLines  []string
	docScroll *container.Scroll

	// writes is drained in order by a single goroutine.
	writes chan func()

	ttsLabel *widget.Label
	ttsMu    sync.Mutex
	polling  bool
}

func newViewer(e *env, win fyne.Window, fresh bool) *viewer {
	v := &viewer{
		env:       e,
		fresh:     fresh,
		win:       win,
		thumbs:    make(map[string]fyne.Resource),
		page:      -1,
		want:      -1,
		pageImage: canvas.NewImageFromResource(nil),
		pageLabel: widget.NewLabel(""),
		ttsLabel:  widget.NewLabel("speech: stopped"),
		content:   container.NewStack(),
		writes:    make(chan func(), 64),
	}
	v.pageImage.FillMode = canvas.ImageFillContain
	go func() {
		for fn := range v.writes {
			fn()
		}
	}()

	v.list = widget.NewList(
		func() int { return len(v.entries) },
		func() fyne.CanvasObject {
			img := canvas.NewImageFromResource(nil)
			img.FillMode = canvas.ImageFillContain
			img.SetMinSize(fyne.NewSize(thumbWidth, thumbHeight))
			return container.NewBorder(nil, nil, img, nil,
				container.NewVBox(widget.NewLabel("Title"), widget.NewLabel("Kind")))
		},
		func(id widget.ListItemID, obj fyne.CanvasObject) {
			if id >= len(v.entries) {
				return
			}
			en := v.entries[id]
			row := obj.(*fyne.Container)
			labels := row.Objects[0].(*fyne.Container)
			img := row.Objects[1].(*canvas.Image)

			labels.Objects[0].(*widget.Label).SetText(en.DisplayName)
			labels.Objects[1].(*widget.Label).SetText(kindName(en.Kind))
			img.Resource = v.thumbs[en.Path]
			img.Refresh()
		},
	)
	v.list.OnSelected = func(id widget.ListItemID) {
		if id < len(v.entries) {
			v.open(v.entries[id])
		}
	}
	return v
}

func kindName(k catalog.Kind) string {
	switch k {
	case catalog.Zip:
		return "Comic"
	case catalog.Markdown:
		return "Markdown"
	case catalog.EPUB:
		return "EPUB"
	default:
		return "Text"
	}
}

func (v *viewer) showError(err error) {
	v.env.logger.Warn("operation failed", zap.Error(err), zap.String("kind", service.Kind(err).String()))
	dialog.ShowError(errors.New(service.Message(err)), v.win)
}

// background runs work off the UI thread and applies its result on it.
func background(work func() func()) {
	go func() {
		if apply := work(); apply != nil {
			fyne.Do(apply)
		}
	}()
}

// scan lists root, then loads cover thumbnails.
func (v *viewer) scan(root string) {
	v.scanSeq++
	seq := v.scanSeq
	e := v.env
	background(func() func() {
		entries, err := e.svc.ScanFolder(root)
		if err == nil {
			e.rememberFolder(root)
		}
		return func() { v.applyScan(seq, root, entries, err) }
	})
}

func (v *viewer) applyScan(seq uint64, root string, entries []catalog.Entry, err error) {
	if seq != v.scanSeq {
		return
	}
	if err != nil {
		v.showError(err)
		return
	}
	v.root = root
	v.entries = entries
	v.thumbs = make(map[string]fyne.Resource)
	v.list.UnselectAll()
	v.list.Refresh()
	v.win.SetTitle("panels - " + filepath.Base(root))

	if v.cancel != nil {
		v.cancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	v.cancel = cancel

	// Covers writes into its own copy; the list only reads v.entries.
	work := make([]catalog.Entry, len(entries))
	copy(work, entries)
	svc := v.env.svc
	background(func() func() {
		if err := svc.Covers(ctx, work); err != nil {
			return nil
		}
		thumbs := make(map[string]fyne.Resource)
		for _, en := range work {
			if res := resourceFromDataURI(en.Path, en.Cover); res != nil {
				thumbs[en.Path] = res
			}
		}
		return func() {
			if ctx.Err() != nil {
				return
			}
			v.thumbs = thumbs
			v.list.Refresh()
		}
	})
}

func resourceFromDataURI(name, uri string) fyne.Resource {
	if uri == "" {
		return nil
	}
	asset, err := datauri.Parse(uri)
	if err != nil {
		return nil
	}
	data, err := asset.Bytes()
	if err != nil {
		return nil
	}
	return fyne.NewStaticResource(filepath.Base(name), data)
}

func (v *viewer) open(en catalog.Entry) {
	v.savePosition()
	v.docSeq++
	v.pageSeq++
	seq := v.docSeq
	e, fresh := v.env, v.fresh
	if en.Kind.IsText() {
		background(func() func() {
			doc, err := loadText(e, en, fresh)
			return func() { v.applyText(seq, doc, err) }
		})
		return
	}
	background(func() func() {
		doc, err := loadComic(e, en, fresh)
		return func() { v.applyComic(seq, doc, err) }
	})
}

func (v *viewer) applyComic(seq uint64, doc comicDoc, err error) {
	if seq != v.docSeq {
		return
	}
	if err != nil {
		v.showError(err)
		return
	}
	v.comic, v.comicHash, v.total = doc.entry, doc.hash, doc.info.TotalPages
	v.doc, v.docHash, v.docScroll = catalog.Entry{}, "", nil

	prev := widget.NewButtonWithIcon("", theme.NavigateBackIcon(), func() { v.showPage(v.want - 1) })
	next := widget.NewButtonWithIcon("", theme.NavigateNextIcon(), func() { v.showPage(v.want + 1) })
	export := widget.NewButtonWithIcon("Export", theme.DocumentSaveIcon(), v.exportPage)
	bar := container.NewBorder(nil, nil, prev, container.NewHBox(export, next), v.pageLabel)

	v.content.Objects = []fyne.CanvasObject{container.NewBorder(bar, nil, nil, nil, v.pageImage)}
	v.content.Refresh()

	v.page, v.want = -1, -1
	v.pageImage.Resource = nil
	v.pageImage.Refresh()
	if v.total == 0 {
		v.page, v.want = 0, 0
		v.pageLabel.SetText(doc.entry.DisplayName + " has no pages")
		return
	}
	v.pageLabel.SetText(doc.entry.DisplayName)
	v.showPage(doc.start)
}

// showPage requests a page. Key repeats move from the last requested page,
// not the last one shown.
func (v *viewer) showPage(index int) {
	if v.comic.Path == "" || index < 0 || index >= v.total || index == v.want {
		return
	}
	v.want = index
	v.pageSeq++
	seq := v.pageSeq
	svc, path := v.env.svc, v.comic.Path
	background(func() func() {
		asset, data, err := svc.LoadPageBytes(path, index)
		return func() { v.applyPage(seq, path, index, asset, data, err) }
	})
}

func (v *viewer) applyPage(seq uint64, path string, index int, asset datauri.Asset, data []byte, err error) {
	if seq != v.pageSeq || path != v.comic.Path {
		return
	}
	if err != nil {
		v.want = v.page
		v.showError(err)
		return
	}
	v.page = index
	v.pageImage.Resource = fyne.NewStaticResource(fmt.Sprintf("page-%d", index), data)
	v.pageImage.Refresh()
	v.pageLabel.SetText(fmt.Sprintf("%s  ·  page %d/%d  ·  %s", v.comic.DisplayName, index+1, v.total, asset.Mime))
	v.savePosition()
}

func (v *viewer) exportPage() {
	if v.comic.Path == "" || v.page < 0 || v.page >= v.total {
		return
	}
	svc, path, page := v.env.svc, v.comic.Path, v.page
	background(func() func() {
		asset, data, err := svc.LoadPageBytes(path, page)
		return func() {
			if err != nil {
				v.showError(err)
				return
			}
			save := dialog.NewFileSave(func(w fyne.URIWriteCloser, err error) {
				if err != nil {
					v.showError(err)
					return
				}
				if w == nil {
					return
				}
				background(func() func() {
					_, err := w.Write(data)
					if cerr := w.Close(); err == nil {
						err = cerr
					}
					if err != nil {
						return func() { v.showError(err) }
					}
					return nil
				})
			}, v.win)
			save.SetFileName(exportName(path, page, asset.Mime))
			save.Show()
		}
	})
}

func (v *viewer) applyText(seq uint64, doc textDoc, err error) {
	if seq != v.docSeq {
		return
	}
	if err != nil {
		v.showError(err)
		return
	}
	en := doc.entry
	v.doc, v.docHash = en, doc.hash
	v.comic, v.comicHash, v.total = catalog.Entry{}, "", 0
	v.page, v.want = -1, -1
	v.docLines = strings.Split(doc.text, "\n")

	var body fyne.CanvasObject
	if en.Kind == catalog.Markdown {
		rt := widget.NewRichTextFromMarkdown(doc.text)
		rt.Wrapping = fyne.TextWrapWord
		body = rt
	} else {
		l := widget.NewLabel(doc.text)
		l.Wrapping = fyne.TextWrapWord
		body = l
	}
	v.docScroll = container.NewVScroll(body)

	info := widget.NewLabel(fmt.Sprintf("%s  ·  %d characters  ·  %d lines", en.DisplayName, doc.stats.CharCount, doc.stats.LineCount))
	speak := widget.NewButtonWithIcon("Speak", theme.MediaPlayIcon(), v.speak)
	actions := container.NewHBox(speak)
	if outline := v.outline(doc.headings); outline != nil {
		actions.Objects = append([]fyne.CanvasObject{outline}, actions.Objects...)
	}
	bar := container.NewBorder(nil, nil, nil, actions, info)

	v.content.Objects = []fyne.CanvasObject{container.NewBorder(bar, nil, nil, nil, v.docScroll)}
	v.content.Refresh()
	v.scrollToLine(doc.line)
}

// outline returns a section picker for documents with headings.
func (v *viewer) outline(headings []reader.Heading) fyne.CanvasObject {
	if len(headings) == 0 {
		return nil
	}
	titles := make([]string, len(headings))
	for i, h := range headings {
		titles[i] = strings.Repeat("  ", h.Level) + h.Title
	}
	sel := widget.NewSelect(titles, nil)
	sel.PlaceHolder = "Sections"
	sel.OnChanged = func(string) {
		if i := sel.SelectedIndex(); i >= 0 {
			v.scrollToLine(headings[i].Line)
		}
	}
	return sel
}

// currentLine estimates the source line at the top of the text view.
func (v *viewer) currentLine() int {
	if v.docScroll == nil || len(v.docLines) == 0 {
		return 0
	}
	h := v.docScroll.Content.MinSize().Height
	if h <= 0 {
		return 0
	}
	return int(v.docScroll.Offset.Y / h * float32(len(v.docLines)))
}

func (v *viewer) scrollToLine(line int) {
	if v.docScroll == nil || line <= 0 || len(v.docLines) == 0 {
		return
	}
	h := v.docScroll.Content.MinSize().Height
	v.docScroll.Offset = fyne.NewPos(0, h*float32(line)/float32(len(v.docLines)))
	v.docScroll.Refresh()
}

// savePosition queues the current document position for the state store.
func (v *viewer) savePosition() {
	store := v.env.store
	if store == nil {
		return
	}
	var write func() error
	switch {
	case v.comicHash != "" && v.page >= 0:
		hash, page := v.comicHash, v.page
		write = func() error { return store.SetPage(hash, page) }
	case v.docHash != "":
		hash, line := v.docHash, v.currentLine()
		write = func() error { return store.SetLine(hash, line) }
	default:
		return
	}
	logger := v.env.logger
	v.writes <- func() {
		if err := write(); err != nil {
			logger.Debug("save position", zap.Error(err))
		}
	}
}

// flush waits for queued position writes.
func (v *viewer) flush() {
	done := make(chan struct{})
	v.writes <- func() { close(done) }
	<-done
}

func (v *viewer) toggleSpeech() {
	speech := v.env.speech
	switch speech.State() {
	case tts.Starting, tts.Ready:
		v.ttsLabel.SetText("speech: " + tts.Stopped.String())
		go speech.Stop()
		return
	}
	v.ttsLabel.SetText("speech: " + tts.Starting.String())
	background(func() func() {
		if err := speech.Start(); err != nil {
			return func() {
				v.ttsLabel.SetText("speech: " + speech.State().String())
				v.showError(err)
			}
		}
		return v.pollSpeech
	})
}

// pollSpeech watches the server until it leaves the starting state.
func (v *viewer) pollSpeech() {
	v.ttsMu.Lock()
	if v.polling {
		v.ttsMu.Unlock()
		return
	}
	v.polling = true
	v.ttsMu.Unlock()

	go func() {
		defer func() {
			v.ttsMu.Lock()
			v.polling = false
			v.ttsMu.Unlock()
		}()
		ticker := time.NewTicker(ttsPollInterval)
		defer ticker.Stop()
		for range ticker.C {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			st := v.env.speech.Status(ctx)
			cancel()
			fyne.Do(func() { v.ttsLabel.SetText("speech: " + st.String()) })
			if st != tts.Starting {
				return
			}
		}
	}()
}

func (v *viewer) speak() {
	if v.env.speech.State() != tts.Ready {
		dialog.ShowInformation("Speech", "Start the speech server first.", v.win)
		return
	}
	start := min(v.currentLine(), len(v.docLines))
	end := min(start+speakLines, len(v.docLines))
	text := strings.TrimSpace(strings.Join(v.docLines[start:end], "\n"))
	if text == "" {
		return
	}

	progress := dialog.NewCustomWithoutButtons("Speech", widget.NewProgressBarInfinite(), v.win)
	progress.Show()
	speech, engine := v.env.speech, v.env.cfg.TTS.Engine
	background(func() func() {
		asset, err := speech.Speak(context.Background(), text, engine)
		return func() {
			progress.Hide()
			if err != nil {
				v.showError(err)
				return
			}
			v.saveAudio(asset)
		}
	})
}

func (v *viewer) saveAudio(asset datauri.Asset) {
	logger := v.env.logger
	save := dialog.NewFileSave(func(w fyne.URIWriteCloser, err error) {
		if err != nil {
			v.showError(err)
			return
		}
		if w == nil {
			return
		}
		path := w.URI().Path()
		w.Close()
		background(func() func() {
			written, err := tts.SaveAudio(asset.String(), path)
			if err != nil {
				return func() { v.showError(err) }
			}
			logger.Info("audio saved", zap.String("path", written))
			return nil
		})
	}, v.win)
	save.SetFileName(tts.SuggestedName(asset))
	save.Show()
}

func (v *viewer) chooseFolder() {
	dialog.ShowFolderOpen(func(uri fyne.ListableURI, err error) {
		if err != nil {
			v.showError(err)
			return
		}
		if uri == nil {
			return
		}
		v.scan(uri.Path())
	}, v.win)
}

func (v *viewer) layout() fyne.CanvasObject {
	toolbar := widget.NewToolbar(
		widget.NewToolbarAction(theme.FolderOpenIcon(), v.chooseFolder),
		widget.NewToolbarAction(theme.ViewRefreshIcon(), func() { v.scan(v.root) }),
		widget.NewToolbarSeparator(),
		widget.NewToolbarAction(theme.VolumeUpIcon(), v.toggleSpeech),
	)
	side := container.NewBorder(toolbar, v.ttsLabel, nil, nil, v.list)
	split := container.NewHSplit(side, v.content)
	split.Offset = 0.3
	return split
}

func (v *viewer) handleKey(key *fyne.KeyEvent) {
	switch key.Name {
	case fyne.KeyRight, fyne.KeySpace, fyne.KeyPageDown:
		v.showPage(v.want + 1)
	case fyne.KeyLeft, fyne.KeyPageUp:
		v.showPage(v.want - 1)
	case fyne.KeyHome:
		v.showPage(0)
	case fyne.KeyEnd:
		v.showPage(v.total - 1)
	case fyne.KeyF:
		v.win.SetFullScreen(!v.win.FullScreen())
	}
}

func main() {
	const prog = "panels-gui"
	f, err := parseFlags(prog, "Panels - Comic and Document Library", os.Args[1:], os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		os.Exit(2)
	}

	if f.showVersion {
		fmt.Printf("panels-gui %s (commit: %s, built: %s)\n", version, commit, date)
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

	a := app.NewWithID("io.github.metcalfc.panels")
	w := a.NewWindow("panels")
	v := newViewer(e, w, f.fresh)

	w.SetContent(v.layout())
	w.Canvas().SetOnTypedKey(v.handleKey)
	w.Resize(fyne.NewSize(1024, 720))

	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	w.SetOnClosed(func() {
		v.savePosition()
		if v.cancel != nil {
			v.cancel()
		}
		stop()
		e.speech.Stop()
	})

	root := e.libraryRoot(f.target)
	var direct *catalog.Entry
	if info, err := os.Stat(root); err == nil && !info.IsDir() {
		if kind, ok := catalog.Classify(root, true); ok {
			direct = &catalog.Entry{DisplayName: filepath.Base(root), Path: root, Kind: kind}
		}
		root = filepath.Dir(root)
	}
	v.scan(root)
	if direct != nil {
		v.open(*direct)
	}

	if e.cfg.Library.Watch {
		watcher, err := catalog.NewWatcher(root,
			catalog.WithLogger(e.logger.Named("watch")),
			catalog.WithEPUB(e.cfg.Library.EPUB),
			catalog.WithExcludeDirs(e.cfg.Library.ExcludeDirs...),
		)
		if err != nil {
			e.logger.Warn("library watch disabled", zap.Error(err))
		} else {
			go func() {
				err := watcher.Run(ctx, func() {
					fyne.Do(func() {
						if v.root == root {
							v.scan(root)
						}
					})
				})
				if err != nil {
					e.logger.Warn("library watch stopped", zap.Error(err))
				}
			}()
		}
	}

	w.ShowAndRun()
	v.flush()
}
