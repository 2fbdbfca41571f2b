package service

import (
	"archive/zip"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/metcalfc/panels/internal/catalog"
	"github.com/metcalfc/panels/internal/datauri"
)

type zipEntry struct {
	name string
	body string
}

func writeZip(t *testing.T, path string, entries ...zipEntry) string {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	zw := zip.NewWriter(f)
	for _, e := range entries {
		w, err := zw.Create(e.name)
		if err != nil {
			t.Fatalf("zip create %s: %v", e.name, err)
		}
		w.Write([]byte(e.body))
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zip close: %v", err)
	}
	f.Close()
	return path
}

func writeFile(t *testing.T, path, body string) string {
	t.Helper()
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

// library builds the comic.zip + notes.md fixture.
func library(t *testing.T) (root, comic, notes string) {
	t.Helper()
	root = t.TempDir()
	comic = writeZip(t, filepath.Join(root, "comic.zip"),
		zipEntry{"03.jpg", "page three"},
		zipEntry{"1.jpg", "page one"},
		zipEntry{"2.jpg", "page two"},
		zipEntry{"readme.txt", "not a page"},
	)
	notes = writeFile(t, filepath.Join(root, "notes.md"), "# Notes\n")
	return root, comic, notes
}

func TestLibraryScenario(t *testing.T) {
	root, comic, _ := library(t)
	s := New()

	entries, err := s.ScanFolder(root)
	if err != nil {
		t.Fatalf("ScanFolder: %v", err)
	}
	if len(entries) != 2 || entries[0].DisplayName != "comic.zip" || entries[1].DisplayName != "notes.md" {
		t.Fatalf("ScanFolder() = %+v", entries)
	}
	if entries[0].Kind != catalog.Zip || entries[1].Kind != catalog.Markdown {
		t.Errorf("kinds = %v, %v", entries[0].Kind, entries[1].Kind)
	}

	info, err := s.GetComicInfo(comic)
	if err != nil {
		t.Fatalf("GetComicInfo: %v", err)
	}
	if info.Filename != "comic.zip" || info.TotalPages != 3 {
		t.Errorf("GetComicInfo() = %+v, want {comic.zip 3}", info)
	}

	page, err := s.LoadPage(comic, 0)
	if err != nil {
		t.Fatalf("LoadPage: %v", err)
	}
	if want := datauri.New("image/jpeg", []byte("page one")).String(); page != want {
		t.Errorf("LoadPage(0) = %q, want %q", page, want)
	}
}

func TestLoadPageRoundTrip(t *testing.T) {
	dir := t.TempDir()
	comic := writeZip(t, filepath.Join(dir, "mixed.zip"),
		zipEntry{"p10.webp", "ten"},
		zipEntry{"p2.PNG", "two"},
		zipEntry{"p1.gif", "one"},
		zipEntry{"scans/", ""},
		zipEntry{"p3.bmp", "three"},
	)
	s := New()

	info, err := s.GetComicInfo(comic)
	if err != nil {
		t.Fatalf("GetComicInfo: %v", err)
	}
	wantMime := []string{"image/gif", "image/png", "image/bmp", "image/webp"}
	wantBody := []string{"one", "two", "three", "ten"}
	if info.TotalPages != len(wantMime) {
		t.Fatalf("TotalPages = %d, want %d", info.TotalPages, len(wantMime))
	}

	for i := 0; i < info.TotalPages; i++ {
		uri, err := s.LoadPage(comic, i)
		if err != nil {
			t.Fatalf("LoadPage(%d): %v", i, err)
		}
		asset, err := datauri.Parse(uri)
		if err != nil {
			t.Fatalf("Parse: %v", err)
		}
		if asset.Mime != wantMime[i] || asset.Payload == "" {
			t.Errorf("page %d = %s (%d bytes of payload), want %s", i, asset.Mime, len(asset.Payload), wantMime[i])
		}

		a, raw, err := s.LoadPageBytes(comic, i)
		if err != nil {
			t.Fatalf("LoadPageBytes(%d): %v", i, err)
		}
		if string(raw) != wantBody[i] || a.String() != uri {
			t.Errorf("LoadPageBytes(%d) = %q", i, raw)
		}
	}
}

func TestLoadPageOutOfRange(t *testing.T) {
	_, comic, _ := library(t)
	s := New()

	for _, idx := range []int{3, 42, -1} {
		_, err := s.LoadPage(comic, idx)
		if err == nil {
			t.Fatalf("LoadPage(%d) succeeded", idx)
		}
		if Kind(err) != OutOfRange {
			t.Errorf("Kind(%v) = %v, want OutOfRange", err, Kind(err))
		}
		msg := Message(err)
		if !strings.Contains(msg, "page index "+strconv.Itoa(idx)) || !strings.Contains(msg, "total: 3") {
			t.Errorf("message %q must name index %d and total 3", msg, idx)
		}
	}
}

func TestGetCover(t *testing.T) {
	dir := t.TempDir()
	s := New()

	comic := writeZip(t, filepath.Join(dir, "c.zip"), zipEntry{"b10.png", "late"}, zipEntry{"b9.png", "first"})
	cover, err := s.GetCover(comic)
	if err != nil {
		t.Fatalf("GetCover: %v", err)
	}
	if want := datauri.New("image/png", []byte("first")).String(); cover != want {
		t.Errorf("GetCover() = %q, want %q", cover, want)
	}

	empty := writeZip(t, filepath.Join(dir, "empty.zip"), zipEntry{"notes.txt", "no images"})
	cover, err = s.GetCover(empty)
	if err != nil || cover != "" {
		t.Errorf("GetCover(empty) = %q, %v; want empty, nil", cover, err)
	}
}

func TestTextCalls(t *testing.T) {
	dir := t.TempDir()
	s := New()

	path := writeFile(t, filepath.Join(dir, "hi.txt"), "hi\nworld")
	info, err := s.GetTextInfo(path)
	if err != nil {
		t.Fatalf("GetTextInfo: %v", err)
	}
	if info.LineCount != 2 || info.CharCount != 8 || info.Filename != "hi.txt" || info.FileType != "txt" {
		t.Errorf("GetTextInfo() = %+v", info)
	}

	text, err := s.LoadTextFile(path)
	if err != nil || text != "hi\nworld" {
		t.Errorf("LoadTextFile() = %q, %v", text, err)
	}
}

func TestErrorKinds(t *testing.T) {
	dir := t.TempDir()
	s := New()
	corrupt := writeFile(t, filepath.Join(dir, "bad.zip"), "definitely not a zip")
	latin1 := writeFile(t, filepath.Join(dir, "latin1.txt"), "caf\xe9")
	missing := filepath.Join(dir, "missing.zip")

	tests := []struct {
		name string
		call func() error
		want ErrorKind
	}{
		{"scan a file", func() error { _, err := s.ScanFolder(corrupt); return err }, NotADirectory},
		{"scan missing", func() error { _, err := s.ScanFolder(missing); return err }, NotADirectory},
		{"info missing", func() error { _, err := s.GetComicInfo(missing); return err }, NotFound},
		{"cover corrupt", func() error { _, err := s.GetCover(corrupt); return err }, CorruptArchive},
		{"page of directory", func() error { _, err := s.LoadPage(dir, 0); return err }, IoError},
		{"text invalid", func() error { _, err := s.GetTextInfo(latin1); return err }, InvalidText},
		{"text missing", func() error { _, err := s.LoadTextFile(filepath.Join(dir, "gone.txt")); return err }, NotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.call()
			if err == nil {
				t.Fatal("expected error")
			}
			if got := Kind(err); got != tt.want {
				t.Errorf("Kind(%v) = %v, want %v", err, got, tt.want)
			}
			if Message(err) == "" {
				t.Error("empty message")
			}
		})
	}

	if Kind(nil) != Unknown || Message(nil) != "" {
		t.Error("nil error should have no kind or message")
	}
	if Kind(errors.New("boom")) != Unknown {
		t.Error("plain error should be Unknown")
	}
}

func TestCovers(t *testing.T) {
	root, _, _ := library(t)
	writeFile(t, filepath.Join(root, "broken.zip"), "nope")
	writeZip(t, filepath.Join(root, "blank.zip"), zipEntry{"info.txt", "x"})
	s := New(WithCoverWorkers(2))

	entries, err := s.ScanFolder(root)
	if err != nil {
		t.Fatalf("ScanFolder: %v", err)
	}
	if err := s.Covers(context.Background(), entries); err != nil {
		t.Fatalf("Covers: %v", err)
	}

	covers := map[string]string{}
	for _, e := range entries {
		covers[e.DisplayName] = e.Cover
	}
	if want := datauri.New("image/jpeg", []byte("page one")).String(); covers["comic.zip"] != want {
		t.Errorf("comic cover = %q", covers["comic.zip"])
	}
	for _, name := range []string{"broken.zip", "blank.zip", "notes.md"} {
		if covers[name] != "" {
			t.Errorf("%s cover = %q, want empty", name, covers[name])
		}
	}
}

func TestCoversCancelled(t *testing.T) {
	root, _, _ := library(t)
	s := New()
	entries, err := s.ScanFolder(root)
	if err != nil {
		t.Fatalf("ScanFolder: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.Covers(ctx, entries); !errors.Is(err, context.Canceled) {
		t.Errorf("Covers() = %v, want context.Canceled", err)
	}
}

func TestConcurrentPageLoads(t *testing.T) {
	_, comic, _ := library(t)
	s := New()

	var wg sync.WaitGroup
	errs := make(chan error, 30)
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := s.LoadPage(comic, i%3); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("concurrent LoadPage: %v", err)
	}
}
