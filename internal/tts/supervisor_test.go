package tts

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/metcalfc/panels/internal/datauri"
)

// TestHelperProcess stands in for the speech server process.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_TTS_HELPER") != "1" {
		return
	}
	if len(os.Args) > 0 && os.Args[len(os.Args)-1] == "crash" {
		os.Exit(3)
	}
	time.Sleep(30 * time.Second)
	os.Exit(0)
}

func helperCommand(mode string) []string {
	return []string{os.Args[0], "-test.run=TestHelperProcess", "--", mode}
}

type fakeServer struct {
	healthy  atomic.Bool
	lastBody atomic.Value
	fail     atomic.Bool
}

func (f *fakeServer) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if !f.healthy.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"status":"ok"}`))
	})
	mux.HandleFunc("/tts", func(w http.ResponseWriter, r *http.Request) {
		var req speakRequest
		json.NewDecoder(r.Body).Decode(&req)
		f.lastBody.Store(req)
		w.Header().Set("Content-Type", "application/json")
		if f.fail.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			json.NewEncoder(w).Encode(map[string]string{"error": "model not loaded", "traceback": "Traceback: line 1"})
			return
		}
		format := "wav"
		if req.Engine == "edge" {
			format = "mp3"
		}
		json.NewEncoder(w).Encode(map[string]string{
			"audio":  base64.StdEncoding.EncodeToString([]byte("RIFF" + req.Text)),
			"format": format,
		})
	})
	return mux
}

func waitForState(t *testing.T, s *Supervisor, want State) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if s.Status(context.Background()) == want {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("state = %v, want %v", s.State(), want)
}

func TestSupervisorLifecycle(t *testing.T) {
	t.Setenv("GO_WANT_TTS_HELPER", "1")
	fake := &fakeServer{}
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	s := NewSupervisor(WithBaseURL(srv.URL), WithCommand(helperCommand("serve")...))
	defer s.Stop()

	if got := s.Status(context.Background()); got != Stopped {
		t.Fatalf("initial state = %v, want stopped", got)
	}
	if _, err := s.Speak(context.Background(), "hello", ""); !errors.Is(err, ErrNotReady) {
		t.Errorf("Speak before start = %v, want ErrNotReady", err)
	}

	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := s.Start(); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Start = %v, want ErrAlreadyRunning", err)
	}
	if got := s.Status(context.Background()); got != Starting {
		t.Errorf("state with unhealthy server = %v, want starting", got)
	}

	fake.healthy.Store(true)
	waitForState(t, s, Ready)

	asset, err := s.Speak(context.Background(), "hello", "")
	if err != nil {
		t.Fatalf("Speak: %v", err)
	}
	if asset.Mime != "audio/wav" {
		t.Errorf("mime = %q, want audio/wav", asset.Mime)
	}
	if data, _ := asset.Bytes(); string(data) != "RIFFhello" {
		t.Errorf("audio = %q", data)
	}
	if req := fake.lastBody.Load().(speakRequest); req.Engine != "chattts" || req.Text != "hello" {
		t.Errorf("request = %+v", req)
	}

	asset, err = s.Speak(context.Background(), "hi", "edge")
	if err != nil || asset.Mime != "audio/mpeg" {
		t.Errorf("Speak(edge) = %+v, %v", asset, err)
	}

	fake.fail.Store(true)
	_, err = s.Speak(context.Background(), "hello", "")
	if err == nil || !strings.Contains(err.Error(), "model not loaded") || !strings.Contains(err.Error(), "Traceback: line 1") {
		t.Errorf("Speak error = %v", err)
	}

	s.Stop()
	if got := s.Status(context.Background()); got != Stopped {
		t.Errorf("state after Stop = %v, want stopped", got)
	}
	// The reaped process must not flip a stopped supervisor to failed.
	time.Sleep(100 * time.Millisecond)
	if got := s.State(); got != Stopped {
		t.Errorf("state after reap = %v, want stopped", got)
	}
}

func TestSupervisorCrash(t *testing.T) {
	t.Setenv("GO_WANT_TTS_HELPER", "1")
	s := NewSupervisor(WithBaseURL("http://127.0.0.1:1"), WithCommand(helperCommand("crash")...))
	defer s.Stop()

	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitForState(t, s, Failed)
	if got := s.State().String(); got != "error" {
		t.Errorf("String() = %q, want error", got)
	}

	// A failed server can be started again.
	if err := s.Start(); err != nil {
		t.Errorf("restart after crash: %v", err)
	}
}

// blockingSpawn holds a launch until release is closed.
func blockingSpawn(release <-chan struct{}, launched chan<- *exec.Cmd) func([]string) (*exec.Cmd, error) {
	return func(argv []string) (*exec.Cmd, error) {
		<-release
		cmd, err := startProcess(argv)
		launched <- cmd
		return cmd, err
	}
}

func waitForLaunch(t *testing.T, s *Supervisor) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		s.mu.Lock()
		spawning := s.spawning
		s.mu.Unlock()
		if spawning {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("launch never began")
}

func TestSupervisorSlowLaunch(t *testing.T) {
	t.Setenv("GO_WANT_TTS_HELPER", "1")
	s := NewSupervisor(WithBaseURL("http://127.0.0.1:1"), WithCommand(helperCommand("serve")...))
	defer s.Stop()

	release := make(chan struct{})
	launched := make(chan *exec.Cmd, 1)
	s.spawn = blockingSpawn(release, launched)

	started := make(chan error, 1)
	go func() { started <- s.Start() }()
	waitForLaunch(t, s)

	// Nothing waits on the launch in progress.
	done := make(chan struct{})
	go func() {
		defer close(done)
		if got := s.State(); got != Starting {
			t.Errorf("state during launch = %v, want starting", got)
		}
		if got := s.Status(context.Background()); got != Starting {
			t.Errorf("Status during launch = %v, want starting", got)
		}
		if err := s.Start(); !errors.Is(err, ErrAlreadyRunning) {
			t.Errorf("Start during launch = %v, want ErrAlreadyRunning", err)
		}
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("supervisor blocked behind a process launch")
	}

	close(release)
	if err := <-started; err != nil {
		t.Fatalf("Start: %v", err)
	}
	<-launched
	s.mu.Lock()
	cmd, spawning := s.cmd, s.spawning
	s.mu.Unlock()
	if cmd == nil || spawning {
		t.Fatalf("launch not committed: cmd %v, spawning %v", cmd, spawning)
	}
	if got := s.State(); got != Starting {
		t.Errorf("state after launch = %v, want starting", got)
	}
}

func TestSupervisorStopDuringLaunch(t *testing.T) {
	t.Setenv("GO_WANT_TTS_HELPER", "1")
	s := NewSupervisor(WithBaseURL("http://127.0.0.1:1"), WithCommand(helperCommand("serve")...))
	defer s.Stop()

	release := make(chan struct{})
	launched := make(chan *exec.Cmd, 1)
	s.spawn = blockingSpawn(release, launched)

	started := make(chan error, 1)
	go func() { started <- s.Start() }()
	waitForLaunch(t, s)

	stopped := make(chan struct{})
	go func() {
		s.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop blocked behind a process launch")
	}

	close(release)
	if err := <-started; err != nil {
		t.Fatalf("Start: %v", err)
	}
	if cmd := <-launched; cmd.ProcessState == nil {
		t.Error("process launched after Stop was not reaped")
	}
	if got := s.State(); got != Stopped {
		t.Errorf("state = %v, want stopped", got)
	}

	// The supervisor is free to start again.
	s.spawn = startProcess
	if err := s.Start(); err != nil {
		t.Errorf("Start after stopped launch: %v", err)
	}
}

func TestSupervisorLaunchFailure(t *testing.T) {
	s := NewSupervisor(WithCommand("panels-missing-tts-server"))
	if err := s.Start(); err == nil {
		t.Fatal("Start with a missing executable succeeded")
	}
	if got := s.State(); got != Failed {
		t.Errorf("state = %v, want failed", got)
	}
}

func TestResolveCommand(t *testing.T) {
	dir := t.TempDir()
	s := NewSupervisor()
	s.exeDir = filepath.Join(dir, "app")
	s.workDir = filepath.Join(dir, "work")

	if _, err := s.resolveCommand(); !errors.Is(err, ErrServerNotFound) {
		t.Fatalf("resolveCommand() error = %v, want ErrServerNotFound", err)
	}
	if err := s.Start(); !errors.Is(err, ErrServerNotFound) {
		t.Errorf("Start() = %v, want ErrServerNotFound", err)
	}

	script := filepath.Join(dir, "work", "python", "tts_server.py")
	os.MkdirAll(filepath.Dir(script), 0755)
	os.WriteFile(script, []byte("print('hi')"), 0644)
	argv, err := s.resolveCommand()
	if err != nil || len(argv) != 2 || argv[0] != "python" || argv[1] != script {
		t.Errorf("resolveCommand() = %v, %v", argv, err)
	}

	name := "tts_server"
	if filepath.Separator == '\\' {
		name += ".exe"
	}
	bundled := filepath.Join(dir, "app", "bin", name)
	os.MkdirAll(filepath.Dir(bundled), 0755)
	os.WriteFile(bundled, []byte{}, 0755)
	argv, err = s.resolveCommand()
	if err != nil || len(argv) != 1 || argv[0] != bundled {
		t.Errorf("resolveCommand() = %v, %v; want bundled", argv, err)
	}

	s.command = []string{"custom", "--flag"}
	if argv, _ := s.resolveCommand(); argv[0] != "custom" {
		t.Errorf("configured command ignored: %v", argv)
	}
}

func TestSaveAudio(t *testing.T) {
	dir := t.TempDir()

	wav := datauri.New("audio/wav", []byte("RIFFdata")).String()
	path, err := SaveAudio(wav, filepath.Join(dir, "speech"))
	if err != nil {
		t.Fatalf("SaveAudio: %v", err)
	}
	if path != filepath.Join(dir, "speech.wav") {
		t.Errorf("path = %q", path)
	}
	if data, _ := os.ReadFile(path); string(data) != "RIFFdata" {
		t.Errorf("file = %q", data)
	}

	mp3 := datauri.New("audio/mpeg", []byte("ID3")).String()
	path, err = SaveAudio(mp3, filepath.Join(dir, "out.bin"))
	if err != nil || path != filepath.Join(dir, "out.bin") {
		t.Errorf("SaveAudio(explicit ext) = %q, %v", path, err)
	}
	if got := SuggestedName(datauri.Asset{Mime: "audio/mpeg"}); got != "tts_audio.mp3" {
		t.Errorf("SuggestedName = %q", got)
	}

	raw := base64.StdEncoding.EncodeToString([]byte("RIFFraw"))
	path, err = SaveAudio(raw, filepath.Join(dir, "bare"))
	if err != nil {
		t.Fatalf("SaveAudio(bare base64): %v", err)
	}
	if path != filepath.Join(dir, "bare.wav") {
		t.Errorf("bare base64 path = %q", path)
	}
	if data, _ := os.ReadFile(path); string(data) != "RIFFraw" {
		t.Errorf("bare base64 file = %q", data)
	}

	if _, err := SaveAudio("not a uri", filepath.Join(dir, "x")); err == nil {
		t.Error("expected error for input that is neither a data uri nor base64")
	}
}
