package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/metcalfc/panels/internal/datauri"
)

const (
	healthTimeout = time.Second
	speakTimeout  = 300 * time.Second
)

type httpDoer interface {
	Do(*http.Request) (*http.Response, error)
}

func defaultClient() *http.Client {
	return &http.Client{}
}

// Status reports the server state. While starting it polls the health
// endpoint and becomes Ready once it answers with success.
func (s *Supervisor) Status(ctx context.Context) State {
	s.mu.Lock()
	cmd, state := s.cmd, s.state
	s.mu.Unlock()

	if cmd == nil || state != Starting {
		return state
	}

	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/health", nil)
	if err != nil {
		return state
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return Starting
	}
	resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Starting
	}
	return s.promote(cmd)
}

type speakRequest struct {
	Text   string `json:"text"`
	Engine string `json:"engine"`
}

type speakResponse struct {
	Audio     string `json:"audio"`
	Format    string `json:"format"`
	Error     string `json:"error"`
	Traceback string `json:"traceback"`
}

// Speak synthesizes text and returns the audio as an inline asset. engine
// may be empty to use the default.
func (s *Supervisor) Speak(ctx context.Context, text, engine string) (datauri.Asset, error) {
	if s.State() != Ready {
		return datauri.Asset{}, ErrNotReady
	}
	if engine == "" {
		engine = s.engine
	}

	body, err := json.Marshal(speakRequest{Text: text, Engine: engine})
	if err != nil {
		return datauri.Asset{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, speakTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/tts", bytes.NewReader(body))
	if err != nil {
		return datauri.Asset{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := s.client.Do(req)
	if err != nil {
		return datauri.Asset{}, fmt.Errorf("tts request failed: %w", err)
	}
	defer resp.Body.Close()

	var out speakResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return datauri.Asset{}, fmt.Errorf("tts response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := out.Error
		if msg == "" {
			msg = "Unknown error"
		}
		if out.Traceback != "" {
			return datauri.Asset{}, fmt.Errorf("tts server error (%s): %s\n\n%s", resp.Status, msg, out.Traceback)
		}
		return datauri.Asset{}, fmt.Errorf("tts server error (%s): %s", resp.Status, msg)
	}
	if out.Audio == "" {
		return datauri.Asset{}, fmt.Errorf("no audio field in tts response")
	}

	s.logger.Debug("speech synthesized",
		zap.String("engine", engine),
		zap.Int("chars", len(text)),
		zap.Duration("took", time.Since(start)),
	)
	return datauri.Asset{Mime: audioMime(out.Format), Payload: out.Audio}, nil
}

func audioMime(format string) string {
	if format == "mp3" {
		return "audio/mpeg"
	}
	return "audio/wav"
}

// AudioExt returns the file extension, without dot, for an audio asset.
func AudioExt(a datauri.Asset) string {
	if a.Mime == "audio/mpeg" {
		return "mp3"
	}
	return "wav"
}

// SuggestedName is the default file name offered when saving audio.
func SuggestedName(a datauri.Asset) string {
	return "tts_audio." + AudioExt(a)
}

// SaveAudio decodes the audio data URI and writes it to path, adding the
// matching extension when path has none. A bare base64 string is taken to be
// WAV audio. It returns the written path.
func SaveAudio(dataURI, path string) (string, error) {
	asset, err := datauri.Parse(dataURI)
	if errors.Is(err, datauri.ErrMalformed) {
		// Bare base64 is a WAV payload.
		asset, err = datauri.Asset{Mime: "audio/wav", Payload: dataURI}, nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to decode audio: %w", err)
	}
	data, err := asset.Bytes()
	if err != nil {
		return "", fmt.Errorf("failed to decode audio: %w", err)
	}
	if filepath.Ext(path) == "" {
		path += "." + AudioExt(asset)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write file: %w", err)
	}
	return path, nil
}
