package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/lokutor-ai/lokutor-orchestrator/pkg/orchestrator"
	"github.com/tosone/minimp3"
	opus "gopkg.in/hraban/opus.v2"
)

// AudioFormat selects the wire encoding requested from the /audio/speech
// endpoint and the decode path applied to each streamed chunk.
type AudioFormat string

const (
	FormatPCM  AudioFormat = "pcm"
	FormatWAV  AudioFormat = "wav"
	FormatMP3  AudioFormat = "mp3"
	FormatOpus AudioFormat = "opus"
)

// StreamingHTTPTTS implements TTSProvider against an OpenAI-compatible
// chunked-transfer /audio/speech endpoint, grounded on the request/response
// shape of pkg/providers/stt's OpenAI-compatible clients (same
// Authorization header, same JSON-body/HTTP-client pattern) generalized to
// a streaming response body instead of a single decoded JSON object.
const streamingHTTPTTSProviderName = "openai-compatible-http-tts"

type StreamingHTTPTTS struct {
	apiKey string
	url    string
	model  string
	format AudioFormat

	sampleRate int
	channels   int

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewStreamingHTTPTTS creates a streaming TTS client. baseURL should point
// at the provider's /audio/speech endpoint (e.g.
// "https://api.openai.com/v1/audio/speech").
func NewStreamingHTTPTTS(apiKey, baseURL, model string, format AudioFormat, sampleRate, channels int) *StreamingHTTPTTS {
	if model == "" {
		model = "tts-1"
	}
	if format == "" {
		format = FormatPCM
	}
	return &StreamingHTTPTTS{
		apiKey:     apiKey,
		url:        baseURL,
		model:      model,
		format:     format,
		sampleRate: sampleRate,
		channels:   channels,
	}
}

func (t *StreamingHTTPTTS) Name() string {
	return "openai-compatible-http-tts"
}

func (t *StreamingHTTPTTS) Synthesize(ctx context.Context, text string, voice orchestrator.Voice, lang orchestrator.Language) ([]byte, error) {
	var audio []byte
	err := t.StreamSynthesize(ctx, text, voice, lang, func(chunk []byte) error {
		audio = append(audio, chunk...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return audio, nil
}

// StreamSynthesize posts the request and decodes each piece of the chunked
// response body as it arrives, calling onChunk with decoded PCM.
// partial_failure semantics: if the connection drops mid-stream after some
// chunks were already delivered, the error is returned but onChunk's
// already-emitted audio remains valid — the caller decides whether a
// partial utterance is worth keeping.
func (t *StreamingHTTPTTS) StreamSynthesize(ctx context.Context, text string, voice orchestrator.Voice, lang orchestrator.Language, onChunk func([]byte) error) error {
	ctx, cancel := context.WithCancel(ctx)
	t.mu.Lock()
	t.cancel = cancel
	t.mu.Unlock()
	defer func() {
		t.mu.Lock()
		t.cancel = nil
		t.mu.Unlock()
	}()

	payload := map[string]interface{}{
		"model":           t.model,
		"input":           text,
		"voice":           string(voice),
		"response_format": string(t.format),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", t.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+t.apiKey)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("tts request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var errResp interface{}
		json.NewDecoder(resp.Body).Decode(&errResp)
		err := fmt.Errorf("tts error (status %d): %v", resp.StatusCode, errResp)
		return orchestrator.ClassifyHTTPError(streamingHTTPTTSProviderName, resp.StatusCode, err)
	}

	switch t.format {
	case FormatPCM:
		return streamRaw(resp.Body, onChunk)
	case FormatWAV:
		return streamWAV(resp.Body, onChunk)
	case FormatMP3:
		return streamMP3(resp.Body, onChunk)
	case FormatOpus:
		return streamOpus(resp.Body, t.sampleRate, t.channels, onChunk)
	default:
		return fmt.Errorf("unsupported tts audio format: %s", t.format)
	}
}

// Abort cancels the in-flight HTTP request, if any, unblocking the reader
// loop in StreamSynthesize so it returns promptly on barge-in.
func (t *StreamingHTTPTTS) Abort() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancel != nil {
		t.cancel()
	}
	return nil
}

func streamRaw(r io.Reader, onChunk func([]byte) error) error {
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			if cerr := onChunk(append([]byte(nil), buf[:n]...)); cerr != nil {
				return cerr
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// streamWAV strips the 44-byte RIFF header (the inverse of
// pkg/audio.NewWavBuffer) and streams the remaining PCM payload.
func streamWAV(r io.Reader, onChunk func([]byte) error) error {
	header := make([]byte, 44)
	if _, err := io.ReadFull(r, header); err != nil {
		return fmt.Errorf("tts: short wav header: %w", err)
	}
	return streamRaw(r, onChunk)
}

func streamMP3(r io.Reader, onChunk func([]byte) error) error {
	dec, _, err := minimp3.NewDecoder(r)
	if err != nil {
		return fmt.Errorf("tts: mp3 decoder init: %w", err)
	}
	defer dec.Close()

	buf := make([]byte, 4096)
	for {
		n, err := dec.Read(buf)
		if n > 0 {
			if cerr := onChunk(append([]byte(nil), buf[:n]...)); cerr != nil {
				return cerr
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("tts: mp3 decode: %w", err)
		}
	}
}

func streamOpus(r io.Reader, sampleRate, channels int, onChunk func([]byte) error) error {
	if sampleRate == 0 {
		sampleRate = 24000
	}
	if channels == 0 {
		channels = 1
	}
	dec, err := opus.NewDecoder(sampleRate, channels)
	if err != nil {
		return fmt.Errorf("tts: opus decoder init: %w", err)
	}

	raw, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("tts: opus read: %w", err)
	}

	pcm := make([]int16, sampleRate*channels) // 1s scratch buffer, reused per packet
	n, err := dec.Decode(raw, pcm)
	if err != nil {
		return fmt.Errorf("tts: opus decode: %w", err)
	}

	out := make([]byte, n*channels*2)
	for i := 0; i < n*channels; i++ {
		out[i*2] = byte(pcm[i])
		out[i*2+1] = byte(pcm[i] >> 8)
	}
	return onChunk(out)
}
