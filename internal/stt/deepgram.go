package stt

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"sync"

	"github.com/gorilla/websocket"
)

const deepgramWSURL = "wss://api.deepgram.com/v1/listen"

// DeepgramRecognizer opens Deepgram live transcription sessions. It is the
// alternative to Google for deployments without Speech API access.
type DeepgramRecognizer struct {
	apiKey string
	cfg    Config
	url    string
	logger *log.Logger
}

// NewDeepgramRecognizer creates a recognizer using cfg for every stream.
func NewDeepgramRecognizer(apiKey string, cfg Config, logger *log.Logger) *DeepgramRecognizer {
	return &DeepgramRecognizer{apiKey: apiKey, cfg: cfg, url: deepgramWSURL, logger: logger}
}

// Open dials Deepgram and starts reading results.
func (r *DeepgramRecognizer) Open(ctx context.Context) (Stream, error) {
	headers := http.Header{}
	headers.Set("Authorization", "Token "+r.apiKey)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, deepgramURL(r.url, r.cfg), headers)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Deepgram: %w", err)
	}

	c := &deepgramStream{
		conn:    conn,
		results: make(chan TranscriptResult, 100),
		errors:  make(chan error, 10),
		done:    make(chan struct{}),
	}
	c.wg.Add(1)
	go c.readLoop()

	r.logger.Printf("stt: deepgram stream opened (%s, %d Hz)", r.cfg.LanguageCode, r.cfg.SampleRate)
	return c, nil
}

// deepgramURL builds the listen URL. Deepgram's linear16 matches the 16-bit
// PCM the caller sends; interim results are requested only when configured.
func deepgramURL(base string, cfg Config) string {
	q := url.Values{}
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(cfg.SampleRate))
	q.Set("channels", strconv.Itoa(cfg.Channels))
	q.Set("language", cfg.LanguageCode)
	q.Set("profanity_filter", strconv.FormatBool(cfg.ProfanityFilter))
	q.Set("interim_results", strconv.FormatBool(cfg.InterimResults))
	q.Set("diarize", "false")
	q.Set("punctuate", "true")
	return base + "?" + q.Encode()
}

// deepgramStream implements Stream using Deepgram's streaming API.
type deepgramStream struct {
	conn      *websocket.Conn
	results   chan TranscriptResult
	errors    chan error
	done      chan struct{}
	closeOnce sync.Once
	mu        sync.Mutex
	wg        sync.WaitGroup // Wait for readLoop to finish
}

// deepgramResponse represents a Deepgram WebSocket response.
type deepgramResponse struct {
	Type    string `json:"type"`
	Channel struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
	IsFinal bool `json:"is_final"`
}

// StreamAudio sends audio data to Deepgram.
func (c *deepgramStream) StreamAudio(ctx context.Context, audio []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	return c.conn.WriteMessage(websocket.BinaryMessage, audio)
}

func (c *deepgramStream) Results() <-chan TranscriptResult {
	return c.results
}

func (c *deepgramStream) Errors() <-chan error {
	return c.errors
}

// Close closes the Deepgram connection.
func (c *deepgramStream) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)

		c.mu.Lock()
		_ = c.conn.WriteMessage(websocket.TextMessage, []byte(`{"type": "CloseStream"}`))
		c.mu.Unlock()

		err = c.conn.Close()

		// Wait for readLoop to finish before closing channels
		c.wg.Wait()
		close(c.results)
		close(c.errors)
	})
	return err
}

func (c *deepgramStream) readLoop() {
	defer c.wg.Done()

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
			case c.errors <- fmt.Errorf("read error: %w", err):
			default:
			}
			return
		}

		result, ok := parseDeepgramResult(msg)
		if !ok {
			continue
		}

		select {
		case <-c.done:
			return
		case c.results <- result:
		}
	}
}

// parseDeepgramResult extracts a result from a "Results" message. Other
// message types, malformed JSON and empty transcripts are skipped.
func parseDeepgramResult(msg []byte) (TranscriptResult, bool) {
	var resp deepgramResponse
	if err := json.Unmarshal(msg, &resp); err != nil {
		return TranscriptResult{}, false
	}
	if resp.Type != "Results" || len(resp.Channel.Alternatives) == 0 {
		return TranscriptResult{}, false
	}
	alt := resp.Channel.Alternatives[0]
	if alt.Transcript == "" {
		return TranscriptResult{}, false
	}
	return TranscriptResult{
		Text:       alt.Transcript,
		Confidence: alt.Confidence,
		IsFinal:    resp.IsFinal,
	}, true
}
