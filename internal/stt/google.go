package stt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"google.golang.org/api/option"
)

// GoogleRecognizer opens Google Cloud Speech streaming sessions.
type GoogleRecognizer struct {
	client *speech.Client
	cfg    Config
}

// NewGoogleRecognizer creates a Speech client. Credentials come from the
// environment (GOOGLE_APPLICATION_CREDENTIALS) unless opts say otherwise.
func NewGoogleRecognizer(ctx context.Context, cfg Config, opts ...option.ClientOption) (*GoogleRecognizer, error) {
	client, err := speech.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create speech client: %w", err)
	}
	return &GoogleRecognizer{client: client, cfg: cfg}, nil
}

// Close closes the underlying client connection.
func (r *GoogleRecognizer) Close() error {
	return r.client.Close()
}

// Open starts a streaming recognition request and sends its config message.
func (r *GoogleRecognizer) Open(ctx context.Context) (Stream, error) {
	streamCtx, cancel := context.WithCancel(ctx)
	stream, err := r.client.StreamingRecognize(streamCtx)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to open recognize stream: %w", err)
	}

	if err := stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: streamingConfig(r.cfg),
		},
	}); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to send streaming config: %w", err)
	}

	return newGoogleStream(stream, cancel), nil
}

func streamingConfig(cfg Config) *speechpb.StreamingRecognitionConfig {
	return &speechpb.StreamingRecognitionConfig{
		Config: &speechpb.RecognitionConfig{
			Encoding:          speechpb.RecognitionConfig_LINEAR16,
			SampleRateHertz:   int32(cfg.SampleRate),
			AudioChannelCount: int32(cfg.Channels),
			LanguageCode:      cfg.LanguageCode,
			Model:             cfg.Model,
			UseEnhanced:       cfg.UseEnhanced,
			ProfanityFilter:   cfg.ProfanityFilter,
			DiarizationConfig: &speechpb.SpeakerDiarizationConfig{
				EnableSpeakerDiarization: false,
			},
			Metadata: &speechpb.RecognitionMetadata{
				InteractionType:     speechpb.RecognitionMetadata_VOICE_COMMAND,
				MicrophoneDistance:  speechpb.RecognitionMetadata_NEARFIELD,
				OriginalMediaType:   speechpb.RecognitionMetadata_AUDIO,
				RecordingDeviceType: speechpb.RecognitionMetadata_PHONE_LINE,
			},
		},
		InterimResults: cfg.InterimResults,
	}
}

// googleStream implements Stream on top of a bidirectional gRPC stream.
type googleStream struct {
	stream    speechpb.Speech_StreamingRecognizeClient
	cancel    context.CancelFunc
	results   chan TranscriptResult
	errors    chan error
	done      chan struct{}
	closeOnce sync.Once
	mu        sync.Mutex
	wg        sync.WaitGroup // Wait for readLoop to finish
}

func newGoogleStream(stream speechpb.Speech_StreamingRecognizeClient, cancel context.CancelFunc) *googleStream {
	s := &googleStream{
		stream:  stream,
		cancel:  cancel,
		results: make(chan TranscriptResult, 100),
		errors:  make(chan error, 10),
		done:    make(chan struct{}),
	}
	s.wg.Add(1)
	go s.readLoop()
	return s
}

// StreamAudio sends audio content to Google.
func (s *googleStream) StreamAudio(ctx context.Context, audio []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	select {
	case <-s.done:
		return ErrClosed
	default:
	}

	return s.stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{
			AudioContent: audio,
		},
	})
}

func (s *googleStream) Results() <-chan TranscriptResult {
	return s.results
}

func (s *googleStream) Errors() <-chan error {
	return s.errors
}

// Close half-closes the request side and cancels the stream context, which
// tears down the remote session.
func (s *googleStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)

		s.mu.Lock()
		err = s.stream.CloseSend()
		s.mu.Unlock()

		s.cancel()

		s.wg.Wait()
		close(s.results)
		close(s.errors)
	})
	return err
}

func (s *googleStream) readLoop() {
	defer s.wg.Done()

	for {
		resp, err := s.stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			s.emitError(fmt.Errorf("recv: %w", err))
			return
		}

		if st := resp.GetError(); st != nil {
			s.emitError(fmt.Errorf("recognition error %d: %s", st.GetCode(), st.GetMessage()))
			return
		}

		for _, result := range transcriptsFromResponse(resp) {
			select {
			case <-s.done:
				return
			case s.results <- result:
			}
		}
	}
}

func (s *googleStream) emitError(err error) {
	select {
	case <-s.done:
	case s.errors <- err:
	default:
	}
}

// transcriptsFromResponse converts a response into results, keeping the top
// alternative of each result and dropping results without any alternative.
func transcriptsFromResponse(resp *speechpb.StreamingRecognizeResponse) []TranscriptResult {
	var out []TranscriptResult
	for _, r := range resp.GetResults() {
		alts := r.GetAlternatives()
		if len(alts) == 0 {
			continue
		}
		out = append(out, TranscriptResult{
			Text:       alts[0].GetTranscript(),
			Confidence: float64(alts[0].GetConfidence()),
			IsFinal:    r.GetIsFinal(),
		})
	}
	return out
}
