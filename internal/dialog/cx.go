package dialog

import (
	"context"
	"fmt"

	cx "cloud.google.com/go/dialogflow/cx/apiv3"
	"cloud.google.com/go/dialogflow/cx/apiv3/cxpb"
	"google.golang.org/api/option"
)

// CXClient implements Client using Dialogflow CX sessions.
type CXClient struct {
	sessions *cx.SessionsClient
}

// NewCXClient creates a sessions client on endpoint (see Endpoint).
func NewCXClient(ctx context.Context, endpoint string, opts ...option.ClientOption) (*CXClient, error) {
	opts = append([]option.ClientOption{option.WithEndpoint(endpoint)}, opts...)
	sessions, err := cx.NewSessionsClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create dialogflow sessions client: %w", err)
	}
	return &CXClient{sessions: sessions}, nil
}

// Close closes the client connection.
func (c *CXClient) Close() error {
	return c.sessions.Close()
}

// DetectIntent sends a text query and requests LINEAR16 reply audio.
func (c *CXClient) DetectIntent(ctx context.Context, req Request) (*Result, error) {
	resp, err := c.sessions.DetectIntent(ctx, detectIntentRequest(req))
	if err != nil {
		return nil, fmt.Errorf("detect intent: %w", err)
	}
	return resultFromResponse(resp)
}

func detectIntentRequest(req Request) *cxpb.DetectIntentRequest {
	return &cxpb.DetectIntentRequest{
		Session: req.SessionPath,
		QueryInput: &cxpb.QueryInput{
			Input: &cxpb.QueryInput_Text{
				Text: &cxpb.TextInput{Text: req.Text},
			},
			LanguageCode: req.LanguageCode,
		},
		OutputAudioConfig: &cxpb.OutputAudioConfig{
			AudioEncoding:   cxpb.OutputAudioEncoding_OUTPUT_AUDIO_ENCODING_LINEAR_16,
			SampleRateHertz: int32(req.SampleRateHertz),
		},
	}
}

// resultFromResponse converts the response eagerly. Only text messages
// contribute to the reply; of each text message the first segment is used.
func resultFromResponse(resp *cxpb.DetectIntentResponse) (*Result, error) {
	qr := resp.GetQueryResult()
	if qr == nil {
		return nil, ErrEmptyResponse
	}

	result := &Result{
		QueryText:     qr.GetText(),
		MatchedIntent: qr.GetMatch().GetIntent().GetDisplayName(),
		CurrentPage:   qr.GetCurrentPage().GetDisplayName(),
		OutputAudio:   resp.GetOutputAudio(),
	}
	for _, msg := range qr.GetResponseMessages() {
		if texts := msg.GetText().GetText(); len(texts) > 0 {
			result.ResponseTexts = append(result.ResponseTexts, texts[0])
		}
	}
	return result, nil
}
