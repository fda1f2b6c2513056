package connector

import (
	"context"
	"fmt"
	"strings"

	"cloud.google.com/go/vertexai/genai"

	ocrerrors "idcard-ocr/internal/errors"
	"idcard-ocr/internal/ocr"
)

const vertexSystemPrompt = "You are an OCR engine for Vietnamese citizen identity cards. You transcribe printed text exactly as it appears and never invent values."

const vertexUserPrompt = `Transcribe all text in the image, preserving line breaks and Vietnamese diacritics.
Return a single JSON object with these keys:
- "text": the full transcription.
- "id_number": the 9 to 12 digit card number if visible, otherwise "".
- "id_name": the holder's full name if visible, otherwise "".
- "confidence": your confidence in the transcription from 0 to 100.
Do not include any text outside the JSON object.`

// Vertex reads images with a Gemini model on Vertex AI.
type Vertex struct {
	def      Definition
	client   *genai.Client
	generate func(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)
	count    func(ctx context.Context, parts ...genai.Part) (*genai.CountTokensResponse, error)
}

// NewVertex creates the Gemini client and model for def.
func NewVertex(ctx context.Context, def Definition) (*Vertex, error) {
	if def.Project == "" || def.Region == "" {
		return nil, fmt.Errorf("NewVertex: project and region cannot be empty")
	}

	client, err := genai.NewClient(ctx, def.Project, def.Region)
	if err != nil {
		return nil, fmt.Errorf("genai.NewClient: %w", err)
	}

	name := def.Model
	if name == "" {
		name = "gemini-1.5-flash"
	}
	model := client.GenerativeModel(name)
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(vertexSystemPrompt)},
	}
	model.GenerationConfig = genai.GenerationConfig{
		ResponseMIMEType: "application/json",
		Temperature:      genai.Ptr[float32](0.0),
	}

	return &Vertex{
		def:      def,
		client:   client,
		generate: model.GenerateContent,
		count:    model.CountTokens,
	}, nil
}

func (v *Vertex) Name() string       { return v.def.Name }
func (v *Vertex) Provider() Provider { return ProviderGoogle }

// Run sends the image with the transcription prompt and maps the JSON
// answer like a custom provider response.
func (v *Vertex) Run(ctx context.Context, png []byte, cfg ocr.Config) (ocr.Attempt, error) {
	timeout := v.def.Timeout
	if timeout <= 0 {
		timeout = DefaultRemoteTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	prompt := vertexUserPrompt
	if cfg.Whitelist != "" {
		prompt += "\nThe image contains only a number; \"text\" must contain only digits."
	}

	resp, err := v.generate(callCtx, genai.ImageData("png", png), genai.Text(prompt))
	if err != nil {
		if ctx.Err() != nil {
			return ocr.Attempt{}, ctx.Err()
		}
		return ocr.Attempt{}, ocrerrors.NewRemoteProviderError(v.def.Name, 0, err)
	}

	body := responseText(resp)
	if body == "" {
		return ocr.Attempt{}, ocrerrors.NewRemoteProviderError(v.def.Name, 0, fmt.Errorf("empty model response"))
	}
	att, err := decodeResponse([]byte(body), cfg)
	if err != nil {
		return ocr.Attempt{}, ocrerrors.NewRemoteProviderError(v.def.Name, 0, err)
	}
	att.Connector = v.def.Name
	return att, nil
}

// Check counts the tokens of a short prompt, which needs a reachable
// endpoint and valid credentials.
func (v *Vertex) Check(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, CheckTimeout)
	defer cancel()
	if _, err := v.count(ctx, genai.Text("ping")); err != nil {
		return ocrerrors.NewRemoteProviderError(v.def.Name, 0, err)
	}
	return nil
}

// Close releases the client.
func (v *Vertex) Close() error {
	if v.client != nil {
		return v.client.Close()
	}
	return nil
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 {
		return ""
	}
	cand := resp.Candidates[0]
	if cand.Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, part := range cand.Content.Parts {
		if t, ok := part.(genai.Text); ok {
			sb.WriteString(string(t))
		}
	}
	// Some models still wrap JSON in a fence.
	out := strings.TrimSpace(sb.String())
	out = strings.TrimPrefix(out, "```json")
	out = strings.TrimPrefix(out, "```")
	out = strings.TrimSuffix(out, "```")
	return strings.TrimSpace(out)
}
