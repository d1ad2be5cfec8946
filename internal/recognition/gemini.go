package recognition

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"google.golang.org/genai"
)

const (
	DefaultGeminiModel = "gemini-2.5-flash"
	maxImageBytes      = 10 << 20
)

const labelPrompt = `List what is visible in this parking-lot camera snapshot.
Answer with JSON only: {"labels": ["..."]}.
Use title-case object names such as "Car", "Vehicle", "Vehicle registration plate", "Person", "Building".`

const textPrompt = `Read every licence plate in this parking-lot camera snapshot.
Answer with JSON only: {"full_text": "...", "words": ["..."]}.
full_text holds each plate on its own line. words lists the individual tokens.
Use an empty string and an empty list when nothing is readable.`

type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiProvider sends the downloaded snapshot inline to a Gemini model.
type GeminiProvider struct {
	models contentGenerator
	model  string
	http   *http.Client
}

func NewGeminiProvider(ctx context.Context, apiKey, model string) (*GeminiProvider, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	return newGeminiProvider(client.Models, model, nil), nil
}

func newGeminiProvider(models contentGenerator, model string, hc *http.Client) *GeminiProvider {
	if model == "" {
		model = DefaultGeminiModel
	}
	if hc == nil {
		hc = &http.Client{Timeout: 15 * time.Second}
	}
	return &GeminiProvider{models: models, model: model, http: hc}
}

type labelAnswer struct {
	Labels []string `json:"labels"`
}

type textAnswer struct {
	FullText string   `json:"full_text"`
	Words    []string `json:"words"`
}

func (g *GeminiProvider) DetectLabels(ctx context.Context, imageRef string) ([]string, error) {
	raw, err := g.ask(ctx, "labels", imageRef, labelPrompt)
	if err != nil {
		return nil, err
	}
	ans, err := parseModelJSON[labelAnswer](raw)
	if err != nil {
		return nil, &RecognitionError{Op: "labels", Code: "INVALID_RESPONSE", Err: err}
	}
	return ans.Labels, nil
}

// DetectText maps the model answer onto the Vision annotation layout: the full text
// block first (always newline-terminated), then the individual words.
func (g *GeminiProvider) DetectText(ctx context.Context, imageRef string) ([]string, error) {
	raw, err := g.ask(ctx, "text", imageRef, textPrompt)
	if err != nil {
		return nil, err
	}
	ans, err := parseModelJSON[textAnswer](raw)
	if err != nil {
		return nil, &RecognitionError{Op: "text", Code: "INVALID_RESPONSE", Err: err}
	}

	full := strings.TrimSpace(ans.FullText)
	if full == "" {
		return []string{}, nil
	}
	out := make([]string, 0, len(ans.Words)+1)
	out = append(out, full+"\n")
	out = append(out, ans.Words...)
	return out, nil
}

func (g *GeminiProvider) ask(ctx context.Context, op, imageRef, prompt string) (string, error) {
	img, mime, err := g.download(ctx, imageRef)
	if err != nil {
		return "", &RecognitionError{Op: op, Code: "IMAGE_FETCH", Err: err}
	}

	contents := []*genai.Content{{
		Role: genai.RoleUser,
		Parts: []*genai.Part{
			{InlineData: &genai.Blob{MIMEType: mime, Data: img}},
			{Text: prompt},
		},
	}}
	config := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		Temperature:      genai.Ptr[float32](0),
	}

	start := time.Now()
	resp, err := g.models.GenerateContent(ctx, g.model, contents, config)
	if err != nil {
		return "", &RecognitionError{Op: op, Code: "GEMINI", Err: err}
	}
	text := resp.Text()
	log.Debug().
		Str("op", op).
		Str("model", g.model).
		Dur("duration", time.Since(start)).
		Int("response_length", len(text)).
		Msg("gemini recognition call finished")
	return text, nil
}

func (g *GeminiProvider) download(ctx context.Context, ref string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := g.http.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("image fetch status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes))
	if err != nil {
		return nil, "", err
	}
	mime := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(mime, "image/") {
		mime = http.DetectContentType(data)
	}
	return data, mime, nil
}
