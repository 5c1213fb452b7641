package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"regexp"
	"strings"
	"time"
)

const (
	geminiDefaultBaseURL = "https://generativelanguage.googleapis.com"
	geminiDefaultModel   = "gemini-1.5-flash"

	diarizationPrompt = "Listen to this audio specifically for speaker diarization. " +
		"Transcribe the conversation, strictly identifying speakers as 'Speaker 1', 'Speaker 2', etc. " +
		"Format the output as: '[Speaker X]: Text'."
)

// GeminiClient transcribes through the Gemini file API and generateContent.
// Implements the Provider interface. The handle is the uploaded file name.
type GeminiClient struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
}

type geminiFile struct {
	Name     string `json:"name"`
	URI      string `json:"uri"`
	MimeType string `json:"mimeType"`
	State    string `json:"state"`
	Error    *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

type geminiPart struct {
	Text     string          `json:"text,omitempty"`
	FileData *geminiFileData `json:"fileData,omitempty"`
}

type geminiFileData struct {
	MimeType string `json:"mimeType"`
	FileURI  string `json:"fileUri"`
}

type geminiGenerateRequest struct {
	Contents []struct {
		Parts []geminiPart `json:"parts"`
	} `json:"contents"`
}

type geminiGenerateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []geminiPart `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

// NewGeminiClient creates a Gemini client. An empty baseURL uses the public API.
func NewGeminiClient(baseURL, apiKey, model string, timeout time.Duration) *GeminiClient {
	if baseURL == "" {
		baseURL = geminiDefaultBaseURL
	}
	if model == "" {
		model = geminiDefaultModel
	}
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &GeminiClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		client:  &http.Client{Timeout: timeout},
	}
}

func (g *GeminiClient) Kind() Kind { return KindMultimodal }

// Submit uploads audio.Path to the file API.
func (g *GeminiClient) Submit(ctx context.Context, audio Audio) (Handle, error) {
	data, err := os.ReadFile(audio.Path)
	if err != nil {
		return Handle{}, fmt.Errorf("open audio file: %w", err)
	}
	mimeType := audio.MimeType
	if mimeType == "" {
		mimeType = "audio/mp4"
	}

	endpoint := g.baseURL + "/upload/v1beta/files?uploadType=media"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return Handle{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", mimeType)
	req.Header.Set("X-Goog-Upload-Protocol", "raw")

	body, err := g.do(req, endpoint)
	if err != nil {
		return Handle{}, err
	}
	var out struct {
		File geminiFile `json:"file"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return Handle{}, fmt.Errorf("decode upload response: %w", err)
	}
	if out.File.Name == "" {
		return Handle{}, fmt.Errorf("gemini upload returned no file name")
	}
	return Handle{Kind: KindMultimodal, OperationName: out.File.Name}, nil
}

// Poll checks the uploaded file state. Once ACTIVE it runs the diarization
// prompt and returns the parsed transcript.
func (g *GeminiClient) Poll(ctx context.Context, h Handle) (*PollResult, error) {
	if h.Kind != KindMultimodal {
		return nil, ErrHandleMismatch
	}
	if h.OperationName == "" {
		return nil, errEmptyHandle
	}

	endpoint := g.baseURL + "/v1beta/" + h.OperationName
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	body, err := g.do(req, endpoint)
	if err != nil {
		return nil, err
	}
	var file geminiFile
	if err := json.Unmarshal(body, &file); err != nil {
		return nil, fmt.Errorf("decode file: %w", err)
	}

	meta := map[string]any{"state": file.State}
	switch file.State {
	case "ACTIVE":
	case "FAILED":
		reason := ""
		if file.Error != nil {
			reason = file.Error.Message
		}
		return nil, jobFailed("gemini", reason)
	default:
		return &PollResult{Done: false, Metadata: meta}, nil
	}

	text, raw, err := g.generate(ctx, file)
	if err != nil {
		return nil, err
	}
	res := ParseSpeakerLines(text)
	res.Raw = raw
	return &PollResult{Done: true, Result: res, Metadata: meta}, nil
}

func (g *GeminiClient) generate(ctx context.Context, file geminiFile) (string, json.RawMessage, error) {
	var greq geminiGenerateRequest
	greq.Contents = make([]struct {
		Parts []geminiPart `json:"parts"`
	}, 1)
	greq.Contents[0].Parts = []geminiPart{
		{FileData: &geminiFileData{MimeType: file.MimeType, FileURI: file.URI}},
		{Text: diarizationPrompt},
	}
	payload, err := json.Marshal(greq)
	if err != nil {
		return "", nil, err
	}

	endpoint := g.baseURL + "/v1beta/models/" + g.model + ":generateContent"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	body, err := g.do(req, endpoint)
	if err != nil {
		return "", nil, err
	}
	var gresp geminiGenerateResponse
	if err := json.Unmarshal(body, &gresp); err != nil {
		return "", nil, fmt.Errorf("decode generate response: %w", err)
	}
	var sb strings.Builder
	if len(gresp.Candidates) > 0 {
		for _, p := range gresp.Candidates[0].Content.Parts {
			sb.WriteString(p.Text)
		}
	}
	return sb.String(), json.RawMessage(body), nil
}

func (g *GeminiClient) do(req *http.Request, endpoint string) ([]byte, error) {
	req.Header.Set("x-goog-api-key", g.apiKey)
	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gemini request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode/100 != 2 {
		return nil, &APIError{Provider: "gemini", Endpoint: endpoint, Status: resp.StatusCode, Body: string(body)}
	}
	return body, nil
}

var speakerLine = regexp.MustCompile(`^\[?\s*Speaker\s+(\d+)\s*\]?\s*(?:\([^)]*\))?\s*:\s*(.*)$`)

// ParseSpeakerLines reads "[Speaker N]: text" lines into segments. Lines
// without a speaker prefix continue the previous segment. Text without any
// speaker prefix yields a text-only result.
func ParseSpeakerLines(text string) *Result {
	res := &Result{Text: strings.TrimSpace(text), Segmented: true}
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if m := speakerLine.FindStringSubmatch(line); m != nil {
			res.Units = append(res.Units, Unit{Speaker: m[1], Text: strings.TrimSpace(m[2])})
			continue
		}
		if n := len(res.Units); n > 0 {
			res.Units[n-1].Text = strings.TrimSpace(res.Units[n-1].Text + " " + line)
		}
	}
	return res
}
