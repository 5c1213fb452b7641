package transcribe

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	CompletionSync  = "sync"
	CompletionAsync = "async"
)

// ClovaOptions configures a ClovaClient.
type ClovaOptions struct {
	InvokeURL   string
	SecretKey   string
	DomainCode  string
	CallbackURL string
	// Completion is the default completion mode, "sync" or "async".
	Completion string
	Settings   RecognitionSettings
	Timeout    time.Duration
	HTTPClient *http.Client
}

// ClovaClient calls the NAVER Clova Speech long-sentence recognizer.
// Implements the Provider interface.
type ClovaClient struct {
	invokeURL   string
	secretKey   string
	domainCode  string
	callbackURL string
	completion  string
	settings    RecognitionSettings
	client      *http.Client
}

// clovaParams is the JSON sent in the "params" form field.
type clovaParams struct {
	Language      string            `json:"language"`
	Completion    string            `json:"completion"`
	Callback      *string           `json:"callback"`
	Userdata      map[string]string `json:"userdata,omitempty"`
	Forbidden     *string           `json:"forbidden"`
	Boostings     *string           `json:"boostings"`
	WordAlignment bool              `json:"wordAlignment"`
	FullText      bool              `json:"fullText"`
	Diarization   clovaDiarization  `json:"diarization"`
}

type clovaDiarization struct {
	Enable          bool `json:"enable"`
	SpeakerCountMin int  `json:"speakerCountMin"`
	SpeakerCountMax int  `json:"speakerCountMax"`
}

// clovaResponse covers sync results, async acknowledgements, poll answers
// and webhook payloads, which share one shape.
type clovaResponse struct {
	Result   string         `json:"result"`
	Message  string         `json:"message"`
	Token    string         `json:"token"`
	Progress int            `json:"progress"`
	Text     string         `json:"text"`
	Segments []clovaSegment `json:"segments"`
}

type clovaSegment struct {
	Start   int64  `json:"start"` // ms
	End     int64  `json:"end"`   // ms
	Text    string `json:"text"`
	Speaker struct {
		Label string `json:"label"`
		Name  string `json:"name"`
	} `json:"speaker"`
}

// NewClovaClient creates a Clova Speech client.
func NewClovaClient(opts ClovaOptions) *ClovaClient {
	client := opts.HTTPClient
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Minute
		}
		client = &http.Client{Timeout: timeout}
	}
	completion := opts.Completion
	if completion == "" {
		completion = CompletionSync
	}
	return &ClovaClient{
		invokeURL:   strings.TrimRight(opts.InvokeURL, "/"),
		secretKey:   opts.SecretKey,
		domainCode:  opts.DomainCode,
		callbackURL: opts.CallbackURL,
		completion:  completion,
		settings:    opts.Settings,
		client:      client,
	}
}

func (c *ClovaClient) Kind() Kind { return KindThirdParty }

// Submit uploads audio.Path using the client's default completion mode.
func (c *ClovaClient) Submit(ctx context.Context, audio Audio) (Handle, error) {
	return c.SubmitWith(ctx, audio, c.completion)
}

// SubmitWith uploads audio.Path with an explicit completion mode. Sync
// completion returns a handle carrying the result inline; async returns a
// token that is resolved by the webhook or by Poll.
func (c *ClovaClient) SubmitWith(ctx context.Context, audio Audio, completion string) (Handle, error) {
	if completion != CompletionSync && completion != CompletionAsync {
		return Handle{}, fmt.Errorf("clova: unknown completion mode %q", completion)
	}
	params, err := json.Marshal(c.params(completion))
	if err != nil {
		return Handle{}, err
	}

	f, err := os.Open(audio.Path)
	if err != nil {
		return Handle{}, fmt.Errorf("open audio file: %w", err)
	}
	defer f.Close()

	pr, pw := io.Pipe()
	w := multipart.NewWriter(pw)
	go func() {
		part, err := w.CreateFormFile("media", filepath.Base(audio.Path))
		if err == nil {
			_, err = io.Copy(part, f)
		}
		if err == nil {
			err = w.WriteField("params", string(params))
		}
		if err == nil {
			err = w.Close()
		}
		pw.CloseWithError(err)
	}()

	endpoint := c.invokeURL + "/recognizer/upload"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, pr)
	if err != nil {
		pr.Close()
		return Handle{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("X-CLOVASPEECH-API-KEY", c.secretKey)

	body, err := c.do(req, endpoint)
	if err != nil {
		return Handle{}, err
	}

	if completion == CompletionSync {
		if _, err := ParseClovaResult(body); err != nil {
			return Handle{}, err
		}
		return Handle{Kind: KindThirdParty, Inline: body}, nil
	}

	var ack clovaResponse
	if err := json.Unmarshal(body, &ack); err != nil {
		return Handle{}, fmt.Errorf("decode clova response: %w", err)
	}
	if ack.Token == "" {
		return Handle{}, fmt.Errorf("clova async response has no token: %s", ack.Message)
	}
	return Handle{Kind: KindThirdParty, Token: ack.Token}, nil
}

// Poll resolves an inline handle directly, or asks Clova for the token status.
func (c *ClovaClient) Poll(ctx context.Context, h Handle) (*PollResult, error) {
	if h.Kind != KindThirdParty {
		return nil, ErrHandleMismatch
	}
	if h.IsInline() {
		return ParseClovaPoll(h.Inline)
	}
	if h.Token == "" {
		return nil, errEmptyHandle
	}

	endpoint := c.invokeURL + "/recognizer/" + url.PathEscape(h.Token)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("X-CLOVASPEECH-API-KEY", c.secretKey)

	body, err := c.do(req, endpoint)
	if err != nil {
		return nil, err
	}
	return ParseClovaPoll(body)
}

// ParseClovaResult decodes a completed Clova payload (sync body, poll answer
// or webhook) into a segmented Result.
func ParseClovaResult(raw []byte) (*Result, error) {
	var resp clovaResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decode clova result: %w", err)
	}
	if strings.EqualFold(resp.Result, "FAILED") {
		return nil, jobFailed("clova", resp.Message)
	}
	res := &Result{Text: resp.Text, Segmented: true, Raw: json.RawMessage(raw)}
	for _, s := range resp.Segments {
		res.Units = append(res.Units, Unit{
			Speaker: s.Speaker.Label,
			Text:    s.Text,
			Start:   float64(s.Start) / 1000,
			End:     float64(s.End) / 1000,
		})
	}
	if res.Text == "" && len(res.Units) > 0 {
		parts := make([]string, 0, len(res.Units))
		for _, u := range res.Units {
			parts = append(parts, strings.TrimSpace(u.Text))
		}
		res.Text = strings.Join(parts, " ")
	}
	return res, nil
}

// ParseClovaPoll maps a Clova status payload onto a PollResult. Webhook
// bodies stored by the server are read through it as well.
func ParseClovaPoll(raw []byte) (*PollResult, error) {
	var resp clovaResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decode clova result: %w", err)
	}
	switch strings.ToUpper(resp.Result) {
	case "FAILED":
		return nil, jobFailed("clova", resp.Message)
	case "", "COMPLETED", "SUCCEEDED":
		res, err := ParseClovaResult(raw)
		if err != nil {
			return nil, err
		}
		return &PollResult{Done: true, Result: res}, nil
	default:
		return &PollResult{Done: false, Metadata: map[string]any{
			"result":   resp.Result,
			"message":  resp.Message,
			"progress": resp.Progress,
		}}, nil
	}
}

func (c *ClovaClient) params(completion string) clovaParams {
	p := clovaParams{
		Language:      c.settings.LanguageCode,
		Completion:    completion,
		WordAlignment: true,
		FullText:      true,
		Diarization: clovaDiarization{
			Enable:          c.settings.Diarization,
			SpeakerCountMin: c.settings.MinSpeakers,
			SpeakerCountMax: c.settings.MaxSpeakers,
		},
	}
	if completion == CompletionAsync && c.callbackURL != "" {
		cb := c.callbackURL
		p.Callback = &cb
	}
	if c.domainCode != "" {
		p.Userdata = map[string]string{"_ncp_DomainCode": c.domainCode}
	}
	return p
}

func (c *ClovaClient) do(req *http.Request, endpoint string) ([]byte, error) {
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("clova request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode/100 != 2 {
		return nil, &APIError{Provider: "clova", Endpoint: endpoint, Status: resp.StatusCode, Body: string(body)}
	}
	return body, nil
}
