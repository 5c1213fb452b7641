package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/dialoguelab/dialogue-stt/internal/database"
	"github.com/dialoguelab/dialogue-stt/internal/metrics"
	"github.com/dialoguelab/dialogue-stt/internal/transcribe"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
)

// User-facing messages. Details go to the log only.
const (
	msgNotConfigured   = "STT 서비스가 설정되지 않았습니다. 관리자에게 문의하세요."
	msgUnauthorized    = "Unauthorized"
	msgInvalidBody     = "요청 본문이 올바르지 않습니다."
	msgGCSURIRequired  = "gcsUri가 필요합니다."
	msgNameRequired    = "name 쿼리 파라미터가 필요합니다."
	msgHandleRequired  = "operationName이 필요합니다."
	msgStartFailed     = "STT 시작 중 오류가 발생했습니다."
	msgStatusFailed    = "STT 상태 조회 중 오류가 발생했습니다."
	msgCompleteFailed  = "STT 완료 처리 중 오류가 발생했습니다."
	msgJobFailed       = "음성 인식에 실패했습니다."
	msgSessionFailed   = "세션 생성 실패"
	msgUnknownProvider = "지원하지 않는 provider입니다."
)

const (
	providerCloud  = "cloud"
	providerClova  = "clova"
	providerGemini = "gemini"

	callbackSource  = "api/stt/callback"
	callbackMessage = "Clova Async Result"

	// WorkerTokenHeader authenticates worker calls to the start route.
	WorkerTokenHeader = "x-stt-worker-token"
)

// CallbackLogID is the system_logs session id a Clova webhook result for
// token is stored under.
func CallbackLogID(token string) string {
	return "clova-result-" + token
}

// Store is the persistence the transcription routes need. *database.DB
// implements it.
type Store interface {
	CreateSession(ctx context.Context, in database.SessionInput) (string, error)
	InsertTranscripts(ctx context.Context, rows []database.TranscriptRow) (int64, error)
	InsertSystemLog(ctx context.Context, l database.SystemLog) error
	LatestSystemLog(ctx context.Context, sessionID string) (*database.SystemLog, error)
}

// Providers holds the configured backends. Unconfigured ones are nil.
// Short answers POST /api/stt and must complete synchronously.
type Providers struct {
	Cloud  transcribe.Provider
	Clova  transcribe.Provider
	Gemini transcribe.Provider
	Short  transcribe.Provider
}

// STTHandler serves the short-form, start, status, complete and callback
// routes.
type STTHandler struct {
	store       Store
	providers   Providers
	workerToken string
	now         func() time.Time
	log         zerolog.Logger
}

func NewSTTHandler(store Store, providers Providers, workerToken string, log zerolog.Logger) *STTHandler {
	return &STTHandler{
		store:       store,
		providers:   providers,
		workerToken: workerToken,
		now:         time.Now,
		log:         log.With().Str("component", "stt").Logger(),
	}
}

// Start handles POST /api/stt/start. The worker calls it with a staged
// object URI; it starts a long-running cloud job and returns its name.
func (h *STTHandler) Start(w http.ResponseWriter, r *http.Request) {
	log := h.reqLog(r)
	if h.workerToken == "" {
		log.Error().Msg("STT_WORKER_TOKEN is not set")
		WriteError(w, http.StatusInternalServerError, msgNotConfigured)
		return
	}
	provided := r.Header.Get(WorkerTokenHeader)
	if provided == "" || subtle.ConstantTimeCompare([]byte(provided), []byte(h.workerToken)) != 1 {
		WriteError(w, http.StatusUnauthorized, msgUnauthorized)
		return
	}
	if h.providers.Cloud == nil {
		log.Error().Msg("cloud recognizer is not configured")
		WriteError(w, http.StatusInternalServerError, msgNotConfigured)
		return
	}

	var body struct {
		GCSURI string `json:"gcsUri"`
	}
	if err := DecodeJSON(r, &body); err != nil {
		WriteError(w, http.StatusBadRequest, msgInvalidBody)
		return
	}
	if strings.TrimSpace(body.GCSURI) == "" {
		WriteError(w, http.StatusBadRequest, msgGCSURIRequired)
		return
	}

	handle, err := h.providers.Cloud.Submit(r.Context(), transcribe.Audio{URI: body.GCSURI})
	countProvider(providerCloud, "submit", err)
	if err != nil {
		log.Error().Err(err).Str("uri", body.GCSURI).Msg("start recognition failed")
		WriteError(w, http.StatusInternalServerError, msgStartFailed)
		return
	}
	log.Info().Str("uri", body.GCSURI).Str("operation", handle.ID()).Msg("recognition started")
	WriteJSON(w, http.StatusOK, map[string]string{"operationName": handle.OperationName})
}

// StatusResponse is the body of GET /api/stt/status.
type StatusResponse struct {
	Done     bool              `json:"done"`
	Metadata map[string]any    `json:"metadata"`
	Text     *string           `json:"text,omitempty"`
	Details  json.RawMessage   `json:"details,omitempty"`
	Words    []transcribe.Unit `json:"words,omitempty"`
}

// Status handles GET /api/stt/status?name=H&provider=P. It polls once and
// never writes.
func (h *STTHandler) Status(w http.ResponseWriter, r *http.Request) {
	log := h.reqLog(r)
	name, ok := QueryString(r, "name")
	if !ok {
		WriteError(w, http.StatusBadRequest, msgNameRequired)
		return
	}
	provider := providerName(r.URL.Query().Get("provider"))

	pr, status, msg := h.poll(r.Context(), log, provider, name)
	if pr == nil {
		WriteError(w, status, msg)
		return
	}

	resp := StatusResponse{Done: pr.Done, Metadata: pr.Metadata}
	if pr.Done && pr.Result != nil {
		text := pr.Result.Text
		resp.Text = &text
		resp.Details = pr.Result.Raw
		resp.Words = pr.Result.Units
	}
	WriteJSON(w, http.StatusOK, resp)
}

// CompleteRequest is the body of POST /api/stt/complete. One of
// OperationName, Token and ClovaResult identifies the transcription.
type CompleteRequest struct {
	OperationName string          `json:"operationName"`
	Token         string          `json:"token"`
	ClovaResult   json.RawMessage `json:"clovaResult"`
	Provider      string          `json:"provider"`
	Title         string          `json:"title"`
	UserID        string          `json:"userId"`
}

// Complete handles POST /api/stt/complete. A non-terminal job answers
// {done:false, metadata} without writing. A finished one creates a session,
// inserts its transcript rows and answers {done:true, sessionId, text}.
func (h *STTHandler) Complete(w http.ResponseWriter, r *http.Request) {
	log := h.reqLog(r)
	var req CompleteRequest
	if err := DecodeJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, msgInvalidBody)
		return
	}

	var (
		pr     *transcribe.PollResult
		status int
		msg    string
	)
	switch {
	case len(req.ClovaResult) > 0 && string(req.ClovaResult) != "null":
		pr, status, msg = h.parseInline(log, req.ClovaResult)
	case req.Token != "":
		pr, status, msg = h.poll(r.Context(), log, providerClova, req.Token)
	case req.OperationName != "":
		pr, status, msg = h.poll(r.Context(), log, providerName(req.Provider), req.OperationName)
	default:
		WriteError(w, http.StatusBadRequest, msgHandleRequired)
		return
	}
	if pr == nil {
		WriteError(w, status, msg)
		return
	}
	if !pr.Done {
		WriteJSON(w, http.StatusOK, map[string]any{"done": false, "metadata": pr.Metadata})
		return
	}

	result := pr.Result
	if result == nil {
		result = &transcribe.Result{}
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		title = fmt.Sprintf("Voice conversation (%s)", h.now().Format("2006-01-02"))
	}

	sessionID, err := h.store.CreateSession(r.Context(), database.SessionInput{
		UserID: req.UserID,
		Title:  title,
		Mode:   database.ModeFree,
	})
	if err != nil {
		log.Error().Err(err).Msg("session create failed")
		WriteError(w, http.StatusInternalServerError, msgSessionFailed)
		return
	}

	rows := transcribe.Normalize(result)
	dbRows := make([]database.TranscriptRow, len(rows))
	for i, row := range rows {
		dbRows[i] = database.TranscriptRow{
			SessionID: sessionID,
			Speaker:   row.Speaker,
			Content:   row.Content,
			Timestamp: row.Timestamp,
			Index:     row.Index,
		}
	}
	if n, err := h.store.InsertTranscripts(r.Context(), dbRows); err != nil {
		// The session stays without rows; the id is returned so the
		// completion can be re-run against it.
		log.Error().Err(err).Str("session_id", sessionID).Int("rows", len(dbRows)).Msg("transcript insert failed")
	} else {
		metrics.TranscriptRowsTotal.Add(float64(n))
		log.Info().Str("session_id", sessionID).Int64("rows", n).Msg("transcript stored")
	}

	WriteJSON(w, http.StatusOK, map[string]any{
		"done":      true,
		"sessionId": sessionID,
		"text":      result.Text,
	})
}

// Callback handles POST /api/stt/callback, the Clova async webhook. The body
// is stored as a system log keyed by token for Status and Complete to find.
func (h *STTHandler) Callback(w http.ResponseWriter, r *http.Request) {
	log := h.reqLog(r)
	var raw json.RawMessage
	if err := DecodeJSON(r, &raw); err != nil || len(raw) == 0 {
		WriteMessage(w, http.StatusBadRequest, "Invalid body")
		return
	}
	var body struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(raw, &body); err != nil || body.Token == "" {
		log.Warn().Msg("clova callback without token")
		WriteMessage(w, http.StatusBadRequest, "Token missing")
		return
	}

	err := h.store.InsertSystemLog(r.Context(), database.SystemLog{
		SessionID: CallbackLogID(body.Token),
		Source:    callbackSource,
		Level:     "info",
		Message:   callbackMessage,
		Metadata:  raw,
	})
	if err != nil {
		log.Error().Err(err).Str("token", body.Token).Msg("clova callback save failed")
		WriteMessage(w, http.StatusInternalServerError, "Save failed")
		return
	}
	log.Info().Str("token", body.Token).Msg("clova callback stored")
	WriteMessage(w, http.StatusOK, "OK")
}

// poll performs one status check for id on provider. On failure it returns a
// nil result with the HTTP status and user-facing message to answer with.
func (h *STTHandler) poll(ctx context.Context, log zerolog.Logger, provider, id string) (*transcribe.PollResult, int, string) {
	var (
		p      transcribe.Provider
		handle transcribe.Handle
	)
	switch provider {
	case providerClova:
		stored, err := h.store.LatestSystemLog(ctx, CallbackLogID(id))
		switch {
		case err == nil && len(stored.Metadata) > 0:
			pr, err := transcribe.ParseClovaPoll(stored.Metadata)
			return h.pollOutcome(log, providerClova, pr, err)
		case err != nil && !errors.Is(err, database.ErrNotFound):
			log.Warn().Err(err).Str("token", id).Msg("callback lookup failed, polling clova")
		}
		p, handle = h.providers.Clova, transcribe.Handle{Kind: transcribe.KindThirdParty, Token: id}
	case providerGemini:
		p, handle = h.providers.Gemini, transcribe.Handle{Kind: transcribe.KindMultimodal, OperationName: id}
	case providerCloud:
		p, handle = h.providers.Cloud, transcribe.Handle{Kind: transcribe.KindCloud, OperationName: id}
	default:
		return nil, http.StatusBadRequest, msgUnknownProvider
	}
	if p == nil {
		log.Error().Str("provider", provider).Msg("provider is not configured")
		return nil, http.StatusInternalServerError, msgNotConfigured
	}

	pr, err := p.Poll(ctx, handle)
	return h.pollOutcome(log, provider, pr, err)
}

func (h *STTHandler) parseInline(log zerolog.Logger, raw json.RawMessage) (*transcribe.PollResult, int, string) {
	pr, err := transcribe.ParseClovaPoll(raw)
	return h.pollOutcome(log, providerClova, pr, err)
}

func (h *STTHandler) pollOutcome(log zerolog.Logger, provider string, pr *transcribe.PollResult, err error) (*transcribe.PollResult, int, string) {
	countProvider(provider, "poll", err)
	if err == nil {
		return pr, http.StatusOK, ""
	}
	log.Error().Err(err).Str("provider", provider).Msg("transcription poll failed")
	if errors.Is(err, transcribe.ErrJobFailed) {
		return nil, http.StatusBadGateway, msgJobFailed
	}
	if errors.Is(err, transcribe.ErrUnknownJob) {
		return nil, http.StatusNotFound, msgStatusFailed
	}
	return nil, http.StatusInternalServerError, msgCompleteFailed
}

func (h *STTHandler) reqLog(r *http.Request) zerolog.Logger {
	l := hlog.FromRequest(r)
	if l.GetLevel() == zerolog.Disabled {
		return h.log
	}
	return l.With().Str("component", "stt").Logger()
}

// providerName normalizes the provider query/body field; empty means cloud.
func providerName(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return providerCloud
	}
	return s
}

func countProvider(provider, op string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.ProviderRequestsTotal.WithLabelValues(provider, op, outcome).Inc()
}
