package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/dialoguelab/dialogue-stt/internal/transcribe"
)

const (
	msgFileRequired     = "오디오 파일이 제공되지 않았습니다."
	msgRecognizeFailed  = "음성 인식 중 오류가 발생했습니다."
	shortFormField      = "file"
	maxShortUploadBytes = 10 << 20
)

// RecognizeResponse is the body of POST /api/stt.
type RecognizeResponse struct {
	Text    string            `json:"text"`
	Details json.RawMessage   `json:"details,omitempty"`
	Words   []transcribe.Unit `json:"words,omitempty"`
}

// Recognize handles POST /api/stt: a short recording uploaded as the
// multipart "file" field is recognized synchronously and answered in one
// response. Nothing is stored.
func (h *STTHandler) Recognize(w http.ResponseWriter, r *http.Request) {
	log := h.reqLog(r)
	if h.providers.Short == nil {
		log.Error().Msg("short-form recognizer is not configured")
		WriteError(w, http.StatusInternalServerError, msgNotConfigured)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxShortUploadBytes)
	file, header, err := r.FormFile(shortFormField)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			WriteError(w, http.StatusRequestEntityTooLarge, msgInvalidBody)
			return
		}
		WriteError(w, http.StatusBadRequest, msgFileRequired)
		return
	}
	defer file.Close()

	// The recognizer uploads from a path.
	tmp, err := os.CreateTemp("", "stt-short-*"+filepath.Ext(header.Filename))
	if err != nil {
		log.Error().Err(err).Msg("spool upload")
		WriteError(w, http.StatusInternalServerError, msgRecognizeFailed)
		return
	}
	defer os.Remove(tmp.Name())
	_, err = io.Copy(tmp, file)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		log.Error().Err(err).Msg("spool upload")
		WriteError(w, http.StatusInternalServerError, msgRecognizeFailed)
		return
	}

	handle, err := h.providers.Short.Submit(r.Context(), transcribe.Audio{
		Path:     tmp.Name(),
		MimeType: header.Header.Get("Content-Type"),
	})
	countProvider(providerClova, "submit", err)
	if err != nil {
		log.Error().Err(err).Int64("bytes", header.Size).Msg("short-form recognition failed")
		status, msg := http.StatusInternalServerError, msgRecognizeFailed
		if errors.Is(err, transcribe.ErrJobFailed) {
			status, msg = http.StatusBadGateway, msgJobFailed
		}
		WriteError(w, status, msg)
		return
	}

	// Sync completion carries the result inline, so this poll does no I/O.
	polled, err := h.providers.Short.Poll(r.Context(), handle)
	pr, status, msg := h.pollOutcome(log, providerClova, polled, err)
	if pr == nil {
		WriteError(w, status, msg)
		return
	}
	if !pr.Done || pr.Result == nil {
		log.Error().Str("handle", handle.ID()).Msg("short-form recognizer returned no result")
		WriteError(w, http.StatusBadGateway, msgRecognizeFailed)
		return
	}
	WriteJSON(w, http.StatusOK, RecognizeResponse{
		Text:    pr.Result.Text,
		Details: pr.Result.Raw,
		Words:   pr.Result.Units,
	})
}
