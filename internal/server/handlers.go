package server

import (
	"embed"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/petrzlen/voice-qa/pkg/app"
	"github.com/petrzlen/voice-qa/pkg/audio_utils"
	"github.com/petrzlen/voice-qa/pkg/models"
	"github.com/petrzlen/voice-qa/pkg/remote"
	"github.com/petrzlen/voice-qa/pkg/upload"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

//go:embed templates/index.html
var templatesFS embed.FS

// In-memory part of a multipart upload, the rest spills to temporary files.
const multipartMemory = 32 << 20

var answerMimeTypes = map[string]string{
	"mp3":  "audio/mpeg",
	"wav":  "audio/wav",
	"flac": "audio/flac",
	"opus": "audio/ogg",
	"aac":  "audio/aac",
	"pcm":  "application/octet-stream",
}

type errorResponse struct {
	Error string `json:"error"`
}

type askResponse struct {
	Stage         models.Stage `json:"stage"`
	Transcript    string       `json:"transcript"`
	AnswerText    string       `json:"answer_text"`
	AnswerURL     string       `json:"answer_url,omitempty"`
	AnswerSeconds float64      `json:"answer_seconds,omitempty"`
}

type uploadResponse struct {
	Name       string `json:"name"`
	ByteSize   int    `json:"byte_size"`
	PreviewURL string `json:"preview_url"`
}

type pageData struct {
	Accept     string
	Configured bool
	UploadName string
	Result     *askResponse
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("cannot write json response")
	}
}

// writeError maps the modeled conditions to client errors, everything else is a failed upstream call.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusBadGateway
	switch {
	case errors.Is(err, remote.ErrNotConfigured):
		status = http.StatusConflict
	case errors.Is(err, remote.ErrEmptyCredential), errors.Is(err, http.ErrMissingFile):
		status = http.StatusBadRequest
	case errors.Is(err, upload.ErrUnsupportedExtension):
		status = http.StatusUnsupportedMediaType
	}
	if status == http.StatusBadGateway {
		log.Error().Err(err).Msg("request failed")
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	sess := s.sessions.getOrCreate(w, r)

	sess.cycleMutex.Lock()
	data := pageData{
		Accept:     upload.AcceptAttribute(),
		Configured: sess.app.Client().Configured(),
	}
	if file := sess.app.Files().File(); file != nil {
		data.UploadName = file.Name
	}
	if result := sess.result(); result != nil {
		data.Result = s.toAskResponse(*result)
	}
	sess.cycleMutex.Unlock()

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.page.Execute(w, data); err != nil {
		log.Error().Err(err).Msg("cannot render page")
	}
}

func (s *Server) handleAPIKey(w http.ResponseWriter, r *http.Request) {
	sess := s.sessions.getOrCreate(w, r)
	apiKey := r.PostFormValue("api_key")
	if apiKey == "" {
		writeError(w, remote.ErrEmptyCredential)
		return
	}

	sess.cycleMutex.Lock()
	err := sess.app.InputAPIKey(apiKey)
	state := sess.app.Client().State()
	sess.cycleMutex.Unlock()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"state": state.String()})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	sess := s.sessions.getOrCreate(w, r)
	if !sess.app.Client().Configured() {
		writeError(w, remote.ErrNotConfigured)
		return
	}

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	headers := r.MultipartForm.File["file"]
	if len(headers) == 0 {
		writeError(w, http.ErrMissingFile)
		return
	}

	sess.cycleMutex.Lock()
	file, err := sess.app.Files().UploadMultipart(headers[0])
	sess.cycleMutex.Unlock()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, uploadResponse{
		Name:       file.Name,
		ByteSize:   len(file.ByteData),
		PreviewURL: fmt.Sprintf("/upload/preview?v=%d", file.Trace.CreatedAt.UnixNano()),
	})
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessions.lookup(r)
	if !ok {
		http.NotFound(w, r)
		return
	}
	byteData, mimeType, ok := sess.app.Files().Preview()
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", mimeType)
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(byteData)
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	sess := s.sessions.getOrCreate(w, r)
	if !sess.cycleMutex.TryLock() {
		writeJSON(w, http.StatusConflict, errorResponse{Error: "a question is already being answered"})
		return
	}
	defer sess.cycleMutex.Unlock()

	result, err := sess.app.Run(r.Context())
	sess.setResult(&result)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.toAskResponse(result))
}

func (s *Server) toAskResponse(result app.Result) *askResponse {
	resp := &askResponse{
		Stage:      result.Stage,
		Transcript: result.Transcript,
		AnswerText: result.AnswerText,
	}
	if result.AnswerFile == "" {
		return resp
	}
	resp.AnswerURL = fmt.Sprintf("/answer?v=%d", time.Now().UnixNano())
	if byteData, err := afero.ReadFile(s.fs, result.AnswerFile); err == nil {
		if length, err := audio_utils.Length(models.FormatFromName(result.AnswerFile), byteData); err == nil {
			resp.AnswerSeconds = length.Seconds()
		} else {
			log.Debug().Err(err).Str("answer_file", result.AnswerFile).Msg("cannot measure answer length")
		}
	}
	return resp
}

func (s *Server) handleAnswer(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessions.lookup(r)
	if !ok {
		http.NotFound(w, r)
		return
	}
	// Only the last cycle's answer is served, a cycle without one leaves nothing to play.
	result := sess.result()
	if result == nil || result.AnswerFile == "" {
		http.NotFound(w, r)
		return
	}
	answerPath := result.AnswerFile
	f, err := s.fs.Open(answerPath)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		writeError(w, errors.Wrap(err, "cannot stat answer file"))
		return
	}
	if mimeType, ok := answerMimeTypes[models.FormatFromName(answerPath)]; ok {
		w.Header().Set("Content-Type", mimeType)
	}
	w.Header().Set("Cache-Control", "no-store")
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}
