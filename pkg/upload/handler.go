package upload

import (
	"io"
	"mime"
	"mime/multipart"
	"strings"
	"sync"

	"github.com/petrzlen/voice-qa/pkg/models"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

var ErrUnsupportedExtension = errors.New("only mp3, wav and m4a files can be uploaded")

// AllowedExtensions is the file selection filter of the upload control.
var AllowedExtensions = []string{"mp3", "wav", "m4a"}

var previewMimeTypes = map[string]string{
	"mp3": "audio/mpeg",
	"wav": "audio/wav",
	"m4a": "audio/mp4",
}

// AcceptAttribute renders AllowedExtensions for an <input type="file" accept=...>.
func AcceptAttribute() string {
	exts := make([]string, len(AllowedExtensions))
	for i, ext := range AllowedExtensions {
		exts[i] = "." + ext
	}
	return strings.Join(exts, ",")
}

func allowed(format string) bool {
	for _, ext := range AllowedExtensions {
		if ext == format {
			return true
		}
	}
	return false
}

// Handler holds at most one uploaded voice file. The content is never inspected.
type Handler struct {
	mutex sync.RWMutex
	file  *models.AudioData
}

func NewHandler() *Handler {
	return &Handler{}
}

// Upload replaces the held file with the content of r.
func (h *Handler) Upload(name string, r io.Reader) (*models.AudioData, error) {
	format := models.FormatFromName(name)
	if !allowed(format) {
		return nil, errors.Wrapf(ErrUnsupportedExtension, "cannot upload %q", name)
	}

	byteData, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot read upload %s", name)
	}
	file := models.NewAudioData(name, byteData, "upload.Handler")

	h.mutex.Lock()
	h.file = &file
	h.mutex.Unlock()

	log.Info().Str("name", name).Str("format", format).Int("byte_size", len(byteData)).Msg("voice file uploaded")
	return &file, nil
}

func (h *Handler) UploadMultipart(header *multipart.FileHeader) (*models.AudioData, error) {
	f, err := header.Open()
	if err != nil {
		return nil, errors.Wrapf(err, "cannot open multipart file %s", header.Filename)
	}
	defer func() { _ = f.Close() }()
	return h.Upload(header.Filename, f)
}

// File returns the held file or nil.
func (h *Handler) File() *models.AudioData {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return h.file
}

// Preview returns the held bytes and their MIME type for inline playback, ok is false when nothing is held.
func (h *Handler) Preview() (byteData []byte, mimeType string, ok bool) {
	file := h.File()
	if file == nil {
		return nil, "", false
	}
	mimeType = previewMimeTypes[file.Format]
	if mimeType == "" {
		mimeType = mime.TypeByExtension("." + file.Format)
	}
	return file.ByteData, mimeType, true
}

// GetBytesIO materializes the held file as a fresh named in-memory stream, nil when nothing was uploaded.
func (h *Handler) GetBytesIO() *models.NamedReader {
	file := h.File()
	if file == nil {
		return nil
	}
	return models.NewNamedReader(file.Name, file.ByteData)
}

func (h *Handler) Clear() {
	h.mutex.Lock()
	h.file = nil
	h.mutex.Unlock()
}
