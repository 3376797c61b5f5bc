package models

import (
	"bytes"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

type Trace struct {
	CreatedAt time.Time
	Creator   string

	ProcessedAt time.Time
	Processor   string
}

func NewTrace(creator string) Trace {
	return Trace{
		CreatedAt: time.Now(),
		Creator:   creator,
	}
}

// Done marks the trace as processed by processor and logs it.
func (t *Trace) Done(processor string) {
	t.ProcessedAt = time.Now()
	t.Processor = processor
	t.Log()
}

func (t Trace) Log() {
	log.Trace().Time("created_at", t.CreatedAt).Str("creator", t.Creator).Time("processed_at", t.ProcessedAt).Str("processor", t.Processor).Dur("dur_to_process", t.ProcessedAt.Sub(t.CreatedAt)).Msgf("tracing")
}

type Stage int

// Stage of one question/answer cycle. The last three end a cycle that got past both gates.
const (
	AwaitingCredential Stage = iota
	AwaitingUpload
	Transcribing
	GeneratingAnswer
	Synthesizing
	Done
	NoSpeech
	EmptyAnswer
)

func (s Stage) String() string {
	names := [...]string{
		"awaiting_credential",
		"awaiting_upload",
		"transcribing",
		"generating_answer",
		"synthesizing",
		"done",
		"no_speech",
		"empty_answer",
	}

	if s < AwaitingCredential || s > EmptyAnswer {
		return "unknown"
	}

	return names[s]
}

func (s Stage) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// AudioData is a named audio payload, either an uploaded question or a synthesized answer.
type AudioData struct {
	Name     string
	Format   string // lowercase extension, e.g. "mp3"
	ByteData []byte
	Length   time.Duration // zero when unknown
	Trace    Trace
}

func NewAudioData(name string, byteData []byte, creator string) AudioData {
	return AudioData{
		Name:     name,
		Format:   FormatFromName(name),
		ByteData: byteData,
		Trace:    NewTrace(creator),
	}
}

// NamedReader is an in-memory audio stream with the original file name attached.
type NamedReader struct {
	*bytes.Reader
	Name string
}

func NewNamedReader(name string, data []byte) *NamedReader {
	return &NamedReader{
		Reader: bytes.NewReader(data),
		Name:   name,
	}
}

// FormatFromName returns the lowercase extension of name without the dot.
func FormatFromName(name string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
}
