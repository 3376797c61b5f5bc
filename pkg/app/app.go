package app

import (
	"context"
	"io"
	"strings"
	"time"

	"github.com/petrzlen/voice-qa/pkg/models"
	"github.com/petrzlen/voice-qa/pkg/remote"
	"github.com/petrzlen/voice-qa/pkg/upload"
	"github.com/rs/zerolog/log"
)

// Reporter receives stage transitions while a cycle runs, e.g. to drive a spinner.
type Reporter interface {
	Report(stage models.Stage)
}

type ReporterFunc func(stage models.Stage)

func (f ReporterFunc) Report(stage models.Stage) { f(stage) }

type nopReporter struct{}

func (nopReporter) Report(models.Stage) {}

// Result is what one cycle renders: the answer text and the playable answer file.
type Result struct {
	Stage      models.Stage  `json:"stage"`
	Transcript string        `json:"transcript"`
	AnswerText string        `json:"answer_text"`
	AnswerFile string        `json:"answer_file"`
	Elapsed    time.Duration `json:"-"`
}

// App sequences credential -> upload -> transcription -> completion -> synthesis.
// It is not safe for concurrent use, callers serialize cycles per session.
type App struct {
	client   *remote.Client
	files    *upload.Handler
	reporter Reporter

	transcript string
	answerText string
	answerFile string
}

func New(client *remote.Client, files *upload.Handler, reporter Reporter) *App {
	if reporter == nil {
		reporter = nopReporter{}
	}
	return &App{
		client:   client,
		files:    files,
		reporter: reporter,
	}
}

func (a *App) Client() *remote.Client { return a.client }

func (a *App) Files() *upload.Handler { return a.files }

func (a *App) Transcript() string { return a.transcript }

// InputAPIKey configures the client when apiKey is present, an empty key is ignored.
func (a *App) InputAPIKey(apiKey string) error {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil
	}
	return a.client.SetAPIKey(apiKey)
}

func (a *App) Upload(name string, r io.Reader) (*models.AudioData, error) {
	return a.files.Upload(name, r)
}

// TranscribeAudio resets the previous cycle (answer file included) and transcribes the held file, if any.
func (a *App) TranscribeAudio(ctx context.Context) error {
	a.transcript = ""
	a.answerText = ""
	a.answerFile = ""
	if err := a.client.RemoveAnswer(); err != nil {
		return err
	}

	audioFile := a.files.GetBytesIO()
	if audioFile == nil {
		return nil
	}
	a.reporter.Report(models.Transcribing)
	transcript, err := a.client.Transcribe(ctx, audioFile)
	if err != nil {
		return err
	}
	a.transcript = transcript
	return nil
}

// GenerateResult answers the current transcript and synthesizes the answer.
// Empty transcript and empty answer are terminal, not errors.
func (a *App) GenerateResult(ctx context.Context) (models.Stage, error) {
	if strings.TrimSpace(a.transcript) == "" {
		return models.NoSpeech, nil
	}

	a.reporter.Report(models.GeneratingAnswer)
	answerText, err := a.client.GetResponse(ctx, a.transcript)
	if err != nil {
		return models.GeneratingAnswer, err
	}
	a.answerText = answerText
	if strings.TrimSpace(answerText) == "" {
		return models.EmptyAnswer, nil
	}

	a.reporter.Report(models.Synthesizing)
	answerFile, err := a.client.SynthesizeSpeech(ctx, answerText)
	if err != nil {
		return models.Synthesizing, err
	}
	a.answerFile = answerFile
	return models.Done, nil
}

// Run executes one full cycle. Every step is gated by the presence of the previous step's output.
func (a *App) Run(ctx context.Context) (result Result, err error) {
	startTime := time.Now()
	defer func() {
		result.Transcript = a.transcript
		result.AnswerText = a.answerText
		result.AnswerFile = a.answerFile
		result.Elapsed = time.Since(startTime)
		a.reporter.Report(result.Stage)
		logEvent := log.Info()
		if err != nil {
			logEvent = log.Error().Err(err)
		}
		logEvent.Str("stage", result.Stage.String()).Dur("time_elapsed", result.Elapsed).Msg("cycle finished")
	}()

	if !a.client.Configured() {
		result.Stage = models.AwaitingCredential
		return
	}
	if a.files.File() == nil {
		result.Stage = models.AwaitingUpload
		return
	}

	if err = a.TranscribeAudio(ctx); err != nil {
		result.Stage = models.Transcribing
		return
	}
	result.Stage, err = a.GenerateResult(ctx)
	return
}
