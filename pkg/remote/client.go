package remote

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/petrzlen/voice-qa/pkg/models"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

var (
	ErrNotConfigured   = errors.New("API key is not configured")
	ErrEmptyCredential = errors.New("API key must not be empty")
)

const DefaultAnswerFile = "answer.mp3"

type State int

const (
	Unconfigured State = iota
	Ready
)

func (s State) String() string {
	if s == Ready {
		return "ready"
	}
	return "unconfigured"
}

// Client gates the hosted speech-to-text, completion and speech synthesis operations behind a credential.
//
// The state flow is:
//  1. Unconfigured => every operation fails with ErrNotConfigured, the factory was never called.
//  2. SetAPIKey with a non-empty key => Ready, backend built for that key.
//  3. SetAPIKey with another key => still Ready, backend rebuilt.
//
// Invariant: backend is non-nil iff state == Ready.
type Client struct {
	factory    BackendFactory
	fs         afero.Fs
	answerPath string

	mutex   sync.RWMutex // Protects state, apiKey and backend
	state   State
	apiKey  string
	backend *Backend
}

// NewClient returns an Unconfigured client writing synthesized answers to answerPath on fs.
func NewClient(factory BackendFactory, fs afero.Fs, answerPath string) *Client {
	if answerPath == "" {
		answerPath = DefaultAnswerFile
	}
	return &Client{
		factory:    factory,
		fs:         fs,
		answerPath: answerPath,
		state:      Unconfigured,
	}
}

func (c *Client) SetAPIKey(apiKey string) error {
	if apiKey == "" {
		return ErrEmptyCredential
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.state == Ready && c.apiKey == apiKey {
		return nil
	}
	backend := c.factory(apiKey)
	c.apiKey = apiKey
	c.backend = &backend
	c.state = Ready
	log.Info().Msg("remote client configured")
	return nil
}

func (c *Client) State() State {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.state
}

func (c *Client) Configured() bool {
	return c.State() == Ready
}

// ready is the single precondition check for every remote operation.
func (c *Client) ready() (*Backend, error) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	if c.state != Ready {
		return nil, ErrNotConfigured
	}
	return c.backend, nil
}

func (c *Client) Transcribe(ctx context.Context, audio *models.NamedReader) (string, error) {
	backend, err := c.ready()
	if err != nil {
		return "", err
	}
	trace := models.NewTrace("remote.Transcribe")
	defer trace.Done("transcriber")

	return backend.Transcriber.SendAudio(ctx, audio, audio.Name)
}

func (c *Client) GetResponse(ctx context.Context, text string) (string, error) {
	backend, err := c.ready()
	if err != nil {
		return "", err
	}
	trace := models.NewTrace("remote.GetResponse")
	defer trace.Done("agent")

	return backend.Agent.RunPrompt(ctx, text)
}

// SynthesizeSpeech streams the synthesized answer into the answer path, overwriting any previous file.
func (c *Client) SynthesizeSpeech(ctx context.Context, text string) (string, error) {
	backend, err := c.ready()
	if err != nil {
		return "", err
	}
	trace := models.NewTrace("remote.SynthesizeSpeech")
	defer trace.Done("synthesizer")

	body, err := backend.Synthesizer.CreateSpeech(ctx, text, models.FormatFromName(c.answerPath))
	if err != nil {
		return "", err
	}
	defer func() { dbg(body.Close()) }()

	if dir := filepath.Dir(c.answerPath); dir != "." {
		if err := c.fs.MkdirAll(dir, 0755); err != nil {
			return "", errors.Wrapf(err, "cannot create answer directory %s", dir)
		}
	}
	out, err := c.fs.Create(c.answerPath)
	if err != nil {
		return "", errors.Wrapf(err, "cannot create answer file %s", c.answerPath)
	}

	writeStart := time.Now()
	written, err := io.Copy(out, body)
	if err != nil {
		dbg(out.Close())
		dbg(c.RemoveAnswer())
		return "", errors.Wrapf(err, "cannot stream speech into %s", c.answerPath)
	}
	if err := out.Close(); err != nil {
		dbg(c.RemoveAnswer())
		return "", errors.Wrapf(err, "cannot close answer file %s", c.answerPath)
	}
	log.Debug().Int64("byte_size", written).Str("answer_path", c.answerPath).Dur("write_time", time.Since(writeStart)).Msg("answer audio written")
	return c.answerPath, nil
}

// RemoveAnswer deletes the answer file of a previous cycle, a missing file is fine.
func (c *Client) RemoveAnswer() error {
	if err := c.fs.Remove(c.answerPath); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "cannot remove answer file %s", c.answerPath)
	}
	return nil
}

func dbg(err error) {
	if err != nil {
		log.Debug().Err(err).Msg("sth non-essential failed")
	}
}
