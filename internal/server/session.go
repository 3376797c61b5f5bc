package server

import (
	"context"
	"encoding/json"
	"net/http"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/petrzlen/voice-qa/internal/networking"
	"github.com/petrzlen/voice-qa/pkg/app"
	"github.com/petrzlen/voice-qa/pkg/models"
	"github.com/petrzlen/voice-qa/pkg/remote"
	"github.com/petrzlen/voice-qa/pkg/upload"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

const (
	sessionCookieName         = "voiceqa_session"
	defaultSessionIdleTimeout = 30 * time.Minute
)

var errNoSession = errors.New("no session, load the page first")

// session is one browser tab's App, cycles are serialized through cycleMutex.
type session struct {
	id         string
	cycleMutex sync.Mutex
	app        *app.App
	lastSeen   atomic.Int64 // unix nanos

	resultMutex sync.Mutex // Protects lastResult
	lastResult  *app.Result

	subscribersMutex sync.Mutex // Protects subscribers and stage
	subscribers      map[*progressSubscriber]struct{}
	stage            models.Stage
}

func newSession(id string, factory remote.BackendFactory, fs afero.Fs, answerPath string) *session {
	s := &session{
		id:          id,
		subscribers: make(map[*progressSubscriber]struct{}),
	}
	client := remote.NewClient(factory, fs, answerPath)
	s.app = app.New(client, upload.NewHandler(), s)
	s.touch()
	return s
}

func (s *session) touch() {
	s.lastSeen.Store(time.Now().UnixNano())
}

func (s *session) idleSince(now time.Time) time.Duration {
	return now.Sub(time.Unix(0, s.lastSeen.Load()))
}

func (s *session) setResult(result *app.Result) {
	s.resultMutex.Lock()
	s.lastResult = result
	s.resultMutex.Unlock()
}

func (s *session) result() *app.Result {
	s.resultMutex.Lock()
	defer s.resultMutex.Unlock()
	return s.lastResult
}

type progressEvent struct {
	Stage models.Stage `json:"stage"`
}

// Report fans the stage out to every subscribed websocket, slow subscribers miss events.
func (s *session) Report(stage models.Stage) {
	msg, err := json.Marshal(progressEvent{Stage: stage})
	if err != nil {
		log.Error().Err(err).Msg("cannot marshal progress event")
		return
	}

	s.subscribersMutex.Lock()
	defer s.subscribersMutex.Unlock()
	s.stage = stage
	for sub := range s.subscribers {
		select {
		case sub.writeChan <- msg:
		default:
			log.Warn().Str("session", s.id).Str("stage", stage.String()).Msg("progress subscriber too slow, dropping event")
		}
	}
}

func (s *session) subscribe() *progressSubscriber {
	sub := &progressSubscriber{
		readChan:  make(chan []byte, 10),
		writeChan: make(chan []byte, 16),
	}

	s.subscribersMutex.Lock()
	s.subscribers[sub] = struct{}{}
	current := s.stage
	s.subscribersMutex.Unlock()

	if msg, err := json.Marshal(progressEvent{Stage: current}); err == nil {
		sub.writeChan <- msg
	}
	go s.drainUntilClosed(sub)
	return sub
}

// drainUntilClosed ignores client messages and closes the writer once the connection is gone.
func (s *session) drainUntilClosed(sub *progressSubscriber) {
	for range sub.readChan {
	}
	s.subscribersMutex.Lock()
	delete(s.subscribers, sub)
	s.subscribersMutex.Unlock()
	close(sub.writeChan)
}

func (s *session) subscriberCount() int {
	s.subscribersMutex.Lock()
	defer s.subscribersMutex.Unlock()
	return len(s.subscribers)
}

type progressSubscriber struct {
	readChan  chan []byte
	writeChan chan []byte
}

func (p *progressSubscriber) GetReader() chan<- []byte { return p.readChan }

func (p *progressSubscriber) GetWriter() <-chan []byte { return p.writeChan }

var _ networking.WebsocketMessageHandler = (*progressSubscriber)(nil)

type sessionStore struct {
	factory     remote.BackendFactory
	fs          afero.Fs
	outputDir   string
	answerFile  string
	idleTimeout time.Duration

	mutex    sync.RWMutex
	sessions map[string]*session
}

func newSessionStore(factory remote.BackendFactory, fs afero.Fs, outputDir string, answerFile string, idleTimeout time.Duration) *sessionStore {
	if idleTimeout <= 0 {
		idleTimeout = defaultSessionIdleTimeout
	}
	return &sessionStore{
		factory:     factory,
		fs:          fs,
		outputDir:   outputDir,
		answerFile:  answerFile,
		idleTimeout: idleTimeout,
		sessions:    make(map[string]*session),
	}
}

func (st *sessionStore) lookup(r *http.Request) (*session, bool) {
	cookie, err := r.Cookie(sessionCookieName)
	if err != nil {
		return nil, false
	}
	st.mutex.RLock()
	defer st.mutex.RUnlock()
	s, ok := st.sessions[cookie.Value]
	if ok {
		s.touch()
	}
	return s, ok
}

func (st *sessionStore) count() int {
	st.mutex.RLock()
	defer st.mutex.RUnlock()
	return len(st.sessions)
}

// sweep ends sessions idle for longer than idleTimeout. Sessions with a running cycle
// or an open progress socket are kept.
func (st *sessionStore) sweep(now time.Time) int {
	var idle []*session
	st.mutex.Lock()
	for id, s := range st.sessions {
		if s.idleSince(now) < st.idleTimeout || s.subscriberCount() > 0 {
			continue
		}
		if !s.cycleMutex.TryLock() {
			continue
		}
		delete(st.sessions, id)
		idle = append(idle, s)
	}
	st.mutex.Unlock()

	for _, s := range idle {
		st.discard(s)
		s.cycleMutex.Unlock()
	}
	return len(idle)
}

// discard drops the held upload and the session's answer directory.
func (st *sessionStore) discard(s *session) {
	s.app.Files().Clear()
	s.setResult(nil)
	dir := filepath.Join(st.outputDir, s.id)
	if err := st.fs.RemoveAll(dir); err != nil {
		log.Warn().Err(err).Str("session", s.id).Str("dir", dir).Msg("cannot remove session output")
	}
	log.Info().Str("session", s.id).Msg("idle session ended")
}

// runSweeper sweeps every interval until ctx is done.
func (st *sessionStore) runSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if evicted := st.sweep(now); evicted > 0 {
				log.Debug().Int("evicted", evicted).Int("remaining", st.count()).Msg("session sweep")
			}
		}
	}
}

// getOrCreate returns the request's session, starting a new one (and setting its cookie) when unknown.
func (st *sessionStore) getOrCreate(w http.ResponseWriter, r *http.Request) *session {
	if s, ok := st.lookup(r); ok {
		return s
	}

	id := uuid.NewString()
	s := newSession(id, st.factory, st.fs, filepath.Join(st.outputDir, id, st.answerFile))
	st.mutex.Lock()
	st.sessions[id] = s
	st.mutex.Unlock()

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	log.Info().Str("session", id).Msg("session started")
	return s
}

func (st *sessionStore) websocketFactory(r *http.Request) (networking.WebsocketMessageHandler, error) {
	s, ok := st.lookup(r)
	if !ok {
		return nil, errNoSession
	}
	return s.subscribe(), nil
}
