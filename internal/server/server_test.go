package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/petrzlen/voice-qa/internal/config"
	"github.com/petrzlen/voice-qa/pkg/remote"
	"github.com/spf13/afero"
)

type stubBackend struct {
	transcripts map[string]string
	answers     map[string]string
}

func (s *stubBackend) SendAudio(_ context.Context, _ io.Reader, fileName string) (string, error) {
	return s.transcripts[fileName], nil
}

func (s *stubBackend) RunPrompt(_ context.Context, prompt string) (string, error) {
	return s.answers[prompt], nil
}

func (s *stubBackend) CreateSpeech(_ context.Context, text string, _ string) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader("audio:" + text)), nil
}

func (s *stubBackend) factory(string) remote.Backend {
	return remote.Backend{Transcriber: s, Agent: s, Synthesizer: s}
}

type testEnv struct {
	server *Server
	srv    *httptest.Server
	client *http.Client
	fs     afero.Fs
}

func testConfig(askLimit int) config.Config {
	return config.Config{
		OutputDir:          "output",
		AnswerFile:         "answer.mp3",
		CORSAllowedOrigins: []string{"*"},
		AskRateLimit:       askLimit,
		ShutdownTimeout:    time.Second,
	}
}

func newTestEnv(t *testing.T, askLimit int) *testEnv {
	t.Helper()
	return newTestEnvWithConfig(t, testConfig(askLimit))
}

func newTestEnvWithConfig(t *testing.T, cfg config.Config) *testEnv {
	t.Helper()
	stub := &stubBackend{
		transcripts: map[string]string{"question.mp3": "What is the capital of France?"},
		answers:     map[string]string{"What is the capital of France?": "Paris."},
	}
	fs := afero.NewMemMapFs()
	server := New(cfg, fs, stub.factory)
	srv := httptest.NewServer(server.Handler())
	t.Cleanup(srv.Close)

	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatal(err)
	}
	return &testEnv{server: server, srv: srv, client: &http.Client{Jar: jar}, fs: fs}
}

// askQuestion runs one full cycle for the uploaded name and returns the decoded /ask response.
func (e *testEnv) askQuestion(t *testing.T, name string) askResult {
	t.Helper()
	if resp := e.postUpload(t, name, []byte("mp3-bytes")); resp.StatusCode != http.StatusOK {
		t.Fatalf("upload %s: status = %d, %s", name, resp.StatusCode, readAll(t, resp))
	}
	resp := e.postAsk(t)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("ask: status = %d, %s", resp.StatusCode, readAll(t, resp))
	}
	var result askResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatal(err)
	}
	return result
}

func (e *testEnv) sessionID(t *testing.T) string {
	t.Helper()
	srvURL, _ := url.Parse(e.srv.URL)
	for _, cookie := range e.client.Jar.Cookies(srvURL) {
		if cookie.Name == sessionCookieName {
			return cookie.Value
		}
	}
	t.Fatal("no session cookie")
	return ""
}

type askResult struct {
	Stage      string `json:"stage"`
	Transcript string `json:"transcript"`
	AnswerText string `json:"answer_text"`
	AnswerURL  string `json:"answer_url"`
}

func (e *testEnv) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := e.client.Get(e.srv.URL + path)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (e *testEnv) postAPIKey(t *testing.T, key string) *http.Response {
	t.Helper()
	resp, err := e.client.PostForm(e.srv.URL+"/api-key", url.Values{"api_key": {key}})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (e *testEnv) postUpload(t *testing.T, name string, content []byte) *http.Response {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", name)
	if err != nil {
		t.Fatal(err)
	}
	_, _ = fw.Write(content)
	_ = mw.Close()

	resp, err := e.client.Post(e.srv.URL+"/upload", mw.FormDataContentType(), &body)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (e *testEnv) postAsk(t *testing.T) *http.Response {
	t.Helper()
	resp, err := e.client.Post(e.srv.URL+"/ask", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func readAll(t *testing.T, resp *http.Response) string {
	t.Helper()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return string(b)
}

func TestIndexRendersControls(t *testing.T) {
	env := newTestEnv(t, 20)
	resp := env.get(t, "/")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	body := readAll(t, resp)
	for _, want := range []string{`type="password"`, `accept=".mp3,.wav,.m4a"`, `id="answer-audio"`} {
		if !strings.Contains(body, want) {
			t.Errorf("page is missing %s", want)
		}
	}
	if len(resp.Cookies()) == 0 || resp.Cookies()[0].Name != sessionCookieName {
		t.Errorf("no session cookie set: %v", resp.Cookies())
	}
}

func TestFullCycle(t *testing.T) {
	env := newTestEnv(t, 20)
	env.get(t, "/")

	if resp := env.postUpload(t, "question.mp3", []byte("mp3")); resp.StatusCode != http.StatusConflict {
		t.Errorf("upload without key: status = %d", resp.StatusCode)
	}
	if resp := env.postAPIKey(t, ""); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("empty key: status = %d", resp.StatusCode)
	}
	if resp := env.postAPIKey(t, "sk-test"); resp.StatusCode != http.StatusOK {
		t.Fatalf("api key: status = %d", resp.StatusCode)
	}
	if resp := env.postUpload(t, "notes.txt", []byte("hi")); resp.StatusCode != http.StatusUnsupportedMediaType {
		t.Errorf("txt upload: status = %d", resp.StatusCode)
	}
	if resp := env.postUpload(t, "question.mp3", []byte("mp3-bytes")); resp.StatusCode != http.StatusOK {
		t.Fatalf("upload: status = %d, %s", resp.StatusCode, readAll(t, resp))
	}

	preview := env.get(t, "/upload/preview")
	if preview.Header.Get("Content-Type") != "audio/mpeg" || readAll(t, preview) != "mp3-bytes" {
		t.Errorf("unexpected preview %s", preview.Header.Get("Content-Type"))
	}

	resp := env.postAsk(t)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("ask: status = %d, %s", resp.StatusCode, readAll(t, resp))
	}
	var result askResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatal(err)
	}
	if result.Stage != "done" {
		t.Errorf("stage = %s", result.Stage)
	}
	if result.Transcript != "What is the capital of France?" || result.AnswerText != "Paris." || result.AnswerURL == "" {
		t.Errorf("unexpected ask result %+v", result)
	}

	answer := env.get(t, result.AnswerURL)
	if answer.StatusCode != http.StatusOK || answer.Header.Get("Content-Type") != "audio/mpeg" {
		t.Fatalf("answer: status = %d, type %s", answer.StatusCode, answer.Header.Get("Content-Type"))
	}
	if body := readAll(t, answer); body != "audio:Paris." {
		t.Errorf("answer body = %q", body)
	}

	page := readAll(t, env.get(t, "/"))
	if !strings.Contains(page, "Paris.") || !strings.Contains(page, "question.mp3") {
		t.Error("page does not render the last cycle")
	}
}

func TestAskWithoutCredential(t *testing.T) {
	env := newTestEnv(t, 20)
	resp := env.postAsk(t)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if body := readAll(t, resp); !strings.Contains(body, `"stage":"awaiting_credential"`) {
		t.Errorf("body = %s", body)
	}
}

func TestAskIsRateLimited(t *testing.T) {
	env := newTestEnv(t, 1)
	if resp := env.postAsk(t); resp.StatusCode != http.StatusOK {
		t.Fatalf("first ask: status = %d", resp.StatusCode)
	}
	if resp := env.postAsk(t); resp.StatusCode != http.StatusTooManyRequests {
		t.Errorf("second ask: status = %d", resp.StatusCode)
	}
}

func TestAnswerAndPreviewWithoutSession(t *testing.T) {
	env := newTestEnv(t, 20)
	if resp := env.get(t, "/answer"); resp.StatusCode != http.StatusNotFound {
		t.Errorf("answer: status = %d", resp.StatusCode)
	}
	if resp := env.get(t, "/upload/preview"); resp.StatusCode != http.StatusNotFound {
		t.Errorf("preview: status = %d", resp.StatusCode)
	}
}

func TestProgressWebsocket(t *testing.T) {
	env := newTestEnv(t, 20)
	env.get(t, "/")
	env.postAPIKey(t, "sk-test")
	env.postUpload(t, "question.mp3", []byte("mp3-bytes"))

	srvURL, _ := url.Parse(env.srv.URL)
	header := http.Header{}
	for _, cookie := range env.client.Jar.Cookies(srvURL) {
		header.Add("Cookie", cookie.String())
	}
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(env.srv.URL, "http")+"/ws", header)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	readStage := func() string {
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		var event struct {
			Stage string `json:"stage"`
		}
		if err := conn.ReadJSON(&event); err != nil {
			t.Fatalf("ReadJSON: %v", err)
		}
		return event.Stage
	}

	if stage := readStage(); stage != "awaiting_credential" {
		t.Errorf("initial stage = %s", stage)
	}

	env.postAsk(t)
	var stages []string
	for stage := ""; stage != "done"; {
		stage = readStage()
		stages = append(stages, stage)
	}
	if strings.Join(stages, ",") != "transcribing,generating_answer,synthesizing,done" {
		t.Errorf("stages = %v", stages)
	}
}

func TestWebsocketWithoutSession(t *testing.T) {
	env := newTestEnv(t, 20)
	_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(env.srv.URL, "http")+"/ws", nil)
	if err == nil {
		t.Fatal("expected the dial to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusBadRequest {
		t.Errorf("unexpected response %+v", resp)
	}
}

func TestAnswerIsGoneAfterCycleWithoutOne(t *testing.T) {
	env := newTestEnv(t, 20)
	env.get(t, "/")
	env.postAPIKey(t, "sk-test")

	first := env.askQuestion(t, "question.mp3")
	if first.Stage != "done" {
		t.Fatalf("first stage = %s", first.Stage)
	}
	if resp := env.get(t, first.AnswerURL); resp.StatusCode != http.StatusOK {
		t.Fatalf("answer after done: status = %d", resp.StatusCode)
	}

	second := env.askQuestion(t, "silent.mp3")
	if second.Stage != "no_speech" || second.AnswerURL != "" {
		t.Fatalf("unexpected second result %+v", second)
	}
	if resp := env.get(t, "/answer"); resp.StatusCode != http.StatusNotFound {
		t.Errorf("answer after no_speech: status = %d, %s", resp.StatusCode, readAll(t, resp))
	}
}

func TestIdleSessionsAreSwept(t *testing.T) {
	cfg := testConfig(20)
	cfg.SessionIdleTimeout = 50 * time.Millisecond
	env := newTestEnvWithConfig(t, cfg)
	env.get(t, "/")
	env.postAPIKey(t, "sk-test")
	if result := env.askQuestion(t, "question.mp3"); result.Stage != "done" {
		t.Fatalf("stage = %s", result.Stage)
	}
	for i := 0; i < 3; i++ {
		resp, err := http.Get(env.srv.URL + "/")
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
	}
	if n := env.server.sessions.count(); n != 4 {
		t.Fatalf("sessions = %d, want 4", n)
	}
	answerPath := filepath.Join("output", env.sessionID(t), "answer.mp3")
	if exists, _ := afero.Exists(env.fs, answerPath); !exists {
		t.Fatalf("no answer file at %s", answerPath)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go env.server.sessions.runSweeper(ctx, 10*time.Millisecond)

	deadline := time.Now().Add(5 * time.Second)
	for env.server.sessions.count() > 0 {
		if time.Now().After(deadline) {
			t.Fatalf("sessions left after sweeping: %d", env.server.sessions.count())
		}
		time.Sleep(10 * time.Millisecond)
	}
	if exists, _ := afero.Exists(env.fs, answerPath); exists {
		t.Error("answer file of an ended session still on disk")
	}
	if resp := env.get(t, "/answer"); resp.StatusCode != http.StatusNotFound {
		t.Errorf("answer after the session ended: status = %d", resp.StatusCode)
	}
}

func TestSweepEndsOnlyIdleSessions(t *testing.T) {
	env := newTestEnv(t, 20)
	env.get(t, "/")

	if n := env.server.sessions.sweep(time.Now()); n != 0 {
		t.Errorf("swept %d fresh sessions", n)
	}
	if n := env.server.sessions.sweep(time.Now().Add(time.Hour)); n != 1 {
		t.Errorf("swept %d idle sessions, want 1", n)
	}
}
