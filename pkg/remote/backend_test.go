package remote

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/petrzlen/voice-qa/pkg/models"
	"github.com/spf13/afero"
)

func TestOpenAIBackendRoundTrip(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/audio/transcriptions", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"text":"What is the capital of France?"}`))
	})
	mux.HandleFunc("/v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"index":0,"message":{"role":"assistant","content":"Paris."}}]}`))
	})
	mux.HandleFunc("/v1/audio/speech", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = w.Write([]byte("synthesized"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	fs := afero.NewMemMapFs()
	client := NewClient(NewOpenAIBackendFactory(Options{BaseURL: srv.URL + "/v1"}), fs, "answer.mp3")
	if err := client.SetAPIKey("sk-test"); err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	transcript, err := client.Transcribe(ctx, models.NewNamedReader("question.mp3", []byte("mp3")))
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	answer, err := client.GetResponse(ctx, transcript)
	if err != nil {
		t.Fatalf("GetResponse: %v", err)
	}
	if answer != "Paris." {
		t.Errorf("answer = %q", answer)
	}
	path, err := client.SynthesizeSpeech(ctx, answer)
	if err != nil {
		t.Fatalf("SynthesizeSpeech: %v", err)
	}
	content, _ := afero.ReadFile(fs, path)
	if string(content) != "synthesized" {
		t.Errorf("answer file = %q", content)
	}
}
