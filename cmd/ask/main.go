package main

import (
	"bufio"
	"bytes"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/petrzlen/voice-qa/internal/config"
	"github.com/petrzlen/voice-qa/internal/utils"
	"github.com/petrzlen/voice-qa/pkg/app"
	"github.com/petrzlen/voice-qa/pkg/audio_utils"
	"github.com/petrzlen/voice-qa/pkg/audioio"
	"github.com/petrzlen/voice-qa/pkg/models"
	"github.com/petrzlen/voice-qa/pkg/remote"
	"github.com/petrzlen/voice-qa/pkg/upload"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

var stageLabels = map[models.Stage]string{
	models.Transcribing:     "Converting speech to text...",
	models.GeneratingAnswer: "Generating answer...",
	models.Synthesizing:     "Creating voice file...",
}

func main() {
	cfg := config.Load()

	apiKey := flag.String("key", os.Getenv("OPEN_AI_API_KEY"), "OpenAI API key, defaults to $OPEN_AI_API_KEY")
	file := flag.String("file", "", "question audio file (mp3, wav or m4a)")
	record := flag.Bool("record", false, "record the question from the microphone instead of -file")
	play := flag.Bool("play", false, "play the answer through the speakers")
	flag.Parse()

	utils.SetupZerolog(cfg.LogLevel)

	if *apiKey == "" {
		log.Fatal().Msg("OPEN_AI_API_KEY is not set")
	}
	if (*file == "") == !*record {
		log.Fatal().Msg("pass exactly one of -file or -record")
	}

	fs := afero.NewOsFs()
	client := remote.NewClient(remote.NewOpenAIBackendFactory(cfg.Remote), fs, filepath.Join(cfg.OutputDir, cfg.AnswerFile))
	voiceApp := app.New(client, upload.NewHandler(), app.ReporterFunc(func(stage models.Stage) {
		if label, ok := stageLabels[stage]; ok {
			fmt.Println(label)
		}
	}))
	ftl(voiceApp.InputAPIKey(*apiKey))

	if *record {
		wavBytes, err := recordQuestion()
		ftl(err)
		_, err = voiceApp.Upload("recording.wav", bytes.NewReader(wavBytes))
		ftl(err)
	} else {
		f, err := os.Open(*file)
		ftl(err)
		_, err = voiceApp.Upload(filepath.Base(*file), f)
		dbg(f.Close())
		ftl(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	result, err := voiceApp.Run(ctx)
	ftl(err)

	fmt.Printf("Transcript: %s\n", result.Transcript)
	switch result.Stage {
	case models.NoSpeech:
		fmt.Println("No speech was recognized.")
		return
	case models.EmptyAnswer:
		fmt.Println("The model returned an empty answer.")
		return
	}
	fmt.Printf("Text answer:\n%s\n", result.AnswerText)
	answerBytes, err := afero.ReadFile(fs, result.AnswerFile)
	ftl(err)
	answer := models.NewAudioData(result.AnswerFile, answerBytes, "cmd.ask")
	answer.Length, err = audio_utils.Length(answer.Format, answer.ByteData)
	dbg(err)
	fmt.Printf("Voice answer: %s (%s)\n", result.AnswerFile, answer.Length.Round(100*time.Millisecond))

	if *play {
		ftl(audioio.PlayAudio(audioio.NewSpeakers, answer))
	}
}

func recordQuestion() ([]byte, error) {
	microphone, err := audioio.NewMicrophone()
	if err != nil {
		return nil, err
	}
	if err := microphone.StartRecording(); err != nil {
		return nil, err
	}
	fmt.Println("Recording, press Enter to submit your question...")
	_, err = bufio.NewReader(os.Stdin).ReadString('\n')
	dbg(err)
	return microphone.StopRecording()
}

func dbg(err error) {
	if err != nil {
		log.Debug().Err(err).Msg("sth non-essential failed")
	}
}

func ftl(err error) {
	if err != nil {
		debug.PrintStack()
		log.Fatal().Err(err).Msg("sth essential failed")
	}
}
