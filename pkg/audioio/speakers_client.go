package audioio

import (
	"io"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const playerPollInterval = 5 * time.Millisecond

// speakers plays one stream at a time:
//  1. player == nil => idle
//  2. Play grabs mutex => starts the player and its monitor routine
//  3. Stop grabs mutex, pauses the player and waits until the monitor closed it
//
// Invariant: There is at most one playerMonitorRoutine running at the same time.
type speakers struct {
	otoContext *oto.Context

	mutex    sync.Mutex // Protects player, done and stopping
	player   *oto.Player
	done     *sync.WaitGroup
	stopping bool
}

// NewSpeakers opens the default output device. Remember that you should **not** create more than one per process.
func NewSpeakers(sampleRate int, numChannels int) (OutputDevice, error) {
	op := &oto.NewContextOptions{
		SampleRate:   sampleRate,
		ChannelCount: numChannels,
		Format:       oto.FormatSignedInt16LE,
	}

	log.Info().Int("sample_rate", sampleRate).Int("num_channels", numChannels).Msg("oto context - will wait until ready")
	otoCtx, readyChan, err := oto.NewContext(op)
	if err != nil {
		return nil, errors.Wrap(err, "cannot create oto context")
	}
	<-readyChan // Wait for the audio hardware to be ready (about 200ms empirically)
	log.Info().Msg("oto context ready")

	return &speakers{otoContext: otoCtx}, nil
}

// Play starts playing the entire stream and returns a WaitGroup done when playback ended.
func (s *speakers) Play(audioOutput io.Reader) (*sync.WaitGroup, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.player != nil {
		return nil, errors.New("already playing, call Stop first")
	}

	s.done = &sync.WaitGroup{}
	s.done.Add(1)
	s.player = s.otoContext.NewPlayer(audioOutput)
	s.player.Play()

	go s.playerMonitorRoutine(s.player, s.done)
	return s.done, nil
}

func (s *speakers) Stop() error {
	s.mutex.Lock()
	if s.player == nil {
		s.mutex.Unlock()
		return nil
	}
	if s.stopping {
		s.mutex.Unlock()
		return errors.New("double-stop called, the player is already being stopped")
	}

	log.Debug().Msg("player is stopping ...")
	s.stopping = true
	s.player.Pause()
	untilStopped := s.done // the monitor resets s.done
	s.mutex.Unlock()

	untilStopped.Wait()
	return nil
}

func (s *speakers) playerMonitorRoutine(player *oto.Player, done *sync.WaitGroup) {
	defer done.Done()

	startTime := time.Now()
	for {
		s.mutex.Lock()
		finished := !player.IsPlaying() || s.stopping
		s.mutex.Unlock()
		if finished {
			break
		}
		time.Sleep(playerPollInterval)
	}

	s.mutex.Lock()
	if err := player.Close(); err != nil {
		log.Error().Err(err).Msg("player.Close failed")
	}
	s.player = nil
	s.done = nil
	s.stopping = false
	s.mutex.Unlock()

	log.Debug().Dur("playback_duration", time.Since(startTime)).Msg("current playback done")
}
