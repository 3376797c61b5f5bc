package audioio

import (
	"bytes"
	"time"

	"github.com/petrzlen/voice-qa/pkg/audio_utils"
	"github.com/petrzlen/voice-qa/pkg/models"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// SpeakersFactory opens an output device. oto allows only one context per process, so it is called once per PlayAudio.
type SpeakersFactory func(sampleRate int, numChannels int) (OutputDevice, error)

// PlayAudio decodes audioData and blocks until it finished playing.
func PlayAudio(newSpeakers SpeakersFactory, audioData models.AudioData) error {
	startTime := time.Now()

	intBuffer, err := audio_utils.Decode(audioData.Format, audioData.ByteData)
	if err != nil {
		return errors.Wrapf(err, "cannot decode %s for playback", audioData.Name)
	}
	log.Debug().Str("name", audioData.Name).Int("sample_rate", intBuffer.Format.SampleRate).Int("num_channels", intBuffer.Format.NumChannels).Dur("length", audio_utils.Duration(intBuffer)).Msg("player START")

	outputDevice, err := newSpeakers(intBuffer.Format.SampleRate, intBuffer.Format.NumChannels)
	if err != nil {
		return errors.Wrap(err, "cannot open speakers")
	}

	waitTilDone, err := outputDevice.Play(bytes.NewReader(audio_utils.IntBufferToS16LE(intBuffer)))
	if err != nil {
		return errors.Wrap(err, "cannot play decoded audio")
	}
	if waitTilDone != nil {
		waitTilDone.Wait()
	}

	log.Debug().Dur("duration", time.Since(startTime)).Msg("player DONE")
	return nil
}
