package audio_utils

import (
	"encoding/binary"
	"io"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

const pcmAudioFormat = 1

func dbg(err error) {
	if err != nil {
		log.Debug().Err(err).Msg("sth non-essential failed")
	}
}

// ConvertTwoByteSamplesToWav assumes S16LE encoding (or two bytes per value)
func ConvertTwoByteSamplesToWav(byteData []byte, sampleRate uint32, numChannels uint32) (result []byte, err error) {
	inputBuffer := &audio.IntBuffer{
		Data: twoByteDataToIntSlice(byteData),
		Format: &audio.Format{
			SampleRate:  int(sampleRate),
			NumChannels: int(numChannels),
		},
		SourceBitDepth: 16,
	}
	return EncodeToWav(inputBuffer)
}

// EncodeToWav writes a 16 bit PCM wav with the sample rate and channels of inputBuffer.
func EncodeToWav(inputBuffer *audio.IntBuffer) (result []byte, err error) {
	if len(inputBuffer.Data) == 0 {
		return // Nothing to do
	}

	// Create an in-memory file to support io.WriteSeeker needed for NewEncoder which is needed for finalizing headers.
	fs := afero.NewMemMapFs()
	inMemoryFilename := "in-memory-output.wav"
	inMemoryFile, err := fs.Create(inMemoryFilename)
	if err != nil {
		err = errors.Wrap(err, "cannot create in-memory wav file")
		return
	}
	// We will call Close ourselves.

	outputBitDepth := 16
	sampleRate := inputBuffer.Format.SampleRate
	numChannels := inputBuffer.Format.NumChannels
	wavEncoder := wav.NewEncoder(inMemoryFile, sampleRate, outputBitDepth, numChannels, pcmAudioFormat)
	log.Debug().Int("int_data_length", len(inputBuffer.Data)).Int("sample_rate", sampleRate).Int("source_bit_depth", inputBuffer.SourceBitDepth).Int("num_channels", numChannels).Msg("encoding int stream output as a wav")
	if err = wavEncoder.Write(inputBuffer); err != nil {
		err = errors.Wrap(err, "cannot encode byte output as wav")
		return
	}

	// Close the wavEncoder to flush any remaining data and finalize the WAV file
	if err = wavEncoder.Close(); err != nil {
		err = errors.Wrap(err, "cannot finish wav encoding")
		return
	}

	// We close and re-open the file so we can properly read-all of its contents.
	dbg(inMemoryFile.Close())
	inMemoryFileReopen, err := fs.Open(inMemoryFilename)
	if err != nil {
		err = errors.Wrap(err, "cannot reopen in-memory wav file")
		return
	}
	defer func() { dbg(inMemoryFileReopen.Close()) }()
	result, err = io.ReadAll(inMemoryFileReopen)
	if err == nil && len(result) == 0 {
		err = errors.New("wav output is empty when input was not")
	}
	return
}

// IntBufferToS16LE renders 16 bit samples the way oto expects them, clamping out of range values.
func IntBufferToS16LE(buffer *audio.IntBuffer) []byte {
	result := make([]byte, 2*len(buffer.Data))
	for i, value := range buffer.Data {
		if value > 32767 {
			value = 32767
		} else if value < -32768 {
			value = -32768
		}
		binary.LittleEndian.PutUint16(result[2*i:], uint16(int16(value)))
	}
	return result
}

func twoByteDataToIntSlice(audioData []byte) []int {
	intData := make([]int, len(audioData)/2)
	for i := 0; i+1 < len(audioData); i += 2 {
		intData[i/2] = int(int16(binary.LittleEndian.Uint16(audioData[i : i+2])))
	}
	return intData
}
