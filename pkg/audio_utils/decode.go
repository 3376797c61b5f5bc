package audio_utils

import (
	"bytes"
	"io"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"
	"github.com/mewkiz/flac"
	"github.com/pkg/errors"
)

// mp3 decoder output is always stereo S16LE.
const mp3BytesPerFrame = 4

var ErrUnknownFormat = errors.New("unknown audio format")

// Decode returns 16 bit samples for mp3, flac or wav data.
func Decode(format string, data []byte) (*audio.IntBuffer, error) {
	switch format {
	case "mp3":
		return DecodeFromMp3(data)
	case "flac":
		return DecodeFromFlac(data)
	case "wav":
		return DecodeFromWav(data)
	default:
		return nil, errors.Wrapf(ErrUnknownFormat, "cannot decode %q", format)
	}
}

func DecodeFromMp3(data []byte) (*audio.IntBuffer, error) {
	decoder, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrap(err, "cannot init mp3 decoder")
	}
	pcm, err := io.ReadAll(decoder)
	if err != nil {
		return nil, errors.Wrap(err, "cannot decode mp3")
	}
	return &audio.IntBuffer{
		Data: twoByteDataToIntSlice(pcm),
		Format: &audio.Format{
			SampleRate:  decoder.SampleRate(),
			NumChannels: 2,
		},
		SourceBitDepth: 16,
	}, nil
}

func DecodeFromFlac(data []byte) (*audio.IntBuffer, error) {
	stream, err := flac.New(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrap(err, "cannot init flac decoder")
	}
	defer func() { dbg(stream.Close()) }()

	numChannels := int(stream.Info.NChannels)
	shift := int(stream.Info.BitsPerSample) - 16
	var intData []int
	for {
		frame, err := stream.ParseNext()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrap(err, "cannot decode flac frame")
		}
		// Interleave the per-channel subframes.
		for i := 0; i < frame.Subframes[0].NSamples; i++ {
			for ch := 0; ch < numChannels; ch++ {
				intData = append(intData, scaleTo16(int(frame.Subframes[ch].Samples[i]), shift))
			}
		}
	}
	return &audio.IntBuffer{
		Data: intData,
		Format: &audio.Format{
			SampleRate:  int(stream.Info.SampleRate),
			NumChannels: numChannels,
		},
		SourceBitDepth: 16,
	}, nil
}

func DecodeFromWav(data []byte) (*audio.IntBuffer, error) {
	decoder := wav.NewDecoder(bytes.NewReader(data))
	if !decoder.IsValidFile() {
		return nil, errors.New("not a valid wav file")
	}
	buffer, err := decoder.FullPCMBuffer()
	if err != nil {
		return nil, errors.Wrap(err, "cannot decode wav")
	}

	bitDepth := int(decoder.BitDepth)
	if bitDepth == 8 {
		// 8 bit wav is unsigned
		for i, value := range buffer.Data {
			buffer.Data[i] = (value - 128) << 8
		}
	} else if bitDepth != 16 {
		for i, value := range buffer.Data {
			buffer.Data[i] = scaleTo16(value, bitDepth-16)
		}
	}
	buffer.SourceBitDepth = 16
	return buffer, nil
}

func scaleTo16(value int, shift int) int {
	if shift > 0 {
		return value >> shift
	}
	return value << -shift
}

// Duration of the decoded buffer.
func Duration(buffer *audio.IntBuffer) time.Duration {
	if buffer == nil || buffer.Format == nil || buffer.Format.SampleRate == 0 || buffer.Format.NumChannels == 0 {
		return 0
	}
	frames := len(buffer.Data) / buffer.Format.NumChannels
	return time.Duration(frames) * time.Second / time.Duration(buffer.Format.SampleRate)
}

// Length returns the play length of data, for mp3 without decoding the whole stream.
func Length(format string, data []byte) (time.Duration, error) {
	if format == "mp3" {
		decoder, err := mp3.NewDecoder(bytes.NewReader(data))
		if err != nil {
			return 0, errors.Wrap(err, "cannot init mp3 decoder")
		}
		if decoder.Length() >= 0 && decoder.SampleRate() > 0 {
			frames := decoder.Length() / mp3BytesPerFrame
			return time.Duration(frames) * time.Second / time.Duration(decoder.SampleRate()), nil
		}
	}
	buffer, err := Decode(format, data)
	if err != nil {
		return 0, err
	}
	return Duration(buffer), nil
}
