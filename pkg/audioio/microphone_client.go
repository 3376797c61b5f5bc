// TLDR; Go itself cannot work with Microphone's well
// BUT it can bind with C-libraries which can do this with a bit of black-magic.
package audioio

import (
	"strings"
	"sync"
	"time"

	"github.com/gen2brain/malgo"
	"github.com/petrzlen/voice-qa/pkg/audio_utils"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const MyDeviceInputChannels uint32 = 1
const MyDeviceSampleRate uint32 = 44100

type microphone struct {
	device       *malgo.Device
	deviceConfig malgo.DeviceConfig
	malgoContext *malgo.AllocatedContext

	recordingStart time.Time

	mutex       sync.Mutex // Protects pSampleData, the capture callback runs on a device thread
	pSampleData []byte
}

// NewMicrophone inits the capture device, call StopRecording to release it.
func NewMicrophone() (InputDevice, error) {
	log.Info().Msg("malgo init context (miniaudio)")
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		log.Debug().Msg(strings.ReplaceAll("malgo devices: "+message, "\n", ""))
	})
	if err != nil {
		return nil, errors.Wrap(err, "cannot init malgo context")
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = MyDeviceInputChannels
	deviceConfig.SampleRate = MyDeviceSampleRate
	deviceConfig.Alsa.NoMMap = 1

	return &microphone{
		deviceConfig: deviceConfig,
		malgoContext: ctx,
	}, nil
}

// StartRecording can only be called once for NewMicrophone
// Mostly from https://github.com/gen2brain/malgo/blob/master/_examples/capture/capture.go
func (m *microphone) StartRecording() (err error) {
	if sizeInBytes := malgo.SampleSizeInBytes(m.deviceConfig.Capture.Format); sizeInBytes != 2 {
		return errors.Errorf("expected 2 bytes per sample, got %d", sizeInBytes)
	}

	onRecvFrames := func(_, pSample []byte, _ uint32) {
		m.mutex.Lock()
		m.pSampleData = append(m.pSampleData, pSample...)
		m.mutex.Unlock()
	}

	m.device, err = malgo.InitDevice(m.malgoContext.Context, m.deviceConfig, malgo.DeviceCallbacks{
		Data: onRecvFrames,
	})
	if err != nil {
		return errors.Wrapf(err, "cannot init malgo device with config %v", m.deviceConfig)
	}

	log.Info().Msg("malgo START recording...")
	m.recordingStart = time.Now()
	if err = m.device.Start(); err != nil {
		return errors.Wrap(err, "cannot start malgo device")
	}
	return nil
}

func (m *microphone) StopRecording() ([]byte, error) {
	log.Info().Dur("recording_duration", time.Since(m.recordingStart)).Msg("malgo STOP recording")
	if m.device != nil {
		dbg(m.device.Stop())
		m.device.Uninit()
	}
	dbg(m.malgoContext.Uninit())
	m.malgoContext.Free()

	m.mutex.Lock()
	sampleData := m.pSampleData
	m.mutex.Unlock()

	if len(sampleData) == 0 {
		return nil, errors.New("nothing was recorded")
	}
	return audio_utils.ConvertTwoByteSamplesToWav(sampleData, m.deviceConfig.SampleRate, m.deviceConfig.Capture.Channels)
}

func dbg(err error) {
	if err != nil {
		log.Debug().Err(err).Msg("sth non-essential failed")
	}
}
