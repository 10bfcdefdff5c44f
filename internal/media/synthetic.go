package media

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
)

const (
	audioFrameInterval = 20 * time.Millisecond
	videoFrameInterval = 33 * time.Millisecond
)

// opusSilence is a valid Opus DTX frame, decoded as silence.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

// SyntheticSource generates placeholder audio and video without touching
// any capture hardware. It backs headless clients and tests: the tracks
// carry real RTP so peer connections negotiate and flow normally.
type SyntheticSource struct {
	audio  *webrtc.TrackLocalStaticSample
	camera *webrtc.TrackLocalStaticSample

	mu           sync.Mutex
	screen       *webrtc.TrackLocalStaticSample
	audioEnabled bool
	videoEnabled bool
	sharing      bool
	closed       bool

	done chan struct{}
}

// NewSyntheticSource creates a source with the requested kinds. Both
// start enabled.
func NewSyntheticSource(withAudio, withVideo bool) (*SyntheticSource, error) {
	s := &SyntheticSource{done: make(chan struct{})}

	if withAudio {
		track, err := webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus},
			"audio", "synthetic-"+uuid.NewString(),
		)
		if err != nil {
			return nil, &CaptureError{Op: "create audio track", Err: err}
		}
		s.audio = track
		s.audioEnabled = true
		go s.audioLoop()
	}

	if withVideo {
		track, err := webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8},
			"video", "synthetic-"+uuid.NewString(),
		)
		if err != nil {
			return nil, &CaptureError{Op: "create video track", Err: err}
		}
		s.camera = track
		s.videoEnabled = true
		go s.videoLoop()
	}

	return s, nil
}

func (s *SyntheticSource) AudioTrack() webrtc.TrackLocal {
	if s.audio == nil {
		return nil
	}
	return s.audio
}

func (s *SyntheticSource) VideoTrack() webrtc.TrackLocal {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sharing && s.screen != nil {
		return s.screen
	}
	if s.camera == nil {
		return nil
	}
	return s.camera
}

func (s *SyntheticSource) SetAudioEnabled(enabled bool) {
	s.mu.Lock()
	s.audioEnabled = enabled && s.audio != nil
	s.mu.Unlock()
}

func (s *SyntheticSource) SetVideoEnabled(enabled bool) {
	s.mu.Lock()
	s.videoEnabled = enabled && s.camera != nil
	s.mu.Unlock()
}

func (s *SyntheticSource) AudioEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.audioEnabled
}

func (s *SyntheticSource) VideoEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.videoEnabled
}

func (s *SyntheticSource) ScreenSharing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sharing
}

// StartScreenShare creates (lazily) a second video track standing in for
// screen capture and makes it the current video track.
func (s *SyntheticSource) StartScreenShare() (webrtc.TrackLocal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, &CaptureError{Op: "start screen share", Err: ErrDeviceNotFound}
	}
	if s.sharing {
		return s.screen, nil
	}

	if s.screen == nil {
		track, err := webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8},
			"screen", "synthetic-"+uuid.NewString(),
		)
		if err != nil {
			return nil, &CaptureError{Op: "create screen track", Err: err}
		}
		s.screen = track
	}
	s.sharing = true
	return s.screen, nil
}

// StopScreenShare switches back to the camera track.
func (s *SyntheticSource) StopScreenShare() (webrtc.TrackLocal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sharing = false
	if s.camera == nil {
		return nil, &CaptureError{Op: "stop screen share", Err: ErrDeviceNotFound}
	}
	return s.camera, nil
}

func (s *SyntheticSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.audioEnabled = false
	s.videoEnabled = false
	s.sharing = false
	close(s.done)
	return nil
}

func (s *SyntheticSource) audioLoop() {
	ticker := time.NewTicker(audioFrameInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if !s.AudioEnabled() {
				continue
			}
			s.audio.WriteSample(media.Sample{Data: opusSilence, Duration: audioFrameInterval})
		case <-s.done:
			return
		}
	}
}

func (s *SyntheticSource) videoLoop() {
	ticker := time.NewTicker(videoFrameInterval)
	defer ticker.Stop()

	// A minimal VP8 payload; remote decoders render it as a blank
	// keyframe, which is all a placeholder feed needs.
	frame := make([]byte, 64)

	for {
		select {
		case <-ticker.C:
			s.mu.Lock()
			enabled := s.videoEnabled
			track := s.camera
			if s.sharing && s.screen != nil {
				track = s.screen
			}
			s.mu.Unlock()
			if !enabled || track == nil {
				continue
			}
			track.WriteSample(media.Sample{Data: frame, Duration: videoFrameInterval})
		case <-s.done:
			return
		}
	}
}
