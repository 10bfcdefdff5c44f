// Package media abstracts local capture. The session layer only sees
// the Source interface; real devices, a browser bridge, or the
// synthetic generator all satisfy it.
package media

import (
	"github.com/pion/webrtc/v4"
)

// Source provides the local outgoing media tracks and mute control.
type Source interface {
	// AudioTrack returns the outgoing audio track, or nil if the
	// source has no audio.
	AudioTrack() webrtc.TrackLocal

	// VideoTrack returns the current outgoing video track (camera or
	// screen), or nil for audio-only sources.
	VideoTrack() webrtc.TrackLocal

	// SetAudioEnabled mutes or unmutes the audio track in place.
	SetAudioEnabled(enabled bool)

	// SetVideoEnabled pauses or resumes the video track in place.
	SetVideoEnabled(enabled bool)

	// StartScreenShare switches the outgoing video to a screen
	// capture track and returns it, so the caller can replace the
	// track on live peer connections.
	StartScreenShare() (webrtc.TrackLocal, error)

	// StopScreenShare switches back to the camera track and returns
	// it. A no-op returning the current track when not sharing.
	StopScreenShare() (webrtc.TrackLocal, error)

	AudioEnabled() bool
	VideoEnabled() bool
	ScreenSharing() bool

	// Close releases capture resources. Safe to call more than once.
	Close() error
}

// Tracks collects a source's current outgoing tracks, skipping nils.
func Tracks(s Source) []webrtc.TrackLocal {
	var tracks []webrtc.TrackLocal
	if t := s.AudioTrack(); t != nil {
		tracks = append(tracks, t)
	}
	if t := s.VideoTrack(); t != nil {
		tracks = append(tracks, t)
	}
	return tracks
}
