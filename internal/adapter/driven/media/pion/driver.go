package pion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/Wyydra/loop/internal/core/domain"
	"github.com/Wyydra/loop/internal/core/port"
	"github.com/pion/interceptor"
	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/rs/zerolog/log"
)

// session is one peer connection. Events from a session that is no longer
// current are dropped.
type session struct {
	params domain.SessionParams
	pc     *webrtc.PeerConnection
	audio  *webrtc.TrackLocalStaticSample
	video  *webrtc.TrackLocalStaticSample

	remoteSeen bool
}

// Driver runs the media session of a call on pion/webrtc. It implements
// port.MediaDriver. Offers and candidates go out through the gateway, media
// events come back to the store as actions.
type Driver struct {
	api          *webrtc.API
	config       webrtc.Configuration
	publishVideo bool

	sink    port.ActionSink
	signals port.RealTimeGateway

	publish func(pc *webrtc.PeerConnection, mimeType, id, streamID string) (*webrtc.TrackLocalStaticSample, error)

	mu         sync.Mutex
	current    *session
	last       *domain.SessionParams
	audioMuted bool
	videoMuted bool
}

func NewDriver(iceServers []string, publishVideo bool, sink port.ActionSink, signals port.RealTimeGateway) (*Driver, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}

	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, registry); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}

	config := webrtc.Configuration{}
	if len(iceServers) > 0 {
		config.ICEServers = []webrtc.ICEServer{{URLs: iceServers}}
	}

	return &Driver{
		api: webrtc.NewAPI(
			webrtc.WithMediaEngine(m),
			webrtc.WithInterceptorRegistry(registry),
		),
		config:       config,
		publishVideo: publishVideo,
		sink:         sink,
		signals:      signals,
		publish:      addTrack,
	}, nil
}

// ConnectSession replaces any running session with a new one and offers it
// to the remote side.
func (d *Driver) ConnectSession(params domain.SessionParams) {
	d.connect(params, d.publishVideo)
}

// RetryPublishWithoutVideo reconnects the last requested session publishing
// audio only. It also works after the previous attempt failed to publish.
func (d *Driver) RetryPublishWithoutVideo() {
	d.mu.Lock()
	last := d.last
	d.mu.Unlock()

	if last == nil {
		log.Warn().Msg("No media session to retry without video")
		return
	}
	d.connect(*last, false)
}

func (d *Driver) connect(params domain.SessionParams, withVideo bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.closeCurrent()
	d.last = &params

	l := log.With().Str("session_id", params.SessionID).Bool("video", withVideo).Logger()

	pc, err := d.api.NewPeerConnection(d.config)
	if err != nil {
		l.Error().Err(err).Msg("Failed to create peer connection")
		d.sink.Post(domain.ConnectionFailure{Reason: domain.ReasonCouldNotConnect})
		return
	}
	s := &session{params: params, pc: pc}

	s.audio, err = d.publish(pc, webrtc.MimeTypeOpus, "audio", params.SessionID)
	if err != nil {
		l.Error().Err(err).Msg("Failed to publish audio")
		pc.Close()
		d.sink.Post(domain.ConnectionFailure{Reason: domain.ReasonUnableToPublishMedia})
		return
	}
	if withVideo {
		s.video, err = d.publish(pc, webrtc.MimeTypeVP8, "video", params.SessionID)
		if err != nil {
			l.Error().Err(err).Msg("Failed to publish video")
			pc.Close()
			d.sink.Post(domain.ConnectionFailure{Reason: domain.ReasonUnableToPublishMedia})
			return
		}
	}

	d.current = s
	d.watch(s)

	offer, err := pc.CreateOffer(nil)
	if err == nil {
		err = pc.SetLocalDescription(offer)
	}
	if err != nil {
		l.Error().Err(err).Msg("Failed to create offer")
		d.closeCurrent()
		d.sink.Post(domain.ConnectionFailure{Reason: domain.ReasonCouldNotConnect})
		return
	}

	// Sent with mu held so that no candidate overtakes the offer.
	d.sendSignal(domain.NewSignal(domain.SignalOffer, offer.SDP))
	l.Info().Msg("Media session started")
}

func addTrack(pc *webrtc.PeerConnection, mimeType, id, streamID string) (*webrtc.TrackLocalStaticSample, error) {
	track, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: mimeType}, id, streamID)
	if err != nil {
		return nil, err
	}
	sender, err := pc.AddTrack(track)
	if err != nil {
		return nil, err
	}

	// RTCP has to be read for the interceptors to work.
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()
	return track, nil
}

// watch turns peer connection events of s into actions.
func (d *Driver) watch(s *session) {
	pc := s.pc

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil || !d.isCurrent(s) {
			return
		}
		candidateJSON, err := json.Marshal(c.ToJSON())
		if err != nil {
			log.Error().Err(err).Msg("Failed to marshal candidate")
			return
		}
		d.sendSignal(domain.NewSignal(domain.SignalCandidate, string(candidateJSON)))
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		log.Debug().Str("state", state.String()).Str("session_id", s.params.SessionID).Msg("Peer connection state changed")

		var action domain.Action
		switch state {
		case webrtc.PeerConnectionStateConnected:
			action = domain.MediaConnected{}
		case webrtc.PeerConnectionStateDisconnected:
			action = domain.RemotePeerDisconnected{PeerHungup: false}
		case webrtc.PeerConnectionStateFailed:
			action = domain.ConnectionFailure{Reason: domain.ReasonCouldNotConnect}
		default:
			return
		}
		if d.isCurrent(s) {
			d.sink.Post(action)
		}
	})

	pc.OnTrack(func(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		log.Debug().Str("kind", remote.Kind().String()).Msg("Received remote track")

		d.mu.Lock()
		first := d.current == s && !s.remoteSeen
		s.remoteSeen = true
		d.mu.Unlock()

		if first {
			d.sink.Post(domain.RemotePeerConnected{})
		}

		if remote.Kind() == webrtc.RTPCodecTypeVideo {
			// Ask for a keyframe so the remote video shows up at once.
			if err := pc.WriteRTCP([]rtcp.Packet{
				&rtcp.PictureLossIndication{MediaSSRC: uint32(remote.SSRC())},
			}); err != nil {
				log.Debug().Err(err).Msg("Failed to send PLI")
			}
		}

		go func() {
			buf := make([]byte, 1500)
			for {
				if _, _, err := remote.Read(buf); err != nil {
					return
				}
			}
		}()
	})
}

func (d *Driver) isCurrent(s *session) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.current == s
}

func (d *Driver) sendSignal(signal domain.Signal) {
	if err := d.signals.SendSignal(context.Background(), signal); err != nil {
		log.Error().Err(err).Str("type", string(signal.Type)).Msg("Failed to send media signal")
	}
}

// HandleSignal applies an answer or candidate coming from the remote side.
func (d *Driver) HandleSignal(signal domain.Signal) error {
	d.mu.Lock()
	s := d.current
	d.mu.Unlock()

	if s == nil {
		return domain.ErrSessionNotStarted
	}

	switch signal.Type {
	case domain.SignalAnswer:
		log.Debug().Int("sdp_len", len(signal.Payload)).Msg("Setting remote description")
		return s.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: signal.Payload})
	case domain.SignalCandidate:
		var candidate webrtc.ICECandidateInit
		if err := json.Unmarshal([]byte(signal.Payload), &candidate); err != nil {
			return fmt.Errorf("decode candidate: %w", err)
		}
		return s.pc.AddICECandidate(candidate)
	}
	return fmt.Errorf("unexpected %q signal", signal.Type)
}

// SetMuted stops or resumes sending samples of one media kind.
func (d *Driver) SetMuted(kind domain.MuteType, muted bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch kind {
	case domain.MuteAudio:
		d.audioMuted = muted
	case domain.MuteVideo:
		d.videoMuted = muted
	}
}

// WriteSample publishes one captured sample. Samples for a muted or
// unpublished kind are dropped.
func (d *Driver) WriteSample(kind domain.MuteType, sample media.Sample) error {
	d.mu.Lock()
	s := d.current
	var track *webrtc.TrackLocalStaticSample
	if s != nil {
		switch kind {
		case domain.MuteAudio:
			if !d.audioMuted {
				track = s.audio
			}
		case domain.MuteVideo:
			if !d.videoMuted {
				track = s.video
			}
		}
	}
	d.mu.Unlock()

	if s == nil {
		return domain.ErrSessionNotStarted
	}
	if track == nil {
		return nil
	}
	if err := track.WriteSample(sample); err != nil && !errors.Is(err, io.ErrClosedPipe) {
		return err
	}
	return nil
}

// DisconnectSession closes the running session, if any. Events it raises
// afterwards are dropped.
func (d *Driver) DisconnectSession() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closeCurrent()
	d.last = nil
}

// closeCurrent must be called with mu held.
func (d *Driver) closeCurrent() {
	if d.current == nil {
		return
	}
	s := d.current
	d.current = nil

	// Close fires state callbacks which take mu.
	go func() {
		if err := s.pc.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close peer connection")
		}
	}()
}
