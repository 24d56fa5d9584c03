package realtime

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// RTP buffer size (MTU-friendly). Used with sync.Pool to avoid per-packet allocs.
const rtpBufferSize = 1500

var rtpBufferPool = sync.Pool{
	New: func() interface{} {
		b := make([]byte, rtpBufferSize)
		return &b
	},
}

// SFU holds each studio's capture (the seller's camera and microphone, published over
// WebRTC) and relays it to preview subscribers such as a second monitor.
type SFU struct {
	rooms map[uuid.UUID]*sfuRoom
	mu    sync.RWMutex
	log   *zap.Logger
	cfg   webrtc.Configuration
}

type sfuRoom struct {
	studioID    uuid.UUID
	publisher   *webrtc.PeerConnection
	tracks      []*relayTrack
	subscribers map[string]*subscriberPeer
	hasAudio    bool
	hasVideo    bool
	ready       chan struct{} // closed once the publisher has sent audio and video
	mu          sync.RWMutex
	log         *zap.Logger
}

type relayTrack struct {
	remote *webrtc.TrackRemote
	locals []*webrtc.TrackLocalStaticRTP
	mu     sync.Mutex
}

type subscriberPeer struct {
	pc *webrtc.PeerConnection
}

// NewSFU creates an SFU with the given ICE (STUN/TURN) configuration.
func NewSFU(log *zap.Logger, iceServers []webrtc.ICEServer) *SFU {
	cfg := webrtc.Configuration{ICEServers: iceServers}
	if len(cfg.ICEServers) == 0 {
		cfg.ICEServers = defaultICE
	}
	return &SFU{
		rooms: make(map[uuid.UUID]*sfuRoom),
		log:   log,
		cfg:   cfg,
	}
}

func (s *SFU) getOrCreateRoom(studioID uuid.UUID) *sfuRoom {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.rooms[studioID]; ok {
		return r
	}
	r := &sfuRoom{
		studioID:    studioID,
		subscribers: make(map[string]*subscriberPeer),
		ready:       make(chan struct{}),
		log:         s.log.With(zap.String("studio_id", studioID.String())),
	}
	s.rooms[studioID] = r
	return r
}

func (s *SFU) getRoom(studioID uuid.UUID) *sfuRoom {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rooms[studioID]
}

// WaitForPublisher blocks until the studio's publisher delivers both audio and
// video tracks, or ctx is done.
func (s *SFU) WaitForPublisher(ctx context.Context, studioID uuid.UUID) error {
	r := s.getOrCreateRoom(studioID)
	r.mu.RLock()
	ready := r.ready
	r.mu.RUnlock()
	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// HandlePublisherOffer handles the SDP offer from the studio owner's capture. Replaces any
// previous publisher and returns the answer through sendToClient.
func (s *SFU) HandlePublisherOffer(studioID uuid.UUID, sdp webrtc.SessionDescription, sendToClient func(event string, payload interface{})) error {
	r := s.getOrCreateRoom(studioID)

	r.mu.Lock()
	if r.publisher != nil {
		old := r.publisher
		r.resetPublisherLocked()
		r.mu.Unlock()
		_ = old.Close()
		r.mu.Lock()
	}

	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		r.mu.Unlock()
		return err
	}
	api := webrtc.NewAPI(webrtc.WithMediaEngine(mediaEngine))
	pc, err := api.NewPeerConnection(s.cfg)
	if err != nil {
		r.mu.Unlock()
		return err
	}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		b, _ := json.Marshal(c.ToJSON())
		sendToClient("webrtc_ice", map[string]interface{}{"target": "publisher", "candidate": json.RawMessage(b)})
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		relay := &relayTrack{remote: track}
		r.mu.Lock()
		if r.publisher != pc {
			r.mu.Unlock()
			return
		}
		r.tracks = append(r.tracks, relay)
		switch track.Kind() {
		case webrtc.RTPCodecTypeAudio:
			r.hasAudio = true
		case webrtc.RTPCodecTypeVideo:
			r.hasVideo = true
		}
		r.markReadyLocked()
		r.mu.Unlock()
		r.relayTrackToSubscribers(relay)
		go relay.readAndForward()
	})

	if err := pc.SetRemoteDescription(sdp); err != nil {
		_ = pc.Close()
		r.mu.Unlock()
		return err
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		_ = pc.Close()
		r.mu.Unlock()
		return err
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		_ = pc.Close()
		r.mu.Unlock()
		return err
	}
	r.publisher = pc
	r.mu.Unlock()

	r.log.Info("studio capture published")
	sendToClient("webrtc_publisher_answer", map[string]interface{}{
		"type": answer.Type.String(),
		"sdp":  answer.SDP,
	})
	return nil
}

func (r *sfuRoom) markReadyLocked() {
	if !r.hasAudio || !r.hasVideo {
		return
	}
	select {
	case <-r.ready:
	default:
		close(r.ready)
	}
}

// resetPublisherLocked forgets the publisher and re-arms the ready channel.
func (r *sfuRoom) resetPublisherLocked() {
	r.publisher = nil
	r.tracks = nil
	r.hasAudio, r.hasVideo = false, false
	select {
	case <-r.ready:
		r.ready = make(chan struct{})
	default:
	}
}

func (rt *relayTrack) readAndForward() {
	for {
		ptr := rtpBufferPool.Get().(*[]byte)
		buf := *ptr
		n, _, err := rt.remote.Read(buf)
		if err != nil {
			rtpBufferPool.Put(ptr)
			return
		}
		// Copy the subscriber list so a slow subscriber does not block the others.
		rt.mu.Lock()
		locals := make([]*webrtc.TrackLocalStaticRTP, len(rt.locals))
		copy(locals, rt.locals)
		rt.mu.Unlock()
		for _, local := range locals {
			_, _ = local.Write(buf[:n])
		}
		rtpBufferPool.Put(ptr)
	}
}

func (r *sfuRoom) relayTrackToSubscribers(relay *relayTrack) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, sub := range r.subscribers {
		if sub.pc == nil {
			continue
		}
		r.attach(sub.pc, relay)
	}
}

func (r *sfuRoom) attach(pc *webrtc.PeerConnection, relay *relayTrack) {
	local, err := webrtc.NewTrackLocalStaticRTP(relay.remote.Codec().RTPCodecCapability, relay.remote.ID(), relay.remote.StreamID())
	if err != nil {
		r.log.Warn("create local track failed", zap.Error(err))
		return
	}
	relay.mu.Lock()
	relay.locals = append(relay.locals, local)
	relay.mu.Unlock()
	_, _ = pc.AddTrack(local)
}

// HandlePublisherICE adds an ICE candidate to the publisher PC.
func (s *SFU) HandlePublisherICE(studioID uuid.UUID, candidate webrtc.ICECandidateInit) error {
	r := s.getRoom(studioID)
	if r == nil {
		return nil
	}
	r.mu.RLock()
	pc := r.publisher
	r.mu.RUnlock()
	if pc != nil {
		return pc.AddICECandidate(candidate)
	}
	return nil
}

// HandleSubscribe creates a preview subscriber PC and sends it an offer.
func (s *SFU) HandleSubscribe(studioID uuid.UUID, clientID string, sendToClient func(event string, payload interface{})) error {
	r := s.getRoom(studioID)
	if r == nil {
		sendToClient("webrtc_error", map[string]string{"message": "no_stream"})
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.publisher == nil || len(r.tracks) == 0 {
		sendToClient("webrtc_error", map[string]string{"message": "no_stream"})
		return nil
	}

	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return err
	}
	api := webrtc.NewAPI(webrtc.WithMediaEngine(mediaEngine))
	pc, err := api.NewPeerConnection(s.cfg)
	if err != nil {
		return err
	}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		b, _ := json.Marshal(c.ToJSON())
		sendToClient("webrtc_ice", map[string]interface{}{"target": "subscriber", "candidate": json.RawMessage(b)})
	})

	for _, relay := range r.tracks {
		r.attach(pc, relay)
	}

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		_ = pc.Close()
		return err
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		_ = pc.Close()
		return err
	}
	if old, ok := r.subscribers[clientID]; ok && old.pc != nil {
		_ = old.pc.Close()
	}
	r.subscribers[clientID] = &subscriberPeer{pc: pc}
	sendToClient("webrtc_subscriber_offer", map[string]interface{}{
		"type": offer.Type.String(),
		"sdp":  offer.SDP,
	})
	return nil
}

// HandleSubscriberAnswer sets the remote description (answer) for the subscriber PC.
func (s *SFU) HandleSubscriberAnswer(studioID uuid.UUID, clientID string, sdp webrtc.SessionDescription) error {
	r := s.getRoom(studioID)
	if r == nil {
		return nil
	}
	r.mu.Lock()
	sub, ok := r.subscribers[clientID]
	r.mu.Unlock()
	if !ok || sub.pc == nil {
		return nil
	}
	return sub.pc.SetRemoteDescription(sdp)
}

// HandleSubscriberICE adds an ICE candidate to the subscriber PC.
func (s *SFU) HandleSubscriberICE(studioID uuid.UUID, clientID string, candidate webrtc.ICECandidateInit) error {
	r := s.getRoom(studioID)
	if r == nil {
		return nil
	}
	r.mu.RLock()
	sub, ok := r.subscribers[clientID]
	r.mu.RUnlock()
	if !ok || sub.pc == nil {
		return nil
	}
	return sub.pc.AddICECandidate(candidate)
}

// UnregisterClient removes a subscriber and closes its PC. Call when the client leaves.
func (s *SFU) UnregisterClient(studioID uuid.UUID, clientID string) {
	r := s.getRoom(studioID)
	if r == nil {
		return
	}
	r.mu.Lock()
	sub, ok := r.subscribers[clientID]
	delete(r.subscribers, clientID)
	r.mu.Unlock()
	if ok && sub.pc != nil {
		_ = sub.pc.Close()
	}
}

// ClosePublisher releases the studio's capture. Tracks stop relaying and the next
// WaitForPublisher blocks until a new publisher arrives.
func (s *SFU) ClosePublisher(studioID uuid.UUID) {
	r := s.getRoom(studioID)
	if r == nil {
		return
	}
	r.mu.Lock()
	pc := r.publisher
	r.resetPublisherLocked()
	r.mu.Unlock()
	if pc != nil {
		_ = pc.Close()
		r.log.Info("studio capture released")
	}
}

var defaultICE = []webrtc.ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}}

// ICEServers converts configured STUN/TURN URLs into pion ICE servers.
func ICEServers(urls []string) []webrtc.ICEServer {
	out := make([]webrtc.ICEServer, 0, len(urls))
	for _, u := range urls {
		if u == "" {
			continue
		}
		out = append(out, webrtc.ICEServer{URLs: []string{u}})
	}
	if len(out) == 0 {
		return defaultICE
	}
	return out
}
