// Package pionengine implements the media capability surface on top of
// pion/webrtc. Routers are lightweight codec contexts; each transport is a
// peer connection created from a shared API object.
package pionengine

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"

	"github.com/dd-25/Meetup/internal/config"
	"github.com/dd-25/Meetup/internal/media"
	"github.com/dd-25/Meetup/pkg/log"
)

// Engine builds pion peer connections with the codecs and port range the
// deployment is configured for.
type Engine struct {
	cfg  config.MediaConfig
	api  *webrtc.API
	done chan error
}

func New(cfg config.MediaConfig) *Engine {
	return &Engine{
		cfg:  cfg,
		done: make(chan error, 1),
	}
}

// Init registers codecs and interceptors and prepares the shared API.
// No signaling operation may be served before Init returns.
func (e *Engine) Init(_ context.Context) error {
	m := &webrtc.MediaEngine{}

	if err := m.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType:    webrtc.MimeTypeOpus,
			ClockRate:   48000,
			Channels:    2,
			SDPFmtpLine: "minptime=10;useinbandfec=1",
		},
		PayloadType: 111,
	}, webrtc.RTPCodecTypeAudio); err != nil {
		return fmt.Errorf("failed to register opus: %w", err)
	}

	if err := m.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType:  webrtc.MimeTypeVP8,
			ClockRate: 90000,
		},
		PayloadType: 96,
	}, webrtc.RTPCodecTypeVideo); err != nil {
		return fmt.Errorf("failed to register vp8: %w", err)
	}

	i := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, i); err != nil {
		return fmt.Errorf("failed to register interceptors: %w", err)
	}

	se := webrtc.SettingEngine{}
	if e.cfg.RTCMinPort > 0 && e.cfg.RTCMaxPort > 0 {
		if err := se.SetEphemeralUDPPortRange(e.cfg.RTCMinPort, e.cfg.RTCMaxPort); err != nil {
			return fmt.Errorf("failed to set rtc port range: %w", err)
		}
	}
	if e.cfg.AnnouncedIP != "" {
		se.SetNAT1To1IPs([]string{e.cfg.AnnouncedIP}, webrtc.ICECandidateTypeHost)
	}

	e.api = webrtc.NewAPI(
		webrtc.WithMediaEngine(m),
		webrtc.WithInterceptorRegistry(i),
		webrtc.WithSettingEngine(se),
	)

	log.L().Info().
		Uint16("rtc_min_port", e.cfg.RTCMinPort).
		Uint16("rtc_max_port", e.cfg.RTCMaxPort).
		Msg("media engine initialized")

	return nil
}

func (e *Engine) CreateRouter(_ context.Context) (media.Router, error) {
	if e.api == nil {
		return nil, fmt.Errorf("media engine not initialized")
	}
	return &router{
		engine:    e,
		producers: make(map[string]*producer),
	}, nil
}

// Done reports unrecoverable engine loss. The pion engine runs in-process
// and has no external worker to lose, so this never fires for it, but
// callers must still treat a signal here as fatal.
func (e *Engine) Done() <-chan error {
	return e.done
}

func (e *Engine) Close() error {
	return nil
}

var _ media.Engine = (*Engine)(nil)

type router struct {
	engine *Engine

	mu        sync.RWMutex
	producers map[string]*producer
	closed    bool
}

func (r *router) CreateTransport(ctx context.Context) (media.Transport, error) {
	iceServers := make([]webrtc.ICEServer, 0, len(r.engine.cfg.ICEServers))
	for _, url := range r.engine.cfg.ICEServers {
		iceServers = append(iceServers, webrtc.ICEServer{URLs: []string{url}})
	}

	pc, err := r.engine.api.NewPeerConnection(webrtc.Configuration{ICEServers: iceServers})
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	t := &transport{
		id:      uuid.NewString(),
		router:  r,
		pc:      pc,
		pending: make(map[media.Kind][]*producer),
	}

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		log.L().Debug().
			Str(log.FieldTransport, t.id).
			Str("state", state.String()).
			Msg("transport connection state changed")
	})

	pc.OnTrack(func(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		go t.relay(remote)
	})

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("failed to create offer: %w", err)
	}

	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		pc.Close()
		return nil, fmt.Errorf("failed to set local description: %w", err)
	}

	select {
	case <-gathered:
	case <-ctx.Done():
		pc.Close()
		return nil, ctx.Err()
	}

	t.params = media.TransportParams{
		ID:  t.id,
		SDP: pc.LocalDescription().SDP,
	}

	return t, nil
}

func (r *router) CanConsume(producerID string, caps media.RTPCapabilities) bool {
	r.mu.RLock()
	p, ok := r.producers[producerID]
	r.mu.RUnlock()
	if !ok {
		return false
	}

	want := string(p.kind) + "/"
	for _, c := range caps.Codecs {
		if len(c.MimeType) > len(want) && c.MimeType[:len(want)] == want {
			return true
		}
	}
	return false
}

func (r *router) RTPCapabilities() media.RTPCapabilities {
	return media.RTPCapabilities{
		Codecs: []media.CodecCapability{
			{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
			{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000},
		},
	}
}

func (r *router) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	r.producers = make(map[string]*producer)
	return nil
}

func (r *router) registerProducer(p *producer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.producers[p.id] = p
}

func (r *router) unregisterProducer(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.producers, id)
}

func (r *router) producerByID(id string) (*producer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.producers[id]
	return p, ok
}

type transport struct {
	id     string
	router *router
	pc     *webrtc.PeerConnection
	params media.TransportParams

	mu      sync.Mutex
	pending map[media.Kind][]*producer
}

func (t *transport) ID() string { return t.id }

func (t *transport) Params() media.TransportParams { return t.params }

func (t *transport) Connect(_ context.Context, params media.ConnectParams) error {
	return t.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  params.SDP,
	})
}

func (t *transport) Produce(_ context.Context, kind media.Kind, _ media.RTPParameters) (media.Producer, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("unsupported media kind %q", kind)
	}

	id := uuid.NewString()
	track, err := webrtc.NewTrackLocalStaticRTP(codecCapabilityFor(kind), id, "meetup-"+string(kind))
	if err != nil {
		return nil, fmt.Errorf("failed to create track: %w", err)
	}

	sender, err := t.pc.AddTrack(track)
	if err != nil {
		return nil, fmt.Errorf("failed to add track: %w", err)
	}

	p := &producer{
		id:     id,
		kind:   kind,
		track:  track,
		sender: sender,
		router: t.router,
	}
	t.router.registerProducer(p)

	// The client's inbound track for this producer has not arrived yet;
	// queue the producer so relay can pair them by kind when OnTrack fires.
	t.mu.Lock()
	t.pending[kind] = append(t.pending[kind], p)
	t.mu.Unlock()

	return p, nil
}

// relay pumps the client's inbound RTP into the producer's outbound track so
// consumers attached to that track receive media. Runs until the read side
// errors, which covers both peer connection teardown and track end.
func (t *transport) relay(remote *webrtc.TrackRemote) {
	kind := media.KindAudio
	if remote.Kind() == webrtc.RTPCodecTypeVideo {
		kind = media.KindVideo
	}

	p := t.claimPending(kind)
	if p == nil {
		log.L().Warn().
			Str(log.FieldTransport, t.id).
			Str("kind", string(kind)).
			Msg("inbound track with no producer awaiting it")
		return
	}

	log.L().Debug().
		Str(log.FieldTransport, t.id).
		Str(log.FieldProducerID, p.id).
		Str("kind", string(kind)).
		Msg("relaying inbound track")

	for {
		pkt, _, err := remote.ReadRTP()
		if err != nil {
			return
		}
		if err := p.track.WriteRTP(pkt); err != nil {
			return
		}
	}
}

// claimPending pops the oldest producer of the kind still waiting for its
// inbound track.
func (t *transport) claimPending(kind media.Kind) *producer {
	t.mu.Lock()
	defer t.mu.Unlock()
	queue := t.pending[kind]
	if len(queue) == 0 {
		return nil
	}
	p := queue[0]
	t.pending[kind] = queue[1:]
	return p
}

func (t *transport) Consume(_ context.Context, producerID string, _ media.RTPCapabilities) (media.Consumer, error) {
	p, ok := t.router.producerByID(producerID)
	if !ok {
		return nil, fmt.Errorf("producer %s not found", producerID)
	}

	sender, err := t.pc.AddTrack(p.track)
	if err != nil {
		return nil, fmt.Errorf("failed to attach producer track: %w", err)
	}

	return &consumer{
		id:         uuid.NewString(),
		producerID: producerID,
		kind:       p.kind,
		track:      p.track,
		sender:     sender,
	}, nil
}

func (t *transport) Close() error {
	return t.pc.Close()
}

type producer struct {
	id     string
	kind   media.Kind
	track  *webrtc.TrackLocalStaticRTP
	sender *webrtc.RTPSender
	router *router
}

func (p *producer) ID() string       { return p.id }
func (p *producer) Kind() media.Kind { return p.kind }

func (p *producer) Close() error {
	p.router.unregisterProducer(p.id)
	return p.sender.Stop()
}

type consumer struct {
	id         string
	producerID string
	kind       media.Kind
	track      *webrtc.TrackLocalStaticRTP
	sender     *webrtc.RTPSender
}

func (c *consumer) ID() string         { return c.id }
func (c *consumer) ProducerID() string { return c.producerID }
func (c *consumer) Kind() media.Kind   { return c.kind }

func (c *consumer) RTPParameters() media.RTPParameters {
	return media.RTPParameters{
		Codecs: []media.CodecCapability{codecCapabilityToMedia(codecCapabilityFor(c.kind))},
	}
}

// Resume re-attaches the producer track after a pause.
func (c *consumer) Resume() error {
	return c.sender.ReplaceTrack(c.track)
}

func (c *consumer) Close() error {
	return c.sender.Stop()
}

func codecCapabilityFor(kind media.Kind) webrtc.RTPCodecCapability {
	if kind == media.KindAudio {
		return webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}
	}
	return webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}
}

func codecCapabilityToMedia(c webrtc.RTPCodecCapability) media.CodecCapability {
	return media.CodecCapability{
		MimeType:  c.MimeType,
		ClockRate: c.ClockRate,
		Channels:  c.Channels,
	}
}
