// Package rtc implements the peer connection handle on top of pion/webrtc.
package rtc

import (
	"fmt"

	"github.com/dkeye/Mesh/internal/core"
	"github.com/dkeye/Mesh/internal/domain"
	"github.com/pion/interceptor"
	"github.com/pion/transport/v3"
	"github.com/pion/webrtc/v4"
)

func DefaultWebRTCConfig() webrtc.Configuration {
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{
				URLs: []string{"stun:stun.l.google.com:19302"},
			},
		},
	}
}

// ConfigFromURLs builds a configuration with one ICE server per URL. An
// empty list falls back to the default STUN server.
func ConfigFromURLs(urls []string) webrtc.Configuration {
	if len(urls) == 0 {
		return DefaultWebRTCConfig()
	}
	cfg := webrtc.Configuration{}
	for _, u := range urls {
		cfg.ICEServers = append(cfg.ICEServers, webrtc.ICEServer{URLs: []string{u}})
	}
	return cfg
}

// Factory builds pion connections sharing one API: default codecs, the
// default interceptor chain and pion logs routed through zerolog.
type Factory struct {
	api *webrtc.API
	cfg webrtc.Configuration
}

type FactoryOption func(*webrtc.SettingEngine)

// WithNet runs every connection on n instead of the host network stack.
func WithNet(n transport.Net) FactoryOption {
	return func(s *webrtc.SettingEngine) { s.SetNet(n) }
}

func NewFactory(cfg webrtc.Configuration, opts ...FactoryOption) (*Factory, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}
	i := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, i); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}
	s := webrtc.SettingEngine{LoggerFactory: NewLoggerFactory()}
	for _, opt := range opts {
		opt(&s)
	}
	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(m),
		webrtc.WithInterceptorRegistry(i),
		webrtc.WithSettingEngine(s),
	)
	return &Factory{api: api, cfg: cfg}, nil
}

func (f *Factory) NewPeerConnection(peer domain.PeerID) (core.PeerConnection, error) {
	conn, err := newConnection(f.api, f.cfg, peer)
	if err != nil {
		return nil, fmt.Errorf("peer connection for %s: %w", peer, err)
	}
	return conn, nil
}
