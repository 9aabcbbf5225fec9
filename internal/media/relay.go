package media

import (
	"context"
	"maps"
	"sync"
	"sync/atomic"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/rs/zerolog"
)

// RTPReader is the read side of a remote track. *webrtc.TrackRemote
// satisfies it.
type RTPReader interface {
	ReadRTP() (*rtp.Packet, interceptor.Attributes, error)
}

type OutputState int32

const (
	OutputOk OutputState = iota
	OutputMuted
	OutputDelete
)

// Output is one destination of a relay.
type Output struct {
	W     RTPWriter
	state atomic.Int32 // Zero by default (OutputOk)
}

func NewOutput(w RTPWriter) *Output {
	return &Output{W: w}
}

func (o *Output) State() OutputState { return OutputState(o.state.Load()) }
func (o *Output) MarkOk()            { o.state.Store(int32(OutputOk)) }
func (o *Output) MarkMuted()         { o.state.Store(int32(OutputMuted)) }
func (o *Output) MarkDelete()        { o.state.Store(int32(OutputDelete)) }

// Relay copies packets from one remote track to its outputs.
type Relay struct {
	Src RTPReader

	mu      sync.RWMutex
	outputs map[string]*Output

	cancel context.CancelFunc
	done   chan struct{}
}

func NewRelay(src RTPReader, cancel context.CancelFunc) *Relay {
	return &Relay{
		Src:     src,
		outputs: make(map[string]*Output),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
}

// Done is closed when the relay loop has exited.
func (r *Relay) Done() <-chan struct{} { return r.done }

func (r *Relay) loop(ctx context.Context, logger *zerolog.Logger) {
	defer close(r.done)
	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("relay ctx done, marking all outputs for delete")
			r.markAllDelete()
			return
		default:
		}
		pkt, _, err := r.Src.ReadRTP()
		if err != nil {
			logger.Info().Err(err).Msg("relay source ended")
			r.markAllDelete()
			return
		}
		r.forward(pkt, logger)
	}
}

func (r *Relay) forward(pkt *rtp.Packet, logger *zerolog.Logger) {
	r.mu.RLock()
	snapshot := maps.Clone(r.outputs)
	r.mu.RUnlock()

	var dirty []string
	for name, out := range snapshot {
		switch out.State() {
		case OutputDelete:
			dirty = append(dirty, name)
		case OutputMuted:
		case OutputOk:
			if err := out.W.WriteRTP(pkt); err != nil {
				logger.Warn().Err(err).Str("output", name).Msg("relay write failed, dropping output")
				out.MarkDelete()
				dirty = append(dirty, name)
			}
		}
	}

	// Cleanup is done outside the RLock.
	if len(dirty) > 0 {
		r.cleanupDeleted(dirty)
	}
}

func (r *Relay) cleanupDeleted(dirty []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, name := range dirty {
		if out, ok := r.outputs[name]; ok && out.State() == OutputDelete {
			delete(r.outputs, name)
		}
	}
}

func (r *Relay) markAllDelete() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, out := range r.outputs {
		out.MarkDelete()
	}
}

func (r *Relay) AddOutput(name string, out *Output) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outputs[name] = out
}

func (r *Relay) Output(name string) (*Output, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out, ok := r.outputs[name]
	return out, ok
}

func (r *Relay) OutputCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.outputs)
}
