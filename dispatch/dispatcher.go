// Package dispatch implements the RPC dispatch/correlation layer: a
// single-writer, single-reader arbiter over one transport that owns the
// in-flight call table, matches incoming packets to pending calls, and
// constructs outgoing REQUEST/CLIENT_ERROR packets.
package dispatch

import (
	"context"
	"log"
	"sync"

	"maestro/frame"
	"maestro/middleware"
	"maestro/packet"
	"maestro/status"
)

// Dispatcher arbitrates all packet I/O on one transport for one logical
// channel. Callers submit and cancel through the Dispatcher by a
// channelID/serviceID/methodID/callID key; a *call never points back at
// the Dispatcher. A Stream does hold its *call, to read that call's
// delivery channels directly.
type Dispatcher struct {
	transport Transport
	channelID uint32

	maxFrameSize    int
	streamQueueSize int
	logger          *log.Logger
	chain           middleware.Middleware

	writeMu sync.Mutex

	mu         sync.Mutex
	calls      map[callKey]*call
	nextCallID uint32

	closed    chan struct{}
	closeOnce sync.Once
	closeErr  *status.Error
}

// New creates a Dispatcher bound to transport and channelID, and starts its
// reader goroutine. channelID must be non-zero.
func New(transport Transport, channelID uint32, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		transport: transport,
		channelID: channelID,
		calls:     make(map[callKey]*call),
		closed:    make(chan struct{}),
	}
	defaultOptions(d)
	for _, opt := range opts {
		opt(d)
	}

	go d.readLoop()
	return d
}

// Close tears down the dispatcher: every outstanding call observes
// TransportClosed, further submissions fail immediately, and the
// underlying transport is closed.
func (d *Dispatcher) Close() error {
	d.teardown(status.TransportClosed(nil))
	return d.transport.Close()
}

// CallUnary submits a unary request and blocks until completion,
// cancellation, context expiry, or transport loss.
func (d *Dispatcher) CallUnary(ctx context.Context, serviceID, methodID uint32, payload []byte) ([]byte, error) {
	handler := middleware.HandlerFunc(func(ctx context.Context, req *middleware.Request) (*middleware.Response, error) {
		return d.doUnary(ctx, req.ServiceID, req.MethodID, req.Payload)
	})
	if d.chain != nil {
		handler = d.chain(handler)
	}

	resp, err := handler(ctx, &middleware.Request{ServiceID: serviceID, MethodID: methodID, Payload: payload})
	if err != nil {
		return nil, err
	}
	return resp.Payload, nil
}

func (d *Dispatcher) doUnary(ctx context.Context, serviceID, methodID uint32, payload []byte) (*middleware.Response, error) {
	select {
	case <-d.closed:
		return nil, d.closeErrOrDefault()
	default:
	}

	c := newUnaryCall(callKey{})
	key := d.register(c, serviceID, methodID)

	req := &packet.RpcPacket{
		Type:      packet.Request,
		ChannelID: d.channelID,
		ServiceID: serviceID,
		MethodID:  methodID,
		Payload:   payload,
		CallID:    key.callID,
	}
	// The write may block on a congested transport; ctx still bounds it.
	written := make(chan error, 1)
	go func() { written <- d.writePacket(req) }()
	select {
	case err := <-written:
		if err != nil {
			d.removeCall(key)
			return nil, err
		}
	case <-ctx.Done():
		err := status.Cancel(ctx.Err().Error())
		go d.cancelCall(key, err)
		return nil, err
	}

	select {
	case t := <-c.resultCh:
		if t.err != nil {
			return nil, t.err
		}
		return &middleware.Response{Payload: t.payload}, nil

	case <-ctx.Done():
		err := status.Cancel(ctx.Err().Error())
		d.cancelCall(key, err)
		return nil, err

	case <-d.closed:
		return nil, d.closeErrOrDefault()
	}
}

// CallServerStream opens a server-stream call and returns a Stream the
// caller pulls items from. The REQUEST packet is written before this
// returns; items arrive asynchronously as the reader processes the
// transport.
func (d *Dispatcher) CallServerStream(ctx context.Context, serviceID, methodID uint32, payload []byte) (*Stream, error) {
	select {
	case <-d.closed:
		return nil, d.closeErrOrDefault()
	default:
	}

	c := newStreamCall(callKey{}, d.streamQueueSize)
	key := d.register(c, serviceID, methodID)

	req := &packet.RpcPacket{
		Type:      packet.Request,
		ChannelID: d.channelID,
		ServiceID: serviceID,
		MethodID:  methodID,
		Payload:   payload,
		CallID:    key.callID,
	}
	if err := d.writePacket(req); err != nil {
		d.removeCall(key)
		return nil, err
	}

	return newStream(d, c), nil
}

// register allocates a fresh call_id (monotonic, wrapping past zero,
// refusing to reuse any key of a currently-live call) and admits c into
// the call table under it.
func (d *Dispatcher) register(c *call, serviceID, methodID uint32) callKey {
	d.mu.Lock()
	defer d.mu.Unlock()

	for {
		d.nextCallID++
		if d.nextCallID == 0 {
			d.nextCallID = 1
		}
		key := callKey{channelID: d.channelID, serviceID: serviceID, methodID: methodID, callID: d.nextCallID}
		if _, exists := d.calls[key]; exists {
			continue
		}
		c.key = key
		d.calls[key] = c
		return key
	}
}

func (d *Dispatcher) removeCall(key callKey) {
	d.mu.Lock()
	delete(d.calls, key)
	d.mu.Unlock()
}

// cancelCall removes key from the table, completes it locally with err,
// and best-effort notifies the peer with a CLIENT_ERROR. The local
// transition never waits for a peer acknowledgment.
func (d *Dispatcher) cancelCall(key callKey, err *status.Error) {
	d.mu.Lock()
	c, found := d.calls[key]
	if found {
		delete(d.calls, key)
	}
	d.mu.Unlock()

	if !found {
		return
	}
	c.complete(terminal{err: err})

	notice := &packet.RpcPacket{
		Type:      packet.ClientError,
		ChannelID: d.channelID,
		ServiceID: key.serviceID,
		MethodID:  key.methodID,
		CallID:    key.callID,
		Status:    uint32(status.Cancelled),
	}
	_ = d.writePacket(notice)
}

func (d *Dispatcher) writePacket(pkt *packet.RpcPacket) error {
	data := pkt.Marshal()
	if len(data) > d.maxFrameSize {
		return status.New(status.KindTooLarge, status.ResourceExhausted, "encoded packet exceeds maximum frame size")
	}
	wire := frame.Encode(data)

	d.writeMu.Lock()
	defer d.writeMu.Unlock()

	if _, err := d.transport.Write(wire); err != nil {
		wrapped := status.TransportClosed(err)
		d.teardown(wrapped)
		return wrapped
	}
	return nil
}

func (d *Dispatcher) readLoop() {
	dec := frame.NewDecoder(d.maxFrameSize)
	buf := make([]byte, 4096)

	for {
		n, err := d.transport.Read(buf)
		if n > 0 {
			for _, payload := range dec.Push(buf[:n]) {
				d.handleFrame(payload)
			}
		}
		if err != nil {
			d.teardown(status.TransportClosed(err))
			return
		}
	}
}

func (d *Dispatcher) handleFrame(payload []byte) {
	pkt, err := packet.Unmarshal(payload)
	if err != nil {
		d.logger.Printf("dispatch: dropping undecodable packet: %v", err)
		return
	}
	d.handlePacket(pkt)
}

func (d *Dispatcher) handlePacket(pkt packet.RpcPacket) {
	if pkt.ChannelID != 0 && pkt.ChannelID != d.channelID {
		d.logger.Printf("dispatch: dropping packet for foreign channel %d", pkt.ChannelID)
		return
	}

	key := callKey{channelID: d.channelID, serviceID: pkt.ServiceID, methodID: pkt.MethodID, callID: pkt.CallID}

	terminalType := pkt.Type == packet.Response || pkt.Type == packet.ServerError

	d.mu.Lock()
	c, found := d.calls[key]
	if found && terminalType {
		delete(d.calls, key)
	}
	d.mu.Unlock()

	if !found {
		// Already completed, cancelled, or never existed: drop silently,
		// including the "late RESPONSE after local cancel" tie-break.
		return
	}

	switch pkt.Type {
	case packet.Response:
		// RESPONSE is terminal for both call kinds: a unary result, or a
		// server stream's clean end (no payload expected; if present, it is
		// ignored, matching a stream's "no payload on terminal" delivery).
		code := status.Code(pkt.Status)
		if code != status.Ok {
			c.complete(terminal{err: status.RPC(code)})
			return
		}
		if c.kind == Unary {
			c.complete(terminal{payload: pkt.Payload})
		} else {
			c.complete(terminal{})
		}

	case packet.ServerError:
		c.complete(terminal{err: status.RPC(status.Code(pkt.Status))})

	case packet.ServerStream:
		if c.kind != ServerStream {
			d.logger.Printf("dispatch: protocol violation: SERVER_STREAM for a unary call %v", key)
			return
		}
		c.pushItem(pkt.Payload)

	default:
		d.logger.Printf("dispatch: ignoring unexpected packet type %s for %v", pkt.Type, key)
	}
}

// teardown fans TransportClosed out to every outstanding call exactly
// once, and marks the dispatcher closed so further submissions fail fast.
func (d *Dispatcher) teardown(err *status.Error) {
	d.closeOnce.Do(func() {
		d.closeErr = err
		d.logger.Printf("dispatch: transport teardown: %v", err)

		d.mu.Lock()
		calls := d.calls
		d.calls = make(map[callKey]*call)
		d.mu.Unlock()

		close(d.closed)

		for _, c := range calls {
			c.complete(terminal{err: err})
		}
	})
}

func (d *Dispatcher) closeErrOrDefault() *status.Error {
	if d.closeErr != nil {
		return d.closeErr
	}
	return status.TransportClosed(nil)
}
