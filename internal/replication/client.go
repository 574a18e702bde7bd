package replication

import (
	"context"
	"sync"
	"time"

	"github.com/fractalforge/ecsruntime/infrastructure/config"
	"github.com/fractalforge/ecsruntime/infrastructure/errors"
	"github.com/fractalforge/ecsruntime/infrastructure/logging"
	"github.com/fractalforge/ecsruntime/infrastructure/metrics"
	"github.com/fractalforge/ecsruntime/infrastructure/resilience"
	"github.com/fractalforge/ecsruntime/internal/network"
	"github.com/fractalforge/ecsruntime/pkg/ecsworld"
	"github.com/fractalforge/ecsruntime/pkg/handle"
)

// SpawnFunc creates a local entity for a network_id the client has never
// seen before (the auto-spawn callback).
type SpawnFunc func(id NetworkID) (handle.Handle, error)

// Client runs the non-authoritative side of the replication layer: it
// applies updates from the host's authoritative Collect/Serialize/Batch/Send
// pipeline, buffers updates for not-yet-spawned network_ids, and renders
// Interpolate-tagged components through the snapshot buffer.
type Client struct {
	world   *ecsworldAdapter
	spec    *Spec
	cfg     config.EngineConfig
	metrics *metrics.Metrics
	logger  *logging.Logger

	transport network.TransportPeer
	peerID    PeerID

	interp *interpolationBuffers

	onSpawn SpawnFunc

	mu            sync.Mutex
	localTick     uint64
	pendingSpawns map[NetworkID]*pendingSpawn

	serverTick   uint64
	serverTickAt time.Time

	inputSeq    uint64
	rpcSeq      uint64
	pendingRPCs map[uint64]chan RPCResponseMessage
}

// NewClient creates a Client bound to w, ready to Connect.
func NewClient(w *ecsworld.World, spec *Spec, cfg config.EngineConfig, m *metrics.Metrics, logger *logging.Logger, onSpawn SpawnFunc) *Client {
	return &Client{
		world:         &ecsworldAdapter{World: w, networked: newRegistry()},
		spec:          spec,
		cfg:           cfg,
		metrics:       m,
		logger:        logger,
		interp:        newInterpolationBuffers(cfg.InterpolationBufferSize, cfg.InterpolationDelay),
		onSpawn:       onSpawn,
		pendingSpawns: make(map[NetworkID]*pendingSpawn),
		pendingRPCs:   make(map[uint64]chan RPCResponseMessage),
	}
}

// RegisterLerp binds an interpolation function for a replicated component
// type, used when rendering its Interpolate-tagged snapshots.
func (c *Client) RegisterLerp(spec TypeSpec, fn Lerp) {
	c.interp.registerLerp(spec.Type, fn)
}

// Connect opens a transport with dial, performs the client side of the handshake, and starts
// the receive loop. Blocks until the connection closes or ctx is cancelled.
func (c *Client) Connect(ctx context.Context, dial func(ctx context.Context) (network.TransportPeer, error)) error {
	transport, err := dial(ctx)
	if err != nil {
		return err
	}
	c.transport = transport

	if err := c.handshake(ctx); err != nil {
		_ = transport.Close()
		return err
	}

	c.receiveLoop(ctx)
	return nil
}

func (c *Client) handshake(ctx context.Context) error {
	hctx, cancel := context.WithTimeout(ctx, c.cfg.HandshakeTimeout)
	defer cancel()

	req, err := encodePacket(PacketHandshakeRequest, network.ChannelReliable, HandshakeRequest{ProtocolVersion: c.cfg.ProtocolVersion})
	if err != nil {
		return err
	}
	if err := c.transport.Send(hctx, network.ChannelReliable, req); err != nil {
		return err
	}

	ch, body, err := c.transport.Receive(hctx)
	if err != nil {
		return err
	}
	packets, err := decodeBatch(body)
	if err != nil || len(packets) == 0 || packets[0].typ != PacketHandshakeResponse {
		return errors.MalformedPacket("expected handshake response")
	}
	var resp HandshakeResponse
	if err := decodeBody(packets[0].body, &resp); err != nil {
		return err
	}
	if !resp.Accepted {
		return errors.New(errors.CodeProtocolVersionMismatch, "handshake rejected: "+resp.Reason)
	}
	c.mu.Lock()
	c.peerID = resp.PeerID
	c.serverTick = resp.ServerTick
	c.serverTickAt = time.Now()
	c.mu.Unlock()

	complete, err := encodePacket(PacketHandshakeComplete, ch, HandshakeComplete{PeerID: c.peerID})
	if err != nil {
		return err
	}
	return c.transport.Send(hctx, ch, complete)
}

func (c *Client) receiveLoop(ctx context.Context) {
	for {
		_, body, err := c.transport.Receive(ctx)
		if err != nil {
			if c.metrics != nil {
				c.metrics.DisconnectsTotal.WithLabelValues("host_closed").Inc()
			}
			return
		}
		packets, err := decodeBatch(body)
		if err != nil {
			continue
		}
		c.mu.Lock()
		c.localTick++
		c.evictStalePendingSpawns()
		c.mu.Unlock()

		for _, p := range packets {
			c.handlePacket(ctx, p)
			if c.metrics != nil {
				c.metrics.PacketsReceived.WithLabelValues(p.channel.String()).Inc()
			}
		}
	}
}

func (c *Client) handlePacket(ctx context.Context, p packet) {
	switch p.typ {
	case PacketSpawn:
		var msg SpawnMessage
		if err := decodeBody(p.body, &msg); err != nil {
			return
		}
		c.applySpawn(msg)
	case PacketDespawn:
		var msg DespawnMessage
		if err := decodeBody(p.body, &msg); err != nil {
			return
		}
		c.applyDespawn(msg)
	case PacketEntityUpdate:
		var msg EntityUpdate
		if err := decodeBody(p.body, &msg); err != nil {
			return
		}
		c.applyUpdate(msg)
	case PacketAuthorityChange:
		var msg AuthorityChangeMessage
		if err := decodeBody(p.body, &msg); err != nil {
			return
		}
		if e, ok := c.world.networked.lookupID(msg.NetworkID); ok {
			if st, ok := c.world.networked.lookupHandle(e); ok {
				st.AuthorityPeer = msg.AuthorityPeer
			}
		}
	case PacketPing:
		var msg PingMessage
		if err := decodeBody(p.body, &msg); err != nil {
			return
		}
		pong, err := encodePacket(PacketPong, network.ChannelUnreliable, PongMessage{EchoedTick: msg.SentAtTick})
		if err == nil {
			_ = c.transport.Send(ctx, network.ChannelUnreliable, pong)
		}
	case PacketTickSync:
		var msg TickSyncMessage
		if err := decodeBody(p.body, &msg); err != nil {
			return
		}
		c.mu.Lock()
		if msg.ServerTick > c.serverTick {
			c.serverTick = msg.ServerTick
			c.serverTickAt = time.Now()
		}
		c.mu.Unlock()
	case PacketWorldSnapshot:
		var msg WorldSnapshotMessage
		if err := decodeBody(p.body, &msg); err != nil {
			return
		}
		for _, u := range msg.Entities {
			c.applyUpdate(u)
		}
	case PacketRPCResponse:
		var msg RPCResponseMessage
		if err := decodeBody(p.body, &msg); err != nil {
			return
		}
		c.mu.Lock()
		ch, ok := c.pendingRPCs[msg.CallID]
		delete(c.pendingRPCs, msg.CallID)
		c.mu.Unlock()
		if ok {
			ch <- msg
		}
	case PacketDisconnect:
		_ = c.transport.Close()
	}
}

func (c *Client) applySpawn(msg SpawnMessage) {
	if _, ok := c.world.networked.lookupID(msg.NetworkID); ok {
		c.applyComponents(msg.NetworkID, msg.Components)
		return
	}
	if c.onSpawn == nil {
		return
	}
	e, err := c.onSpawn(msg.NetworkID)
	if err != nil {
		return
	}
	c.world.networked.adoptEntity(msg.NetworkID, e, AuthorityServer, HostPeerID, 0)
	c.applyComponents(msg.NetworkID, msg.Components)
	if c.metrics != nil {
		c.metrics.ReplicatedEntities.Set(float64(len(c.world.networked.byHandle)))
	}
}

func (c *Client) applyDespawn(msg DespawnMessage) {
	e, ok := c.world.networked.lookupID(msg.NetworkID)
	if !ok {
		return
	}
	c.interp.forget(e)
	c.world.networked.forget(e)
	c.world.DestroyEntity(e)
	if c.metrics != nil {
		c.metrics.ReplicatedEntities.Set(float64(len(c.world.networked.byHandle)))
	}
}

// applyUpdate resolves msg's NetworkID to a local handle, buffering it for
// up to SpawnBufferTicks if the entity hasn't spawned locally yet.
func (c *Client) applyUpdate(msg EntityUpdate) {
	if _, ok := c.world.networked.lookupID(msg.NetworkID); ok {
		c.applyComponents(msg.NetworkID, msg.Components)
		return
	}
	c.mu.Lock()
	c.pendingSpawns[msg.NetworkID] = &pendingSpawn{update: msg, bufferedAt: c.localTick}
	c.mu.Unlock()
}

// evictStalePendingSpawns drops buffered updates whose network_id never
// resolved within SpawnBufferTicks, and re-applies any that did resolve
// since they were buffered.
func (c *Client) evictStalePendingSpawns() {
	for id, pending := range c.pendingSpawns {
		if _, ok := c.world.networked.lookupID(id); ok {
			c.applyComponents(id, pending.update.Components)
			delete(c.pendingSpawns, id)
			continue
		}
		if c.localTick-pending.bufferedAt > uint64(c.cfg.SpawnBufferTicks) {
			delete(c.pendingSpawns, id)
		}
	}
}

func (c *Client) applyComponents(networkID NetworkID, blobs []ComponentBlob) {
	e, ok := c.world.networked.lookupID(networkID)
	if !ok {
		return
	}
	st, _ := c.world.networked.lookupHandle(e)
	for _, blob := range blobs {
		info, ok := c.world.Types.LookupByID(blob.Type)
		if !ok || info.Deserialize == nil {
			continue
		}
		value, err := info.Deserialize(blob.Data)
		if err != nil {
			continue
		}

		tspec, hasSpec := c.spec.Lookup(blob.Type)
		if hasSpec && tspec.Interpolate {
			c.interp.push(e, blob.Type, c.localTick, value)
			continue
		}

		if c.world.Store.Has(e, blob.Type) {
			_ = c.world.Store.Write(e, blob.Type, value)
		} else {
			_ = c.world.Store.Attach(e, blob.Type, value)
		}
		if st != nil {
			delete(st.Dirty, blob.Type)
		}
	}
}

// RequestAuthority asks the host to transfer authority over a Transferable
// networked entity to this client.
func (c *Client) RequestAuthority(ctx context.Context, id NetworkID) error {
	encoded, err := encodePacket(PacketAuthorityRequest, network.ChannelReliable, AuthorityRequestMessage{NetworkID: id})
	if err != nil {
		return err
	}
	return c.transport.Send(ctx, network.ChannelReliable, encoded)
}

// InterpolatedValue returns e's rendered value for an Interpolate-tagged
// component type, bracketing the two nearest buffered snapshots around the
// configured InterpolationDelay. ok is false until at least two snapshots
// have arrived.
func (c *Client) InterpolatedValue(e handle.Handle, typ TypeSpec) (interface{}, bool) {
	c.mu.Lock()
	renderTick := c.localTick
	c.mu.Unlock()
	delayTicks := c.interp.delayTicks(c.cfg.ReplicationTickRate)
	if renderTick < delayTicks {
		return nil, false
	}
	return c.interp.sample(e, typ.Type, renderTick-delayTicks)
}

// PeerID returns the peer ID the host assigned this client during handshake.
func (c *Client) PeerID() PeerID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peerID
}

// ServerTick returns the client's current estimate of the host's tick: the
// last TickSync value projected forward by the wall-time elapsed since it
// arrived.
func (c *Client) ServerTick() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	rate := c.cfg.ReplicationTickRate
	if rate <= 0 {
		rate = 20
	}
	elapsed := time.Since(c.serverTickAt)
	return c.serverTick + uint64(elapsed.Seconds()*rate)
}

// SendInput ships one input sample to the host on the unreliable channel,
// returning the sequence number the host will acknowledge via InputAck.
func (c *Client) SendInput(ctx context.Context, payload []byte) (uint64, error) {
	c.mu.Lock()
	c.inputSeq++
	seq := c.inputSeq
	c.mu.Unlock()

	encoded, err := encodePacket(PacketInputCommand, network.ChannelUnreliable, InputCommandMessage{Sequence: seq, Payload: payload})
	if err != nil {
		return 0, err
	}
	return seq, c.transport.Send(ctx, network.ChannelUnreliable, encoded)
}

// CallRPC invokes a host-registered procedure and blocks for its response
// (or ctx cancellation).
func (c *Client) CallRPC(ctx context.Context, method string, args []byte) (RPCResponseMessage, error) {
	c.mu.Lock()
	c.rpcSeq++
	id := c.rpcSeq
	ch := make(chan RPCResponseMessage, 1)
	c.pendingRPCs[id] = ch
	c.mu.Unlock()

	encoded, err := encodePacket(PacketRPCCall, network.ChannelReliable, RPCCallMessage{CallID: id, Method: method, Args: args})
	if err != nil {
		return RPCResponseMessage{}, err
	}
	if err := c.transport.Send(ctx, network.ChannelReliable, encoded); err != nil {
		c.mu.Lock()
		delete(c.pendingRPCs, id)
		c.mu.Unlock()
		return RPCResponseMessage{}, err
	}

	select {
	case resp := <-ch:
		return resp, nil
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pendingRPCs, id)
		c.mu.Unlock()
		return RPCResponseMessage{}, ctx.Err()
	}
}

// ApplyInterpolation lerps every Interpolate-tagged component's delayed
// snapshot into the component store, called once per render frame from the
// main thread. Entities with fewer than two buffered snapshots keep their
// current store value.
func (c *Client) ApplyInterpolation() {
	c.mu.Lock()
	renderTick := c.localTick
	c.mu.Unlock()
	delayTicks := c.interp.delayTicks(c.cfg.ReplicationTickRate)
	if renderTick < delayTicks {
		return
	}
	sampleTick := renderTick - delayTicks

	for e := range c.world.networked.byHandle {
		for _, typ := range c.spec.Types() {
			tspec, ok := c.spec.Lookup(typ)
			if !ok || !tspec.Interpolate {
				continue
			}
			value, ok := c.interp.sample(e, typ, sampleTick)
			if !ok {
				continue
			}
			if c.world.Store.Has(e, typ) {
				_ = c.world.Store.Write(e, typ, value)
			} else {
				_ = c.world.Store.Attach(e, typ, value)
			}
		}
	}
}

// ConnectWithRetry wraps Connect in the reconnect policy: a failed dial or
// handshake retries with jittered backoff, and a run of failures suspends
// dialing for a cooldown instead of hammering the host. The same Redialer
// should be reused across reconnect attempts so the suspension window
// carries over.
func (c *Client) ConnectWithRetry(ctx context.Context, dial func(ctx context.Context) (network.TransportPeer, error), redialer *resilience.Redialer) error {
	if redialer == nil {
		redialer = resilience.NewRedialer(resilience.DefaultDialPolicy())
	}
	return redialer.Run(ctx.Done(), func() error {
		return c.Connect(ctx, dial)
	})
}
