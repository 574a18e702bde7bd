package replication

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/fractalforge/ecsruntime/infrastructure/config"
	"github.com/fractalforge/ecsruntime/infrastructure/errors"
	"github.com/fractalforge/ecsruntime/infrastructure/logging"
	"github.com/fractalforge/ecsruntime/infrastructure/metrics"
	"github.com/fractalforge/ecsruntime/infrastructure/ratelimit"
	"github.com/fractalforge/ecsruntime/internal/network"
	"github.com/fractalforge/ecsruntime/pkg/ecsworld"
	"github.com/fractalforge/ecsruntime/pkg/handle"
)

// RPCHandler services one named procedure invoked by a client.
type RPCHandler func(peer PeerID, args json.RawMessage) (interface{}, error)

// InputHandler receives a client's input samples as they arrive.
type InputHandler func(peer PeerID, sequence uint64, payload []byte)

// peerConn is one connected peer's transport plus handshake/RTT bookkeeping.
// Unreliable sends are shaped by a per-peer limiter: an unreliable batch
// over the peer's budget is dropped, not queued for a later tick.
type peerConn struct {
	id        PeerID
	transport network.TransportPeer
	limiter   *ratelimit.PeerLimiter

	mu               sync.Mutex
	lastPingSentTick uint64
	rtt              time.Duration
}

// Host runs the authoritative side of the replication layer: it owns
// network_id assignment, the fixed-tick collect/serialize/batch/send loop,
// and authority arbitration for Transferable entities.
type Host struct {
	world   *ecsworldAdapter
	spec    *Spec
	cfg     config.EngineConfig
	metrics *metrics.Metrics
	logger  *logging.Logger

	arbiter *arbiter
	limiter *rate.Limiter

	rpcMu       sync.Mutex
	rpcHandlers map[string]RPCHandler
	onInput     InputHandler

	peersMu sync.Mutex
	peers   map[PeerID]*peerConn

	localTick uint64
}

// NewHost creates a Host bound to w. w must not already be driven by another
// replication Host or Client.
func NewHost(w *ecsworld.World, spec *Spec, cfg config.EngineConfig, m *metrics.Metrics, logger *logging.Logger) *Host {
	return &Host{
		world:       &ecsworldAdapter{World: w, networked: newRegistry()},
		spec:        spec,
		cfg:         cfg,
		metrics:     m,
		logger:      logger,
		arbiter:     newArbiter(),
		limiter:     rate.NewLimiter(rate.Every(time.Second), 1),
		rpcHandlers: make(map[string]RPCHandler),
		peers:       make(map[PeerID]*peerConn),
	}
}

// RegisterRPC binds handler to a method name callable by clients over the
// reliable channel. Re-registering a name overwrites the prior handler.
func (h *Host) RegisterRPC(method string, handler RPCHandler) {
	h.rpcMu.Lock()
	defer h.rpcMu.Unlock()
	h.rpcHandlers[method] = handler
}

// SetInputHandler installs the callback invoked for each InputCommand a
// client sends. The host acknowledges every applied sequence on the
// reliable channel regardless of whether a handler is installed.
func (h *Host) SetInputHandler(fn InputHandler) {
	h.rpcMu.Lock()
	defer h.rpcMu.Unlock()
	h.onInput = fn
}

// NetworkEntity assigns e a NetworkID and begins replicating it; only the
// authority assigns network_ids. The spawn is announced to every connected
// peer on the reliable channel.
func (h *Host) NetworkEntity(e handle.Handle, authority Authority, ownerPeer PeerID) *NetworkedState {
	st := h.world.networked.networkEntity(e, authority, HostPeerID, ownerPeer)
	if h.metrics != nil {
		h.metrics.ReplicatedEntities.Set(float64(len(h.world.networked.byHandle)))
	}
	h.broadcast(context.Background(), PacketSpawn, network.ChannelReliable, h.spawnMessageFor(e, st))
	return st
}

// DespawnEntity stops replicating e, announces the despawn to every peer,
// and releases its NetworkID.
func (h *Host) DespawnEntity(e handle.Handle) {
	st, ok := h.world.networked.lookupHandle(e)
	if !ok {
		return
	}
	h.broadcast(context.Background(), PacketDespawn, network.ChannelReliable, DespawnMessage{NetworkID: st.NetworkID})
	h.world.networked.forget(e)
	if h.metrics != nil {
		h.metrics.ReplicatedEntities.Set(float64(len(h.world.networked.byHandle)))
	}
}

// spawnMessageFor captures e's full replicated state — every registered
// replicated component it currently carries, dirty or not — for the initial
// Spawn a joining or existing peer needs before deltas make sense.
func (h *Host) spawnMessageFor(e handle.Handle, st *NetworkedState) SpawnMessage {
	var blobs []ComponentBlob
	for _, typ := range h.spec.Types() {
		tspec, ok := h.spec.Lookup(typ)
		if !ok || tspec.Mode == ModeNone {
			continue
		}
		info, ok := h.world.Types.LookupByID(typ)
		if !ok || info.Serialize == nil {
			continue
		}
		if !h.world.Store.Has(e, typ) {
			continue
		}
		value, err := h.world.Store.Read(e, typ)
		if err != nil {
			continue
		}
		data, err := info.Serialize(value)
		if err != nil {
			continue
		}
		blobs = append(blobs, ComponentBlob{Type: typ, Data: data})
	}
	sort.Slice(blobs, func(i, j int) bool { return blobs[i].Type < blobs[j].Type })
	return SpawnMessage{NetworkID: st.NetworkID, Components: blobs}
}

// Serve accepts inbound peers on ln and runs the fixed-tick send loop until
// ctx is cancelled.
func (h *Host) Serve(ctx context.Context, ln network.Listener) error {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		h.tickLoop(ctx)
	}()

	for {
		peer, err := ln.Accept(ctx)
		if err != nil {
			wg.Wait()
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.handlePeer(ctx, peer)
		}()
	}
}

func (h *Host) handlePeer(ctx context.Context, transport network.TransportPeer) {
	pc, err := h.handshake(ctx, transport)
	if err != nil {
		if h.logger != nil {
			h.logger.WithFields(map[string]interface{}{"error": err.Error(), "remote": transport.RemoteAddr()}).Warn("replication: handshake failed")
		}
		_ = transport.Close()
		return
	}

	h.peersMu.Lock()
	h.peers[pc.id] = pc
	h.peersMu.Unlock()

	h.sendJoinSnapshot(ctx, pc)
	h.receiveLoop(ctx, pc)

	h.peersMu.Lock()
	delete(h.peers, pc.id)
	h.peersMu.Unlock()
	if h.metrics != nil {
		h.metrics.DisconnectsTotal.WithLabelValues("peer_closed").Inc()
	}
}

// handshake runs the host side of the HandshakeRequest/Response/Complete
// exchange, gating on ProtocolVersion and bounding the whole exchange by
// cfg.HandshakeTimeout.
func (h *Host) handshake(ctx context.Context, transport network.TransportPeer) (*peerConn, error) {
	ctx, cancel := context.WithTimeout(ctx, h.cfg.HandshakeTimeout)
	defer cancel()

	ch, body, err := transport.Receive(ctx)
	if err != nil {
		return nil, err
	}
	packets, err := decodeBatch(body)
	if err != nil || len(packets) == 0 || packets[0].typ != PacketHandshakeRequest {
		return nil, errors.MalformedPacket("expected handshake request")
	}
	var req HandshakeRequest
	if err := decodeBody(packets[0].body, &req); err != nil {
		return nil, err
	}
	if req.ProtocolVersion != h.cfg.ProtocolVersion {
		resp, _ := encodePacket(PacketHandshakeResponse, ch, HandshakeResponse{Accepted: false, Reason: string(DisconnectUnsupportedProtocol)})
		_ = transport.Send(ctx, ch, resp)
		if bye, err := encodePacket(PacketDisconnect, network.ChannelReliable, DisconnectMessage{Reason: DisconnectUnsupportedProtocol}); err == nil {
			_ = transport.Send(ctx, network.ChannelReliable, bye)
		}
		return nil, errors.ProtocolVersionMismatch(h.cfg.ProtocolVersion, req.ProtocolVersion)
	}

	h.peersMu.Lock()
	peerID := h.world.networked.nextPeerID()
	h.peersMu.Unlock()

	resp, err := encodePacket(PacketHandshakeResponse, ch, HandshakeResponse{Accepted: true, PeerID: peerID, ServerTick: h.localTick})
	if err != nil {
		return nil, err
	}
	if err := transport.Send(ctx, ch, resp); err != nil {
		return nil, err
	}

	_, completeBody, err := transport.Receive(ctx)
	if err != nil {
		return nil, err
	}
	completePackets, err := decodeBatch(completeBody)
	if err != nil || len(completePackets) == 0 || completePackets[0].typ != PacketHandshakeComplete {
		return nil, errors.MalformedPacket("expected handshake complete")
	}

	return &peerConn{
		id:        peerID,
		transport: transport,
		limiter: ratelimit.New(ratelimit.Config{
			PacketsPerSecond: h.cfg.ReplicationTickRate * 8,
			Burst:            int(h.cfg.ReplicationTickRate * 16),
		}),
	}, nil
}

// sendJoinSnapshot hands a freshly connected peer the full networked world:
// one reliable Spawn per networked entity, so subsequent deltas resolve
// against known network_ids instead of sitting in the spawn buffer.
func (h *Host) sendJoinSnapshot(ctx context.Context, pc *peerConn) {
	for e, st := range h.world.networked.byHandle {
		encoded, err := encodePacket(PacketSpawn, network.ChannelReliable, h.spawnMessageFor(e, st))
		if err != nil {
			continue
		}
		_ = pc.transport.Send(ctx, network.ChannelReliable, encoded)
	}
}

// receiveLoop handles inbound packets from one peer for the lifetime of the
// connection: authority requests, pong RTT samples, and disconnect.
func (h *Host) receiveLoop(ctx context.Context, pc *peerConn) {
	for {
		_, body, err := pc.transport.Receive(ctx)
		if err != nil {
			return
		}
		packets, err := decodeBatch(body)
		if err != nil {
			continue
		}
		for _, p := range packets {
			h.handlePacket(ctx, pc, p)
		}
	}
}

func (h *Host) handlePacket(ctx context.Context, pc *peerConn, p packet) {
	switch p.typ {
	case PacketAuthorityRequest:
		var msg AuthorityRequestMessage
		if err := decodeBody(p.body, &msg); err != nil {
			return
		}
		e, ok := h.world.networked.lookupID(msg.NetworkID)
		if !ok {
			return
		}
		st, _ := h.world.networked.lookupHandle(e)
		if h.arbiter.requestAuthority(st, pc.id) {
			h.broadcast(ctx, PacketAuthorityChange, network.ChannelReliable, AuthorityChangeMessage{NetworkID: msg.NetworkID, AuthorityPeer: pc.id})
		}
	case PacketPong:
		var msg PongMessage
		if err := decodeBody(p.body, &msg); err != nil {
			return
		}
		pc.mu.Lock()
		if msg.EchoedTick == pc.lastPingSentTick {
			pc.rtt = time.Duration(h.localTick-msg.EchoedTick) * defaultTickInterval(h.cfg.ReplicationTickRate)
		}
		pc.mu.Unlock()
	case PacketInputCommand:
		var msg InputCommandMessage
		if err := decodeBody(p.body, &msg); err != nil {
			return
		}
		h.rpcMu.Lock()
		fn := h.onInput
		h.rpcMu.Unlock()
		if fn != nil {
			fn(pc.id, msg.Sequence, msg.Payload)
		}
		if ack, err := encodePacket(PacketInputAck, network.ChannelReliable, InputAckMessage{Sequence: msg.Sequence}); err == nil {
			_ = pc.transport.Send(ctx, network.ChannelReliable, ack)
		}
	case PacketRPCCall:
		var msg RPCCallMessage
		if err := decodeBody(p.body, &msg); err != nil {
			return
		}
		h.rpcMu.Lock()
		handler, ok := h.rpcHandlers[msg.Method]
		h.rpcMu.Unlock()

		resp := RPCResponseMessage{CallID: msg.CallID}
		if !ok {
			resp.Error = "unknown rpc method: " + msg.Method
		} else if result, err := handler(pc.id, msg.Args); err != nil {
			resp.Error = err.Error()
		} else if result != nil {
			if encoded, err := json.Marshal(result); err != nil {
				resp.Error = err.Error()
			} else {
				resp.Result = encoded
			}
		}
		if encoded, err := encodePacket(PacketRPCResponse, network.ChannelReliable, resp); err == nil {
			_ = pc.transport.Send(ctx, network.ChannelReliable, encoded)
		}
	case PacketDisconnect:
		_ = pc.transport.Close()
	}
}

func (h *Host) broadcast(ctx context.Context, typ PacketType, channel network.Channel, body interface{}) {
	encoded, err := encodePacket(typ, channel, body)
	if err != nil {
		return
	}
	h.peersMu.Lock()
	peers := make([]*peerConn, 0, len(h.peers))
	for _, pc := range h.peers {
		peers = append(peers, pc)
	}
	h.peersMu.Unlock()
	for _, pc := range peers {
		_ = pc.transport.Send(ctx, channel, encoded)
	}
}

// tickLoop drives the fixed-rate Collect/Serialize/Batch/Send pipeline,
// independent of the render tick (default 20Hz).
func (h *Host) tickLoop(ctx context.Context) {
	interval := defaultTickInterval(h.cfg.ReplicationTickRate)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.tick(ctx)
		}
	}
}

func (h *Host) tick(ctx context.Context) {
	h.localTick++
	h.arbiter.resetTick()

	h.world.markDirty(h.spec, h.world.Queries)
	updates := collectDirty(h.world, h.spec)
	orderByPriority(updates, h.spec)
	reliable, unreliable := splitByMode(updates, h.spec)

	h.peersMu.Lock()
	peers := make([]*peerConn, 0, len(h.peers))
	for _, pc := range h.peers {
		peers = append(peers, pc)
	}
	h.peersMu.Unlock()

	relBatches, err := packBatches(reliable, network.ChannelReliable, DefaultMTU)
	if err != nil && h.logger != nil {
		h.logger.WithFields(map[string]interface{}{"error": err.Error()}).Warn("replication: pack reliable batch failed")
	}
	unrelBatches, err := packBatches(unreliable, network.ChannelUnreliable, DefaultMTU)
	if err != nil && h.logger != nil {
		h.logger.WithFields(map[string]interface{}{"error": err.Error()}).Warn("replication: pack unreliable batch failed")
	}

	tickSync, _ := encodePacket(PacketTickSync, network.ChannelUnreliable, TickSyncMessage{ServerTick: h.localTick})

	pingDue := h.limiter.Allow()
	for _, pc := range peers {
		for _, b := range relBatches {
			if err := pc.transport.Send(ctx, network.ChannelReliable, b); err == nil && h.metrics != nil {
				h.metrics.PacketsSent.WithLabelValues("reliable").Inc()
			}
		}
		for _, b := range unrelBatches {
			// Shaped per-peer: past the limiter's budget the remaining
			// unreliable batches drop, the same fate a congested UDP path
			// would hand them.
			if pc.limiter != nil && !pc.limiter.Allow() {
				continue
			}
			if err := pc.transport.Send(ctx, network.ChannelUnreliable, b); err == nil && h.metrics != nil {
				h.metrics.PacketsSent.WithLabelValues("unreliable").Inc()
			}
		}
		if tickSync != nil {
			_ = pc.transport.Send(ctx, network.ChannelUnreliable, tickSync)
		}
		if pingDue {
			pc.mu.Lock()
			pc.lastPingSentTick = h.localTick
			pc.mu.Unlock()
			if encoded, err := encodePacket(PacketPing, network.ChannelUnreliable, PingMessage{SentAtTick: h.localTick}); err == nil {
				_ = pc.transport.Send(ctx, network.ChannelUnreliable, encoded)
			}
		}
	}
}

// Disconnect tears down peerID's connection with reason.
func (h *Host) Disconnect(ctx context.Context, peerID PeerID, reason DisconnectReason) {
	h.peersMu.Lock()
	pc, ok := h.peers[peerID]
	h.peersMu.Unlock()
	if !ok {
		return
	}
	if encoded, err := encodePacket(PacketDisconnect, network.ChannelReliable, DisconnectMessage{Reason: reason}); err == nil {
		_ = pc.transport.Send(ctx, network.ChannelReliable, encoded)
	}
	_ = pc.transport.Close()
}
