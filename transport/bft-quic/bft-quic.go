package bftquic

import (
	"context"
	"crypto/tls"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/quic-go/quic-go"
	"golang.org/x/sync/errgroup"

	"github.com/usernamenenad/bft-benor/core"
)

const (
	alpn = "bft-benor"

	// Protocol messages travel on one bidirectional stream per peer, announced
	// by this header byte.
	streamTypeControl byte = 0x00

	heartbeatMagic byte = 0xBF

	maxFrameSize = 1 << 20
)

// Codec serializes and deserializes messages for transport over the wire.
type Codec interface {
	Marshal(msg core.Message) ([]byte, error)
	Unmarshal(data []byte) (core.Message, error)
}

// HeartbeatMessage represents a liveness probe received via QUIC datagrams.
type HeartbeatMessage struct {
	From      core.NodeId
	Timestamp time.Time
}

type peerStream struct {
	conn   *quic.Conn
	stream *quic.Stream
	mu     sync.Mutex
}

// QUICTransport implements core.Transport over QUIC. Protocol messages use a
// reliable stream per peer; heartbeats use unreliable datagrams (RFC 9221).
type QUICTransport struct {
	nodeId core.NodeId
	codec  Codec

	quicTr   *quic.Transport
	udpConn  *net.UDPConn
	listener *quic.Listener

	peers    map[core.NodeId]string
	outPeers map[core.NodeId]*peerStream
	outMu    sync.RWMutex

	inConns []*quic.Conn
	inMu    sync.Mutex

	msgCh   chan core.Message
	readyCh chan struct{}

	lastHeartbeat map[core.NodeId]time.Time
	heartbeatMu   sync.RWMutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger *slog.Logger
}

// NewQUICTransport creates a QUIC transport and starts listening for connections.
// Use ":0" for listenAddr to let the OS assign a random port.
func NewQUICTransport(
	nodeId core.NodeId,
	listenAddr string,
	codec Codec,
	logger *slog.Logger,
) (*QUICTransport, error) {
	if logger == nil {
		logger = slog.Default()
	}

	cert, err := GenerateSelfSignedCert()
	if err != nil {
		return nil, fmt.Errorf("generate TLS cert: %w", err)
	}

	serverTLS := &tls.Config{
		Certificates: []tls.Certificate{cert},
		NextProtos:   []string{alpn},
	}

	udpAddr, err := net.ResolveUDPAddr("udp", listenAddr)
	if err != nil {
		return nil, fmt.Errorf("resolve udp addr: %w", err)
	}

	udpConn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("listen udp: %w", err)
	}

	qtr := &quic.Transport{Conn: udpConn}

	listener, err := qtr.Listen(serverTLS, &quic.Config{
		EnableDatagrams:    true,
		MaxIncomingStreams: 10,
		MaxIdleTimeout:     30 * time.Second,
		KeepAlivePeriod:    10 * time.Second,
	})
	if err != nil {
		udpConn.Close()
		return nil, fmt.Errorf("quic listen: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	t := &QUICTransport{
		nodeId:        nodeId,
		codec:         codec,
		quicTr:        qtr,
		udpConn:       udpConn,
		listener:      listener,
		outPeers:      make(map[core.NodeId]*peerStream),
		msgCh:         make(chan core.Message, 256),
		readyCh:       make(chan struct{}),
		lastHeartbeat: make(map[core.NodeId]time.Time),
		ctx:           ctx,
		cancel:        cancel,
		logger:        logger,
	}

	t.wg.Add(1)
	go t.acceptLoop()

	t.logger.Info("QUIC transport listening", "id", nodeId, "addr", udpConn.LocalAddr().String())

	return t, nil
}

// Addr returns the local UDP address the transport is listening on.
func (t *QUICTransport) Addr() string {
	return t.udpConn.LocalAddr().String()
}

// Connect starts establishing outgoing QUIC connections to all peers.
func (t *QUICTransport) Connect(peers map[core.NodeId]string) {
	t.peers = peers
	if len(peers) == 0 {
		close(t.readyCh)
		return
	}
	t.wg.Add(1)
	go t.connectToPeers()
}

func (t *QUICTransport) connectToPeers() {
	defer t.wg.Done()

	var connectWg sync.WaitGroup
	for peerId, peerAddr := range t.peers {
		connectWg.Add(1)
		go func(id core.NodeId, addr string) {
			defer connectWg.Done()
			t.connectWithRetry(id, addr)
		}(peerId, peerAddr)
	}

	connectWg.Wait()
	select {
	case <-t.ctx.Done():
		return
	default:
	}
	close(t.readyCh)
	t.logger.Info("all QUIC peers connected", "id", t.nodeId)
}

func (t *QUICTransport) connectWithRetry(peerId core.NodeId, peerAddr string) {
	clientTLS := &tls.Config{
		InsecureSkipVerify: true,
		NextProtos:         []string{alpn},
	}
	quicConf := &quic.Config{
		EnableDatagrams:    true,
		MaxIncomingStreams: 10,
	}

	for {
		select {
		case <-t.ctx.Done():
			return
		default:
		}

		udpAddr, err := net.ResolveUDPAddr("udp", peerAddr)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			continue
		}

		conn, err := t.quicTr.Dial(t.ctx, udpAddr, clientTLS, quicConf)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			continue
		}

		stream, err := conn.OpenStreamSync(t.ctx)
		if err != nil {
			conn.CloseWithError(0, "failed to open control stream")
			time.Sleep(50 * time.Millisecond)
			continue
		}
		if _, err := stream.Write([]byte{streamTypeControl}); err != nil {
			conn.CloseWithError(0, "failed to write control header")
			time.Sleep(50 * time.Millisecond)
			continue
		}

		t.outMu.Lock()
		t.outPeers[peerId] = &peerStream{conn: conn, stream: stream}
		t.outMu.Unlock()

		t.logger.Debug("connected to QUIC peer", "id", t.nodeId, "peer", peerId)
		return
	}
}

func (t *QUICTransport) acceptLoop() {
	defer t.wg.Done()

	for {
		conn, err := t.listener.Accept(t.ctx)
		if err != nil {
			select {
			case <-t.ctx.Done():
			default:
				t.logger.Error("QUIC accept error", "error", err)
			}
			return
		}

		t.inMu.Lock()
		t.inConns = append(t.inConns, conn)
		t.inMu.Unlock()

		t.wg.Add(1)
		go t.handleConnection(conn)
	}
}

func (t *QUICTransport) handleConnection(conn *quic.Conn) {
	defer t.wg.Done()

	t.wg.Add(1)
	go t.handleDatagrams(conn)

	for {
		stream, err := conn.AcceptStream(t.ctx)
		if err != nil {
			return
		}

		t.wg.Add(1)
		go t.handleStream(stream)
	}
}

func (t *QUICTransport) handleStream(stream *quic.Stream) {
	defer t.wg.Done()
	defer stream.Close()

	var typeBuf [1]byte
	if _, err := io.ReadFull(stream, typeBuf[:]); err != nil {
		t.logger.Error("read stream type", "error", err)
		return
	}
	if typeBuf[0] != streamTypeControl {
		t.logger.Warn("unknown stream type", "type", typeBuf[0])
		return
	}

	for {
		msg, err := readMessage(stream, t.codec)
		if err != nil {
			if err == io.EOF {
				return
			}
			select {
			case <-t.ctx.Done():
				return
			default:
				// Suppress expected errors during transport shutdown
				if isClosingError(err) {
					return
				}
				t.logger.Error("read message error", "error", err)
				return
			}
		}

		select {
		case t.msgCh <- msg:
		case <-t.ctx.Done():
			return
		}
	}
}

func (t *QUICTransport) handleDatagrams(conn *quic.Conn) {
	defer t.wg.Done()

	ds := conn.ConnectionState().SupportsDatagrams
	if !ds.Remote || !ds.Local {
		return
	}

	for {
		data, err := conn.ReceiveDatagram(t.ctx)
		if err != nil {
			return
		}

		hb, err := decodeHeartbeat(data)
		if err != nil {
			continue
		}

		t.heartbeatMu.Lock()
		t.lastHeartbeat[hb.From] = hb.Timestamp
		t.heartbeatMu.Unlock()
	}
}

// Broadcast writes msg to every peer stream concurrently and delivers a copy to self.
func (t *QUICTransport) Broadcast(ctx context.Context, msg core.Message) error {
	select {
	case <-t.readyCh:
	case <-ctx.Done():
		return ctx.Err()
	}

	data, err := t.codec.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	t.outMu.RLock()
	peers := make(map[core.NodeId]*peerStream, len(t.outPeers))
	for id, ps := range t.outPeers {
		peers[id] = ps
	}
	t.outMu.RUnlock()

	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	for id, ps := range peers {
		g.Go(func() error {
			if err := ps.write(data); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("send to %d: %w", id, err))
				mu.Unlock()
			}
			return nil
		})
	}

	// Deliver to self
	select {
	case t.msgCh <- msg:
	case <-ctx.Done():
		return ctx.Err()
	}

	g.Wait()
	return errors.Join(errs...)
}

// Send sends msg to a specific peer.
func (t *QUICTransport) Send(ctx context.Context, nodeId core.NodeId, msg core.Message) error {
	if nodeId == t.nodeId {
		select {
		case t.msgCh <- msg:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	select {
	case <-t.readyCh:
	case <-ctx.Done():
		return ctx.Err()
	}

	t.outMu.RLock()
	ps, ok := t.outPeers[nodeId]
	t.outMu.RUnlock()

	if !ok {
		return fmt.Errorf("no QUIC connection to %d", nodeId)
	}

	data, err := t.codec.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	return ps.write(data)
}

// Subscribe returns the channel delivering incoming messages.
func (t *QUICTransport) Subscribe() <-chan core.Message {
	return t.msgCh
}

// WaitForReady blocks until all outgoing peer connections are established.
func (t *QUICTransport) WaitForReady() {
	<-t.readyCh
}

// StartHeartbeat begins sending periodic heartbeat datagrams to all peers.
func (t *QUICTransport) StartHeartbeat(interval time.Duration) {
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-t.ctx.Done():
				return
			case <-ticker.C:
				t.sendHeartbeat()
			}
		}
	}()
}

// IsAlive checks if a peer has sent a heartbeat within the given timeout.
func (t *QUICTransport) IsAlive(nodeId core.NodeId, timeout time.Duration) bool {
	t.heartbeatMu.RLock()
	last, ok := t.lastHeartbeat[nodeId]
	t.heartbeatMu.RUnlock()

	if !ok {
		return false
	}
	return time.Since(last) < timeout
}

// Close shuts down the QUIC transport, closing all connections and the listener.
func (t *QUICTransport) Close() error {
	t.cancel()

	if t.listener != nil {
		t.listener.Close()
	}

	t.inMu.Lock()
	for _, conn := range t.inConns {
		conn.CloseWithError(0, "transport closing")
	}
	t.inMu.Unlock()

	t.outMu.Lock()
	for _, ps := range t.outPeers {
		ps.conn.CloseWithError(0, "transport closing")
	}
	t.outMu.Unlock()

	t.wg.Wait()

	if t.quicTr != nil {
		return t.quicTr.Close()
	}
	return nil
}

func (ps *peerStream) write(data []byte) error {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	return writeFrame(ps.stream, data)
}

func (t *QUICTransport) sendHeartbeat() {
	t.outMu.RLock()
	defer t.outMu.RUnlock()

	data := encodeHeartbeat(t.nodeId)
	for _, ps := range t.outPeers {
		ds := ps.conn.ConnectionState().SupportsDatagrams
		if ds.Remote && ds.Local {
			_ = ps.conn.SendDatagram(data)
		}
	}
}

// writeFrame writes a length-prefixed payload.
func writeFrame(w io.Writer, data []byte) error {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(data)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("write length: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write data: %w", err)
	}
	return nil
}

// readMessage reads a length-prefixed, codec-encoded message.
func readMessage(r io.Reader, codec Codec) (core.Message, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}

	length := binary.BigEndian.Uint32(lenBuf[:])
	if length > maxFrameSize {
		return nil, fmt.Errorf("frame of %d bytes exceeds limit", length)
	}
	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, err
	}

	return codec.Unmarshal(data)
}

// Heartbeat datagram format: magic(1) + nodeId(8) + timestamp(8)
func encodeHeartbeat(nodeId core.NodeId) []byte {
	buf := make([]byte, 1+8+8)
	buf[0] = heartbeatMagic
	binary.BigEndian.PutUint64(buf[1:9], uint64(nodeId))
	binary.BigEndian.PutUint64(buf[9:], uint64(time.Now().UnixNano()))
	return buf
}

func decodeHeartbeat(data []byte) (HeartbeatMessage, error) {
	if len(data) != 17 || data[0] != heartbeatMagic {
		return HeartbeatMessage{}, fmt.Errorf("invalid heartbeat")
	}
	return HeartbeatMessage{
		From:      core.NodeId(binary.BigEndian.Uint64(data[1:9])),
		Timestamp: time.Unix(0, int64(binary.BigEndian.Uint64(data[9:]))),
	}, nil
}

func isClosingError(err error) bool {
	var appErr *quic.ApplicationError
	return errors.As(err, &appErr)
}
