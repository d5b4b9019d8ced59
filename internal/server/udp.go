package server

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/skypro1111/voice-activation-service/internal/config"
	"github.com/skypro1111/voice-activation-service/internal/metrics"
	"github.com/skypro1111/voice-activation-service/internal/protocol"
	"github.com/skypro1111/voice-activation-service/internal/session"
)

const (
	numWorkers      = 4
	workerQueueSize = 256
)

// UDPServer receives TLV packets from capture devices and routes them to
// listening sessions
type UDPServer struct {
	conn     *net.UDPConn
	config   *config.ServerConfig
	logger   *slog.Logger
	sessions *session.Manager
	metrics  *metrics.Metrics

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// One queue per worker; a stream always maps to the same worker so its
	// packets stay in order
	queues []chan *incomingPacket

	packetsReceived  uint64
	packetsProcessed uint64
	parseErrors      uint64
	unknownStream    uint64
	queueDrops       uint64
	mu               sync.RWMutex
}

// incomingPacket represents a received UDP packet with metadata
type incomingPacket struct {
	data       []byte
	remoteAddr *net.UDPAddr
	timestamp  time.Time
}

// ServerStatistics represents server performance metrics
type ServerStatistics struct {
	PacketsReceived  uint64 `json:"packets_received"`
	PacketsProcessed uint64 `json:"packets_processed"`
	ParseErrors      uint64 `json:"parse_errors"`
	UnknownStream    uint64 `json:"unknown_stream"`
	QueueDrops       uint64 `json:"queue_drops"`
	ActiveSessions   uint64 `json:"active_sessions"`
	QueueSize        uint64 `json:"queue_size"`
	QueueCapacity    uint64 `json:"queue_capacity"`
}

// NewUDPServer creates a new UDP server instance
func NewUDPServer(cfg *config.ServerConfig, logger *slog.Logger, sessions *session.Manager, m *metrics.Metrics) *UDPServer {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())

	queues := make([]chan *incomingPacket, numWorkers)
	for i := range queues {
		queues[i] = make(chan *incomingPacket, workerQueueSize)
	}

	return &UDPServer{
		config:   cfg,
		logger:   logger,
		sessions: sessions,
		metrics:  m,
		ctx:      ctx,
		cancel:   cancel,
		queues:   queues,
	}
}

// Start begins listening for UDP packets
func (s *UDPServer) Start() error {
	addr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", s.config.BindAddress, s.config.UDPPort))
	if err != nil {
		return fmt.Errorf("failed to resolve UDP address: %w", err)
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on UDP: %w", err)
	}
	s.conn = conn

	if err := s.conn.SetReadBuffer(s.config.BufferSize); err != nil {
		s.logger.Warn("Failed to set UDP read buffer size",
			slog.Int("buffer_size", s.config.BufferSize),
			slog.String("error", err.Error()))
	}

	s.logger.Info("UDP server started",
		slog.String("address", s.conn.LocalAddr().String()),
		slog.Int("buffer_size", s.config.BufferSize),
		slog.Int("workers", numWorkers))

	for i := range s.queues {
		s.wg.Add(1)
		go s.packetProcessor(i)
	}

	s.wg.Add(1)
	go s.receiveLoop()

	return nil
}

// Addr returns the bound address, or nil before Start
func (s *UDPServer) Addr() net.Addr {
	if s.conn == nil {
		return nil
	}
	return s.conn.LocalAddr()
}

// Stop gracefully stops the UDP server
func (s *UDPServer) Stop() error {
	s.logger.Info("Stopping UDP server...")

	s.cancel()

	// Unblocks the receive loop
	if s.conn != nil {
		if err := s.conn.Close(); err != nil {
			s.logger.Warn("Error closing UDP connection", slog.String("error", err.Error()))
		}
	}

	// Workers exit once the receive loop is gone and their queues drain
	s.wg.Wait()

	stats := s.GetStatistics()
	s.logger.Info("UDP server stopped",
		slog.Uint64("packets_received", stats.PacketsReceived),
		slog.Uint64("packets_processed", stats.PacketsProcessed),
		slog.Uint64("parse_errors", stats.ParseErrors),
		slog.Uint64("queue_drops", stats.QueueDrops))

	return nil
}

// receiveLoop is the main packet receiving loop
func (s *UDPServer) receiveLoop() {
	defer s.wg.Done()
	defer func() {
		for _, q := range s.queues {
			close(q)
		}
	}()

	buffer := make([]byte, max(s.config.BufferSize, protocol.MaxPacketSize))

	for {
		select {
		case <-s.ctx.Done():
			s.logger.Info("Receive loop stopping due to context cancellation")
			return
		default:
		}

		// Periodic deadline so cancellation is noticed
		if err := s.conn.SetReadDeadline(time.Now().Add(1 * time.Second)); err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Error("Failed to set read deadline", slog.String("error", err.Error()))
			continue
		}

		n, remoteAddr, err := s.conn.ReadFromUDP(buffer)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}

			select {
			case <-s.ctx.Done():
				return
			default:
				s.logger.Error("Failed to read UDP packet", slog.String("error", err.Error()))
				continue
			}
		}

		s.mu.Lock()
		s.packetsReceived++
		s.mu.Unlock()
		s.metrics.RecordPacketReceived()

		// The read buffer is reused
		packetData := make([]byte, n)
		copy(packetData, buffer[:n])

		packet := &incomingPacket{
			data:       packetData,
			remoteAddr: remoteAddr,
			timestamp:  time.Now(),
		}

		select {
		case s.queues[workerFor(packetData)] <- packet:
		default:
			s.mu.Lock()
			s.queueDrops++
			s.mu.Unlock()
			s.logger.Warn("Packet processing queue full, dropping packet",
				slog.String("remote_addr", remoteAddr.String()),
				slog.Int("packet_size", n))
		}
	}
}

// workerFor picks the worker queue by stream ID. Packets too short to carry
// a header go to worker 0, where they fail parsing.
func workerFor(data []byte) int {
	if len(data) < protocol.HeaderSize {
		return 0
	}
	return int(binary.BigEndian.Uint32(data[3:7]) % numWorkers)
}

// packetProcessor processes packets from its queue
func (s *UDPServer) packetProcessor(workerID int) {
	defer s.wg.Done()

	s.logger.Debug("Packet processor started", slog.Int("worker_id", workerID))

	for packet := range s.queues[workerID] {
		s.handlePacket(packet, workerID)
	}

	s.logger.Debug("Packet processor stopped", slog.Int("worker_id", workerID))
}

// handlePacket processes a single incoming packet
func (s *UDPServer) handlePacket(packet *incomingPacket, workerID int) {
	parsed, err := protocol.ParsePacket(packet.data)
	if err != nil {
		s.mu.Lock()
		s.parseErrors++
		s.mu.Unlock()
		s.metrics.RecordParseError()

		s.logger.Error("Failed to parse packet",
			slog.String("remote_addr", packet.remoteAddr.String()),
			slog.Int("packet_size", len(packet.data)),
			slog.String("error", err.Error()),
			slog.Int("worker_id", workerID))
		return
	}

	s.mu.Lock()
	s.packetsProcessed++
	s.mu.Unlock()
	s.metrics.RecordPacketProcessed()

	switch parsed.Header.PacketType {
	case protocol.PacketTypeOpen:
		s.processOpenPacket(parsed.Header, parsed.Open, packet.remoteAddr, workerID)
	case protocol.PacketTypeAudio:
		s.processAudioPacket(parsed.Header, parsed.Audio, workerID)
	case protocol.PacketTypeClose:
		s.processClosePacket(parsed.Header, workerID)
	}
}

// processOpenPacket creates or updates the session for a stream
func (s *UDPServer) processOpenPacket(header *protocol.Header, payload *protocol.OpenPayload, remote *net.UDPAddr, workerID int) {
	s.logger.Debug("Processing open packet",
		slog.Uint64("stream_id", uint64(header.StreamID)),
		slog.String("device_id", payload.GetDeviceID()),
		slog.Uint64("sample_rate", uint64(payload.SampleRate)),
		slog.Int("worker_id", workerID))

	info := session.Info{
		DeviceID:   payload.GetDeviceID(),
		Label:      payload.GetLabel(),
		SampleRate: int(payload.SampleRate),
		RemoteAddr: remote.String(),
	}
	if _, err := s.sessions.Open(header.StreamID, info); err != nil {
		s.logger.Error("Failed to open session",
			slog.Uint64("stream_id", uint64(header.StreamID)),
			slog.String("device_id", info.DeviceID),
			slog.String("error", err.Error()),
			slog.Int("worker_id", workerID))
	}
}

// processAudioPacket decodes samples and queues them on the stream's session
func (s *UDPServer) processAudioPacket(header *protocol.Header, payload *protocol.AudioPayload, workerID int) {
	sess, exists := s.sessions.Get(header.StreamID)
	if !exists {
		s.mu.Lock()
		s.unknownStream++
		s.mu.Unlock()
		s.logger.Warn("Received audio packet for unknown stream",
			slog.Uint64("stream_id", uint64(header.StreamID)),
			slog.Uint64("sequence", uint64(payload.Sequence)),
			slog.Int("audio_size", len(payload.AudioData)),
			slog.Int("worker_id", workerID))
		return
	}

	samples, err := protocol.DecodeSamples(header.Encoding, payload.AudioData)
	if err != nil {
		s.logger.Error("Failed to decode audio samples",
			slog.Uint64("stream_id", uint64(header.StreamID)),
			slog.Uint64("sequence", uint64(payload.Sequence)),
			slog.String("error", err.Error()),
			slog.Int("worker_id", workerID))
		return
	}

	if !sess.Enqueue(payload.Sequence, samples) {
		s.logger.Debug("Session queue full, frame buffered without detection",
			slog.Uint64("stream_id", uint64(header.StreamID)),
			slog.Uint64("sequence", uint64(payload.Sequence)))
	}
}

// processClosePacket ends the stream's session
func (s *UDPServer) processClosePacket(header *protocol.Header, workerID int) {
	if !s.sessions.Close(header.StreamID) {
		s.logger.Debug("Close for unknown stream",
			slog.Uint64("stream_id", uint64(header.StreamID)),
			slog.Int("worker_id", workerID))
	}
}

// GetStatistics returns current server statistics
func (s *UDPServer) GetStatistics() ServerStatistics {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var size, capacity int
	for _, q := range s.queues {
		size += len(q)
		capacity += cap(q)
	}

	return ServerStatistics{
		PacketsReceived:  s.packetsReceived,
		PacketsProcessed: s.packetsProcessed,
		ParseErrors:      s.parseErrors,
		UnknownStream:    s.unknownStream,
		QueueDrops:       s.queueDrops,
		ActiveSessions:   uint64(s.sessions.ActiveCount()),
		QueueSize:        uint64(size),
		QueueCapacity:    uint64(capacity),
	}
}
