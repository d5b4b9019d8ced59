package protocol

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"

	"github.com/skypro1111/voice-activation-service/internal/audio"
)

// Protocol constants
const (
	// Packet types
	PacketTypeOpen  = 0x01
	PacketTypeAudio = 0x02
	PacketTypeClose = 0x03

	// Sample encodings carried in the header
	EncodingFloat32 = 0x01 // IEEE-754 float32, little-endian
	EncodingPCM16   = 0x02 // signed 16-bit, little-endian

	// Packet structure sizes
	HeaderSize             = 8   // 1 + 2 + 4 + 1 bytes
	OpenPayloadSize        = 104 // 64 + 32 + 4 + 4 bytes
	AudioPayloadHeaderSize = 4   // Sequence number (4 bytes)
	MaxPacketSize          = math.MaxUint16

	// String field sizes in the open payload
	DeviceIDSize   = 64
	LabelSize      = 32
	SampleRateSize = 4
	TimestampSize  = 4
)

// Header represents the 8-byte TLV packet header
// Layout: [PacketType:1][PacketLen:2][StreamID:4][Encoding:1]
type Header struct {
	PacketType uint8  // 0x01=Open, 0x02=Audio, 0x03=Close
	PacketLen  uint16 // Total packet size (header + payload)
	StreamID   uint32 // Capture stream identifier chosen by the device
	Encoding   uint8  // 0x01=float32, 0x02=PCM16
}

// OpenPayload announces a capture stream
// Layout: [DeviceID:64][Label:32][SampleRate:4][Timestamp:4]
type OpenPayload struct {
	DeviceID   [DeviceIDSize]byte // Null-terminated string
	Label      [LabelSize]byte    // Null-terminated string
	SampleRate uint32
	Timestamp  uint32 // Unix timestamp
}

// AudioPayload represents the audio packet payload
// Layout: [Sequence:4][Samples:N]
type AudioPayload struct {
	Sequence  uint32
	AudioData []byte // encoded samples, see Header.Encoding
}

// ParsedPacket represents a fully parsed TLV packet
type ParsedPacket struct {
	Header *Header
	Open   *OpenPayload  // Only set for open packets
	Audio  *AudioPayload // Only set for audio packets
}

// ParseHeader parses the 8-byte TLV packet header
func ParseHeader(data []byte) (*Header, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("header too short: expected %d bytes, got %d", HeaderSize, len(data))
	}

	return &Header{
		PacketType: data[0],
		PacketLen:  binary.BigEndian.Uint16(data[1:3]),
		StreamID:   binary.BigEndian.Uint32(data[3:7]),
		Encoding:   data[7],
	}, nil
}

// ParseOpenPayload parses the 104-byte open payload
func ParseOpenPayload(data []byte) (*OpenPayload, error) {
	if len(data) < OpenPayloadSize {
		return nil, fmt.Errorf("open payload too short: expected %d bytes, got %d",
			OpenPayloadSize, len(data))
	}

	payload := &OpenPayload{}
	copy(payload.DeviceID[:], data[0:DeviceIDSize])
	copy(payload.Label[:], data[DeviceIDSize:DeviceIDSize+LabelSize])

	offset := DeviceIDSize + LabelSize
	payload.SampleRate = binary.BigEndian.Uint32(data[offset : offset+SampleRateSize])
	offset += SampleRateSize
	payload.Timestamp = binary.BigEndian.Uint32(data[offset : offset+TimestampSize])

	return payload, nil
}

// ParseAudioPayload parses the audio packet payload (4-byte sequence + samples)
func ParseAudioPayload(data []byte) (*AudioPayload, error) {
	if len(data) < AudioPayloadHeaderSize {
		return nil, fmt.Errorf("audio payload too short: expected at least %d bytes, got %d",
			AudioPayloadHeaderSize, len(data))
	}

	payload := &AudioPayload{
		Sequence: binary.BigEndian.Uint32(data[0:4]),
	}

	if len(data) > AudioPayloadHeaderSize {
		payload.AudioData = make([]byte, len(data)-AudioPayloadHeaderSize)
		copy(payload.AudioData, data[AudioPayloadHeaderSize:])
	}

	return payload, nil
}

// ParsePacket parses a complete TLV packet (header + payload)
func ParsePacket(data []byte) (*ParsedPacket, error) {
	header, err := ParseHeader(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse header: %w", err)
	}

	if int(header.PacketLen) != len(data) {
		return nil, fmt.Errorf("packet length mismatch: header says %d bytes, got %d bytes",
			header.PacketLen, len(data))
	}

	if err := ValidateHeader(header); err != nil {
		return nil, fmt.Errorf("invalid header: %w", err)
	}

	packet := &ParsedPacket{Header: header}
	payloadData := data[HeaderSize:]

	switch header.PacketType {
	case PacketTypeOpen:
		payload, err := ParseOpenPayload(payloadData)
		if err != nil {
			return nil, fmt.Errorf("failed to parse open payload: %w", err)
		}
		packet.Open = payload

	case PacketTypeAudio:
		payload, err := ParseAudioPayload(payloadData)
		if err != nil {
			return nil, fmt.Errorf("failed to parse audio payload: %w", err)
		}
		packet.Audio = payload

	case PacketTypeClose:
		// No payload
	}

	return packet, nil
}

// ValidateHeader validates the packet header fields
func ValidateHeader(header *Header) error {
	if !IsValidPacketType(header.PacketType) {
		return fmt.Errorf("invalid packet type: 0x%02x", header.PacketType)
	}

	if !IsValidEncoding(header.Encoding) {
		return fmt.Errorf("invalid encoding: 0x%02x", header.Encoding)
	}

	if header.PacketLen < HeaderSize {
		return fmt.Errorf("packet length too small: %d (minimum %d)", header.PacketLen, HeaderSize)
	}

	payloadSize := int(header.PacketLen) - HeaderSize
	switch header.PacketType {
	case PacketTypeOpen:
		if payloadSize != OpenPayloadSize {
			return fmt.Errorf("open packet payload size mismatch: expected %d, got %d",
				OpenPayloadSize, payloadSize)
		}
	case PacketTypeAudio:
		if payloadSize < AudioPayloadHeaderSize {
			return fmt.Errorf("audio packet payload too small: expected at least %d, got %d",
				AudioPayloadHeaderSize, payloadSize)
		}
		sampleBytes := payloadSize - AudioPayloadHeaderSize
		if sampleBytes%SampleSize(header.Encoding) != 0 {
			return fmt.Errorf("audio data length %d is not a multiple of the %d-byte sample size",
				sampleBytes, SampleSize(header.Encoding))
		}
	case PacketTypeClose:
		if payloadSize != 0 {
			return fmt.Errorf("close packet must not carry a payload, got %d bytes", payloadSize)
		}
	}

	return nil
}

// IsValidPacketType checks if the packet type is valid
func IsValidPacketType(ptype uint8) bool {
	return ptype == PacketTypeOpen || ptype == PacketTypeAudio || ptype == PacketTypeClose
}

// IsValidEncoding checks if the sample encoding is valid
func IsValidEncoding(enc uint8) bool {
	return enc == EncodingFloat32 || enc == EncodingPCM16
}

// SampleSize returns the byte width of one sample for enc
func SampleSize(enc uint8) int {
	if enc == EncodingPCM16 {
		return 2
	}
	return 4
}

// DecodeSamples converts the audio data of a packet to float32 samples
func DecodeSamples(enc uint8, data []byte) ([]float32, error) {
	switch enc {
	case EncodingFloat32:
		return audio.DecodeFloat32LE(data)
	case EncodingPCM16:
		return audio.DecodePCM16LE(data)
	default:
		return nil, fmt.Errorf("invalid encoding: 0x%02x", enc)
	}
}

// ExtractString extracts a null-terminated string from a fixed-size byte array
func ExtractString(buf []byte) string {
	nullPos := len(buf)
	for i, b := range buf {
		if b == 0 {
			nullPos = i
			break
		}
	}
	return string(buf[:nullPos])
}

// GetDeviceID extracts the device ID as a string
func (o *OpenPayload) GetDeviceID() string {
	return ExtractString(o.DeviceID[:])
}

// GetLabel extracts the stream label as a string
func (o *OpenPayload) GetLabel() string {
	return ExtractString(o.Label[:])
}

func putHeader(buf []byte, ptype uint8, streamID uint32, encoding uint8) {
	buf[0] = ptype
	binary.BigEndian.PutUint16(buf[1:3], uint16(len(buf)))
	binary.BigEndian.PutUint32(buf[3:7], streamID)
	buf[7] = encoding
}

// BuildOpenPacket encodes an open packet. Strings longer than their field
// are truncated, keeping room for the terminator.
func BuildOpenPacket(streamID uint32, encoding uint8, deviceID, label string, sampleRate, timestamp uint32) []byte {
	buf := make([]byte, HeaderSize+OpenPayloadSize)
	putHeader(buf, PacketTypeOpen, streamID, encoding)

	payload := buf[HeaderSize:]
	copy(payload[0:DeviceIDSize-1], deviceID)
	copy(payload[DeviceIDSize:DeviceIDSize+LabelSize-1], label)

	offset := DeviceIDSize + LabelSize
	binary.BigEndian.PutUint32(payload[offset:], sampleRate)
	binary.BigEndian.PutUint32(payload[offset+SampleRateSize:], timestamp)

	return buf
}

// BuildAudioPacket encodes samples with the given encoding
func BuildAudioPacket(streamID uint32, encoding uint8, sequence uint32, samples []float32) ([]byte, error) {
	var data []byte
	switch encoding {
	case EncodingFloat32:
		data = audio.EncodeFloat32LE(samples)
	case EncodingPCM16:
		data = audio.EncodePCM16LE(samples)
	default:
		return nil, fmt.Errorf("invalid encoding: 0x%02x", encoding)
	}

	size := HeaderSize + AudioPayloadHeaderSize + len(data)
	if size > MaxPacketSize {
		return nil, fmt.Errorf("audio packet too large: %d bytes (maximum %d)", size, MaxPacketSize)
	}

	buf := make([]byte, size)
	putHeader(buf, PacketTypeAudio, streamID, encoding)
	binary.BigEndian.PutUint32(buf[HeaderSize:], sequence)
	copy(buf[HeaderSize+AudioPayloadHeaderSize:], data)

	return buf, nil
}

// BuildClosePacket encodes a close packet
func BuildClosePacket(streamID uint32, encoding uint8) []byte {
	buf := make([]byte, HeaderSize)
	putHeader(buf, PacketTypeClose, streamID, encoding)
	return buf
}

// String returns a human-readable representation of the header
func (h *Header) String() string {
	var packetType, encoding string

	switch h.PacketType {
	case PacketTypeOpen:
		packetType = "Open"
	case PacketTypeAudio:
		packetType = "Audio"
	case PacketTypeClose:
		packetType = "Close"
	default:
		packetType = fmt.Sprintf("Unknown(0x%02x)", h.PacketType)
	}

	switch h.Encoding {
	case EncodingFloat32:
		encoding = "float32"
	case EncodingPCM16:
		encoding = "pcm16"
	default:
		encoding = fmt.Sprintf("Unknown(0x%02x)", h.Encoding)
	}

	return fmt.Sprintf("Header{Type:%s, Len:%d, StreamID:%d, Encoding:%s}",
		packetType, h.PacketLen, h.StreamID, encoding)
}

// String returns a human-readable representation of the open payload
func (o *OpenPayload) String() string {
	return fmt.Sprintf("OpenPayload{DeviceID:%q, Label:%q, SampleRate:%d, Timestamp:%d}",
		o.GetDeviceID(), strings.TrimSpace(o.GetLabel()), o.SampleRate, o.Timestamp)
}

// String returns a human-readable representation of the audio payload
func (a *AudioPayload) String() string {
	return fmt.Sprintf("AudioPayload{Sequence:%d, AudioDataLen:%d}", a.Sequence, len(a.AudioData))
}
