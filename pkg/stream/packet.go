package stream

import (
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
	modbusruntime "t7stream/pkg/protocol/modbus/runtime"
	"t7stream/pkg/utils/binutil"
)

const (
	// HeaderSize is the spontaneous stream packet header.
	HeaderSize = 16
	// FunctionStream marks spontaneous stream data.
	FunctionStream byte = 76
	// BytesPerSample is the size of one raw analog code.
	BytesPerSample = 2
	// DummySample fills scans lost during auto recovery.
	DummySample uint16 = 0xFFFF

	// length counts every header byte after the length field
	headerTail = HeaderSize - 6
)

// Reader is the blocking stream connection.
type Reader interface {
	ReadFull(p []byte) (int, error)
}

// Packet is one decoded spontaneous stream packet.
type Packet struct {
	TransactionID uint16
	BacklogBytes  uint16
	Status        Status
	Additional    uint16
	Data          []byte
}

// Samples returns the number of whole samples in the packet.
func (p *Packet) Samples() int {
	return len(p.Data) / BytesPerSample
}

type header struct {
	transactionID uint16
	dataSize      int
	backlogBytes  uint16
	status        Status
	additional    uint16
}

func decodeHeader(codec *binutil.Codec, b []byte, samplesPerPacket int) (header, error) {
	if len(b) < HeaderSize {
		return header{}, errors.Wrapf(modbusruntime.ErrFrameTruncated, "stream header of %d bytes", len(b))
	}
	if b[7] != FunctionStream {
		return header{}, errors.Wrapf(modbusruntime.ErrUnexpectedFunctionCode, "stream packet function code %d", b[7])
	}
	length := int(codec.Uint16(b[4:]))
	dataSize := length - headerTail
	if dataSize < 0 || dataSize > samplesPerPacket*BytesPerSample || dataSize%BytesPerSample != 0 {
		return header{}, errors.Wrapf(modbusruntime.ErrLengthMismatch, "stream packet length %d", length)
	}
	return header{
		transactionID: codec.Uint16(b[0:]),
		dataSize:      dataSize,
		backlogBytes:  codec.Uint16(b[10:]),
		status:        Status(codec.Uint16(b[12:])),
		additional:    codec.Uint16(b[14:]),
	}, nil
}

// PacketReader reads whole packets from the stream port into a buffer it
// reuses, so a Packet is only valid until the next Read.
type PacketReader struct {
	r                Reader
	codec            *binutil.Codec
	samplesPerPacket int
	buf              []byte
}

func NewPacketReader(r Reader, codec *binutil.Codec, samplesPerPacket int) *PacketReader {
	if codec == nil {
		codec = binutil.NewCodec()
	}
	return &PacketReader{
		r:                r,
		codec:            codec,
		samplesPerPacket: samplesPerPacket,
		buf:              make([]byte, HeaderSize+samplesPerPacket*BytesPerSample),
	}
}

// Read blocks until one packet arrived. Transport failures come back as
// *modbusruntime.TransportError, framing failures as *modbusruntime.ProtocolError.
func (pr *PacketReader) Read() (*Packet, error) {
	hdr := pr.buf[:HeaderSize]
	if err := pr.readFull(hdr); err != nil {
		return nil, err
	}
	h, err := decodeHeader(pr.codec, hdr, pr.samplesPerPacket)
	if err != nil {
		klog.V(2).InfoS("Failed to decode stream packet", "header", hdr, "err", err)
		return nil, &modbusruntime.ProtocolError{Err: err}
	}
	data := pr.buf[HeaderSize : HeaderSize+h.dataSize]
	if err := pr.readFull(data); err != nil {
		return nil, err
	}
	return &Packet{
		TransactionID: h.transactionID,
		BacklogBytes:  h.backlogBytes,
		Status:        h.status,
		Additional:    h.additional,
		Data:          data,
	}, nil
}

func (pr *PacketReader) readFull(p []byte) error {
	if len(p) == 0 {
		return nil
	}
	n, err := pr.r.ReadFull(p)
	if err != nil {
		return &modbusruntime.TransportError{Op: "read", Err: err}
	}
	if n != len(p) {
		return &modbusruntime.TransportError{Op: "read", Err: errors.Errorf("read %d of %d bytes", n, len(p))}
	}
	return nil
}
