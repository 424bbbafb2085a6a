package modbus

import (
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
	modbusruntime "t7stream/pkg/protocol/modbus/runtime"
	"t7stream/pkg/utils/binutil"
)

/**
modbus tcp 报文
MBAP header(7) = transaction id(2) + protocol id(2) + length(2) + unit id(1)
pdu            = function code(1) + data(n)
length counts every byte after itself: unit id + function code + data
*/

// RegisterRange addresses Count holding registers starting at Start.
type RegisterRange struct {
	Start uint16
	Count uint8
}

func (r RegisterRange) validate() error {
	if r.Count > modbusruntime.MaxRegisters {
		// the response byte count is one byte, so 2*count must stay under 255
		return errors.Wrapf(modbusruntime.ErrRegisterCount, "%d registers requested, at most %d", r.Count, modbusruntime.MaxRegisters)
	}
	return nil
}

// ByteCount is the number of data bytes the range covers.
func (r RegisterRange) ByteCount() int {
	return int(r.Count) * modbusruntime.BytesPerRegister
}

// Engine builds request frames and validates response frames. It owns the
// transaction id sequence, which exists only to detect request/response
// desynchronization: at most one request may be outstanding.
type Engine struct {
	codec         *binutil.Codec
	transactionID uint16
}

func NewEngine(codec *binutil.Codec) *Engine {
	if codec == nil {
		codec = binutil.NewCodec()
	}
	return &Engine{codec: codec}
}

// Codec returns the wire codec the engine encodes with.
func (e *Engine) Codec() *binutil.Codec {
	return e.codec
}

// NextTransactionID returns the current id and advances the counter,
// wrapping silently at 65536.
func (e *Engine) NextTransactionID() uint16 {
	id := e.transactionID
	e.transactionID++
	return id
}

func (e *Engine) writeHeader(frame []byte, transactionID uint16, length uint16, unitID uint8) {
	e.codec.PutUint16(frame, transactionID)
	e.codec.PutUint16(frame[2:], modbusruntime.ProtocolID)
	e.codec.PutUint16(frame[4:], length)
	frame[6] = unitID
}

// BuildReadRequest encodes a read multiple holding registers request and
// returns it with the size of a successful response.
//
//	00 07 00 00 00 06 00 03 00 00 00 02
//	tid   pid   len   uid fc  addr  count
func (e *Engine) BuildReadRequest(transactionID uint16, unitID uint8, r RegisterRange) ([]byte, int, error) {
	if err := r.validate(); err != nil {
		klog.V(2).InfoS("Failed to build read request", "start", r.Start, "count", r.Count, "err", err)
		return nil, 0, err
	}
	frame := make([]byte, modbusruntime.ReadRequestSize)
	e.writeHeader(frame, transactionID, 6, unitID)
	frame[7] = modbusruntime.FunctionReadHoldingRegisters
	e.codec.PutUint16(frame[8:], r.Start)
	// count travels as u16 even though it is at most 127
	e.codec.PutUint16(frame[10:], uint16(r.Count))
	return frame, modbusruntime.ReadResponseDataIndex + r.ByteCount(), nil
}

// BuildWriteRequest encodes a write multiple holding registers request. The
// device acknowledges with a fixed size frame echoing address and count.
func (e *Engine) BuildWriteRequest(transactionID uint16, unitID uint8, r RegisterRange, data []byte) ([]byte, int, error) {
	if err := r.validate(); err != nil {
		klog.V(2).InfoS("Failed to build write request", "start", r.Start, "count", r.Count, "err", err)
		return nil, 0, err
	}
	n := r.ByteCount()
	if len(data) < n {
		return nil, 0, errors.Wrapf(modbusruntime.ErrRegisterCount, "%d registers need %d data bytes, got %d", r.Count, n, len(data))
	}
	frame := make([]byte, modbusruntime.WriteRequestDataIndex+n)
	e.writeHeader(frame, transactionID, uint16(7+n), unitID)
	frame[7] = modbusruntime.FunctionWriteMultipleRegisters
	e.codec.PutUint16(frame[8:], r.Start)
	e.codec.PutUint16(frame[10:], uint16(r.Count))
	frame[12] = byte(n)
	copy(frame[modbusruntime.WriteRequestDataIndex:], data[:n])
	return frame, modbusruntime.WriteResponseSize, nil
}

// Expect describes the response a request is waiting for.
type Expect struct {
	FunctionCode byte
	// TransactionID is compared only when CheckTransaction is set.
	TransactionID    uint16
	CheckTransaction bool
	// ReadRegisters additionally requires the frame size to match the
	// reported data byte count.
	ReadRegisters bool
}

// Response is a validated response frame.
type Response struct {
	TransactionID uint16
	UnitID        uint8
	FunctionCode  byte
	// Payload is the register data of a read, or the echoed address and
	// count of a write.
	Payload   []byte
	Exception *modbusruntime.ExceptionError
}

// ValidateResponse checks packet against want. A device exception is not a
// framing failure: the returned Response carries it, and the same
// *ExceptionError is returned as the error.
func (e *Engine) ValidateResponse(packet []byte, want Expect) (*Response, error) {
	size := len(packet)
	if size < modbusruntime.HeaderSize {
		klog.V(2).InfoS("Modbus response contains incomplete header", "size", size, "packet", packet)
		return nil, errors.Wrapf(modbusruntime.ErrFrameTruncated, "incomplete header, %d bytes", size)
	}
	if size < modbusruntime.MinResponseSize {
		klog.V(2).InfoS("Modbus response incomplete", "size", size, "packet", packet)
		return nil, errors.Wrapf(modbusruntime.ErrFrameTruncated, "incomplete response, %d bytes", size)
	}

	resp := &Response{
		TransactionID: e.codec.Uint16(packet),
		UnitID:        packet[6],
		FunctionCode:  packet[7],
	}

	if resp.FunctionCode != want.FunctionCode {
		if want.FunctionCode|modbusruntime.ExceptionBit == resp.FunctionCode {
			resp.Exception = &modbusruntime.ExceptionError{
				FunctionCode: resp.FunctionCode &^ modbusruntime.ExceptionBit,
				Code:         packet[8],
			}
			klog.V(2).InfoS("Received modbus exception", "function", resp.Exception.FunctionCode, "code", resp.Exception.Code)
			return resp, resp.Exception
		}
		klog.V(2).InfoS("Unexpected modbus response function code", "expected", want.FunctionCode, "got", resp.FunctionCode)
		return nil, errors.Wrapf(modbusruntime.ErrUnexpectedFunctionCode, "expected %d, got %d", want.FunctionCode, resp.FunctionCode)
	}

	length := int(e.codec.Uint16(packet[4:]))
	if size < length+6 {
		klog.V(2).InfoS("Modbus response shorter than header length", "size", size, "length", length)
		return nil, errors.Wrapf(modbusruntime.ErrLengthMismatch, "packet size %d, header length %d + 6", size, length)
	}

	if want.CheckTransaction && resp.TransactionID != want.TransactionID {
		klog.V(2).InfoS("Failed to match message transaction id", "request transactionId", want.TransactionID, "response transactionId", resp.TransactionID)
		return nil, errors.Wrapf(modbusruntime.ErrTransactionMismatch, "expected %d, got %d", want.TransactionID, resp.TransactionID)
	}

	if want.ReadRegisters {
		byteCount := int(packet[8])
		if size != modbusruntime.ReadResponseDataIndex+byteCount {
			klog.V(2).InfoS("Modbus read response size does not match data amount", "size", size, "byteCount", byteCount)
			return nil, errors.Wrapf(modbusruntime.ErrSizeMismatch, "packet size %d, data %d + 9", size, byteCount)
		}
		resp.Payload = packet[modbusruntime.ReadResponseDataIndex:]
		return resp, nil
	}

	resp.Payload = packet[8:]
	return resp, nil
}
