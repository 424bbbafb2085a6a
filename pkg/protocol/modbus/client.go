package modbus

import (
	"fmt"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
	"sync"
	modbusruntime "t7stream/pkg/protocol/modbus/runtime"
	"t7stream/pkg/utils/binutil"
)

// RegisterLastError is the device register holding the last error code.
const RegisterLastError uint16 = 55000

// Transport is a blocking, ordered byte stream. ReadFull returns only after
// len(p) bytes arrived or the read failed.
type Transport interface {
	Write(p []byte) (int, error)
	ReadFull(p []byte) (int, error)
}

// Client issues read/write multiple holding registers requests over one
// command/response connection, strictly one request at a time.
type Client struct {
	mu          sync.Mutex
	transport   Transport
	engine      *Engine
	unitID      uint8
	compromised bool
}

func NewClient(transport Transport, unitID uint8, engine *Engine) *Client {
	if engine == nil {
		engine = NewEngine(nil)
	}
	return &Client{
		transport: transport,
		engine:    engine,
		unitID:    unitID,
	}
}

// Codec returns the wire codec shared with the frame engine.
func (c *Client) Codec() *binutil.Codec {
	return c.engine.Codec()
}

// Compromised reports whether a transaction mismatch was seen.
func (c *Client) Compromised() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.compromised
}

// ReadMultipleRegisters reads count registers starting at address and
// returns their raw big-endian bytes.
func (c *Client) ReadMultipleRegisters(address uint16, count uint8) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	tid := c.engine.NextTransactionID()
	r := RegisterRange{Start: address, Count: count}
	request, _, err := c.engine.BuildReadRequest(tid, c.unitID, r)
	if err != nil {
		return nil, err
	}
	resp, err := c.roundTrip(request, Expect{
		FunctionCode:     modbusruntime.FunctionReadHoldingRegisters,
		TransactionID:    tid,
		CheckTransaction: true,
		ReadRegisters:    true,
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Payload) < r.ByteCount() {
		return nil, &modbusruntime.ProtocolError{Err: errors.Wrapf(modbusruntime.ErrSizeMismatch,
			"requested %d registers, device returned %d bytes", count, len(resp.Payload))}
	}
	return binutil.Dup(resp.Payload[:r.ByteCount()]), nil
}

// WriteMultipleRegisters writes count registers from data starting at address.
func (c *Client) WriteMultipleRegisters(address uint16, count uint8, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	tid := c.engine.NextTransactionID()
	request, _, err := c.engine.BuildWriteRequest(tid, c.unitID, RegisterRange{Start: address, Count: count}, data)
	if err != nil {
		return err
	}
	_, err = c.roundTrip(request, Expect{
		FunctionCode:     modbusruntime.FunctionWriteMultipleRegisters,
		TransactionID:    tid,
		CheckTransaction: true,
	})
	return err
}

// ReadLastError reads the device error code register.
func (c *Client) ReadLastError() (uint16, error) {
	data, err := c.ReadMultipleRegisters(RegisterLastError, 1)
	if err != nil {
		return 0, err
	}
	return c.Codec().Uint16(data), nil
}

// Caller must hold the mutex before calling this method.
func (c *Client) roundTrip(request []byte, want Expect) (*Response, error) {
	if c.compromised {
		return nil, &modbusruntime.ProtocolError{Err: modbusruntime.ErrClientCompromised}
	}

	n, err := c.transport.Write(request)
	if err != nil {
		klog.V(2).InfoS("Failed to write modbus request", "err", err)
		return nil, &modbusruntime.TransportError{Op: "write", Err: err}
	}
	if n != len(request) {
		klog.V(2).InfoS("Unexpected write size", "written", n, "expected", len(request))
		return nil, &modbusruntime.TransportError{Op: "write", Err: fmt.Errorf("wrote %d of %d bytes", n, len(request))}
	}
	klog.V(5).InfoS("Succeed to write modbus request", "bytes", request)

	// read the header first, the rest of the frame follows from its length
	var buf [modbusruntime.MaxADUSize]byte
	if err := c.readFull(buf[:modbusruntime.HeaderSize]); err != nil {
		return nil, err
	}
	length := int(c.Codec().Uint16(buf[4:]))
	rest := length - 1
	if rest < modbusruntime.MinResponseSize-modbusruntime.HeaderSize {
		rest = modbusruntime.MinResponseSize - modbusruntime.HeaderSize
	}
	if modbusruntime.HeaderSize+rest > len(buf) {
		// the remainder of this frame cannot be located any more
		c.compromised = true
		klog.V(2).InfoS("Modbus response header length out of range", "length", length)
		return nil, &modbusruntime.ProtocolError{Err: errors.Wrapf(modbusruntime.ErrLengthMismatch, "header length %d", length)}
	}
	if err := c.readFull(buf[modbusruntime.HeaderSize : modbusruntime.HeaderSize+rest]); err != nil {
		return nil, err
	}
	packet := buf[:modbusruntime.HeaderSize+rest]
	klog.V(5).InfoS("Succeed to read modbus response", "bytes", packet)

	resp, err := c.engine.ValidateResponse(packet, want)
	if err != nil {
		if errors.Is(err, modbusruntime.ErrTransactionMismatch) {
			c.compromised = true
		}
		return resp, &modbusruntime.ProtocolError{Err: err}
	}
	return resp, nil
}

func (c *Client) readFull(p []byte) error {
	n, err := c.transport.ReadFull(p)
	if err != nil {
		klog.V(2).InfoS("Failed to read modbus response", "err", err)
		return &modbusruntime.TransportError{Op: "read", Err: err}
	}
	if n != len(p) {
		klog.V(2).InfoS("Unexpected read size", "read", n, "expected", len(p))
		return &modbusruntime.TransportError{Op: "read", Err: fmt.Errorf("read %d of %d bytes", n, len(p))}
	}
	return nil
}
