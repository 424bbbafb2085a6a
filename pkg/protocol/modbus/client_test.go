package modbus

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	modbusruntime "t7stream/pkg/protocol/modbus/runtime"
)

// scriptedTransport records writes and replays canned responses.
type scriptedTransport struct {
	written  [][]byte
	response *bytes.Reader
	writeErr error
	shortN   int
}

func newScripted(responses ...[]byte) *scriptedTransport {
	return &scriptedTransport{response: bytes.NewReader(bytes.Join(responses, nil))}
}

func (s *scriptedTransport) Write(p []byte) (int, error) {
	if s.writeErr != nil {
		return 0, s.writeErr
	}
	s.written = append(s.written, append([]byte(nil), p...))
	if s.shortN > 0 {
		return s.shortN, nil
	}
	return len(p), nil
}

func (s *scriptedTransport) ReadFull(p []byte) (int, error) {
	return io.ReadFull(s.response, p)
}

func TestClientReadMultipleRegisters(t *testing.T) {
	tr := newScripted([]byte{0x00, 0x00, 0x00, 0x00, 0x00, 0x07, 0x01, 0x03, 0x04, 0x44, 0x7A, 0x00, 0x00})
	c := NewClient(tr, 1, nil)

	data, err := c.ReadMultipleRegisters(4002, 2)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x44, 0x7A, 0x00, 0x00}, data)
	assert.Equal(t, float32(1000), c.Codec().Float32(data))

	require.Len(t, tr.written, 1)
	assert.Equal(t, []byte{0x00, 0x00, 0x00, 0x00, 0x00, 0x06, 0x01, 0x03, 0x0F, 0xA2, 0x00, 0x02}, tr.written[0])
}

func TestClientWriteMultipleRegisters(t *testing.T) {
	tr := newScripted([]byte{0x00, 0x00, 0x00, 0x00, 0x00, 0x06, 0x01, 0x10, 0x13, 0x7E, 0x00, 0x02})
	c := NewClient(tr, 1, nil)

	require.NoError(t, c.WriteMultipleRegisters(4990, 2, []byte{0, 0, 0, 1}))
	require.Len(t, tr.written, 1)
	assert.Equal(t, byte(16), tr.written[0][7])
}

func TestClientTransportErrors(t *testing.T) {
	tr := newScripted()
	tr.writeErr = errors.New("broken pipe")
	c := NewClient(tr, 1, nil)
	_, err := c.ReadMultipleRegisters(0, 1)
	assert.True(t, errors.Is(err, modbusruntime.ErrTransport))
	assert.False(t, errors.Is(err, modbusruntime.ErrProtocol))

	tr = newScripted()
	tr.shortN = 3
	c = NewClient(tr, 1, nil)
	err = c.WriteMultipleRegisters(0, 1, []byte{0, 1})
	assert.True(t, errors.Is(err, modbusruntime.ErrTransport))

	// response cut off after the header
	tr = newScripted([]byte{0x00, 0x00, 0x00, 0x00, 0x00, 0x07, 0x01})
	c = NewClient(tr, 1, nil)
	_, err = c.ReadMultipleRegisters(0, 2)
	assert.True(t, errors.Is(err, modbusruntime.ErrTransport))
}

func TestClientDeviceException(t *testing.T) {
	tr := newScripted([]byte{0x00, 0x00, 0x00, 0x00, 0x00, 0x03, 0x01, 0x83, 0x02})
	c := NewClient(tr, 1, nil)

	_, err := c.ReadMultipleRegisters(60000, 2)
	require.Error(t, err)
	assert.True(t, errors.Is(err, modbusruntime.ErrProtocol))
	var exc *modbusruntime.ExceptionError
	require.True(t, errors.As(err, &exc))
	assert.Equal(t, byte(2), exc.Code)
	assert.False(t, c.Compromised())
}

func TestClientTransactionMismatchCompromises(t *testing.T) {
	tr := newScripted(
		[]byte{0x00, 0x05, 0x00, 0x00, 0x00, 0x05, 0x01, 0x03, 0x02, 0x00, 0x01},
		[]byte{0x00, 0x01, 0x00, 0x00, 0x00, 0x05, 0x01, 0x03, 0x02, 0x00, 0x01},
	)
	c := NewClient(tr, 1, nil)

	_, err := c.ReadMultipleRegisters(0, 1)
	assert.True(t, errors.Is(err, modbusruntime.ErrProtocol))
	assert.True(t, errors.Is(err, modbusruntime.ErrTransactionMismatch))
	assert.True(t, c.Compromised())

	_, err = c.ReadMultipleRegisters(0, 1)
	assert.True(t, errors.Is(err, modbusruntime.ErrClientCompromised))
	assert.Len(t, tr.written, 1)
}

func TestClientReadLastError(t *testing.T) {
	tr := newScripted([]byte{0x00, 0x00, 0x00, 0x00, 0x00, 0x05, 0x01, 0x03, 0x02, 0x0A, 0x3C})
	c := NewClient(tr, 1, nil)

	code, err := c.ReadLastError()
	require.NoError(t, err)
	assert.Equal(t, uint16(2620), code)
	assert.Equal(t, []byte{0xD6, 0xD8}, tr.written[0][8:10])
}

func TestClientRejectsOversizedRequestLocally(t *testing.T) {
	tr := newScripted()
	c := NewClient(tr, 1, nil)
	_, err := c.ReadMultipleRegisters(0, 128)
	assert.True(t, errors.Is(err, modbusruntime.ErrRegisterCount))
	assert.Empty(t, tr.written)
}
