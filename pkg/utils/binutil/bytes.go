package binutil

import (
	"encoding/binary"
	"math"
	"sync"
	"unsafe"
)

// Codec converts fixed-width values to and from big-endian wire bytes.
// Host byte order is probed once per codec on first use and cached.
type Codec struct {
	once   sync.Once
	probe  func() bool
	little bool
}

// NewCodec returns a codec that probes the real host byte order.
func NewCodec() *Codec {
	return &Codec{probe: hostIsLittleEndian}
}

// newHostCodec pins the codec to a simulated host byte order.
func newHostCodec(little bool) *Codec {
	return &Codec{probe: func() bool { return little }}
}

func hostIsLittleEndian() bool {
	test := uint16(0x0001)
	return *(*byte)(unsafe.Pointer(&test)) == 0x01
}

func (c *Codec) littleEndian() bool {
	c.once.Do(func() {
		if c.probe == nil {
			c.probe = hostIsLittleEndian
		}
		c.little = c.probe()
	})
	return c.little
}

// native returns the byte order the host keeps values in memory.
func (c *Codec) native() binary.ByteOrder {
	if c.littleEndian() {
		return binary.LittleEndian
	}
	return binary.BigEndian
}

// correctEndian reverses b in place on little-endian hosts.
func (c *Codec) correctEndian(b []byte) {
	if !c.littleEndian() {
		return
	}
	for i, j := 0, len(b)-1; i < j; i, j = i+1, j-1 {
		b[i], b[j] = b[j], b[i]
	}
}

// PutUint16 writes v to buf[0:2] in wire order.
func (c *Codec) PutUint16(buf []byte, v uint16) {
	c.native().PutUint16(buf, v)
	c.correctEndian(buf[:2])
}

// Uint16 reads a wire-order value from buf[0:2].
func (c *Codec) Uint16(buf []byte) uint16 {
	var tmp [2]byte
	copy(tmp[:], buf[:2])
	c.correctEndian(tmp[:])
	return c.native().Uint16(tmp[:])
}

// PutUint32 writes v to buf[0:4] in wire order.
func (c *Codec) PutUint32(buf []byte, v uint32) {
	c.native().PutUint32(buf, v)
	c.correctEndian(buf[:4])
}

// Uint32 reads a wire-order value from buf[0:4].
func (c *Codec) Uint32(buf []byte) uint32 {
	var tmp [4]byte
	copy(tmp[:], buf[:4])
	c.correctEndian(tmp[:])
	return c.native().Uint32(tmp[:])
}

// PutFloat32 writes the IEEE-754 bits of v to buf[0:4] in wire order.
func (c *Codec) PutFloat32(buf []byte, v float32) {
	c.PutUint32(buf, math.Float32bits(v))
}

// Float32 reads an IEEE-754 value from buf[0:4].
func (c *Codec) Float32(buf []byte) float32 {
	return math.Float32frombits(c.Uint32(buf))
}

func (c *Codec) Uint16ToBytes(v uint16) []byte {
	buf := make([]byte, 2)
	c.PutUint16(buf, v)
	return buf
}

func (c *Codec) Uint32ToBytes(v uint32) []byte {
	buf := make([]byte, 4)
	c.PutUint32(buf, v)
	return buf
}

func (c *Codec) Float32ToBytes(v float32) []byte {
	buf := make([]byte, 4)
	c.PutFloat32(buf, v)
	return buf
}

// Dup 复制
func Dup(buf []byte) []byte {
	b := make([]byte, len(buf))
	copy(b, buf)
	return b
}
