package device

import (
	"github.com/pkg/errors"
)

// Stream configuration registers. 4002 through 4013 are contiguous.
const (
	RegStreamScanRateHz       uint16 = 4002
	RegStreamNumAddresses     uint16 = 4004
	RegStreamSamplesPerPacket uint16 = 4006
	RegStreamSettlingUs       uint16 = 4008
	RegStreamResolutionIndex  uint16 = 4010
	RegStreamBufferSizeBytes  uint16 = 4012
	RegStreamAutoTarget       uint16 = 4016
	RegStreamNumScans         uint16 = 4020
	RegStreamScanList0        uint16 = 4100
	RegStreamEnable           uint16 = 4990
)

// Analog input registers, indexed by channel.
const (
	RegAINRange0      uint16 = 40000
	RegAINNegativeCh0 uint16 = 41000
)

const (
	// MaxSamplesPerPacket is the largest packet the TCP stream port delivers.
	MaxSamplesPerPacket = 512
	BytesPerSample      = 2
	// SingleEnded is the negative channel value for single ended inputs.
	SingleEnded uint16 = 199
	// AutoTargetEthernet sends stream data to the spontaneous TCP port.
	AutoTargetEthernet uint32 = 1
	MaxAIN                    = 254
	// MaxChannels bounds the scan list a single write can carry.
	MaxChannels = 63
)

var (
	ErrRange      = errors.New("unsupported input range")
	ErrReadBack   = errors.New("device configuration does not match")
	ErrChannelNum = errors.New("channel number out of range")
)
