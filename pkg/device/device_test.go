package device

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"t7stream/pkg/utils/binutil"
)

type write struct {
	address uint16
	count   uint8
}

// registerMap is an in-memory holding register space.
type registerMap struct {
	codec  *binutil.Codec
	regs   map[uint16][2]byte
	writes []write
	failOn uint16
}

func newRegisterMap() *registerMap {
	return &registerMap{codec: binutil.NewCodec(), regs: map[uint16][2]byte{}}
}

func (m *registerMap) Codec() *binutil.Codec {
	return m.codec
}

func (m *registerMap) WriteMultipleRegisters(address uint16, count uint8, data []byte) error {
	if m.failOn != 0 && address == m.failOn {
		return errors.New("device busy")
	}
	m.writes = append(m.writes, write{address, count})
	for i := 0; i < int(count); i++ {
		m.regs[address+uint16(i)] = [2]byte{data[2*i], data[2*i+1]}
	}
	return nil
}

func (m *registerMap) ReadMultipleRegisters(address uint16, count uint8) ([]byte, error) {
	if m.failOn != 0 && address == m.failOn {
		return nil, errors.New("device busy")
	}
	out := make([]byte, 0, 2*int(count))
	for i := 0; i < int(count); i++ {
		r := m.regs[address+uint16(i)]
		out = append(out, r[0], r[1])
	}
	return out, nil
}

func TestGainIndexForRange(t *testing.T) {
	testCases := []struct {
		volts float32
		gain  int
	}{
		{10, 0}, {0, 0}, {1, 1}, {0.1, 2}, {0.01, 3},
	}
	for _, tc := range testCases {
		gain, err := GainIndexForRange(tc.volts)
		require.NoError(t, err)
		assert.Equal(t, tc.gain, gain, "range %g", tc.volts)
	}
	_, err := GainIndexForRange(5)
	assert.True(t, errors.Is(err, ErrRange))
}

func TestScanListAddress(t *testing.T) {
	assert.Equal(t, uint32(0), ScanListAddress(0))
	assert.Equal(t, uint32(6), Channel{AIN: 3}.ScanListAddress())
}

func TestConfigureAndReadAIN(t *testing.T) {
	m := newRegisterMap()
	channels := []Channel{
		{AIN: 0, NegativeChannel: SingleEnded, Range: 10},
		{AIN: 3, NegativeChannel: 4, Range: 0.1},
	}
	require.NoError(t, ConfigureAIN(m, channels))
	assert.Equal(t, []write{{40000, 2}, {41000, 1}, {40006, 2}, {41003, 1}}, m.writes)

	got, err := ReadAINConfig(m, []uint16{0, 3})
	require.NoError(t, err)
	assert.Equal(t, channels, got)

	err = ConfigureAIN(m, []Channel{{AIN: 300}})
	assert.True(t, errors.Is(err, ErrChannelNum))
}

func testStreamConfig() *StreamConfig {
	return &StreamConfig{
		ScanRateHz:       1000,
		NumAddresses:     2,
		SamplesPerPacket: MaxSamplesPerPacket,
		SettlingUs:       10,
		AutoTarget:       AutoTargetEthernet,
		ScanList:         []uint32{0, 2},
	}
}

func TestConfigureAndReadStream(t *testing.T) {
	m := newRegisterMap()
	cfg := testStreamConfig()
	require.NoError(t, ConfigureStream(m, cfg))
	assert.Equal(t, []write{{4002, 12}, {4016, 2}, {4020, 2}, {4100, 4}}, m.writes)

	got, err := ReadStreamConfig(m)
	require.NoError(t, err)
	assert.Equal(t, float32(1000), got.ScanRateHz)
	assert.Equal(t, uint32(2), got.NumAddresses)
	assert.Equal(t, uint32(512), got.SamplesPerPacket)
	assert.Equal(t, float32(10), got.SettlingUs)
	assert.Equal(t, uint32(1), got.AutoTarget)
	assert.Empty(t, got.ScanList)

	got.ScanList, err = ReadScanList(m, int(got.NumAddresses))
	require.NoError(t, err)
	assert.Equal(t, []uint32{0, 2}, got.ScanList)
	assert.NoError(t, VerifyStreamConfig(cfg, got))

	got.ScanList[1] = 4
	assert.True(t, errors.Is(VerifyStreamConfig(cfg, got), ErrReadBack))
	got.NumAddresses = 3
	assert.True(t, errors.Is(VerifyStreamConfig(cfg, got), ErrReadBack))
}

func TestConfigureStreamRejectsInvalid(t *testing.T) {
	m := newRegisterMap()
	cfg := testStreamConfig()
	cfg.SamplesPerPacket = 600
	cfg.ScanList = cfg.ScanList[:1]
	assert.Error(t, ConfigureStream(m, cfg))
	assert.Empty(t, m.writes)
}

func TestConfigureStreamPropagatesFailure(t *testing.T) {
	m := newRegisterMap()
	m.failOn = RegStreamScanList0
	assert.EqualError(t, ConfigureStream(m, testStreamConfig()), "write stream scan list: device busy")
}

func TestStartStopStream(t *testing.T) {
	m := newRegisterMap()
	require.NoError(t, StartStream(m))
	assert.Equal(t, [2]byte{0, 1}, m.regs[RegStreamEnable+1])
	require.NoError(t, StopStream(m))
	assert.Equal(t, [2]byte{0, 0}, m.regs[RegStreamEnable+1])
	assert.Equal(t, []write{{4990, 2}, {4990, 2}}, m.writes)
}

func TestPacketTimeout(t *testing.T) {
	cfg := testStreamConfig()
	assert.Equal(t, 2*time.Second, cfg.PacketTimeout())

	cfg.ScanRateHz = 10
	cfg.NumAddresses = 2
	assert.Equal(t, 27*time.Second, cfg.PacketTimeout())

	cfg.ScanRateHz = 0
	assert.Equal(t, 2*time.Second, cfg.PacketTimeout())
}
