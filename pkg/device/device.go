package device

import (
	"fmt"
	"github.com/pkg/errors"
	"k8s.io/apimachinery/pkg/util/validation/field"
	"k8s.io/klog/v2"
	"math"
	"t7stream/pkg/utils/binutil"
	"time"
)

// RegisterClient reads and writes holding registers on the command port.
type RegisterClient interface {
	ReadMultipleRegisters(address uint16, count uint8) ([]byte, error)
	WriteMultipleRegisters(address uint16, count uint8, data []byte) error
	Codec() *binutil.Codec
}

// Channel is one analog input in the scan list.
type Channel struct {
	AIN             uint16  `json:"ain"`
	NegativeChannel uint16  `json:"negativeChannel"`
	Range           float32 `json:"range"`
}

// ScanListAddress returns the Modbus address streamed for the channel.
func (ch Channel) ScanListAddress() uint32 {
	return ScanListAddress(ch.AIN)
}

// ScanListAddress maps AIN n to its register address.
func ScanListAddress(ain uint16) uint32 {
	return uint32(ain) * 2
}

// GainIndexForRange maps an input range in volts to a calibration gain index.
func GainIndexForRange(volts float32) (int, error) {
	switch {
	case volts == 0 || near(volts, 10):
		return 0, nil
	case near(volts, 1):
		return 1, nil
	case near(volts, 0.1):
		return 2, nil
	case near(volts, 0.01):
		return 3, nil
	}
	return 0, errors.Wrapf(ErrRange, "%g V", volts)
}

func near(a, b float32) bool {
	return math.Abs(float64(a-b)) <= 1e-6*math.Abs(float64(b))
}

// StreamConfig mirrors the stream configuration registers.
type StreamConfig struct {
	ScanRateHz       float32  `json:"scanRateHz"`
	NumAddresses     uint32   `json:"numAddresses"`
	SamplesPerPacket uint32   `json:"samplesPerPacket"`
	SettlingUs       float32  `json:"settlingUs"`
	ResolutionIndex  uint32   `json:"resolutionIndex"`
	BufferSizeBytes  uint32   `json:"bufferSizeBytes"`
	AutoTarget       uint32   `json:"autoTarget"`
	NumScans         uint32   `json:"numScans"`
	ScanList         []uint32 `json:"scanList,omitempty"`
}

func (c *StreamConfig) Validate(fldPath *field.Path) field.ErrorList {
	var allErrs field.ErrorList
	if c.ScanRateHz <= 0 {
		allErrs = append(allErrs, field.Invalid(fldPath.Child("scanRateHz"), c.ScanRateHz, "must be positive"))
	}
	if c.NumAddresses == 0 || c.NumAddresses > MaxChannels {
		allErrs = append(allErrs, field.Invalid(fldPath.Child("numAddresses"), c.NumAddresses, fmt.Sprintf("must be between 1 and %d", MaxChannels)))
	}
	if int(c.NumAddresses) != len(c.ScanList) {
		allErrs = append(allErrs, field.Invalid(fldPath.Child("scanList"), len(c.ScanList), "length must equal numAddresses"))
	}
	if c.SamplesPerPacket == 0 || c.SamplesPerPacket > MaxSamplesPerPacket {
		allErrs = append(allErrs, field.Invalid(fldPath.Child("samplesPerPacket"), c.SamplesPerPacket, fmt.Sprintf("must be between 1 and %d", MaxSamplesPerPacket)))
	}
	return allErrs
}

// PacketTimeout is the expected time between packets rounded down to whole
// seconds, plus two seconds.
func (c *StreamConfig) PacketTimeout() time.Duration {
	if c.ScanRateHz <= 0 || c.NumAddresses == 0 {
		return 2 * time.Second
	}
	perPacket := float64(c.SamplesPerPacket) / (float64(c.ScanRateHz) * float64(c.NumAddresses))
	return time.Duration(int64(perPacket))*time.Second + 2*time.Second
}

// ConfigureAIN writes the range and negative channel of each input.
func ConfigureAIN(client RegisterClient, channels []Channel) error {
	codec := client.Codec()
	for _, ch := range channels {
		if ch.AIN > MaxAIN {
			return errors.Wrapf(ErrChannelNum, "AIN%d", ch.AIN)
		}
		if err := client.WriteMultipleRegisters(RegAINRange0+2*ch.AIN, 2, codec.Float32ToBytes(ch.Range)); err != nil {
			klog.V(2).InfoS("Failed to write AIN range", "ain", ch.AIN, "err", err)
			return errors.Wrapf(err, "write AIN%d range", ch.AIN)
		}
		if err := client.WriteMultipleRegisters(RegAINNegativeCh0+ch.AIN, 1, codec.Uint16ToBytes(ch.NegativeChannel)); err != nil {
			klog.V(2).InfoS("Failed to write AIN negative channel", "ain", ch.AIN, "err", err)
			return errors.Wrapf(err, "write AIN%d negative channel", ch.AIN)
		}
	}
	klog.V(4).InfoS("Configured analog inputs", "channels", len(channels))
	return nil
}

// ReadAINConfig reads back range and negative channel for the given AIN numbers.
func ReadAINConfig(client RegisterClient, ains []uint16) ([]Channel, error) {
	codec := client.Codec()
	out := make([]Channel, 0, len(ains))
	for _, ain := range ains {
		rng, err := client.ReadMultipleRegisters(RegAINRange0+2*ain, 2)
		if err != nil {
			return nil, errors.Wrapf(err, "read AIN%d range", ain)
		}
		neg, err := client.ReadMultipleRegisters(RegAINNegativeCh0+ain, 1)
		if err != nil {
			return nil, errors.Wrapf(err, "read AIN%d negative channel", ain)
		}
		out = append(out, Channel{AIN: ain, Range: codec.Float32(rng), NegativeChannel: codec.Uint16(neg)})
	}
	return out, nil
}

// ConfigureStream writes the stream settings and the scan list. The stream
// must not be running.
func ConfigureStream(client RegisterClient, cfg *StreamConfig) error {
	if errs := cfg.Validate(field.NewPath("stream")); len(errs) > 0 {
		return errs.ToAggregate()
	}
	codec := client.Codec()

	block := make([]byte, 0, 24)
	block = append(block, codec.Float32ToBytes(cfg.ScanRateHz)...)
	block = append(block, codec.Uint32ToBytes(cfg.NumAddresses)...)
	block = append(block, codec.Uint32ToBytes(cfg.SamplesPerPacket)...)
	block = append(block, codec.Float32ToBytes(cfg.SettlingUs)...)
	block = append(block, codec.Uint32ToBytes(cfg.ResolutionIndex)...)
	block = append(block, codec.Uint32ToBytes(cfg.BufferSizeBytes)...)
	if err := client.WriteMultipleRegisters(RegStreamScanRateHz, uint8(len(block)/2), block); err != nil {
		klog.V(2).InfoS("Failed to write stream settings", "err", err)
		return errors.Wrap(err, "write stream settings")
	}
	if err := client.WriteMultipleRegisters(RegStreamAutoTarget, 2, codec.Uint32ToBytes(cfg.AutoTarget)); err != nil {
		return errors.Wrap(err, "write stream auto target")
	}
	if err := client.WriteMultipleRegisters(RegStreamNumScans, 2, codec.Uint32ToBytes(cfg.NumScans)); err != nil {
		return errors.Wrap(err, "write stream scan count")
	}

	list := make([]byte, 0, 4*len(cfg.ScanList))
	for _, address := range cfg.ScanList {
		list = append(list, codec.Uint32ToBytes(address)...)
	}
	if err := client.WriteMultipleRegisters(RegStreamScanList0, uint8(len(list)/2), list); err != nil {
		klog.V(2).InfoS("Failed to write stream scan list", "err", err)
		return errors.Wrap(err, "write stream scan list")
	}
	klog.V(4).InfoS("Configured stream", "scanRate", cfg.ScanRateHz, "numAddresses", cfg.NumAddresses, "samplesPerPacket", cfg.SamplesPerPacket)
	return nil
}

// ReadStreamConfig reads the stream settings. ScanList is left empty, see ReadScanList.
func ReadStreamConfig(client RegisterClient) (*StreamConfig, error) {
	codec := client.Codec()
	block, err := client.ReadMultipleRegisters(RegStreamScanRateHz, 12)
	if err != nil {
		return nil, errors.Wrap(err, "read stream settings")
	}
	target, err := client.ReadMultipleRegisters(RegStreamAutoTarget, 2)
	if err != nil {
		return nil, errors.Wrap(err, "read stream auto target")
	}
	scans, err := client.ReadMultipleRegisters(RegStreamNumScans, 2)
	if err != nil {
		return nil, errors.Wrap(err, "read stream scan count")
	}
	return &StreamConfig{
		ScanRateHz:       codec.Float32(block[0:]),
		NumAddresses:     codec.Uint32(block[4:]),
		SamplesPerPacket: codec.Uint32(block[8:]),
		SettlingUs:       codec.Float32(block[12:]),
		ResolutionIndex:  codec.Uint32(block[16:]),
		BufferSizeBytes:  codec.Uint32(block[20:]),
		AutoTarget:       codec.Uint32(target),
		NumScans:         codec.Uint32(scans),
	}, nil
}

// ReadScanList reads n scan list addresses.
func ReadScanList(client RegisterClient, n int) ([]uint32, error) {
	if n < 1 || n > MaxChannels {
		return nil, errors.Wrapf(ErrChannelNum, "scan list of %d", n)
	}
	data, err := client.ReadMultipleRegisters(RegStreamScanList0, uint8(2*n))
	if err != nil {
		return nil, errors.Wrap(err, "read stream scan list")
	}
	codec := client.Codec()
	out := make([]uint32, n)
	for i := range out {
		out[i] = codec.Uint32(data[4*i:])
	}
	return out, nil
}

// VerifyStreamConfig compares what the device reports with what was written.
func VerifyStreamConfig(want, got *StreamConfig) error {
	switch {
	case got.NumAddresses != want.NumAddresses:
		return errors.Wrapf(ErrReadBack, "numAddresses %d, want %d", got.NumAddresses, want.NumAddresses)
	case got.SamplesPerPacket != want.SamplesPerPacket:
		return errors.Wrapf(ErrReadBack, "samplesPerPacket %d, want %d", got.SamplesPerPacket, want.SamplesPerPacket)
	case got.AutoTarget != want.AutoTarget:
		return errors.Wrapf(ErrReadBack, "autoTarget %d, want %d", got.AutoTarget, want.AutoTarget)
	}
	if len(got.ScanList) > 0 {
		for i, address := range want.ScanList {
			if i >= len(got.ScanList) || got.ScanList[i] != address {
				return errors.Wrapf(ErrReadBack, "scan list entry %d", i)
			}
		}
	}
	return nil
}

func StartStream(client RegisterClient) error {
	return setStreamEnable(client, 1)
}

func StopStream(client RegisterClient) error {
	return setStreamEnable(client, 0)
}

func setStreamEnable(client RegisterClient, v uint32) error {
	if err := client.WriteMultipleRegisters(RegStreamEnable, 2, client.Codec().Uint32ToBytes(v)); err != nil {
		klog.V(2).InfoS("Failed to write stream enable", "value", v, "err", err)
		return errors.Wrapf(err, "set stream enable %d", v)
	}
	klog.V(4).InfoS("Set stream enable", "value", v)
	return nil
}
