package calibration

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"t7stream/pkg/utils/binutil"
)

func code(v uint16) []byte {
	return []byte{byte(v >> 8), byte(v)}
}

func TestNominal(t *testing.T) {
	cal := Nominal()
	assert.InDelta(t, 0.000315805780, cal.HS[0].PSlope, 1e-12)
	assert.InDelta(t, -0.000315805800, cal.HS[0].NSlope, 1e-12)
	assert.InDelta(t, 0.000000315805780, cal.HS[3].PSlope, 1e-13)
	assert.Equal(t, float32(33523), cal.HS[2].Center)
	assert.InDelta(t, -1.0586956522, cal.HR[1].Offset, 1e-6)
	assert.Equal(t, cal.HS, cal.HR)
	assert.Equal(t, float32(13200), cal.DAC[1].Slope)
	assert.Equal(t, float32(-92.379), cal.TempSlope)
	assert.Equal(t, float32(0.000000015), cal.IBias)
}

func TestAinBinToVolts(t *testing.T) {
	cal := Nominal()

	v, err := AinBinToVolts(cal, code(33523), 0)
	require.NoError(t, err)
	assert.Equal(t, 0.0, v)

	v, err = AinBinToVolts(cal, code(0), 0)
	require.NoError(t, err)
	assert.InDelta(t, -10.587, v, 1e-3)

	v, err = AinBinToVolts(cal, code(0xFFFE), 0)
	require.NoError(t, err)
	assert.InDelta(t, 10.109, v, 1e-3)

	v, err = AinBinToVolts(cal, code(0), 1)
	require.NoError(t, err)
	assert.InDelta(t, -1.0587, v, 1e-4)

	// trailing bytes are ignored
	v, err = AinBinToVolts(cal, []byte{0x82, 0xF3, 0xAA}, 0)
	require.NoError(t, err)
	assert.Equal(t, 0.0, v)
}

func TestAinBinToVoltsMonotonic(t *testing.T) {
	cal := Nominal()
	for gain := 0; gain < GainCount; gain++ {
		prev, err := AinBinToVolts(cal, code(0), gain)
		require.NoError(t, err)
		for c := 1; c <= 0xFFFF; c++ {
			v, err := AinBinToVolts(cal, code(uint16(c)), gain)
			require.NoError(t, err)
			if v < prev {
				t.Fatalf("gain %d: code %d gives %v, below %v", gain, c, v, prev)
			}
			prev = v
		}
	}
}

func TestAinBinToVoltsRejectsBadInput(t *testing.T) {
	cal := Nominal()
	for _, gain := range []int{-1, 4, 10} {
		_, err := AinBinToVolts(cal, code(100), gain)
		assert.True(t, errors.Is(err, ErrGainIndex), "gain %d", gain)
	}
	_, err := AinBinToVolts(cal, []byte{0x01}, 0)
	assert.True(t, errors.Is(err, ErrSampleSize))
	_, err = AinBinToVolts(cal, nil, 0)
	assert.True(t, errors.Is(err, ErrSampleSize))
}

// flashDevice emulates the flash pointer and read registers.
type flashDevice struct {
	codec    *binutil.Codec
	flash    map[uint32]float32
	pointer  uint32
	pointers []uint32
	reads    []uint8
	failAt   uint32
	fail     error
}

func newFlashDevice(layout *Layout, values []float32) *flashDevice {
	d := &flashDevice{codec: binutil.NewCodec(), flash: map[uint32]float32{}}
	i := 0
	for _, p := range layout.Pages {
		for k := 0; k < p.Floats; k++ {
			d.flash[p.Address+uint32(4*k)] = values[i]
			i++
		}
	}
	return d
}

func (d *flashDevice) Codec() *binutil.Codec {
	return d.codec
}

func (d *flashDevice) WriteMultipleRegisters(address uint16, count uint8, data []byte) error {
	if address != 61810 || count != 2 {
		return errors.New("unexpected write")
	}
	d.pointer = d.codec.Uint32(data)
	d.pointers = append(d.pointers, d.pointer)
	if d.fail != nil && d.pointer == d.failAt {
		return d.fail
	}
	return nil
}

func (d *flashDevice) ReadMultipleRegisters(address uint16, count uint8) ([]byte, error) {
	if address != 61812 {
		return nil, errors.New("unexpected read")
	}
	d.reads = append(d.reads, count)
	out := make([]byte, 0, int(count)*2)
	for i := 0; i < int(count)/2; i++ {
		out = append(out, d.codec.Float32ToBytes(d.flash[d.pointer+uint32(4*i)])...)
	}
	return out, nil
}

func sequence() []float32 {
	values := make([]float32, FloatCount)
	for i := range values {
		values[i] = float32(i) + 0.5
	}
	return values
}

func TestRead(t *testing.T) {
	layout := DefaultLayout()
	dev := newFlashDevice(layout, sequence())

	cal, err := Read(dev, layout)
	require.NoError(t, err)

	assert.Equal(t, CalSet{PSlope: 0.5, NSlope: 1.5, Center: 2.5, Offset: 3.5}, cal.HS[0])
	assert.Equal(t, CalSet{PSlope: 12.5, NSlope: 13.5, Center: 14.5, Offset: 15.5}, cal.HS[3])
	assert.Equal(t, CalSet{PSlope: 16.5, NSlope: 17.5, Center: 18.5, Offset: 19.5}, cal.HR[0])
	assert.Equal(t, DACCal{Slope: 32.5, Offset: 33.5}, cal.DAC[0])
	assert.Equal(t, DACCal{Slope: 34.5, Offset: 35.5}, cal.DAC[1])
	assert.Equal(t, float32(36.5), cal.TempSlope)
	assert.Equal(t, float32(37.5), cal.TempOffset)
	assert.Equal(t, float32(38.5), cal.ISource10u)
	assert.Equal(t, float32(39.5), cal.ISource200u)
	assert.Equal(t, float32(40.5), cal.IBias)

	assert.Equal(t, []uint32{0x3C4000, 0x3C4020, 0x3C4040, 0x3C4060, 0x3C4080, 0x3C40A0}, dev.pointers)
	assert.Equal(t, []uint8{16, 16, 16, 16, 16, 2}, dev.reads)
}

func TestReadFailure(t *testing.T) {
	layout := DefaultLayout()
	dev := newFlashDevice(layout, sequence())
	dev.failAt = 0x3C4040
	dev.fail = errors.New("connection reset")

	cal, err := Read(dev, layout)
	assert.Nil(t, cal)
	var readErr *ReadError
	require.True(t, errors.As(err, &readErr))
	assert.Equal(t, uint32(0x3C4040), readErr.Address)
	assert.True(t, errors.Is(err, dev.fail))
}

func TestLoadLayout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "layout.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
maxFloatsPerRead: 4
pages:
- address: 3948544
  floats: 41
`), 0o644))

	layout, err := LoadLayout(path)
	require.NoError(t, err)
	assert.Equal(t, uint16(61810), layout.PointerRegister)
	assert.Equal(t, 4, layout.MaxFloatsPerRead)
	assert.Equal(t, []Page{{Address: 0x3C4000, Floats: 41}}, layout.Pages)

	dev := newFlashDevice(layout, sequence())
	_, err = Read(dev, layout)
	require.NoError(t, err)
	assert.Len(t, dev.reads, 11)
}

func TestLayoutValidate(t *testing.T) {
	layout := DefaultLayout()
	layout.MaxFloatsPerRead = 64
	layout.Pages[1].Floats = 8
	errs := layout.Validate(nil)
	assert.Len(t, errs, 2)

	_, err := Read(newFlashDevice(DefaultLayout(), sequence()), layout)
	assert.Error(t, err)
}
