package calibration

import (
	"github.com/pkg/errors"
	"math"
)

// GainCount is the number of analog input gain indexes (±10V, ±1V, ±0.1V, ±0.01V).
const GainCount = 4

var (
	ErrGainIndex  = errors.New("gain index out of range")
	ErrSampleSize = errors.New("sample shorter than 2 bytes")
)

// CalSet converts raw analog codes for one gain index.
type CalSet struct {
	PSlope float32 `json:"pSlope"`
	NSlope float32 `json:"nSlope"`
	Center float32 `json:"center"`
	Offset float32 `json:"offset"`
}

type DACCal struct {
	Slope  float32 `json:"slope"`
	Offset float32 `json:"offset"`
}

// DeviceCalibration holds the factory constants stored in device flash.
// Streaming only ever uses the high speed (HS) sets.
type DeviceCalibration struct {
	HS          [GainCount]CalSet `json:"hs"`
	HR          [GainCount]CalSet `json:"hr"`
	DAC         [2]DACCal         `json:"dac"`
	TempSlope   float32           `json:"tempSlope"`
	TempOffset  float32           `json:"tempOffset"`
	ISource10u  float32           `json:"iSource10u"`
	ISource200u float32           `json:"iSource200u"`
	IBias       float32           `json:"iBias"`
}

// Nominal returns factory default constants. It needs no device access.
func Nominal() *DeviceCalibration {
	cal := &DeviceCalibration{
		DAC: [2]DACCal{
			{Slope: 13200, Offset: 0},
			{Slope: 13200, Offset: 0},
		},
		TempSlope:   -92.379,
		TempOffset:  465.129,
		ISource10u:  0.000010,
		ISource200u: 0.000200,
		IBias:       0.000000015,
	}
	for g := 0; g < GainCount; g++ {
		scale := float32(math.Pow10(g))
		set := CalSet{
			PSlope: 0.000315805780 / scale,
			NSlope: -0.000315805800 / scale,
			Center: 33523.0,
			Offset: -10.586956522 / scale,
		}
		cal.HS[g] = set
		cal.HR[g] = set
	}
	return cal
}

// AinBinToVolts converts one big-endian u16 analog code with the high speed
// set for gain. Offset is the single slope intercept at code 0 and is not
// added on top of the center relative form.
func AinBinToVolts(cal *DeviceCalibration, raw []byte, gain int) (float64, error) {
	if gain < 0 || gain >= GainCount {
		return 0, errors.Wrapf(ErrGainIndex, "gain %d", gain)
	}
	if len(raw) < 2 {
		return 0, errors.Wrapf(ErrSampleSize, "got %d bytes", len(raw))
	}
	bin := float64(uint16(raw[0])<<8 | uint16(raw[1]))
	set := cal.HS[gain]
	center := float64(set.Center)
	if bin < center {
		return (center - bin) * float64(set.NSlope), nil
	}
	return (bin - center) * float64(set.PSlope), nil
}

// fromFloats fills a calibration from the flash float order: HS then HR
// sets, DAC0, DAC1, temperature, current sources and bias.
func fromFloats(f []float32) (*DeviceCalibration, error) {
	if len(f) != FloatCount {
		return nil, errors.Errorf("calibration needs %d floats, got %d", FloatCount, len(f))
	}
	cal := &DeviceCalibration{}
	i := 0
	next := func() float32 {
		v := f[i]
		i++
		return v
	}
	for _, sets := range []*[GainCount]CalSet{&cal.HS, &cal.HR} {
		for g := range sets {
			sets[g] = CalSet{PSlope: next(), NSlope: next(), Center: next(), Offset: next()}
		}
	}
	for d := range cal.DAC {
		cal.DAC[d] = DACCal{Slope: next(), Offset: next()}
	}
	cal.TempSlope = next()
	cal.TempOffset = next()
	cal.ISource10u = next()
	cal.ISource200u = next()
	cal.IBias = next()
	return cal, nil
}
