package calibration

import (
	"fmt"
	"github.com/pkg/errors"
	"k8s.io/apimachinery/pkg/util/validation/field"
	"k8s.io/klog/v2"
	"os"
	"sigs.k8s.io/yaml"
	"t7stream/pkg/utils/binutil"
)

// FloatCount is the number of floats that make up a DeviceCalibration.
const FloatCount = 2*GainCount*4 + 4 + 5

// RegisterClient is the register primitive used to fetch flash constants.
type RegisterClient interface {
	ReadMultipleRegisters(address uint16, count uint8) ([]byte, error)
	WriteMultipleRegisters(address uint16, count uint8, data []byte) error
	Codec() *binutil.Codec
}

// Page is a contiguous run of floats in device flash.
type Page struct {
	Address uint32 `json:"address"`
	Floats  int    `json:"floats"`
}

// Layout describes where the calibration constants live on the device.
type Layout struct {
	PointerRegister  uint16 `json:"pointerRegister"`
	ReadRegister     uint16 `json:"readRegister"`
	MaxFloatsPerRead int    `json:"maxFloatsPerRead"`
	Pages            []Page `json:"pages"`
}

func DefaultLayout() *Layout {
	return &Layout{
		PointerRegister:  61810,
		ReadRegister:     61812,
		MaxFloatsPerRead: 8,
		Pages: []Page{
			{Address: 0x3C4000, Floats: 32},
			{Address: 0x3C4080, Floats: 9},
		},
	}
}

// LoadLayout reads a YAML layout from path. Fields left out keep their default.
func LoadLayout(path string) (*Layout, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read calibration layout %s", path)
	}
	l := DefaultLayout()
	if err := yaml.Unmarshal(data, l); err != nil {
		return nil, errors.Wrapf(err, "parse calibration layout %s", path)
	}
	if errs := l.Validate(field.NewPath("layout")); len(errs) > 0 {
		return nil, errs.ToAggregate()
	}
	return l, nil
}

func (l *Layout) Validate(fldPath *field.Path) field.ErrorList {
	var allErrs field.ErrorList
	if l.MaxFloatsPerRead < 1 || 2*l.MaxFloatsPerRead > 127 {
		allErrs = append(allErrs, field.Invalid(fldPath.Child("maxFloatsPerRead"), l.MaxFloatsPerRead, "must be between 1 and 63"))
	}
	total := 0
	for i, p := range l.Pages {
		if p.Floats < 1 {
			allErrs = append(allErrs, field.Invalid(fldPath.Child("pages").Index(i).Child("floats"), p.Floats, "must be positive"))
		}
		total += p.Floats
	}
	if total != FloatCount {
		allErrs = append(allErrs, field.Invalid(fldPath.Child("pages"), total, fmt.Sprintf("pages must hold %d floats in total", FloatCount)))
	}
	return allErrs
}

// ReadError is returned when the constants cannot be fetched. Callers
// usually fall back to Nominal.
type ReadError struct {
	Address uint32
	Err     error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("read calibration at 0x%X: %v", e.Address, e.Err)
}

func (e *ReadError) Unwrap() error {
	return e.Err
}

// Read fetches the calibration constants described by layout.
func Read(client RegisterClient, layout *Layout) (*DeviceCalibration, error) {
	if layout == nil {
		layout = DefaultLayout()
	}
	if errs := layout.Validate(field.NewPath("layout")); len(errs) > 0 {
		return nil, errs.ToAggregate()
	}
	codec := client.Codec()
	floats := make([]float32, 0, FloatCount)
	for _, page := range layout.Pages {
		for done := 0; done < page.Floats; {
			n := page.Floats - done
			if n > layout.MaxFloatsPerRead {
				n = layout.MaxFloatsPerRead
			}
			address := page.Address + uint32(done*4)
			chunk, err := readFlash(client, codec, layout, address, n)
			if err != nil {
				klog.V(2).InfoS("Failed to read calibration", "address", address, "floats", n, "err", err)
				return nil, &ReadError{Address: address, Err: err}
			}
			floats = append(floats, chunk...)
			done += n
		}
	}
	cal, err := fromFloats(floats)
	if err != nil {
		return nil, &ReadError{Err: err}
	}
	klog.V(4).InfoS("Succeed to read calibration", "floats", len(floats))
	return cal, nil
}

func readFlash(client RegisterClient, codec *binutil.Codec, layout *Layout, address uint32, n int) ([]float32, error) {
	if err := client.WriteMultipleRegisters(layout.PointerRegister, 2, codec.Uint32ToBytes(address)); err != nil {
		return nil, err
	}
	data, err := client.ReadMultipleRegisters(layout.ReadRegister, uint8(2*n))
	if err != nil {
		return nil, err
	}
	if len(data) < 4*n {
		return nil, errors.Errorf("short flash read, %d bytes for %d floats", len(data), n)
	}
	out := make([]float32, n)
	for i := range out {
		out[i] = codec.Float32(data[4*i:])
	}
	return out, nil
}
