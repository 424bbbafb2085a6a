package stream

import (
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
	"t7stream/pkg/calibration"
)

// State is updated once per packet by its single owner.
// Between packets 0 <= AddressIndex < numAddresses.
type State struct {
	BacklogScans uint32  `json:"backlogScans"`
	ScanTotal    float64 `json:"scanTotal"`
	ScansSkipped float64 `json:"scansSkipped"`
	AddressIndex uint32  `json:"addressIndex"`
}

// Result is what one packet did to the session. Device statuses are
// reported here and not only through errors.
type Result struct {
	Status     Status
	Additional uint16
	Terminate  bool
	// Scans holds the scans completed by this packet, one calibrated
	// voltage per address.
	Scans          [][]float64
	Dummies        int
	MidScanDummies int
	State          State
}

// Summary describes a finished session.
type Summary struct {
	State
	NumAddresses   int    `json:"numAddresses"`
	Packets        uint64 `json:"packets"`
	Samples        uint64 `json:"samples"`
	Dummies        uint64 `json:"dummies"`
	MidScanDummies uint64 `json:"midScanDummies"`
	LastStatus     Status `json:"lastStatus"`
}

// Tracker turns stream packets into calibrated scans.
type Tracker struct {
	cal   *calibration.DeviceCalibration
	gains []int
	state State
	// current holds the scan still waiting for its remaining addresses
	current []float64

	packets        uint64
	samples        uint64
	dummies        uint64
	midScanDummies uint64
	lastStatus     Status
}

// NewTracker returns a tracker for a scan of len(gains) addresses, gains[i]
// being the calibration gain index of address i.
func NewTracker(cal *calibration.DeviceCalibration, gains []int) (*Tracker, error) {
	if cal == nil {
		return nil, errors.New("nil calibration")
	}
	if len(gains) == 0 {
		return nil, errors.New("empty scan list")
	}
	for i, g := range gains {
		if g < 0 || g >= calibration.GainCount {
			return nil, errors.Wrapf(calibration.ErrGainIndex, "address %d gain %d", i, g)
		}
	}
	return &Tracker{
		cal:     cal,
		gains:   append([]int(nil), gains...),
		current: make([]float64, 0, len(gains)),
	}, nil
}

func (t *Tracker) NumAddresses() int {
	return len(t.gains)
}

func (t *Tracker) State() State {
	return t.state
}

// Consume applies one packet. A fatal status returns a *FatalStatusError
// together with a Result whose Terminate is set; none of its samples are used.
func (t *Tracker) Consume(p *Packet) (*Result, error) {
	t.packets++
	t.lastStatus = p.Status
	n := uint32(len(t.gains))
	t.state.BacklogScans = uint32(p.BacklogBytes) / (n * BytesPerSample)

	res := &Result{Status: p.Status, Additional: p.Additional}

	switch p.Status {
	case StatusNormal:
	case StatusScanOverlap, StatusAutoRecoverEndOverflow:
		klog.V(1).InfoS("Received fatal stream status", "status", p.Status, "backlogScans", t.state.BacklogScans)
		res.Terminate = true
		res.State = t.state
		return res, &FatalStatusError{Status: p.Status, BacklogScans: t.state.BacklogScans}
	case StatusAutoRecoverActive:
		klog.V(2).InfoS("Stream auto recovery active", "backlogScans", t.state.BacklogScans)
	case StatusAutoRecoverEnd:
		t.state.ScansSkipped += float64(p.Additional)
		klog.V(2).InfoS("Stream auto recovery ended", "scansSkipped", p.Additional, "backlogScans", t.state.BacklogScans)
	case StatusBurstComplete:
		klog.V(2).InfoS("Stream burst completed")
		res.Terminate = true
	default:
		klog.V(2).InfoS("Received stream status", "status", uint16(p.Status), "additional", p.Additional)
	}

	for i := 0; i+BytesPerSample <= len(p.Data); i += BytesPerSample {
		raw := p.Data[i : i+BytesPerSample]
		if raw[0] == 0xFF && raw[1] == 0xFF {
			res.Dummies++
			t.dummies++
			if t.state.AddressIndex != 0 {
				res.MidScanDummies++
				t.midScanDummies++
				klog.V(1).InfoS("Received dummy sample in the middle of a scan", "addressIndex", t.state.AddressIndex)
			}
			continue
		}
		volts, err := calibration.AinBinToVolts(t.cal, raw, t.gains[t.state.AddressIndex])
		if err != nil {
			return nil, err
		}
		t.samples++
		t.current = append(t.current, volts)
		t.state.AddressIndex++
		if t.state.AddressIndex >= n {
			t.state.AddressIndex = 0
			t.state.ScanTotal++
			res.Scans = append(res.Scans, t.current)
			t.current = make([]float64, 0, n)
		}
	}
	res.State = t.state
	return res, nil
}

// Finish summarizes the session. A trailing partial scan counts as the
// fraction of addresses it holds.
func (t *Tracker) Finish() Summary {
	s := Summary{
		State:          t.state,
		NumAddresses:   len(t.gains),
		Packets:        t.packets,
		Samples:        t.samples,
		Dummies:        t.dummies,
		MidScanDummies: t.midScanDummies,
		LastStatus:     t.lastStatus,
	}
	if t.state.AddressIndex > 0 {
		s.ScanTotal += float64(t.state.AddressIndex) / float64(len(t.gains))
	}
	return s
}
