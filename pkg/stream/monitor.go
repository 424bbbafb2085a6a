package stream

import (
	"go.uber.org/atomic"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
	"time"
)

// ChannelStats summarizes one address over the scans of the latest packet.
type ChannelStats struct {
	Address uint32  `json:"address"`
	Mean    float64 `json:"mean"`
	StdDev  float64 `json:"stdDev"`
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
}

// Snapshot is a point in time copy of a running session.
type Snapshot struct {
	SessionID    string         `json:"sessionId"`
	Running      bool           `json:"running"`
	StartedAt    time.Time      `json:"startedAt"`
	Packets      uint64         `json:"packets"`
	Status       uint16         `json:"status"`
	StatusName   string         `json:"statusName"`
	BacklogScans uint32         `json:"backlogScans"`
	ScanTotal    float64        `json:"scanTotal"`
	ScansSkipped float64        `json:"scansSkipped"`
	Dummies      uint64         `json:"dummies"`
	Channels     []ChannelStats `json:"channels"`
	Error        string         `json:"error,omitempty"`
}

// Monitor is written by the read loop and read from any goroutine.
type Monitor struct {
	sessionID string
	addresses []uint32

	running      *atomic.Bool
	startedAt    *atomic.Int64
	packets      *atomic.Uint64
	status       *atomic.Uint32
	backlogScans *atomic.Uint32
	scanTotal    *atomic.Float64
	scansSkipped *atomic.Float64
	dummies      *atomic.Uint64
	lastErr      *atomic.Error
	channels     atomic.Value
}

func NewMonitor(sessionID string, addresses []uint32) *Monitor {
	m := &Monitor{
		sessionID:    sessionID,
		addresses:    append([]uint32(nil), addresses...),
		running:      atomic.NewBool(false),
		startedAt:    atomic.NewInt64(0),
		packets:      atomic.NewUint64(0),
		status:       atomic.NewUint32(0),
		backlogScans: atomic.NewUint32(0),
		scanTotal:    atomic.NewFloat64(0),
		scansSkipped: atomic.NewFloat64(0),
		dummies:      atomic.NewUint64(0),
		lastErr:      atomic.NewError(nil),
	}
	m.channels.Store([]ChannelStats(nil))
	return m
}

func (m *Monitor) SessionID() string {
	return m.sessionID
}

// Start marks the session as streaming since now.
func (m *Monitor) Start(now time.Time) {
	m.startedAt.Store(now.UnixNano())
	m.running.Store(true)
}

// Stop marks the session as ended, err being why if not nil.
func (m *Monitor) Stop(err error) {
	m.running.Store(false)
	if err != nil {
		m.lastErr.Store(err)
	}
}

// Observe records the outcome of one packet.
func (m *Monitor) Observe(res *Result) {
	m.packets.Inc()
	m.status.Store(uint32(res.Status))
	m.backlogScans.Store(res.State.BacklogScans)
	m.scanTotal.Store(res.State.ScanTotal)
	m.scansSkipped.Store(res.State.ScansSkipped)
	m.dummies.Add(uint64(res.Dummies))
	if len(res.Scans) > 0 {
		m.channels.Store(ComputeChannelStats(m.addresses, res.Scans))
	}
}

func (m *Monitor) Snapshot() Snapshot {
	s := Snapshot{
		SessionID:    m.sessionID,
		Running:      m.running.Load(),
		Packets:      m.packets.Load(),
		Status:       uint16(m.status.Load()),
		BacklogScans: m.backlogScans.Load(),
		ScanTotal:    m.scanTotal.Load(),
		ScansSkipped: m.scansSkipped.Load(),
		Dummies:      m.dummies.Load(),
		Channels:     m.channels.Load().([]ChannelStats),
	}
	s.StatusName = Status(s.Status).String()
	if ns := m.startedAt.Load(); ns != 0 {
		s.StartedAt = time.Unix(0, ns)
	}
	if err := m.lastErr.Load(); err != nil {
		s.Error = err.Error()
	}
	return s
}

// ComputeChannelStats returns per address statistics over complete scans.
func ComputeChannelStats(addresses []uint32, scans [][]float64) []ChannelStats {
	if len(scans) == 0 {
		return nil
	}
	width := len(scans[0])
	out := make([]ChannelStats, width)
	column := make([]float64, len(scans))
	for c := 0; c < width; c++ {
		for i, scan := range scans {
			column[i] = scan[c]
		}
		mean, std := stat.MeanStdDev(column, nil)
		if len(column) < 2 {
			std = 0
		}
		out[c] = ChannelStats{
			Mean:   mean,
			StdDev: std,
			Min:    floats.Min(column),
			Max:    floats.Max(column),
		}
		if c < len(addresses) {
			out[c].Address = addresses[c]
		}
	}
	return out
}
