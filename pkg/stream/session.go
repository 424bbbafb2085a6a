package stream

import (
	"context"
	"github.com/pkg/errors"
	"io"
	"k8s.io/klog/v2"
	"t7stream/pkg/device"
	"time"
)

// Conn is the spontaneous stream connection.
type Conn interface {
	Reader
	// Interrupt makes a pending read return.
	Interrupt()
	Close() error
}

// Batch is what a session hands to its sink for every packet that
// completed at least one scan.
type Batch struct {
	SessionID    string      `json:"sessionId"`
	Sequence     uint64      `json:"sequence"`
	Timestamp    time.Time   `json:"timestamp"`
	Addresses    []uint32    `json:"addresses"`
	Scans        [][]float64 `json:"scans"`
	Status       Status      `json:"status"`
	Additional   uint16      `json:"additional"`
	BacklogScans uint32      `json:"backlogScans"`
	ScanTotal    float64     `json:"scanTotal"`
	ScansSkipped float64     `json:"scansSkipped"`
}

// Sink receives completed scans in order.
type Sink interface {
	Publish(ctx context.Context, batch *Batch) error
}

// Report is the outcome of Session.Run.
type Report struct {
	Summary
	Elapsed         time.Duration `json:"elapsed"`
	TimedScanRate   float64       `json:"timedScanRate"`
	TimedSampleRate float64       `json:"timedSampleRate"`
}

type SessionConfig struct {
	ID string
	// Command is the register client on the command connection.
	Command     device.RegisterClient
	CommandConn io.Closer
	StreamConn  Conn
	Tracker     *Tracker
	// Addresses is the configured scan list, used to label output.
	Addresses        []uint32
	SamplesPerPacket int
	Sink             Sink
	Monitor          *Monitor
}

// Session owns both device connections from Run until it returns.
type Session struct {
	id          string
	command     device.RegisterClient
	commandConn io.Closer
	streamConn  Conn
	reader      *PacketReader
	tracker     *Tracker
	addresses   []uint32
	sink        Sink
	monitor     *Monitor
	sequence    uint64
}

func NewSession(cfg SessionConfig) (*Session, error) {
	if cfg.Command == nil || cfg.StreamConn == nil || cfg.Tracker == nil {
		return nil, errors.New("session needs a command client, a stream connection and a tracker")
	}
	if cfg.SamplesPerPacket <= 0 || cfg.SamplesPerPacket > device.MaxSamplesPerPacket {
		return nil, errors.Errorf("samples per packet %d out of range", cfg.SamplesPerPacket)
	}
	if cfg.Monitor == nil {
		cfg.Monitor = NewMonitor(cfg.ID, cfg.Addresses)
	}
	return &Session{
		id:          cfg.ID,
		command:     cfg.Command,
		commandConn: cfg.CommandConn,
		streamConn:  cfg.StreamConn,
		reader:      NewPacketReader(cfg.StreamConn, cfg.Command.Codec(), cfg.SamplesPerPacket),
		tracker:     cfg.Tracker,
		addresses:   cfg.Addresses,
		sink:        cfg.Sink,
		monitor:     cfg.Monitor,
	}, nil
}

func (s *Session) Monitor() *Monitor {
	return s.monitor
}

// Run starts the stream and reads packets until ctx is done, a terminal
// status arrives or an error occurs. Whatever the outcome it stops the stream,
// then closes the stream connection, then the command connection.
func (s *Session) Run(ctx context.Context) (report *Report, err error) {
	defer func() {
		err = s.shutdown(err)
	}()

	if err := device.StartStream(s.command); err != nil {
		return nil, err
	}
	start := time.Now()
	s.monitor.Start(start)
	klog.V(2).InfoS("Started stream", "session", s.id)

	stopInterrupt := context.AfterFunc(ctx, s.streamConn.Interrupt)
	defer stopInterrupt()

	err = s.loop(ctx)
	return s.report(time.Since(start)), err
}

func (s *Session) loop(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			klog.V(2).InfoS("Stream cancelled", "session", s.id)
			return nil
		}
		p, err := s.reader.Read()
		if err != nil {
			if ctx.Err() != nil {
				// interrupted on purpose
				klog.V(4).InfoS("Stream read interrupted", "session", s.id, "err", err)
				return nil
			}
			klog.V(2).InfoS("Failed to read stream packet", "session", s.id, "err", err)
			return err
		}
		res, err := s.tracker.Consume(p)
		if res != nil {
			s.monitor.Observe(res)
		}
		if err != nil {
			return err
		}
		s.publish(ctx, res)
		if res.Terminate {
			klog.V(2).InfoS("Stream finished", "session", s.id, "status", res.Status)
			return nil
		}
	}
}

func (s *Session) publish(ctx context.Context, res *Result) {
	s.sequence++
	if s.sink == nil || len(res.Scans) == 0 {
		return
	}
	batch := &Batch{
		SessionID:    s.id,
		Sequence:     s.sequence,
		Timestamp:    time.Now(),
		Addresses:    s.addresses,
		Scans:        res.Scans,
		Status:       res.Status,
		Additional:   res.Additional,
		BacklogScans: res.State.BacklogScans,
		ScanTotal:    res.State.ScanTotal,
		ScansSkipped: res.State.ScansSkipped,
	}
	if err := s.sink.Publish(ctx, batch); err != nil {
		klog.V(1).InfoS("Failed to publish scans", "session", s.id, "sequence", batch.Sequence, "err", err)
	}
}

func (s *Session) report(elapsed time.Duration) *Report {
	r := &Report{Summary: s.tracker.Finish(), Elapsed: elapsed}
	if sec := elapsed.Seconds(); sec > 0 {
		r.TimedScanRate = r.ScanTotal / sec
		r.TimedSampleRate = r.ScanTotal * float64(r.NumAddresses) / sec
	}
	return r
}

// shutdown must keep its order: stop, close stream, close command.
func (s *Session) shutdown(runErr error) error {
	if err := device.StopStream(s.command); err != nil {
		klog.V(1).InfoS("Failed to stop stream", "session", s.id, "err", err)
		if runErr == nil {
			runErr = err
		}
	} else {
		klog.V(2).InfoS("Stopped stream", "session", s.id)
	}
	if err := s.streamConn.Close(); err != nil {
		klog.V(2).InfoS("Failed to close stream connection", "session", s.id, "err", err)
	}
	if s.commandConn != nil {
		if err := s.commandConn.Close(); err != nil {
			klog.V(2).InfoS("Failed to close command connection", "session", s.id, "err", err)
		}
	}
	s.monitor.Stop(runErr)
	return runErr
}
