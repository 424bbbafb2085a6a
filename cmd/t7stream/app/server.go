package app

import (
	"context"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	utilserrors "k8s.io/apimachinery/pkg/util/errors"
	"k8s.io/klog/v2"
	"os"
	"os/signal"
	"syscall"
	"t7stream/cmd/t7stream/config"
	"t7stream/cmd/t7stream/options"
	"t7stream/pkg/calibration"
	"t7stream/pkg/device"
	"t7stream/pkg/generic"
	baseoptions "t7stream/pkg/generic/options"
	"t7stream/pkg/protocol/modbus"
	"t7stream/pkg/sink"
	"t7stream/pkg/storage"
	"t7stream/pkg/stream"
	"t7stream/pkg/transport"
	"t7stream/pkg/web"
	"time"
)

const (
	ComponentStream = "t7stream"
)

const (
	calibrationSourceDevice  = "device"
	calibrationSourceNominal = "nominal"
	calibrationSourceCache   = "cache"
)

func NewStreamCmd() *cobra.Command {
	cleanFlagSet := pflag.NewFlagSet(ComponentStream, pflag.ContinueOnError)
	o := options.NewDefaultOptions()
	cmd := &cobra.Command{
		Use:                ComponentStream,
		Long:               `t7stream configures a LabJack T7 over Modbus TCP, streams the selected analog inputs and converts every sample to volts with the device calibration.`,
		DisableFlagParsing: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			// initial flag parse, since we disable cobra's flag parsing
			if err := cleanFlagSet.Parse(args); err != nil {
				klog.ErrorS(err, "Failed to parse flag")
				_ = cmd.Usage()
				os.Exit(1)
			}

			// check if there are non-flag arguments in the command line
			cmds := cleanFlagSet.Args()
			if len(cmds) > 0 {
				klog.ErrorS(nil, "Unknown command", "command", cmds[0])
				_ = cmd.Usage()
				os.Exit(1)
			}

			// short-circuit on help
			baseoptions.PrintHelpAndExitIfRequested(cmd, cleanFlagSet)

			// short-circuit on defaultconfig
			baseoptions.PrintDefaultConfigAndExitIfRequested(options.NewDefaultOptions(), cleanFlagSet)

			if err := baseoptions.ParseAndApplyConfigFile(o, args); err != nil {
				return err
			}

			if errs := options.Validate(o); len(errs) != 0 {
				return utilserrors.NewAggregate(errs)
			}

			// kill (no param) default send syscall.SIGTERM
			// kill -2 is syscall.SIGINT
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx, o)
		},
	}

	o.AddFlags(cleanFlagSet)
	o.AddBaseFlags(cmd, cleanFlagSet)

	return cmd
}

// commandClient is the command connection as seen by setup.
type commandClient interface {
	device.RegisterClient
	ReadLastError() (uint16, error)
	Compromised() bool
}

// deviceConns holds both connections until a session takes them over.
type deviceConns struct {
	stream  *transport.TCPConn
	command *transport.TCPConn
	client  *modbus.Client
}

func (d *deviceConns) Close() {
	if err := d.stream.Close(); err != nil {
		klog.V(2).InfoS("Failed to close stream connection", "address", d.stream.Address(), "err", err)
	}
	if err := d.command.Close(); err != nil {
		klog.V(2).InfoS("Failed to close command connection", "address", d.command.Address(), "err", err)
	}
}

// stores are the state directory groups, both nil when it is disabled.
type stores struct {
	sessions     *generic.Store
	calibrations *generic.Store
}

func openStores(dir string) (*stores, error) {
	if len(dir) == 0 {
		return &stores{}, nil
	}
	sessions, err := generic.NewStore(dir, storage.StoreGroupSession)
	if err != nil {
		return nil, err
	}
	calibrations, err := generic.NewStore(dir, storage.StoreGroupCalibration)
	if err != nil {
		return nil, err
	}
	return &stores{sessions: sessions, calibrations: calibrations}, nil
}

func run(ctx context.Context, o *options.Options) error {
	c, err := o.Config()
	if err != nil {
		return err
	}
	st, err := openStores(o.StateDir)
	if err != nil {
		return err
	}

	conns, err := connect(ctx, o)
	if err != nil {
		return err
	}
	cal, source := readCalibration(conns.client, c.Layout, o.NominalCalibration, st.calibrations, o.Address)

	if err := configure(conns.client, c); err != nil {
		conns.Close()
		return err
	}
	conns.stream.SetTimeout(c.Stream.PacketTimeout())

	tracker, err := stream.NewTracker(cal, c.Gains)
	if err != nil {
		conns.Close()
		return err
	}
	monitor := stream.NewMonitor(c.SessionID, c.Stream.ScanList)
	info := &web.Info{
		Address:           o.Address,
		Stream:            c.Stream,
		Channels:          c.Channels,
		Calibration:       cal,
		CalibrationSource: source,
	}

	sinks, hub, err := newSinks(o, c)
	if err != nil {
		conns.Close()
		return err
	}
	defer func() {
		if err := sinks.Close(); err != nil {
			klog.V(1).InfoS("Failed to close sinks", "err", err)
		}
	}()

	session, err := stream.NewSession(stream.SessionConfig{
		ID:               c.SessionID,
		Command:          conns.client,
		CommandConn:      conns.command,
		StreamConn:       conns.stream,
		Tracker:          tracker,
		Addresses:        c.Stream.ScanList,
		SamplesPerPacket: int(c.Stream.SamplesPerPacket),
		Sink:             sinks,
		Monitor:          monitor,
	})
	if err != nil {
		conns.Close()
		return err
	}

	if len(o.WebPort) != 0 {
		exit, err := serve(o, &web.Config{
			Port:     o.WebPort,
			CertFile: o.CertFile,
			KeyFile:  o.KeyFile,
			Monitor:  monitor,
			Hub:      hub,
			Info:     info,
			Archive:  st.sessions,
		})
		if err != nil {
			conns.Close()
			return err
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), o.Wait)
			defer cancel()
			exit(ctx)
		}()
	}

	klog.InfoS("Streaming", "session", c.SessionID, "address", o.Address, "channels", o.Channels,
		"scanRate", c.Stream.ScanRateHz, "samplesPerPacket", c.Stream.SamplesPerPacket, "calibration", source)
	report, err := session.Run(ctx)
	if report != nil {
		logReport(c.Stream, report)
	}
	archive(st.sessions, &web.Record{Info: info, Session: monitor.Snapshot(), Report: report})
	return err
}

func archive(store *generic.Store, record *web.Record) {
	if store == nil {
		return
	}
	if err := store.Save(record.Session.SessionID, record); err != nil {
		klog.V(1).InfoS("Failed to archive session", "session", record.Session.SessionID, "err", err)
		return
	}
	klog.V(2).InfoS("Archived session", "session", record.Session.SessionID)
}

func connect(ctx context.Context, o *options.Options) (*deviceConns, error) {
	streamConn, err := transport.Open(ctx, o.Address, transport.StreamPort, o.ConnectTimeout)
	if err != nil {
		return nil, err
	}
	commandConn, err := transport.Open(ctx, o.Address, transport.CommandPort, o.ConnectTimeout)
	if err != nil {
		_ = streamConn.Close()
		return nil, err
	}
	commandConn.SetTimeout(o.CommandTimeout)
	klog.V(1).InfoS("Connected", "address", o.Address)
	return &deviceConns{
		stream:  streamConn,
		command: commandConn,
		client:  modbus.NewClient(commandConn, o.UnitID, nil),
	}, nil
}

// readCalibration prefers the device constants. When they cannot be read it
// falls back to the last constants cached for the same address, then to
// nominal ones. Constants read from the device refresh the cache.
func readCalibration(client calibration.RegisterClient, layout *calibration.Layout, nominal bool,
	cache *generic.Store, key string) (*calibration.DeviceCalibration, string) {
	if nominal {
		return calibration.Nominal(), calibrationSourceNominal
	}
	cal, err := calibration.Read(client, layout)
	if err == nil {
		if cache != nil {
			if err := cache.Save(key, cal); err != nil {
				klog.V(2).InfoS("Failed to cache calibration", "key", key, "err", err)
			}
		}
		return cal, calibrationSourceDevice
	}

	var readErr *calibration.ReadError
	if errors.As(err, &readErr) {
		klog.InfoS("Failed to read calibration", "address", readErr.Address, "err", readErr.Err)
	} else {
		klog.InfoS("Failed to read calibration", "err", err)
	}
	if cache != nil {
		cached := &calibration.DeviceCalibration{}
		if err := cache.Load(key, cached); err == nil {
			klog.InfoS("Using cached calibration", "key", key)
			return cached, calibrationSourceCache
		}
	}
	klog.InfoS("Using nominal calibration")
	return calibration.Nominal(), calibrationSourceNominal
}

// configure writes the inputs and the stream, then verifies what the device
// reports back.
func configure(client commandClient, c *config.Config) error {
	if err := device.ConfigureAIN(client, c.Channels); err != nil {
		logLastError(client)
		return err
	}
	if err := device.ConfigureStream(client, c.Stream); err != nil {
		logLastError(client)
		if stopErr := device.StopStream(client); stopErr != nil {
			klog.V(1).InfoS("Failed to stop stream", "err", stopErr)
		}
		return err
	}

	inputs, err := device.ReadAINConfig(client, c.AINs())
	if err != nil {
		return err
	}
	for _, in := range inputs {
		klog.V(2).InfoS("Input", "ain", in.AIN, "range", in.Range, "negativeChannel", in.NegativeChannel)
	}
	got, err := device.ReadStreamConfig(client)
	if err != nil {
		return err
	}
	if err := device.VerifyStreamConfig(c.Stream, got); err != nil {
		return err
	}
	if got.ScanList, err = device.ReadScanList(client, int(got.NumAddresses)); err != nil {
		return err
	}
	klog.V(2).InfoS("Stream configuration", "scanRate", got.ScanRateHz, "numAddresses", got.NumAddresses,
		"samplesPerPacket", got.SamplesPerPacket, "settlingUs", got.SettlingUs, "resolutionIndex", got.ResolutionIndex,
		"bufferSizeBytes", got.BufferSizeBytes, "autoTarget", got.AutoTarget, "numScans", got.NumScans, "scanList", got.ScanList)
	return device.VerifyStreamConfig(c.Stream, got)
}

func logLastError(client commandClient) {
	if client.Compromised() {
		return
	}
	code, err := client.ReadLastError()
	if err != nil {
		klog.V(2).InfoS("Failed to read device error", "err", err)
		return
	}
	klog.InfoS("Device error", "code", code)
}

func newSinks(o *options.Options, c *config.Config) (sink.Multi, *sink.Hub, error) {
	sinks := sink.Multi{sink.NewLogSink(o.PrintInterval)}
	if len(o.MQTT.Broker) != 0 {
		period := time.Duration(float64(time.Second) / float64(c.Stream.ScanRateHz))
		m, err := sink.NewMQTTSink(o.MQTTOptions(c.SessionID), period)
		if err != nil {
			return nil, nil, err
		}
		sinks = append(sinks, m)
	}
	var hub *sink.Hub
	if len(o.WebPort) != 0 {
		hub = sink.NewHub()
		sinks = append(sinks, hub)
	}
	return sinks, hub, nil
}

func serve(o *options.Options, wc *web.Config) (func(ctx context.Context), error) {
	server, err := web.NewServer(generic.Default(), wc)
	if err != nil {
		return nil, err
	}
	exit, err := server.Serve()
	if err != nil {
		return nil, err
	}
	klog.V(1).InfoS("Server started", "port", o.WebPort)
	return exit, nil
}

func logReport(cfg *device.StreamConfig, r *stream.Report) {
	klog.InfoS("Stream summary",
		"scanRate", cfg.ScanRateHz,
		"scans", r.ScanTotal,
		"scansSkipped", r.ScansSkipped,
		"samplesSkipped", r.ScansSkipped*float64(r.NumAddresses),
		"packets", r.Packets,
		"lastStatus", r.LastStatus,
		"elapsed", r.Elapsed,
		"timedScanRate", r.TimedScanRate,
		"timedSampleRate", r.TimedSampleRate)
}
