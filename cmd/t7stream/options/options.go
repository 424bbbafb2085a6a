package options

import (
	"github.com/spf13/pflag"
	"t7stream/cmd/t7stream/config"
	"t7stream/pkg/calibration"
	"t7stream/pkg/device"
	baseoptions "t7stream/pkg/generic/options"
	"t7stream/pkg/sink"
	"t7stream/pkg/storage"
	"t7stream/pkg/utils/uuidutil"
	"time"
)

type Options struct {
	Address          string        `json:"address"`
	UnitID           uint8         `json:"unitId"`
	Channels         []uint        `json:"channels"`
	NegativeChannel  uint16        `json:"negativeChannel"`
	Range            float32       `json:"range"`
	ScanRate         float32       `json:"scanRate"`
	SamplesPerPacket uint32        `json:"samplesPerPacket"`
	Settling         float32       `json:"settlingUs"`
	ResolutionIndex  uint32        `json:"resolutionIndex"`
	BufferSizeBytes  uint32        `json:"bufferSizeBytes"`
	NumScans         uint32        `json:"numScans"`
	ConnectTimeout   time.Duration `json:"connectTimeout"`
	CommandTimeout   time.Duration `json:"commandTimeout"`
	// CalibrationLayout is a YAML file overriding the flash layout.
	CalibrationLayout  string `json:"calibrationLayout"`
	NominalCalibration bool   `json:"nominalCalibration"`
	// StateDir keeps archived sessions and cached calibrations, empty disables both.
	StateDir      string        `json:"stateDir"`
	PrintInterval time.Duration `json:"printInterval"`
	// WebPort enables the HTTP API when set.
	WebPort  string           `json:"webPort"`
	CertFile string           `json:"certFile"`
	KeyFile  string           `json:"keyFile"`
	Wait     time.Duration    `json:"graceful-timeout"`
	MQTT     sink.MQTTOptions `json:"mqtt"`
	baseoptions.BaseOptions
}

const (
	_defaultAddress          = "192.168.1.207"
	_defaultRange            = 10
	_defaultScanRate         = 1000
	_defaultSettling         = 10
	_defaultConnectTimeout   = 5 * time.Second
	_defaultCommandTimeout   = 5 * time.Second
	_defaultPrintInterval    = time.Second
	_defaultWait             = 15 * time.Second
	_defaultMQTTTimeout      = 5 * time.Second
	_defaultMQTTClientPrefix = "t7stream-"
)

func NewDefaultOptions() *Options {
	return &Options{
		Address:          _defaultAddress,
		UnitID:           1,
		Channels:         []uint{0, 1},
		NegativeChannel:  device.SingleEnded,
		Range:            _defaultRange,
		ScanRate:         _defaultScanRate,
		SamplesPerPacket: device.MaxSamplesPerPacket,
		Settling:         _defaultSettling,
		ConnectTimeout:   _defaultConnectTimeout,
		CommandTimeout:   _defaultCommandTimeout,
		PrintInterval:    _defaultPrintInterval,
		StateDir:         storage.DefaultStorePath(),
		Wait:             _defaultWait,
		MQTT: sink.MQTTOptions{
			QoS:     1,
			Timeout: _defaultMQTTTimeout,
		},
		BaseOptions: baseoptions.NewDefaultBaseOptions(),
	}
}

func (o *Options) AddFlags(fs *pflag.FlagSet) {
	fs.StringVarP(&o.Address, "address", "a", o.Address, "IP address of the T7")
	fs.Uint8Var(&o.UnitID, "unit-id", o.UnitID, "Modbus unit identifier")
	fs.UintSliceVar(&o.Channels, "channels", o.Channels, "AIN channels to stream, in scan order")
	fs.Uint16Var(&o.NegativeChannel, "negative-channel", o.NegativeChannel, "Negative channel of every input, 199 is single ended")
	fs.Float32Var(&o.Range, "range", o.Range, "Input range in volts: 10, 1, 0.1 or 0.01")
	fs.Float32Var(&o.ScanRate, "scan-rate", o.ScanRate, "Scans per second")
	fs.Uint32Var(&o.SamplesPerPacket, "samples-per-packet", o.SamplesPerPacket, "Samples in each stream packet, at most 512")
	fs.Float32Var(&o.Settling, "settling-us", o.Settling, "Settling time in microseconds, 0 lets the device decide")
	fs.Uint32Var(&o.ResolutionIndex, "resolution-index", o.ResolutionIndex, "Stream resolution index, 0 is the device default")
	fs.Uint32Var(&o.BufferSizeBytes, "buffer-size", o.BufferSizeBytes, "Device stream buffer in bytes, 0 is the device default")
	fs.Uint32Var(&o.NumScans, "num-scans", o.NumScans, "Scans to collect before the device ends the stream, 0 streams until stopped")
	fs.DurationVar(&o.ConnectTimeout, "connect-timeout", o.ConnectTimeout, "Timeout for opening the device connections")
	fs.DurationVar(&o.CommandTimeout, "command-timeout", o.CommandTimeout, "Timeout of each command/response exchange")
	fs.StringVar(&o.CalibrationLayout, "calibration-layout", o.CalibrationLayout, "YAML file describing where calibration constants live in flash")
	fs.BoolVar(&o.NominalCalibration, "nominal-calibration", o.NominalCalibration, "Skip reading calibration and use nominal constants")
	fs.StringVar(&o.StateDir, "state-dir", o.StateDir, "Directory for archived sessions and cached calibrations, empty disables both")
	fs.DurationVar(&o.PrintInterval, "print-interval", o.PrintInterval, "How often a scan is printed to the log")
	fs.StringVarP(&o.WebPort, "web-port", "P", o.WebPort, "Port of the HTTP API, empty disables it")
	fs.StringVar(&o.CertFile, "tls-cert-file", o.CertFile, "TLS certificate for the HTTP API")
	fs.StringVar(&o.KeyFile, "tls-private-key-file", o.KeyFile, "TLS private key for the HTTP API")
	fs.DurationVar(&o.Wait, "graceful-timeout", o.Wait, "The duration for which the server gracefully wait for existing connections to finish - e.g. 15s or 1m")
	fs.StringVar(&o.MQTT.Broker, "mqtt-broker", o.MQTT.Broker, "MQTT broker URL, e.g. tcp://localhost:1883. Empty disables publishing")
	fs.StringVar(&o.MQTT.ClientID, "mqtt-client-id", o.MQTT.ClientID, "MQTT client id, generated when empty")
	fs.StringVar(&o.MQTT.Username, "mqtt-username", o.MQTT.Username, "MQTT username")
	fs.StringVar(&o.MQTT.Password, "mqtt-password", o.MQTT.Password, "MQTT password")
	fs.StringVar(&o.MQTT.Topic, "mqtt-topic", o.MQTT.Topic, "MQTT topic, a %s is replaced by the session id")
	fs.Uint8Var(&o.MQTT.QoS, "mqtt-qos", o.MQTT.QoS, "MQTT quality of service")
	fs.DurationVar(&o.MQTT.Timeout, "mqtt-timeout", o.MQTT.Timeout, "Timeout for MQTT connect and publish")
}

// Config derives the session configuration. Options must be valid.
func (o *Options) Config() (*config.Config, error) {
	gain, err := device.GainIndexForRange(o.Range)
	if err != nil {
		return nil, err
	}
	c := &config.Config{
		SessionID: uuidutil.SessionID(),
		Stream: &device.StreamConfig{
			ScanRateHz:       o.ScanRate,
			NumAddresses:     uint32(len(o.Channels)),
			SamplesPerPacket: o.SamplesPerPacket,
			SettlingUs:       o.Settling,
			ResolutionIndex:  o.ResolutionIndex,
			BufferSizeBytes:  o.BufferSizeBytes,
			AutoTarget:       device.AutoTargetEthernet,
			NumScans:         o.NumScans,
		},
	}
	for _, ain := range o.Channels {
		ch := device.Channel{AIN: uint16(ain), NegativeChannel: o.NegativeChannel, Range: o.Range}
		c.Channels = append(c.Channels, ch)
		c.Gains = append(c.Gains, gain)
		c.Stream.ScanList = append(c.Stream.ScanList, ch.ScanListAddress())
	}

	c.Layout = calibration.DefaultLayout()
	if len(o.CalibrationLayout) != 0 {
		if c.Layout, err = calibration.LoadLayout(o.CalibrationLayout); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// MQTTOptions returns the broker options for a session, filling in the
// client id and expanding the topic.
func (o *Options) MQTTOptions(sessionID string) sink.MQTTOptions {
	m := o.MQTT
	if len(m.ClientID) == 0 {
		m.ClientID = _defaultMQTTClientPrefix + uuidutil.ShortUUID()
	}
	m.Topic = sink.Topic(m.Topic, sessionID)
	return m
}
