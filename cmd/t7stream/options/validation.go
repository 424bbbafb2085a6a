package options

import (
	"fmt"
	"k8s.io/apimachinery/pkg/util/validation/field"
	"net"
	"strconv"
	"t7stream/pkg/device"
)

func Validate(o *Options) []error {
	var errs []error
	if err := o.BaseOptions.ValidateAndApply(); err != nil {
		errs = append(errs, err)
	}
	if allErrs := o.validate(field.NewPath("")); len(allErrs) != 0 {
		errs = append(errs, allErrs.ToAggregate())
	}

	return errs
}

func (o *Options) validate(fldPath *field.Path) field.ErrorList {
	var allErrs field.ErrorList
	if len(o.Address) == 0 {
		allErrs = append(allErrs, field.Required(fldPath.Child("address"), "device address is required"))
	} else if net.ParseIP(o.Address) == nil {
		if _, err := net.LookupHost(o.Address); err != nil {
			allErrs = append(allErrs, field.Invalid(fldPath.Child("address"), o.Address, "must be an IP address or a resolvable host name"))
		}
	}

	channels := fldPath.Child("channels")
	if len(o.Channels) == 0 || len(o.Channels) > device.MaxChannels {
		allErrs = append(allErrs, field.Invalid(channels, len(o.Channels), fmt.Sprintf("must name between 1 and %d channels", device.MaxChannels)))
	}
	seen := map[uint]bool{}
	for i, ain := range o.Channels {
		if ain > device.MaxAIN {
			allErrs = append(allErrs, field.Invalid(channels.Index(i), ain, fmt.Sprintf("must be at most %d", device.MaxAIN)))
		}
		if seen[ain] {
			allErrs = append(allErrs, field.Duplicate(channels.Index(i), ain))
		}
		seen[ain] = true
	}
	if _, err := device.GainIndexForRange(o.Range); err != nil {
		allErrs = append(allErrs, field.NotSupported(fldPath.Child("range"), o.Range, []string{"10", "1", "0.1", "0.01"}))
	}
	if o.ScanRate <= 0 {
		allErrs = append(allErrs, field.Invalid(fldPath.Child("scanRate"), o.ScanRate, "must be positive"))
	}
	if o.SamplesPerPacket == 0 || o.SamplesPerPacket > device.MaxSamplesPerPacket {
		allErrs = append(allErrs, field.Invalid(fldPath.Child("samplesPerPacket"), o.SamplesPerPacket, fmt.Sprintf("must be between 1 and %d", device.MaxSamplesPerPacket)))
	}
	if o.Settling < 0 {
		allErrs = append(allErrs, field.Invalid(fldPath.Child("settlingUs"), o.Settling, "must not be negative"))
	}
	if o.CommandTimeout <= 0 {
		allErrs = append(allErrs, field.Invalid(fldPath.Child("commandTimeout"), o.CommandTimeout.String(), "must be positive"))
	}
	if o.PrintInterval < 0 {
		allErrs = append(allErrs, field.Invalid(fldPath.Child("printInterval"), o.PrintInterval.String(), "must not be negative"))
	}
	if len(o.WebPort) != 0 {
		if port, err := strconv.Atoi(o.WebPort); err != nil || port < 1 || port > 65535 {
			allErrs = append(allErrs, field.Invalid(fldPath.Child("webPort"), o.WebPort, "must be a port number"))
		}
	}
	if (len(o.CertFile) == 0) != (len(o.KeyFile) == 0) {
		allErrs = append(allErrs, field.Invalid(fldPath.Child("certFile"), o.CertFile, "certFile and keyFile must be set together"))
	}
	if len(o.MQTT.Broker) != 0 {
		if o.MQTT.QoS > 2 {
			allErrs = append(allErrs, field.NotSupported(fldPath.Child("mqtt", "qos"), o.MQTT.QoS, []string{"0", "1", "2"}))
		}
		if o.MQTT.Timeout <= 0 {
			allErrs = append(allErrs, field.Invalid(fldPath.Child("mqtt", "timeout"), o.MQTT.Timeout.String(), "must be positive"))
		}
	}
	return allErrs
}
