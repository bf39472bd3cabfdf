package model

import (
	"strings"

	"github.com/gosimple/slug"
	"github.com/samber/lo"
)

type Reading struct {
	RawValue float64 `json:"raw_value"`
	Value    float64 `json:"value"`
}

// DeviceConfig is one station as reported by the upstream status page.
// A nil Services map means the device is not responding.
type DeviceConfig struct {
	DeviceID        string                  `json:"device_id"`
	Name            string                  `json:"name"`
	LastObservation int64                   `json:"timestamp"`
	Services        map[ServiceKind]Reading `json:"services"`
}

func (d DeviceConfig) Available() bool {
	return d.Services != nil
}

func (d DeviceConfig) Reading(kind ServiceKind) (Reading, bool) {
	r, ok := d.Services[kind]
	return r, ok
}

// Slug is the identifier used for topics and unique ids. The device id is
// part of it so stations whose names slug alike stay apart.
func (d DeviceConfig) Slug() string {
	parts := lo.Compact([]string{slug.Make(d.Name), slug.Make(d.DeviceID)})
	return strings.ReplaceAll(strings.Join(parts, "_"), "-", "_")
}

// ExposedKinds returns the kinds a device publishes. The probe sensor is only
// exposed when the device reported a non-zero probe value.
func ExposedKinds(d DeviceConfig) []ServiceKind {
	kinds := make([]ServiceKind, 0, len(ServiceKinds))
	for _, k := range ServiceKinds {
		if k == ProbeTemperature {
			if r, ok := d.Services[k]; !ok || r.Value == 0 {
				continue
			}
		}
		kinds = append(kinds, k)
	}
	return kinds
}

// AccessoryInfo mirrors the information service of a published device.
type AccessoryInfo struct {
	Manufacturer string `json:"manufacturer"`
	Model        string `json:"model"`
	SerialNumber string `json:"serial_number"`
}

const Manufacturer = "La Crosse"

// ValueOf returns the published value of kind. Battery readings map onto a
// BatteryStatus. Unavailable devices have no values.
func ValueOf(d DeviceConfig, kind ServiceKind) (float64, bool) {
	if !d.Available() {
		return 0, false
	}
	r, ok := d.Reading(kind)
	if !ok {
		return 0, false
	}
	if kind == LowBattery {
		return float64(BatteryStatusFromValue(r.Value)), true
	}
	return r.Value, true
}
