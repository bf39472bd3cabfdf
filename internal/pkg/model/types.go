package model

type ServiceKind string

func (k ServiceKind) String() string {
	return string(k)
}

const (
	AmbientTemperature ServiceKind = "ambient_temperature"
	ProbeTemperature   ServiceKind = "probe_temperature"
	CurrentHumidity    ServiceKind = "current_humidity"
	LowBattery         ServiceKind = "low_battery"
)

// ServiceKinds lists every kind in publishing order.
var ServiceKinds = []ServiceKind{
	AmbientTemperature,
	ProbeTemperature,
	CurrentHumidity,
	LowBattery,
}

func ParseServiceKind(s string) (ServiceKind, bool) {
	for _, k := range ServiceKinds {
		if k.String() == s {
			return k, true
		}
	}
	return "", false
}

func (k ServiceKind) IsTemperature() bool {
	return k == AmbientTemperature || k == ProbeTemperature
}

func (k ServiceKind) Unit() string {
	switch k {
	case AmbientTemperature, ProbeTemperature:
		return "°C"
	case CurrentHumidity:
		return "%"
	}
	return ""
}

// DeviceClass is the Home Assistant device class for the kind.
func (k ServiceKind) DeviceClass() string {
	switch k {
	case AmbientTemperature, ProbeTemperature:
		return "temperature"
	case CurrentHumidity:
		return "humidity"
	case LowBattery:
		return "battery"
	}
	return ""
}

type BatteryStatus int

const (
	BatteryLevelNormal BatteryStatus = 0
	BatteryLevelLow    BatteryStatus = 1
)

// BatteryStatusFromValue maps the upstream lowbattery flag onto a status.
func BatteryStatusFromValue(v float64) BatteryStatus {
	if v != 0 {
		return BatteryLevelLow
	}
	return BatteryLevelNormal
}
