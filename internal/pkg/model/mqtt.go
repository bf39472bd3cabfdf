package model

type RegisterDevice struct {
	Name         string   `json:"name"`
	Identifiers  []string `json:"identifiers"`
	Model        string   `json:"model"`
	Manufacturer string   `json:"manufacturer"`
}

// RegisterMessage is a Home Assistant MQTT discovery payload.
type RegisterMessage struct {
	Tilda             string         `json:"~"`
	Name              string         `json:"name"`
	ID                string         `json:"unique_id"`
	StateTopic        string         `json:"state_topic"`
	AvailabilityTopic string         `json:"availability_topic"`
	DeviceClass       string         `json:"device_class,omitempty"`
	StateClass        string         `json:"state_class,omitempty"`
	Unit              string         `json:"unit_of_measurement,omitempty"`
	PayloadOn         string         `json:"payload_on,omitempty"`
	PayloadOff        string         `json:"payload_off,omitempty"`
	Device            RegisterDevice `json:"device"`
}

type ReadingEvent struct {
	DeviceID  string      `json:"device_id"`
	Name      string      `json:"name"`
	Kind      ServiceKind `json:"kind"`
	Value     *float64    `json:"value"`
	Timestamp int64       `json:"timestamp"`
}
