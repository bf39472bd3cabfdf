package lacrosse

import (
	"bytes"
	"encoding/json"
	"strconv"
)

type upstreamDevice struct {
	DeviceID   flexString    `json:"device_id"`
	DeviceName flexString    `json:"device_name"`
	Obs        []observation `json:"obs"`
}

type observation struct {
	AmbientTemp flexFloat `json:"ambient_temp"`
	ProbeTemp   flexFloat `json:"probe_temp"`
	Humidity    flexFloat `json:"humidity"`
	LowBattery  flexFloat `json:"lowbattery"`
	Timestamp   flexFloat `json:"u_timestamp"`
}

type loginResponse struct {
	SessionKey string `json:"sessionKey"`
}

// flexFloat accepts numbers, numeric strings, booleans and null.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*f = 0
		return nil
	case bytes.Equal(data, []byte("true")):
		*f = 1
		return nil
	case bytes.Equal(data, []byte("false")):
		*f = 0
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s == "" {
			*f = 0
			return nil
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return err
		}
		*f = flexFloat(v)
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*f = flexFloat(v)
	return nil
}

// flexString accepts strings, numbers and null.
type flexString string

func (s *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*s = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var v string
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*s = flexString(v)
		return nil
	}
	*s = flexString(data)
	return nil
}
