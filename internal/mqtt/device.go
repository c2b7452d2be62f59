package mqtt

import "github.com/nugget/dazzy/internal/buildinfo"

// DeviceInfo is the Home Assistant device registry block shared by
// every entity the bridge announces.
type DeviceInfo struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Manufacturer string   `json:"manufacturer"`
	Model        string   `json:"model"`
	SWVersion    string   `json:"sw_version"`
}

// SensorConfig is a Home Assistant MQTT sensor discovery payload.
type SensorConfig struct {
	Name              string     `json:"name"`
	UniqueID          string     `json:"unique_id"`
	StateTopic        string     `json:"state_topic"`
	AvailabilityTopic string     `json:"availability_topic"`
	Device            DeviceInfo `json:"device"`
	Icon              string     `json:"icon,omitempty"`
	StateClass        string     `json:"state_class,omitempty"`
	UnitOfMeasurement string     `json:"unit_of_measurement,omitempty"`
	EntityCategory    string     `json:"entity_category,omitempty"`
	ValueTemplate     string     `json:"value_template,omitempty"`
}

// NewDeviceInfo describes this assistant. The instance ID identifies
// the device so renaming device_name keeps entity history.
func NewDeviceInfo(instanceID, deviceName string) DeviceInfo {
	return DeviceInfo{
		Identifiers:  []string{instanceID},
		Name:         deviceName,
		Manufacturer: "Dazzy",
		Model:        "Dazzy Voice Assistant",
		SWVersion:    buildinfo.Version,
	}
}
