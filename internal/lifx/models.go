package lifx

// Color represents a LIFX HSBK color (brightness carried separately on Device)
type Color struct {
	Hue        float64 `json:"hue"`
	Saturation float64 `json:"saturation"`
	Kelvin     int     `json:"kelvin"`
}

// Ref is an id/name pair used for group and location membership
type Ref struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Capabilities describes what a device can do
type Capabilities struct {
	HasColor             bool `json:"has_color"`
	HasVariableColorTemp bool `json:"has_variable_color_temp"`
	HasIR                bool `json:"has_ir"`
	HasChain             bool `json:"has_chain"`
	HasMultizone         bool `json:"has_multizone"`
}

// Product describes the hardware model of a device
type Product struct {
	Name         string       `json:"name"`
	Identifier   string       `json:"identifier"`
	Company      string       `json:"company"`
	Capabilities Capabilities `json:"capabilities"`
}

// ZoneState is the observed state of a single zone on a multizone device
type ZoneState struct {
	Zone       int     `json:"zone"`
	Power      string  `json:"power"`
	Brightness float64 `json:"brightness"`
	Color      Color   `json:"color"`
}

// Zones holds the per-zone state of a multizone device
type Zones struct {
	Count int         `json:"count"`
	Zones []ZoneState `json:"zones"`
}

// Device represents a light as reported by the LIFX cloud.
// This core treats it as a read-only observation; the cloud owns it.
type Device struct {
	ID         string  `json:"id"`
	UUID       string  `json:"uuid"`
	Label      string  `json:"label"`
	Connected  bool    `json:"connected"`
	Power      string  `json:"power"` // "on" or "off"
	Brightness float64 `json:"brightness"`
	Color      Color   `json:"color"`
	Group      *Ref    `json:"group,omitempty"`
	Location   *Ref    `json:"location,omitempty"`
	Product    Product `json:"product"`
	Zones      *Zones  `json:"zones,omitempty"`
}

// IsOn reports whether the device is powered on
func (d *Device) IsOn() bool {
	return d.Power == "on"
}

// IsMultizone reports whether the device has individually addressable zones
func (d *Device) IsMultizone() bool {
	return d.Product.Capabilities.HasMultizone
}

// ZoneCount returns the number of zones, 0 for single-zone devices
func (d *Device) ZoneCount() int {
	if d.Zones == nil {
		return 0
	}
	return d.Zones.Count
}

// Group is a named collection of devices, derived from device membership
type Group struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Devices []string `json:"devices"` // Device IDs, in directory order
}

// TargetState is one entry of a scene: a selector plus the desired state
// for the devices it addresses. Nil fields mean "no constraint".
type TargetState struct {
	Selector   string   `json:"selector"`
	Power      string   `json:"power,omitempty"`
	Brightness *float64 `json:"brightness,omitempty"`
	Color      *Color   `json:"color,omitempty"`
}

// Scene represents a LIFX scene: a named list of target states
type Scene struct {
	UUID    string        `json:"uuid"`
	Name    string        `json:"name"`
	Account *Ref          `json:"account,omitempty"`
	States  []TargetState `json:"states"`
}

// StateUpdate is the payload for a set-state call
type StateUpdate struct {
	Power      string   `json:"power,omitempty"`
	Color      string   `json:"color,omitempty"` // LIFX color string, e.g. "hue:120 saturation:1.0"
	Brightness *float64 `json:"brightness,omitempty"`
	Duration   *float64 `json:"duration,omitempty"` // Transition time in seconds
}

// DeviceResult is the per-device outcome of a write operation
type DeviceResult struct {
	ID     string `json:"id"`
	Label  string `json:"label"`
	Status string `json:"status"` // "ok", "timed_out" or "offline"
}

// OK reports whether the cloud accepted the command for this device
func (r DeviceResult) OK() bool {
	return r.Status == "ok"
}
