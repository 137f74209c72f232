package model

// DeviceSummary is the list-view projection of a device.
type DeviceSummary struct {
	ID   string `json:"id"`
	Name string `json:"name"`

	// Locked reports whether the device's lock currently has a holder.
	Locked bool `json:"locked"`
}

// DeviceView is the detail projection of a device, including its current
// build and lock holder when present.
type DeviceView struct {
	ID       string     `json:"id"`
	Name     string     `json:"name"`
	LockName string     `json:"lock_name,omitempty"`
	Holder   *LockEntry `json:"holder,omitempty"`
	Build    *BuildView `json:"build,omitempty"`
}
