package registry

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// DeviceDef is one device entry in the definitions file.
type DeviceDef struct {
	// ID uniquely identifies the device across the fleet.
	ID string `yaml:"id"`

	// Name is the human-readable label shown in listings. Defaults to ID.
	Name string `yaml:"name"`

	// LockName is the resource name in the external lock manager. Devices
	// without one are never locked and skip reconciliation.
	LockName string `yaml:"lock_name"`
}

// deviceFile is the top-level structure of the definitions file.
type deviceFile struct {
	Devices []DeviceDef `yaml:"devices"`
}

// LoadDefinitions reads and parses the device definitions file.
func LoadDefinitions(path string) ([]DeviceDef, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read device definitions: %w", err)
	}
	return ParseDefinitions(data)
}

// ParseDefinitions parses device definitions from YAML.
func ParseDefinitions(data []byte) ([]DeviceDef, error) {
	var file deviceFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse device definitions: %w", err)
	}
	if len(file.Devices) == 0 {
		return nil, fmt.Errorf("device definitions contain no devices")
	}
	return file.Devices, nil
}

// LoadDevices loads the definitions file and registers every device.
func (r *Registry) LoadDevices(path string) error {
	defs, err := LoadDefinitions(path)
	if err != nil {
		return err
	}
	for _, def := range defs {
		if err := r.AddDevice(def); err != nil {
			return err
		}
	}
	return nil
}
