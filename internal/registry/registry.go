// Package registry locates virtual camera devices and their stream endpoints.
//
// Discovery runs once per connection attempt: endpoint IDs are not stable
// across a device reload, so callers must never cache an Endpoint across
// reconnects.
package registry

import (
	"context"
	"errors"
	"strings"
	"sync"
)

// Role selects which side of a device's stream an endpoint serves.
type Role string

const (
	RoleInput  Role = "input"
	RoleOutput Role = "output"
)

// roleSubstring maps a role to the naming convention used by virtual
// devices: an endpoint whose display name contains "Input" is the input
// side. Matching is exact-case, same as device name matching.
func (r Role) substring() string {
	switch r {
	case RoleInput:
		return "Input"
	case RoleOutput:
		return "Output"
	default:
		return string(r)
	}
}

// ErrNotFound is returned when no device or endpoint matches a query,
// e.g. while the virtual device has not finished loading.
var ErrNotFound = errors.New("registry: device or endpoint not found")

// Endpoint identifies one stream endpoint of a virtual device.
// Valid only for the connection attempt that discovered it.
type Endpoint struct {
	DeviceName string `json:"device_name"`
	Name       string `json:"name"`
	ID         string `json:"id"`

	// URL is the dialable address of the endpoint (websocket URL for
	// input endpoints).
	URL string `json:"url"`
}

// Device is one registered virtual device and its endpoints.
type Device struct {
	Name      string     `json:"name"`
	Endpoints []Endpoint `json:"endpoints"`
}

// Registry enumerates the virtual devices visible to this process.
type Registry interface {
	Devices(ctx context.Context) ([]Device, error)
}

// FindEndpoint returns the first endpoint of the first device whose display
// name contains deviceName (exact case) and whose endpoint name matches the
// role's naming convention. Returns ErrNotFound when either is absent.
func FindEndpoint(devices []Device, deviceName string, role Role) (Endpoint, error) {
	for _, dev := range devices {
		if !strings.Contains(dev.Name, deviceName) {
			continue
		}
		for _, ep := range dev.Endpoints {
			if strings.Contains(ep.Name, role.substring()) {
				return ep, nil
			}
		}
		// First matching device wins even if it lacks the endpoint.
		return Endpoint{}, ErrNotFound
	}
	return Endpoint{}, ErrNotFound
}

// Lookup runs a full discovery pass against reg and resolves one endpoint.
func Lookup(ctx context.Context, reg Registry, deviceName string, role Role) (Endpoint, error) {
	devices, err := reg.Devices(ctx)
	if err != nil {
		return Endpoint{}, err
	}
	return FindEndpoint(devices, deviceName, role)
}

// Static is an in-memory registry. The consumer process registers its own
// device here and serves it over the API; tests use it directly.
type Static struct {
	mu      sync.RWMutex
	devices []Device
}

// NewStatic creates an empty in-memory registry.
func NewStatic() *Static {
	return &Static{}
}

// Register adds or replaces a device by name.
func (s *Static) Register(dev Device) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.devices {
		if existing.Name == dev.Name {
			s.devices[i] = dev
			return
		}
	}
	s.devices = append(s.devices, dev)
}

// Unregister removes a device by name. No-op if absent.
func (s *Static) Unregister(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.devices {
		if existing.Name == name {
			s.devices = append(s.devices[:i], s.devices[i+1:]...)
			return
		}
	}
}

// Devices returns a snapshot of the registered devices.
func (s *Static) Devices(_ context.Context) ([]Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Device, len(s.devices))
	copy(out, s.devices)
	return out, nil
}
