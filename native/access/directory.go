package access

import "custodia/native/registry"

// RegistryDirectory adapts the role registries to the Directory interface.
type RegistryDirectory struct {
	Registry *registry.Engine
}

// NewRegistryDirectory wraps a registry engine.
func NewRegistryDirectory(r *registry.Engine) *RegistryDirectory {
	return &RegistryDirectory{Registry: r}
}

func (d *RegistryDirectory) IsDoctor(addr [20]byte) bool {
	if d == nil || d.Registry == nil {
		return false
	}
	return d.Registry.IsMember(registry.KindDoctor, addr)
}

func (d *RegistryDirectory) IsPatient(addr [20]byte) bool {
	if d == nil || d.Registry == nil {
		return false
	}
	return d.Registry.IsMember(registry.KindPatient, addr)
}

func (d *RegistryDirectory) DoctorCount() (int, error) {
	if d == nil || d.Registry == nil {
		return 0, nil
	}
	return d.Registry.Count(registry.KindDoctor)
}
