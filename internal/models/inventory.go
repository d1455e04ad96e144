package models

// GuestVM is a virtual machine running on a hypervisor host.
type GuestVM struct {
	Name     string
	Address  string
	Port     int
	Username string
	Password string
}

// Target returns the remote endpoint of the guest.
func (vm GuestVM) Target() Target {
	return Target{
		Kind:     KindGuest,
		Name:     vm.Name,
		Address:  vm.Address,
		Port:     vm.Port,
		Username: vm.Username,
		Password: vm.Password,
	}
}

// HypervisorHost is an ESXi (or similar) host and the guests it runs.
type HypervisorHost struct {
	Name     string
	Address  string
	Port     int
	Username string
	Password string
	VMs      []GuestVM // inventory order
}

// Target returns the remote endpoint of the host.
func (h HypervisorHost) Target() Target {
	return Target{
		Kind:     KindHost,
		Name:     h.Name,
		Address:  h.Address,
		Port:     h.Port,
		Username: h.Username,
		Password: h.Password,
	}
}

// Inventory is the snapshot of hosts loaded for one run.
type Inventory struct {
	Hosts []HypervisorHost
}

// GuestCount returns the number of guests across all hosts.
func (inv Inventory) GuestCount() int {
	n := 0
	for _, h := range inv.Hosts {
		n += len(h.VMs)
	}
	return n
}

// HostByName returns the host with the given name.
func (inv Inventory) HostByName(name string) (HypervisorHost, bool) {
	for _, h := range inv.Hosts {
		if h.Name == name {
			return h, true
		}
	}
	return HypervisorHost{}, false
}

// GuestByName returns the named guest of the named host.
func (inv Inventory) GuestByName(hostName, vmName string) (GuestVM, bool) {
	h, ok := inv.HostByName(hostName)
	if !ok {
		return GuestVM{}, false
	}
	for _, vm := range h.VMs {
		if vm.Name == vmName {
			return vm, true
		}
	}
	return GuestVM{}, false
}

// TargetKind distinguishes guests from hosts.
type TargetKind string

// Target kinds.
const (
	KindGuest TargetKind = "guest"
	KindHost  TargetKind = "host"
)

// Target is a single machine reachable over SSH.
type Target struct {
	Kind     TargetKind
	Name     string
	Address  string
	Port     int
	Username string
	Password string
}
