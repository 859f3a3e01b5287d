// Package provision manages the externally-provisioned virtual machines
// backing sessions. The coordination core consumes the Provisioner interface
// only; failures on Stop are best-effort and never block marking a session
// stopped.
package provision

import "context"

// VMInfo is the connection metadata handed back for a provisioned VM
type VMInfo struct {
	ContainerID string
	VNCHost     string
	VNCPort     int
	NoVNCURL    string
}

// Provisioner starts and stops session VMs
type Provisioner interface {
	// Start provisions a VM for the session and returns its connection
	// metadata
	Start(ctx context.Context, sessionID string) (VMInfo, error)

	// Stop tears down the VM. Best-effort: callers record failures but
	// still mark the session stopped.
	Stop(ctx context.Context, containerID string) error
}

// Static hands out fixed connection metadata without provisioning anything.
// Used in development and tests where no VM runtime is available.
type Static struct {
	Info VMInfo
}

// Start returns the fixed metadata with a per-session container id
func (s *Static) Start(_ context.Context, sessionID string) (VMInfo, error) {
	info := s.Info
	if info.ContainerID == "" {
		info.ContainerID = "static-" + sessionID
	}
	return info, nil
}

// Stop is a no-op
func (s *Static) Stop(context.Context, string) error {
	return nil
}
