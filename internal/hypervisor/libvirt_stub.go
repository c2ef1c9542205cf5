//go:build !libvirt

package hypervisor

import (
	"fmt"
	"log/slog"
)

// Dial always fails in builds without the libvirt tag.
func Dial(socketPath, domain string, _ *slog.Logger) (*PowerController, error) {
	return nil, fmt.Errorf("%w (socket: %s, domain: %s)", ErrLibvirtNotCompiled, socketPath, domain)
}
