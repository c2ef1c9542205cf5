// Package hypervisor sends power signals to a node that runs as a libvirt
// domain, for deployments where the panel does not control power.
//
// The libvirt client is compiled in with the "libvirt" build tag:
//
//	go build -tags libvirt ./...
package hypervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jamesprial/readings/internal/tasks"
)

// ErrLibvirtNotCompiled is returned by Dial in builds without the libvirt tag.
var ErrLibvirtNotCompiled = errors.New("libvirt support not compiled: rebuild with -tags libvirt")

// ErrAlreadyRunning is returned when start is sent to a running domain.
var ErrAlreadyRunning = errors.New("domain already running")

// domainOps is the set of libvirt calls the controller needs, addressed by
// domain name.
type domainOps interface {
	Running(name string) (bool, error)
	Create(name string) error
	Shutdown(name string) error
	Reboot(name string) error
	Destroy(name string) error
	Close() error
}

// PowerController maps power actions onto libvirt domain operations:
// start creates, stop shuts down via ACPI, restart reboots and kill
// destroys.
type PowerController struct {
	ops    domainOps
	domain string
	logger *slog.Logger
}

func newPowerController(ops domainOps, domain string, logger *slog.Logger) *PowerController {
	if logger == nil {
		logger = slog.Default()
	}
	return &PowerController{ops: ops, domain: domain, logger: logger}
}

// Domain returns the name of the controlled domain.
func (p *PowerController) Domain() string { return p.domain }

// Power sends action to the domain.
func (p *PowerController) Power(ctx context.Context, action tasks.PowerAction) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s domain %q: %w", action, p.domain, err)
	}

	var err error
	switch action {
	case tasks.PowerStart:
		var running bool
		running, err = p.ops.Running(p.domain)
		if err == nil && running {
			return fmt.Errorf("start domain %q: %w", p.domain, ErrAlreadyRunning)
		}
		if err == nil {
			err = p.ops.Create(p.domain)
		}
	case tasks.PowerStop:
		err = p.ops.Shutdown(p.domain)
	case tasks.PowerRestart:
		err = p.ops.Reboot(p.domain)
	case tasks.PowerKill:
		err = p.ops.Destroy(p.domain)
	default:
		return fmt.Errorf("%w: %q", tasks.ErrInvalidPowerAction, action)
	}
	if err != nil {
		return fmt.Errorf("%s domain %q: %w", action, p.domain, err)
	}

	p.logger.Info("power signal sent",
		slog.String("backend", "libvirt"),
		slog.String("domain", p.domain),
		slog.String("signal", string(action)),
	)
	return nil
}

// Close releases the libvirt connection.
func (p *PowerController) Close() error {
	return p.ops.Close()
}
