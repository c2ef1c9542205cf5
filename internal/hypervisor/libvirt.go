//go:build libvirt

package hypervisor

import (
	"fmt"
	"log/slog"
	"net"

	"github.com/digitalocean/go-libvirt"
)

// Dial connects to the libvirt daemon at socketPath and returns a controller
// for domain.
func Dial(socketPath, domain string, logger *slog.Logger) (*PowerController, error) {
	if socketPath == "" {
		return nil, fmt.Errorf("libvirt socket path must not be empty")
	}
	if domain == "" {
		return nil, fmt.Errorf("libvirt domain must not be empty")
	}

	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("dial libvirt socket %q: %w", socketPath, err)
	}

	l := libvirt.New(conn)
	if err := l.Connect(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("libvirt connect: %w", err)
	}

	ops := &libvirtOps{l: l}
	if _, err := l.DomainLookupByName(domain); err != nil {
		_ = ops.Close()
		return nil, fmt.Errorf("domain %q not found: %w", domain, err)
	}
	return newPowerController(ops, domain, logger), nil
}

type libvirtOps struct {
	l *libvirt.Libvirt
}

func (o *libvirtOps) lookup(name string) (libvirt.Domain, error) {
	dom, err := o.l.DomainLookupByName(name)
	if err != nil {
		return libvirt.Domain{}, fmt.Errorf("lookup: %w", err)
	}
	return dom, nil
}

func (o *libvirtOps) Running(name string) (bool, error) {
	dom, err := o.lookup(name)
	if err != nil {
		return false, err
	}
	state, _, err := o.l.DomainGetState(dom, 0)
	if err != nil {
		return false, fmt.Errorf("get domain state: %w", err)
	}
	return libvirt.DomainState(state) == libvirt.DomainRunning, nil
}

func (o *libvirtOps) Create(name string) error {
	dom, err := o.lookup(name)
	if err != nil {
		return err
	}
	return o.l.DomainCreate(dom)
}

func (o *libvirtOps) Shutdown(name string) error {
	dom, err := o.lookup(name)
	if err != nil {
		return err
	}
	return o.l.DomainShutdown(dom)
}

func (o *libvirtOps) Reboot(name string) error {
	dom, err := o.lookup(name)
	if err != nil {
		return err
	}
	return o.l.DomainReboot(dom, 0)
}

func (o *libvirtOps) Destroy(name string) error {
	dom, err := o.lookup(name)
	if err != nil {
		return err
	}
	return o.l.DomainDestroy(dom)
}

func (o *libvirtOps) Close() error {
	if err := o.l.Disconnect(); err != nil {
		return fmt.Errorf("libvirt disconnect: %w", err)
	}
	return nil
}
