// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sockowner

import (
	"fmt"
	"log/slog"
	"net"
	"net/netip"

	"github.com/prometheus/procfs"
)

// tcpEstablished is the TCP_ESTABLISHED state in /proc/net/tcp.
const tcpEstablished = 0x01

// Correlator maps a local TCP endpoint to the pid that owns it.
type Correlator interface {
	Owner(addr netip.AddrPort) (pid int, found bool)
}

// ProcfsCorrelator implements Correlator over /proc/net/tcp{,6} and
// /proc/<pid>/fd.
type ProcfsCorrelator struct {
	fs        procfs.FS
	available bool
	logger    *slog.Logger
}

// NewProcfsCorrelator opens the procfs mount at root ("" for /proc). It
// does not fail when procfs is missing; the correlator then finds
// nothing.
func NewProcfsCorrelator(root string, logger *slog.Logger) *ProcfsCorrelator {
	if root == "" {
		root = procfs.DefaultMountPoint
	}
	if logger == nil {
		logger = slog.Default()
	}
	fs, err := procfs.NewFS(root)
	if err != nil {
		logger.Warn("procfs unavailable, connection owners cannot be resolved", "root", root, "error", err)
		return &ProcfsCorrelator{logger: logger}
	}
	return &ProcfsCorrelator{fs: fs, available: true, logger: logger}
}

// Owner returns the pid holding the established TCP socket whose local
// endpoint is addr.
func (c *ProcfsCorrelator) Owner(addr netip.AddrPort) (int, bool) {
	if !c.available {
		return 0, false
	}
	addr = netip.AddrPortFrom(addr.Addr().Unmap(), addr.Port())

	inode, ok := c.socketInode(addr)
	if !ok {
		return 0, false
	}
	pid, ok := c.inodeOwner(inode)
	if !ok {
		c.logger.Debug("socket has no owning process", "addr", addr, "inode", inode)
	}
	return pid, ok
}

func (c *ProcfsCorrelator) socketInode(addr netip.AddrPort) (uint64, bool) {
	readers := []func() (procfs.NetTCP, error){c.fs.NetTCP, c.fs.NetTCP6}
	for _, read := range readers {
		rows, err := read()
		if err != nil {
			// tcp6 is absent when IPv6 is disabled.
			continue
		}
		for _, row := range rows {
			if row.St != tcpEstablished || row.LocalPort != uint64(addr.Port()) {
				continue
			}
			if local, ok := endpointAddr(row.LocalAddr); ok && local == addr.Addr() {
				return row.Inode, true
			}
		}
	}
	return 0, false
}

func (c *ProcfsCorrelator) inodeOwner(inode uint64) (int, bool) {
	procs, err := c.fs.AllProcs()
	if err != nil {
		c.logger.Debug("listing processes", "error", err)
		return 0, false
	}
	target := fmt.Sprintf("socket:[%d]", inode)
	for _, proc := range procs {
		// Processes of other users are unreadable; skip them.
		links, err := proc.FileDescriptorTargets()
		if err != nil {
			continue
		}
		for _, link := range links {
			if link == target {
				return proc.PID, true
			}
		}
	}
	return 0, false
}

func endpointAddr(ip net.IP) (netip.Addr, bool) {
	addr, ok := netip.AddrFromSlice(ip)
	if !ok {
		return netip.Addr{}, false
	}
	return addr.Unmap(), true
}
