//go:build linux
// +build linux

package lib

import (
	"fmt"
	"log"
	"os"
	"os/exec"
	"strconv"

	"golang.org/x/sys/unix"
)

// TunTransport reads and writes raw IPv4 frames on a Linux TUN device
// opened without packet information headers.
type TunTransport struct {
	name string
	file *os.File
}

func NewTunTransport(name string) (*TunTransport, error) {
	fd, err := unix.Open("/dev/net/tun", unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("open /dev/net/tun: %w", err)
	}

	ifr, err := unix.NewIfreq(name)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("tun name %q: %w", name, err)
	}
	ifr.SetUint16(unix.IFF_TUN | unix.IFF_NO_PI)
	if err := unix.IoctlIfreq(fd, unix.TUNSETIFF, ifr); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("TUNSETIFF %s: %w", name, err)
	}

	// non-blocking so that Close unblocks a pending Read through the poller
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("set nonblock: %w", err)
	}

	t := &TunTransport{
		name: ifr.Name(),
		file: os.NewFile(uintptr(fd), "/dev/net/tun"),
	}
	log.Printf("TUN device %s opened", t.name)
	return t, nil
}

func (t *TunTransport) Name() string {
	return t.name
}

// Configure assigns cidr to the device, sets its MTU and brings it up.
func (t *TunTransport) Configure(cidr string, mtu int) error {
	cmds := [][]string{
		{"ip", "addr", "add", cidr, "dev", t.name},
		{"ip", "link", "set", "dev", t.name, "mtu", strconv.Itoa(mtu)},
		{"ip", "link", "set", "dev", t.name, "up"},
	}
	for _, args := range cmds {
		cmd := exec.Command(args[0], args[1:]...)
		if output, err := cmd.CombinedOutput(); err != nil {
			return fmt.Errorf("%v failed: %v\nOutput: %s", args, err, string(output))
		}
	}
	log.Printf("TUN device %s configured with %s, mtu %d", t.name, cidr, mtu)
	return nil
}

func (t *TunTransport) Receive(buf []byte) (int, error) {
	return t.file.Read(buf)
}

func (t *TunTransport) Send(frame []byte) error {
	_, err := t.file.Write(frame)
	return err
}

func (t *TunTransport) Close() error {
	return t.file.Close()
}
