package device

import (
	"bufio"
	"context"
	"encoding/binary"
	"io"
	"net"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jypelle/ipbadge/internal/srv/netlink"
	"github.com/sirupsen/logrus"
)

const procNetRoute = "/proc/net/route"

// InterfaceStack reads readiness of one network interface from the kernel.
type InterfaceStack struct {
	name            string
	pollInterval    time.Duration
	interfaceByName func(name string) (*net.Interface, error)
	addrs           func(iface *net.Interface) ([]net.Addr, error)
	openRoutes      func() (io.ReadCloser, error)
}

func NewInterfaceStack(name string) *InterfaceStack {
	return &InterfaceStack{
		name:            name,
		pollInterval:    250 * time.Millisecond,
		interfaceByName: net.InterfaceByName,
		addrs:           (*net.Interface).Addrs,
		openRoutes: func() (io.ReadCloser, error) {
			return os.Open(procNetRoute)
		},
	}
}

// IsConfigUp reports whether the interface holds a routable IPv4 address.
func (s *InterfaceStack) IsConfigUp() bool {
	_, ok := s.address()
	return ok
}

// IsLinkUp reports whether the interface is administratively up and has a
// carrier.
func (s *InterfaceStack) IsLinkUp() bool {
	iface, err := s.interfaceByName(s.name)
	if err != nil {
		return false
	}
	return iface.Flags&net.FlagUp != 0 && iface.Flags&net.FlagRunning != 0
}

func (s *InterfaceStack) WaitConfigUp(ctx context.Context) (netlink.ConfigV4, error) {
	for {
		if address, ok := s.address(); ok {
			return netlink.ConfigV4{Address: address, Gateway: s.gateway()}, nil
		}
		if err := sleep(ctx, s.pollInterval); err != nil {
			return netlink.ConfigV4{}, err
		}
	}
}

func (s *InterfaceStack) address() (netip.Prefix, bool) {
	iface, err := s.interfaceByName(s.name)
	if err != nil {
		return netip.Prefix{}, false
	}
	addrs, err := s.addrs(iface)
	if err != nil {
		return netip.Prefix{}, false
	}
	for _, a := range addrs {
		ipNet, ok := a.(*net.IPNet)
		if !ok {
			continue
		}
		ip4 := ipNet.IP.To4()
		if ip4 == nil {
			continue
		}
		addr := netip.AddrFrom4([4]byte(ip4))
		if addr.IsLinkLocalUnicast() || addr.IsLoopback() {
			continue
		}
		ones, _ := ipNet.Mask.Size()
		return netip.PrefixFrom(addr, ones), true
	}
	return netip.Prefix{}, false
}

// gateway returns the default route gateway of the interface, zero if none.
func (s *InterfaceStack) gateway() netip.Addr {
	routes, err := s.openRoutes()
	if err != nil {
		logrus.Debugf("Unable to read routes: %v", err)
		return netip.Addr{}
	}
	defer routes.Close()

	scanner := bufio.NewScanner(routes)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 3 || fields[0] != s.name || fields[1] != "00000000" {
			continue
		}
		raw, err := strconv.ParseUint(fields[2], 16, 32)
		if err != nil {
			continue
		}
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], uint32(raw))
		return netip.AddrFrom4(b)
	}
	return netip.Addr{}
}
