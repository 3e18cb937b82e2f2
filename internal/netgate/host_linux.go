//go:build linux

package netgate

import (
	"net"

	"github.com/vishvananda/netlink"
)

// netlinkHost reads link and route state over rtnetlink.
type netlinkHost struct{}

func defaultHost() HostNetwork { return netlinkHost{} }

func (netlinkHost) ActiveInterfaces() ([]string, error) {
	links, err := netlink.LinkList()
	if err != nil {
		return nil, err
	}
	var names []string
	for _, l := range links {
		attrs := l.Attrs()
		if attrs.Flags&net.FlagLoopback != 0 || attrs.Flags&net.FlagUp == 0 {
			continue
		}
		// Tunnels and some virtual NICs never leave OperUnknown.
		if attrs.OperState == netlink.OperUp || attrs.OperState == netlink.OperUnknown {
			names = append(names, attrs.Name)
		}
	}
	return names, nil
}

func (netlinkHost) DefaultRoute() (bool, error) {
	routes, err := netlink.RouteList(nil, netlink.FAMILY_ALL)
	if err != nil {
		return false, err
	}
	for _, r := range routes {
		if r.Dst == nil {
			return true, nil
		}
		if ones, _ := r.Dst.Mask.Size(); ones == 0 {
			return true, nil
		}
	}
	return false, nil
}

// Personal.AI order the ending
