//go:build !linux

package netgate

import (
	"errors"
	"net"
)

type stdHost struct{}

func defaultHost() HostNetwork { return stdHost{} }

func (stdHost) ActiveInterfaces() ([]string, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}
	var names []string
	for _, i := range ifaces {
		if i.Flags&net.FlagLoopback == 0 && i.Flags&net.FlagUp != 0 {
			names = append(names, i.Name)
		}
	}
	return names, nil
}

func (stdHost) DefaultRoute() (bool, error) {
	return false, errors.ErrUnsupported
}

// Personal.AI order the ending
