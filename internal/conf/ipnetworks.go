package conf

import (
	"fmt"
	"net"

	"gopkg.in/yaml.v3"
)

// IPNetworks is a list of IP networks, each entry either a bare IP
// (host route) or CIDR notation.
type IPNetworks []net.IPNet

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *IPNetworks) UnmarshalYAML(value *yaml.Node) error {
	var in []string
	if err := value.Decode(&in); err != nil {
		return err
	}

	*d = nil
	for _, t := range in {
		if _, ipnet, err := net.ParseCIDR(t); err == nil {
			*d = append(*d, *ipnet)
			continue
		}

		if ip := net.ParseIP(t); ip != nil {
			bits := 32
			if ip.To4() == nil {
				bits = 128
			}
			*d = append(*d, net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
			continue
		}

		return fmt.Errorf("unable to parse IP/CIDR '%s'", t)
	}

	return nil
}

// Contains reports whether ip belongs to any network in the list.
func (d IPNetworks) Contains(ip net.IP) bool {
	for _, n := range d {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}
