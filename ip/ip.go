// Package ip expands the address shorthands accepted by inventory files:
// single addresses, CIDR blocks, and explicit ranges.
package ip

import (
	"math/big"
	"net"
	"strings"

	"github.com/pkg/errors"
)

// ParseAddresses parses a string containing IP addresses, CIDR notations, or
// IP ranges and returns the individual addresses, deduplicated, in input order.
// Supported forms, comma-separated:
//   - single IP:  "192.168.1.1"
//   - CIDR:       "192.168.1.0/30" (network and broadcast excluded for IPv4)
//   - range:      "192.168.1.10-192.168.1.20"
func ParseAddresses(input string) ([]string, error) {
	all := []string{}
	seen := make(map[string]struct{})

	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return all, nil
	}

	for _, part := range strings.Split(trimmed, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		var ips []string
		var err error
		switch {
		case strings.Contains(part, "/"):
			ips, err = expandCIDR(part)
		case strings.Contains(part, "-"):
			ips, err = expandRange(part)
		default:
			ip := net.ParseIP(part)
			if ip == nil {
				return nil, errors.Errorf("invalid IP address %q", part)
			}
			ips = []string{ip.String()}
		}
		if err != nil {
			return nil, err
		}

		for _, ip := range ips {
			if _, dup := seen[ip]; !dup {
				seen[ip] = struct{}{}
				all = append(all, ip)
			}
		}
	}
	return all, nil
}

// expandCIDR lists the usable host addresses of a CIDR block. For IPv4 masks
// shorter than /31 the network and broadcast addresses are dropped.
func expandCIDR(cidr string) ([]string, error) {
	ip, ipNet, err := net.ParseCIDR(cidr)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid CIDR %q", cidr)
	}

	ones, bits := ipNet.Mask.Size()
	isIPv4 := ip.To4() != nil

	first := ipToInt(ipNet.IP)
	count := new(big.Int).Lsh(big.NewInt(1), uint(bits-ones))

	// Refuse to expand unreasonably large blocks.
	if count.Cmp(big.NewInt(1<<16)) > 0 {
		return nil, errors.Errorf("CIDR %q expands to more than %d addresses", cidr, 1<<16)
	}

	last := new(big.Int).Add(first, new(big.Int).Sub(count, big.NewInt(1)))
	if isIPv4 && ones < 31 {
		first = new(big.Int).Add(first, big.NewInt(1)) // skip network
		last = new(big.Int).Sub(last, big.NewInt(1))   // skip broadcast
	}

	var ips []string
	for cur := new(big.Int).Set(first); cur.Cmp(last) <= 0; cur.Add(cur, big.NewInt(1)) {
		ips = append(ips, intToIP(cur, isIPv4).String())
	}
	return ips, nil
}

func expandRange(r string) ([]string, error) {
	parts := strings.SplitN(r, "-", 2)
	if len(parts) != 2 {
		return nil, errors.Errorf("invalid IP range %q", r)
	}
	start := net.ParseIP(strings.TrimSpace(parts[0]))
	end := net.ParseIP(strings.TrimSpace(parts[1]))
	if start == nil || end == nil {
		return nil, errors.Errorf("invalid IP range %q", r)
	}

	startInt := ipToInt(start)
	endInt := ipToInt(end)
	if startInt.Cmp(endInt) > 0 {
		return nil, errors.Errorf("IP range %q runs backwards", r)
	}
	span := new(big.Int).Sub(endInt, startInt)
	if span.Cmp(big.NewInt(1<<16)) > 0 {
		return nil, errors.Errorf("IP range %q expands to more than %d addresses", r, 1<<16)
	}

	isIPv4 := start.To4() != nil
	var ips []string
	for cur := new(big.Int).Set(startInt); cur.Cmp(endInt) <= 0; cur.Add(cur, big.NewInt(1)) {
		ips = append(ips, intToIP(cur, isIPv4).String())
	}
	return ips, nil
}

func ipToInt(ip net.IP) *big.Int {
	if v4 := ip.To4(); v4 != nil {
		return new(big.Int).SetBytes(v4)
	}
	return new(big.Int).SetBytes(ip.To16())
}

func intToIP(i *big.Int, isIPv4 bool) net.IP {
	size := net.IPv6len
	if isIPv4 {
		size = net.IPv4len
	}
	bytes := i.Bytes()
	ip := make(net.IP, size)
	copy(ip[size-len(bytes):], bytes)
	return ip
}
