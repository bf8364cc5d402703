package inventory

import (
	"fmt"
	"net"
	"os"
	"path"
	"regexp"
	"strconv"
	"strings"

	sshconfig "github.com/kevinburke/ssh_config"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/mensylisir/xmplay/common"
	"github.com/mensylisir/xmplay/ip"
	"github.com/mensylisir/xmplay/util"
)

// namePattern matches numeric range expressions like web[01:03].
var namePattern = regexp.MustCompile(`^(.*)\[(\d+):(\d+)\](.*)$`)

// sshConfigGet resolves a setting from the user's ssh config. Swappable in
// tests.
var sshConfigGet = sshconfig.Get

// groupSpec is the YAML shape of one group entry.
type groupSpec struct {
	Hosts []string               `yaml:"hosts"`
	Vars  map[string]interface{} `yaml:"vars,omitempty"`
}

// fileSpec is the YAML shape of an inventory file.
type fileSpec struct {
	Hosts  []*Host                `yaml:"hosts"`
	Groups map[string]groupSpec   `yaml:"groups,omitempty"`
	Vars   map[string]interface{} `yaml:"vars,omitempty"`
}

// Inventory is the resolved, addressable host set for one run.
type Inventory struct {
	hosts  []*Host
	byName map[string]*Host
	groups map[string][]string
}

// Load reads and resolves an inventory file.
func Load(filePath string) (*Inventory, error) {
	content, err := os.ReadFile(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read inventory file %s", filePath)
	}
	inv, err := Parse(content)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse inventory file %s", filePath)
	}
	return inv, nil
}

// Parse resolves inventory YAML into an Inventory: host patterns expanded,
// group and global vars merged, defaults applied, every host validated.
func Parse(content []byte) (*Inventory, error) {
	var spec fileSpec
	if err := yaml.Unmarshal(content, &spec); err != nil {
		return nil, errors.Wrap(err, "invalid inventory YAML")
	}
	if len(spec.Hosts) == 0 {
		return nil, errors.New("inventory defines no hosts")
	}

	inv := &Inventory{
		byName: make(map[string]*Host),
		groups: make(map[string][]string),
	}

	for _, raw := range spec.Hosts {
		expanded, err := expandHost(raw)
		if err != nil {
			return nil, err
		}
		for _, h := range expanded {
			if _, dup := inv.byName[h.Name]; dup {
				return nil, errors.Errorf("duplicate host name %q in inventory", h.Name)
			}
			inv.byName[h.Name] = h
			inv.hosts = append(inv.hosts, h)
		}
	}

	groupVars := make(map[string]map[string]interface{}, len(spec.Groups))
	for name, group := range spec.Groups {
		if name == common.GroupAll {
			return nil, errors.Errorf("group name %q is reserved", common.GroupAll)
		}
		members := make([]string, 0, len(group.Hosts))
		for _, member := range group.Hosts {
			names, err := expandName(member)
			if err != nil {
				return nil, errors.Wrapf(err, "group %s", name)
			}
			for _, n := range names {
				h, ok := inv.byName[n]
				if !ok {
					return nil, errors.Errorf("group %s references unknown host %q", name, n)
				}
				h.Groups = append(h.Groups, name)
				members = append(members, n)
			}
		}
		inv.groups[name] = members
		groupVars[name] = group.Vars
	}

	for _, h := range inv.hosts {
		layers := make([]map[string]interface{}, 0, len(h.Groups)+2)
		layers = append(layers, spec.Vars)
		for _, g := range util.UniqueStrings(h.Groups) {
			layers = append(layers, groupVars[g])
		}
		layers = append(layers, h.Vars)
		h.Vars = util.MergeVars(layers...)
		h.Groups = util.UniqueStrings(h.Groups)

		applySSHConfigDefaults(h)
		if err := h.Validate(); err != nil {
			return nil, err
		}
	}
	return inv, nil
}

// expandHost turns one raw host entry into its concrete hosts, expanding
// name range patterns and CIDR/range address expressions.
func expandHost(raw *Host) ([]*Host, error) {
	names, err := expandName(raw.Name)
	if err != nil {
		return nil, err
	}

	var addrs []string
	if raw.Address != "" {
		if isAddressExpression(raw.Address) {
			addrs, err = ip.ParseAddresses(raw.Address)
			if err != nil {
				return nil, errors.Wrapf(err, "host %s has an invalid address expression", raw.Name)
			}
		} else {
			// Plain hostname, taken literally.
			addrs = []string{raw.Address}
		}
	}

	switch {
	case len(addrs) == 0:
		// Address defaults to the host name, one host per expanded name.
		addrs = names
	case len(addrs) == 1 && len(names) > 1:
		return nil, errors.Errorf("host pattern %s expands to %d names but a single address", raw.Name, len(names))
	case len(names) == 1 && len(addrs) > 1:
		// A bulk address expression with a plain name: name each host
		// after its address.
		names = addrs
	case len(names) != len(addrs):
		return nil, errors.Errorf("host pattern %s expands to %d names but %d addresses", raw.Name, len(names), len(addrs))
	}

	hosts := make([]*Host, 0, len(names))
	for i, name := range names {
		h := *raw
		h.Name = name
		h.Address = addrs[i]
		h.Vars = util.MergeVars(raw.Vars)
		h.Groups = nil
		hosts = append(hosts, &h)
	}
	return hosts, nil
}

// isAddressExpression reports whether an address field is a CIDR, IP range,
// or comma-separated list rather than a literal hostname.
func isAddressExpression(addr string) bool {
	if strings.Contains(addr, "/") || strings.Contains(addr, ",") {
		return true
	}
	if net.ParseIP(addr) != nil {
		return true
	}
	if lo, hi, found := strings.Cut(addr, "-"); found {
		return net.ParseIP(strings.TrimSpace(lo)) != nil && net.ParseIP(strings.TrimSpace(hi)) != nil
	}
	return false
}

// expandName expands numeric range patterns like web[01:03] into
// web01, web02, web03. Width of the lower bound is preserved.
func expandName(name string) ([]string, error) {
	m := namePattern.FindStringSubmatch(name)
	if m == nil {
		return []string{name}, nil
	}
	prefix, lo, hi, suffix := m[1], m[2], m[3], m[4]

	start, err := strconv.Atoi(lo)
	if err != nil {
		return nil, errors.Errorf("invalid range start in pattern %q", name)
	}
	end, err := strconv.Atoi(hi)
	if err != nil {
		return nil, errors.Errorf("invalid range end in pattern %q", name)
	}
	if end < start {
		return nil, errors.Errorf("descending range in pattern %q", name)
	}
	width := len(lo)

	names := make([]string, 0, end-start+1)
	for i := start; i <= end; i++ {
		names = append(names, fmt.Sprintf("%s%0*d%s", prefix, width, i, suffix))
	}
	return names, nil
}

// applySSHConfigDefaults fills missing connection parameters from the user's
// ssh config before engine defaults take over.
func applySSHConfigDefaults(h *Host) {
	if h.IsLocal() {
		return
	}
	if h.User == "" {
		h.User = sshConfigGet(h.Address, "User")
	}
	if h.Port == 0 {
		if port := sshConfigGet(h.Address, "Port"); port != "" {
			if p, err := strconv.Atoi(port); err == nil && p != common.DefaultSSHPort {
				h.Port = p
			}
		}
	}
	if h.Password == "" && h.PrivateKey == "" && h.KeyFile == "" {
		if identity := sshConfigGet(h.Address, "IdentityFile"); identity != "" && identity != "~/.ssh/identity" {
			if expanded, err := expandHome(identity); err == nil {
				if _, statErr := os.Stat(expanded); statErr == nil {
					h.KeyFile = expanded
				}
			}
		}
	}
}

func expandHome(p string) (string, error) {
	if !strings.HasPrefix(p, "~/") {
		return p, nil
	}
	home, err := util.Home()
	if err != nil {
		return "", err
	}
	return home + p[1:], nil
}

// Hosts returns every host in definition order.
func (inv *Inventory) Hosts() []*Host {
	return inv.hosts
}

// Get returns the host with the given name.
func (inv *Inventory) Get(name string) (*Host, bool) {
	h, ok := inv.byName[name]
	return h, ok
}

// Groups returns the defined group names and their members.
func (inv *Inventory) Groups() map[string][]string {
	return inv.groups
}

// Select resolves a comma-separated pattern of host names, group names, and
// shell-style globs into a deduplicated host list in inventory order. The
// pattern "all" (or "*") matches every host. A term that matches nothing is
// an error.
func (inv *Inventory) Select(pattern string) ([]*Host, error) {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		return nil, errors.New("empty host pattern")
	}

	selected := make(map[string]bool, len(inv.hosts))
	for _, term := range strings.Split(pattern, ",") {
		term = strings.TrimSpace(term)
		if term == "" {
			continue
		}
		if err := inv.selectTerm(term, selected); err != nil {
			return nil, err
		}
	}

	hosts := make([]*Host, 0, len(selected))
	for _, h := range inv.hosts {
		if selected[h.Name] {
			hosts = append(hosts, h)
		}
	}
	return hosts, nil
}

func (inv *Inventory) selectTerm(term string, selected map[string]bool) error {
	if term == common.GroupAll {
		for _, h := range inv.hosts {
			selected[h.Name] = true
		}
		return nil
	}
	if members, ok := inv.groups[term]; ok {
		for _, name := range members {
			selected[name] = true
		}
		return nil
	}
	if _, ok := inv.byName[term]; ok {
		selected[term] = true
		return nil
	}
	if strings.ContainsAny(term, "*?[") {
		matched := false
		for _, h := range inv.hosts {
			ok, err := path.Match(term, h.Name)
			if err != nil {
				return errors.Wrapf(err, "invalid host pattern %q", term)
			}
			if ok {
				selected[h.Name] = true
				matched = true
			}
		}
		for group, members := range inv.groups {
			ok, err := path.Match(term, group)
			if err != nil {
				return errors.Wrapf(err, "invalid host pattern %q", term)
			}
			if ok {
				for _, name := range members {
					selected[name] = true
				}
				matched = true
			}
		}
		if !matched {
			return errors.Errorf("pattern %q matches no host or group", term)
		}
		return nil
	}
	return errors.Errorf("unknown host or group %q", term)
}
