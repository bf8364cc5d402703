package inventory

import (
	"time"

	"github.com/pkg/errors"

	"github.com/mensylisir/xmplay/common"
	"github.com/mensylisir/xmplay/connector"
)

// Host is one addressable target. Hosts are fully resolved at load time and
// treated as immutable for the rest of the run.
type Host struct {
	Name       string `yaml:"name"`
	Address    string `yaml:"address,omitempty"`
	Port       int    `yaml:"port,omitempty"`
	User       string `yaml:"user,omitempty"`
	Password   string `yaml:"password,omitempty"`
	PrivateKey string `yaml:"private_key,omitempty"`
	KeyFile    string `yaml:"key_file,omitempty"`
	Become     bool   `yaml:"become,omitempty"`
	Timeout    int    `yaml:"timeout,omitempty"`

	Vars map[string]interface{} `yaml:"vars,omitempty"`

	// Groups lists the group names this host belongs to, populated by the
	// loader. Every host is a member of "all".
	Groups []string `yaml:"-"`
}

// ID returns the stable identifier used for caching and log fields.
func (h *Host) ID() string {
	return h.Name
}

// IsLocal reports whether the host targets the control machine directly.
func (h *Host) IsLocal() bool {
	if conn, ok := h.Vars["connection"].(string); ok && conn == "local" {
		return true
	}
	return h.Address == "localhost" || h.Address == "127.0.0.1" || h.Address == "::1"
}

// InGroup reports whether the host is a member of the named group.
func (h *Host) InGroup(group string) bool {
	if group == common.GroupAll {
		return true
	}
	for _, g := range h.Groups {
		if g == group {
			return true
		}
	}
	return false
}

// Validate checks that the host carries enough information to open a session.
func (h *Host) Validate() error {
	if h.Name == "" {
		return errors.New("host has no name")
	}
	if h.IsLocal() {
		return nil
	}
	if h.Address == "" {
		return errors.Errorf("host %s has no address", h.Name)
	}
	if h.User == "" {
		return errors.Errorf("host %s has no user", h.Name)
	}
	if h.Password == "" && h.PrivateKey == "" && h.KeyFile == "" {
		return errors.Errorf("host %s has no auth method (password, private_key or key_file)", h.Name)
	}
	return nil
}

// ConnectionConfig builds the connector configuration for this host.
func (h *Host) ConnectionConfig() connector.Config {
	cfg := connector.Config{
		Username:   h.User,
		Password:   h.Password,
		Address:    h.Address,
		Port:       h.Port,
		PrivateKey: h.PrivateKey,
		KeyFile:    h.KeyFile,
		Local:      h.IsLocal(),
	}
	if cfg.Port <= 0 {
		cfg.Port = common.DefaultSSHPort
	}
	if h.Timeout > 0 {
		cfg.Timeout = time.Duration(h.Timeout) * time.Second
	} else {
		cfg.Timeout = common.DefaultConnTimeout * time.Second
	}
	if socket, ok := h.Vars["ssh_agent_socket"].(string); ok {
		cfg.AgentSocket = socket
	}
	if bastion, ok := h.Vars["bastion"].(string); ok {
		cfg.Bastion = bastion
	}
	if bastionUser, ok := h.Vars["bastion_user"].(string); ok {
		cfg.BastionUser = bastionUser
	}
	if bastionPort, ok := h.Vars["bastion_port"].(int); ok {
		cfg.BastionPort = bastionPort
	}
	return cfg
}
