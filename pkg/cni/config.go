// Package cni implements a bridge network driver that attaches a pod
// sandbox's network namespace to a host Linux bridge via a veth pair and
// an IP leased from pkg/cni/ipam.
package cni

// BridgeConfig is the recognized bridge driver configuration key set.
// Unknown keys are ignored by callers that decode a larger manifest into
// this struct — it is meant to be embedded inside a bigger YAML document,
// not the whole document.
type BridgeConfig struct {
	Bridge                     string   `yaml:"bridge"`
	IsGateway                  bool     `yaml:"isGateway"`
	IsDefaultGateway           bool     `yaml:"isDefaultGateway"`
	ForceAddress               bool     `yaml:"forceAddress"`
	MTU                        int      `yaml:"mtu"`
	HairpinMode                bool     `yaml:"hairpinMode"`
	PromiscMode                bool     `yaml:"promiscMode"`
	VLAN                       int      `yaml:"vlan"`
	VLANTrunk                  []int    `yaml:"vlanTrunk,omitempty"`
	PreserveDefaultVLAN        bool     `yaml:"preserveDefaultVlan"`
	MACSpoofChk                bool     `yaml:"macspoofchk"`
	EnableDAD                  bool     `yaml:"enabledad"`
	DisableContainerInterface bool     `yaml:"disableContainerInterface"`
	PortIsolation              bool     `yaml:"portIsolation"`
	MAC                        string   `yaml:"mac"`
	ArgsMAC                    string   `yaml:"args.mac,omitempty"`
	VLANs                      []int    `yaml:"vlans,omitempty"`
}

func (c BridgeConfig) mtuOrDefault() int {
	if c.MTU <= 0 {
		return 1500
	}
	return c.MTU
}

func (c BridgeConfig) mac() string {
	if c.ArgsMAC != "" {
		return c.ArgsMAC
	}
	return c.MAC
}
