package config

import (
	"fmt"
	"strings"
)

// An override replaces the site's stage-outs with a single destination. Files
// are mapped to physical names by prefixing their logical names.
type OverrideConfig struct {
	// name of the transfer backend
	Command string `yaml:"command" json:"command"`
	// options passed verbatim to the transfer backend (optional)
	Option string `yaml:"option,omitempty" json:"option,omitempty"`
	// name of the Rucio storage element receiving files
	RSE string `yaml:"rse,omitempty" json:"rse,omitempty"`
	// legacy PhEDEx node name, used when no RSE is given
	PhEDExNode string `yaml:"phedex_node,omitempty" json:"phedex_node,omitempty"`
	// prefix prepended to logical file names to form physical ones
	LFNPrefix string `yaml:"lfn_prefix" json:"lfn_prefix"`
}

// returns the name of the storage destination
func (o OverrideConfig) Name() string {
	if o.RSE != "" {
		return o.RSE
	}
	return o.PhEDExNode
}

// checks that the command and LFN prefix are present (the destination name is
// informational only)
func (o OverrideConfig) Validate() error {
	missing := make([]string, 0)
	if o.Command == "" {
		missing = append(missing, "command")
	}
	if o.LFNPrefix == "" {
		missing = append(missing, "lfn_prefix")
	}
	if len(missing) > 0 {
		return fmt.Errorf("Override is missing %s", strings.Join(missing, ", "))
	}
	return nil
}
