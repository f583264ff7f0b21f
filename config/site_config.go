package config

import (
	"fmt"
	"strings"
)

// A site is the place at which jobs run. It defines an ordered list of
// stage-outs, each naming a storage element and the backend used to reach it.
type SiteConfig struct {
	// name of the site (e.g. T2_US_Example)
	Name string `yaml:"name"`
	// name of the sub-site, if the site is a sub-site of another (optional)
	SubSite string `yaml:"sub_site,omitempty"`
	// stage-out definitions, tried in this order
	StageOuts []StageOutConfig `yaml:"stage_outs"`
}

// A stage-out names a storage destination and describes how files are copied
// to (and removed from) it.
type StageOutConfig struct {
	// name of the Rucio storage element receiving files; if neither it nor a
	// PhEDEx node is given, the RSE is taken from the storage site's storage.json
	RSE string `yaml:"rse,omitempty"`
	// legacy PhEDEx node name, used when no RSE is given
	PhEDExNode string `yaml:"phedex_node,omitempty"`
	// name of the transfer backend
	Command string `yaml:"command"`
	// options passed verbatim to the transfer backend (optional)
	Option string `yaml:"option,omitempty"`
	// site hosting the storage
	StorageSite string `yaml:"storage_site,omitempty"`
	// storage volume at the storage site
	Volume string `yaml:"volume,omitempty"`
	// protocol used to construct physical file names
	Protocol string `yaml:"protocol,omitempty"`
	// trivial file catalog locator (trivialcatalog_file:<path>?protocol=<name>);
	// if empty, the storage site's storage.json is used
	Catalog string `yaml:"catalog,omitempty"`
}

// returns the name of the storage destination (RSE, or PhEDEx node if no RSE
// is given)
func (s StageOutConfig) Name() string {
	if s.RSE != "" {
		return s.RSE
	}
	return s.PhEDExNode
}

// checks that all fields needed to use this stage-out are present
func (s StageOutConfig) Validate() error {
	missing := make([]string, 0)
	if s.Name() == "" && s.Catalog != "" {
		missing = append(missing, "rse")
	}
	if s.Command == "" {
		missing = append(missing, "command")
	}
	if s.Catalog == "" {
		if s.StorageSite == "" {
			missing = append(missing, "storage_site")
		}
		if s.Volume == "" {
			missing = append(missing, "volume")
		}
		if s.Protocol == "" {
			missing = append(missing, "protocol")
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("Stage-out %s is missing %s", s.String(), strings.Join(missing, ", "))
	}
	return nil
}

// a one-line description of the stage-out, for logs
func (s StageOutConfig) String() string {
	return fmt.Sprintf("rse=%s command=%s option=%s storage_site=%s volume=%s protocol=%s",
		s.Name(), s.Command, s.Option, s.StorageSite, s.Volume, s.Protocol)
}

// checks the site-level fields of the configuration; individual stage-outs are
// checked when they are loaded, so an incomplete one only disables itself
func (s SiteConfig) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("No site name was provided!")
	}
	return nil
}
