package config

import (
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

// a valid service config entry
const VALID_SERVICE string = `
service:
  port: 8080
  max_connections: 100
  data_dir: /tmp/wmstage
`

// a valid site config entry
const VALID_SITE string = `
site:
  name: T2_US_Example
  stage_outs:
    - rse: T2_US_Example
      command: local
      storage_site: T2_US_Example
      volume: Example_Disk
      protocol: XRootD
    - phedex_node: T1_US_Backup_Disk
      command: http
      option: -v
      catalog: trivialcatalog_file:/etc/storage.xml?protocol=davs
`

// a valid override config entry
const VALID_OVERRIDE string = `
override:
  command: local
  rse: T2_US_Other
  lfn_prefix: /pre/
`

// tests whether config.Init reports an error for blank input
func TestInitRejectsBlankInput(t *testing.T) {
	b := []byte("")
	err := Init(b)
	assert.NotNil(t, err, "Blank config didn't trigger an error.")
}

// tests whether config.Init reports an error for an invalid port
func TestInitRejectsBadPort(t *testing.T) {
	yaml := "service:\n  port: -1\n\n" + VALID_SITE
	b := []byte(yaml)
	err := Init(b)
	assert.NotNil(t, err, "Config with bad port didn't trigger an error.")
	yaml = "service:\n  port: 1000000\n\n" + VALID_SITE
	b = []byte(yaml)
	err = Init(b)
	assert.NotNil(t, err, "Config with bad port didn't trigger an error.")
}

// tests whether config.Init reports an error for an invalid max number of
// connections
func TestInitRejectsBadMaxConnections(t *testing.T) {
	yaml := "service:\n  max_connections: 0\n\n" + VALID_SITE
	b := []byte(yaml)
	err := Init(b)
	assert.NotNil(t, err, "Config with bad max_connections didn't trigger an error.")
}

// tests whether config.Init rejects a relative local root
func TestInitRejectsRelativeLocalRoot(t *testing.T) {
	yaml := VALID_SERVICE + "  local_root: jobs\n" + VALID_SITE
	err := Init([]byte(yaml))
	assert.NotNil(t, err, "Config with relative local_root didn't trigger an error.")

	yaml = VALID_SERVICE + "  local_root: /srv/jobs\n" + VALID_SITE
	err = Init([]byte(yaml))
	assert.Nil(t, err)
	assert.Equal(t, "/srv/jobs", Service.LocalRoot)
}

// tests whether config.Init rejects bad retry parameters
func TestInitRejectsBadRetries(t *testing.T) {
	yaml := VALID_SERVICE + VALID_SITE + "stageout:\n  retries: 0\n"
	err := Init([]byte(yaml))
	assert.NotNil(t, err, "Config with zero retries didn't trigger an error.")
	yaml = VALID_SERVICE + VALID_SITE + "stageout:\n  retry_pause: -5\n"
	err = Init([]byte(yaml))
	assert.NotNil(t, err, "Config with negative retry pause didn't trigger an error.")
}

// tests whether config.Init rejects a configuration with no stage-outs
func TestInitRejectsNoStageOutsDefined(t *testing.T) {
	yaml := VALID_SERVICE + "site:\n  name: T2_US_Example\n"
	b := []byte(yaml)
	err := Init(b)
	assert.NotNil(t, err, "Config with no stage-outs didn't trigger an error.")
}

// tests whether config.Init rejects a site without a name
func TestInitRejectsUnnamedSite(t *testing.T) {
	yaml := VALID_SERVICE + `
site:
  stage_outs:
    - rse: T2_US_Example
      command: local
      storage_site: T2_US_Example
      volume: Example_Disk
      protocol: XRootD
`
	err := Init([]byte(yaml))
	assert.NotNil(t, err, "Config with unnamed site didn't trigger an error.")
}

// tests whether config.Init rejects an override without an LFN prefix
func TestInitRejectsIncompleteOverride(t *testing.T) {
	yaml := VALID_SERVICE + "override:\n  command: local\n  rse: T2_US_Other\n"
	err := Init([]byte(yaml))
	assert.NotNil(t, err, "Override without lfn_prefix didn't trigger an error.")
}

// tests whether config.Init returns no error for a configuration that is
// (ostensibly) valid
func TestInitAcceptsValidInput(t *testing.T) {
	yaml := VALID_SERVICE + VALID_SITE
	b := []byte(yaml)
	err := Init(b)
	assert.Nil(t, err, fmt.Sprintf("Valid YAML input produced an error: %s", err))

	// an override makes the site section optional
	yaml = VALID_SERVICE + VALID_OVERRIDE
	err = Init([]byte(yaml))
	assert.Nil(t, err, fmt.Sprintf("Valid override produced an error: %s", err))
}

// tests whether config.Init properly initializes its globals for valid input
func TestInitProperlySetsGlobals(t *testing.T) {
	yaml := VALID_SERVICE + VALID_SITE
	b := []byte(yaml)
	err := Init(b)
	assert.Nil(t, err, fmt.Sprintf("Valid YAML input produced an error: %s", err))

	// check data
	assert.Equal(t, "wmstage", Service.Name)
	assert.Equal(t, 8080, Service.Port)
	assert.Equal(t, 100, Service.MaxConnections)
	assert.Equal(t, "T2_US_Example", Site.Name)
	assert.Equal(t, 2, len(Site.StageOuts))
	assert.Equal(t, "T2_US_Example", Site.StageOuts[0].Name())
	assert.Equal(t, "T1_US_Backup_Disk", Site.StageOuts[1].Name())
	assert.Equal(t, "-v", Site.StageOuts[1].Option)
	assert.Nil(t, Override)
	assert.Equal(t, DefaultRetries, StageOut.Retries)
	assert.Equal(t, DefaultRetryPause, StageOut.RetryPause)
}

// tests whether environment variables are expanded before parsing
func TestInitExpandsEnvironmentVariables(t *testing.T) {
	os.Setenv("WMSTAGE_TEST_PREFIX", "/expanded/")
	defer os.Unsetenv("WMSTAGE_TEST_PREFIX")
	yaml := VALID_SERVICE + "override:\n  command: local\n  lfn_prefix: ${WMSTAGE_TEST_PREFIX}\n"
	err := Init([]byte(yaml))
	assert.Nil(t, err)
	assert.NotNil(t, Override)
	assert.Equal(t, "/expanded/", Override.LFNPrefix)
}

// tests whether an incomplete stage-out reports its missing fields
func TestStageOutValidate(t *testing.T) {
	assert := assert.New(t)

	stageOut := StageOutConfig{Command: "local"}
	err := stageOut.Validate()
	assert.NotNil(err)
	assert.NotContains(err.Error(), "rse")
	assert.Contains(err.Error(), "storage_site")
	assert.Contains(err.Error(), "volume")
	assert.Contains(err.Error(), "protocol")

	// storage.json supplies the RSE, so storage site, volume and protocol suffice
	stageOut = StageOutConfig{
		Command:     "local",
		StorageSite: "T2_US_Example",
		Volume:      "Disk",
		Protocol:    "XRootD",
	}
	assert.Nil(stageOut.Validate())

	// a catalog locator carries no RSE, so one must be given
	stageOut = StageOutConfig{
		Command: "local",
		Catalog: "trivialcatalog_file:/etc/storage.xml?protocol=direct",
	}
	err = stageOut.Validate()
	assert.NotNil(err)
	assert.Contains(err.Error(), "rse")

	// a catalog locator stands in for storage site, volume and protocol
	stageOut = StageOutConfig{
		RSE:     "T2_US_Example",
		Command: "local",
		Catalog: "trivialcatalog_file:/etc/storage.xml?protocol=direct",
	}
	assert.Nil(stageOut.Validate())
}

// this function gets called at the begіnning of a test session
func setup() {
}

// this function gets called after all tests have been run
func breakdown() {
}

// This runs setup, runs all tests, and does breakdown.
func TestMain(m *testing.M) {
	var status int
	setup()
	status = m.Run()
	breakdown()
	os.Exit(status)
}
