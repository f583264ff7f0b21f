package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// a type with service configuration parameters
type serviceConfig struct {
	// name of the service (used in logs and API responses)
	Name string `json:"name" yaml:"name"`
	// port on which the service listens
	Port int `json:"port" yaml:"port"`
	// maximum number of allowed incoming connections
	MaxConnections int `json:"max_connections" yaml:"max_connections"`
	// directory in which the service stores its operation journal
	DataDirectory string `json:"data_dir" yaml:"data_dir"`
	// if set, files may only be staged out from below this directory
	LocalRoot string `json:"local_root" yaml:"local_root"`
	// set to true to enable debug-level logging
	Debug bool `json:"debug" yaml:"debug"`
}

// a type with retry parameters handed to transfer backends
type stageOutParams struct {
	// number of attempts a backend makes for a single copy or removal
	Retries int `json:"retries" yaml:"retries"`
	// pause between attempts (seconds)
	RetryPause int `json:"retry_pause" yaml:"retry_pause"`
}

// global config variables
var Service serviceConfig
var Site SiteConfig
var Override *OverrideConfig
var StageOut stageOutParams

// This struct performs the unmarshalling from the YAML config file and then
// copies its fields to the globals above.
type configFile struct {
	Service  serviceConfig   `yaml:"service"`
	Site     SiteConfig      `yaml:"site"`
	Override *OverrideConfig `yaml:"override"`
	StageOut stageOutParams  `yaml:"stageout"`
}

// default retry parameters for transfer backends
const (
	DefaultRetries    = 3
	DefaultRetryPause = 600 // seconds
)

// This helper locates and reads a configuration file, returning an error
// indicating success or failure. All environment variables of the form
// ${ENV_VAR} are expanded.
func readConfig(bytes []byte) error {
	// before we do anything else, expand any provided environment variables
	bytes = []byte(os.ExpandEnv(string(bytes)))

	var conf configFile
	conf.Service.Name = "wmstage"
	conf.Service.Port = 8080
	conf.Service.MaxConnections = 100
	conf.StageOut.Retries = DefaultRetries
	conf.StageOut.RetryPause = DefaultRetryPause
	err := yaml.Unmarshal(bytes, &conf)
	if err != nil {
		slog.Error(fmt.Sprintf("Couldn't parse configuration data: %s", err))
		return err
	}

	// copy the config data into place
	Service = conf.Service
	Site = conf.Site
	Override = conf.Override
	StageOut = conf.StageOut

	return err
}

// This helper validates the given service parameters, returning an
// error indicating success or failure.
func validateServiceParameters(params serviceConfig) error {
	if params.Port < 0 || params.Port > 65535 {
		return fmt.Errorf("Invalid port: %d (must be 0-65535)", params.Port)
	}
	if params.LocalRoot != "" && !filepath.IsAbs(params.LocalRoot) {
		return fmt.Errorf("Invalid local_root: %s (must be an absolute path)", params.LocalRoot)
	}
	if params.MaxConnections <= 0 {
		return fmt.Errorf("Invalid max_connections: %d (must be positive)",
			params.MaxConnections)
	}
	return nil
}

// This helper validates the retry parameters handed to backends.
func validateStageOutParameters(params stageOutParams) error {
	if params.Retries <= 0 {
		return fmt.Errorf("Invalid stageout.retries: %d (must be positive)", params.Retries)
	}
	if params.RetryPause < 0 {
		return fmt.Errorf("Invalid stageout.retry_pause: %d (must be non-negative)",
			params.RetryPause)
	}
	return nil
}

// This helper validates the given configfile, returning an error that indicates
// success or failure.
func validateConfig() error {
	err := validateServiceParameters(Service)
	if err != nil {
		return err
	}
	err = validateStageOutParameters(StageOut)
	if err != nil {
		return err
	}

	// with an override, the site's stage-outs are never consulted
	if Override != nil {
		return Override.Validate()
	}

	if len(Site.StageOuts) == 0 {
		return fmt.Errorf("No stage-outs were provided for site '%s'!", Site.Name)
	}
	return Site.Validate()
}

// Initializes the stage-out service configuration using the given YAML byte
// data.
func Init(yamlData []byte) error {

	// read the configuration from our YAML file
	err := readConfig(yamlData)
	if err != nil {
		return err
	}

	// validate the configuration
	err = validateConfig()
	return err
}
