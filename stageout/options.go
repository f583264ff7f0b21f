// Copyright (c) 2023 The KBase Project and its Contributors
// Copyright (c) 2023 Cohere Consulting, LLC
//
// Permission is hereby granted, free of charge, to any person obtaining a copy of
// this software and associated documentation files (the "Software"), to deal in
// the Software without restriction, including without limitation the rights to
// use, copy, modify, merge, publish, distribute, sublicense, and/or sell copies
// of the Software, and to permit persons to whom the Software is furnished to do
// so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

// Package stageout copies files produced by jobs to storage elements (and
// deletes them again). A StageOutManager tries the site's configured
// stage-outs in order until one succeeds, recording every attempt; a
// DeleteManager does the same for removals. Either can instead be pointed at a
// single override destination.
package stageout

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dmwm/wmstage/backends"
	"github.com/dmwm/wmstage/catalog"
	"github.com/dmwm/wmstage/config"
)

// defaults handed to backends
const (
	DefaultRetries    = config.DefaultRetries
	DefaultRetryPause = time.Duration(config.DefaultRetryPause) * time.Second
)

// Options determine where a manager sends files.
type Options struct {
	// the site whose stage-outs are tried (ignored if Override is given)
	Site config.SiteConfig
	// a single destination used instead of the site's stage-outs
	Override *config.OverrideConfig
	// number of attempts each backend makes per file (0 selects
	// DefaultRetries)
	NumRetries int
	// pause between a backend's attempts (0 selects DefaultRetryPause)
	RetryPause time.Duration
}

// returns options for the stage-outs (or override) in the service
// configuration
func ConfiguredOptions() Options {
	return Options{
		Site:       config.Site,
		Override:   config.Override,
		NumRetries: config.StageOut.Retries,
		RetryPause: time.Duration(config.StageOut.RetryPause) * time.Second,
	}
}

// a stage-out together with the catalog used to build its PFNs
type destination struct {
	StageOut config.StageOutConfig
	Catalog  *catalog.Catalog
}

// state shared by stage-out and delete managers
type manager struct {
	destinations []destination
	override     *config.OverrideConfig
	numRetries   int
	retryPause   time.Duration
}

func newManager(opts Options) (manager, error) {
	m := manager{
		numRetries: opts.NumRetries,
		retryPause: opts.RetryPause,
	}
	if m.numRetries <= 0 {
		m.numRetries = DefaultRetries
	}
	if m.retryPause <= 0 {
		m.retryPause = DefaultRetryPause
	}

	if opts.Override != nil {
		if err := opts.Override.Validate(); err != nil {
			return m, &InitError{Message: err.Error()}
		}
		override := *opts.Override
		m.override = &override
		slog.Info(fmt.Sprintf("Override initialized: command=%s option=%s rse=%s lfn_prefix=%s",
			override.Command, override.Option, override.Name(), override.LFNPrefix))
		return m, nil
	}

	var err error
	m.destinations, err = loadDestinations(opts.Site)
	return m, err
}

// loads the catalog for each usable stage-out at the given site, skipping
// (and logging) those that are incomplete or whose catalogs can't be loaded
func loadDestinations(site config.SiteConfig) ([]destination, error) {
	var msg strings.Builder
	fmt.Fprintf(&msg, "There are %d stage-out definitions for site %s.",
		len(site.StageOuts), site.Name)

	destinations := make([]destination, 0, len(site.StageOuts))
	for _, stageOut := range site.StageOuts {
		if err := stageOut.Validate(); err != nil {
			slog.Info(fmt.Sprintf("%s; it will not be attempted", err.Error()))
			fmt.Fprintf(&msg, "\n%s", err.Error())
			continue
		}
		cat, err := loadCatalog(site, stageOut)
		if err != nil {
			slog.Info(fmt.Sprintf("Unable to load catalog for stage-out %s; it will not be attempted: %s",
				stageOut.String(), err.Error()))
			fmt.Fprintf(&msg, "\nUnable to load catalog for %s: %s", stageOut.Name(), err.Error())
			continue
		}
		if stageOut.Name() == "" {
			rse, err := catalog.RSEName(storageAttributes(site, stageOut))
			if err == nil && rse == "" {
				err = fmt.Errorf("storage.json names no RSE for volume %s", stageOut.Volume)
			}
			if err != nil {
				slog.Info(fmt.Sprintf("Unable to find RSE for stage-out %s; it will not be attempted: %s",
					stageOut.String(), err.Error()))
				fmt.Fprintf(&msg, "\nUnable to find RSE for %s: %s", stageOut.String(), err.Error())
				continue
			}
			stageOut.RSE = rse
		}
		slog.Info(fmt.Sprintf("Stage out to %s using %s", stageOut.Name(), stageOut.Command))
		destinations = append(destinations, destination{
			StageOut: stageOut,
			Catalog:  cat,
		})
	}
	if len(destinations) == 0 {
		return nil, &InitError{Message: msg.String()}
	}
	return destinations, nil
}

// loads the trivial file catalog named by the stage-out's catalog locator or,
// if it has none, the storage site's storage.json
func loadCatalog(site config.SiteConfig, stageOut config.StageOutConfig) (*catalog.Catalog, error) {
	attrs := storageAttributes(site, stageOut)
	if stageOut.Catalog != "" {
		return catalog.Load(stageOut.Catalog, attrs, true)
	}
	return catalog.Load("", attrs, false)
}

func storageAttributes(site config.SiteConfig, stageOut config.StageOutConfig) catalog.StorageAttributes {
	return catalog.StorageAttributes{
		Site:        site.Name,
		SubSite:     site.SubSite,
		StorageSite: stageOut.StorageSite,
		Volume:      stageOut.Volume,
		Protocol:    stageOut.Protocol,
	}
}

// creates the backend with the given name and hands it the retry policy;
// panics in the backend's constructor are reported as errors
func (m *manager) backend(command string) (backend backends.Backend, err error) {
	defer func() {
		if r := recover(); r != nil {
			backend, err = nil, &BackendPanicError{Command: command, Value: r}
		}
	}()
	backend, err = backends.NewBackend(command)
	if err != nil {
		return nil, err
	}
	backend.SetRetryPolicy(m.numRetries, m.retryPause)
	return backend, nil
}

// calls the given function, converting a panic into an error
func protect(command string, f func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &BackendPanicError{Command: command, Value: r}
		}
	}()
	return f()
}
