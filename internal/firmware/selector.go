package firmware

import (
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// Selector picks the firmware considered latest from the API's list.
// It reports false when nothing can be selected.
type Selector func(firmwares []Firmware) (Firmware, bool)

// SelectFirst trusts the API ordering: the first entry is the latest.
func SelectFirst(firmwares []Firmware) (Firmware, bool) {
	if len(firmwares) == 0 {
		return Firmware{}, false
	}

	return firmwares[0], true
}

// SelectHighestVersion compares version strings and picks the highest one.
// Entries whose version does not parse are ignored; when none parses it
// falls back to SelectFirst. Equal versions keep the earlier entry.
func SelectHighestVersion(firmwares []Firmware) (Firmware, bool) {
	var (
		best    Firmware
		bestVer *semver.Version
	)

	for _, fw := range firmwares {
		v, err := semver.NewVersion(fw.Version)
		if err != nil {
			continue
		}

		if bestVer == nil || v.GreaterThan(bestVer) {
			best, bestVer = fw, v
		}
	}

	if bestVer == nil {
		return SelectFirst(firmwares)
	}

	return best, true
}

// SelectorByName maps the FIRMWARE_SELECTION setting to a Selector.
func SelectorByName(name string) (Selector, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "first":
		return SelectFirst, nil
	case "semver":
		return SelectHighestVersion, nil
	}

	return nil, fmt.Errorf("unknown firmware selection: %q", name)
}
