// Package firmware queries the firmware metadata API and resolves the latest
// firmware published for a device.
package firmware

import (
	"fmt"
	"path/filepath"
)

// ArtifactExt is the extension of downloaded firmware images.
const ArtifactExt = ".ipsw"

// Firmware is one entry of the API's firmware list.
type Firmware struct {
	Identifier  string `json:"identifier"`
	Version     string `json:"version"`
	BuildID     string `json:"buildid"`
	URL         string `json:"url"`
	Filesize    int64  `json:"filesize"`
	ReleaseDate string `json:"releasedate"`
	Signed      bool   `json:"signed"`
}

// Device is the API's device document.
type Device struct {
	Name       string     `json:"name"`
	Identifier string     `json:"identifier"`
	Firmwares  []Firmware `json:"firmwares"`
}

// Descriptor is the latest firmware known for one configured device.
type Descriptor struct {
	DeviceName string
	Identifier string
	Version    string
	URL        string
}

// Filename is the deterministic artifact name, {identifier}_{version}.ipsw.
func (d *Descriptor) Filename() string {
	return fmt.Sprintf("%s_%s%s", d.Identifier, d.Version, ArtifactExt)
}

// ArtifactPath joins Filename onto dir.
func (d *Descriptor) ArtifactPath(dir string) string {
	return filepath.Join(dir, d.Filename())
}
