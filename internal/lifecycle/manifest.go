package lifecycle

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// DefaultOfflinePage is the document served when a navigation fails with
// nothing cached.
const DefaultOfflinePage = "/offline.html"

// Manifest lists the shell assets cached at install time.
type Manifest struct {
	OfflinePage string   `toml:"offline_page"`
	Assets      []string `toml:"assets"`
}

// DefaultManifest returns the storefront shell: root document, offline page,
// web app manifest and the two icon sizes.
func DefaultManifest() Manifest {
	return Manifest{
		OfflinePage: DefaultOfflinePage,
		Assets: []string{
			"/",
			DefaultOfflinePage,
			"/manifest.json",
			"/icons/icon-192x192.png",
			"/icons/icon-512x512.png",
		},
	}
}

// LoadManifest reads a TOML manifest. Missing fields fall back to the
// defaults, and the offline page is always part of the asset list.
func LoadManifest(path string) (Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, fmt.Errorf("read manifest %s: %w", path, err)
	}
	var m Manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	return m.normalized(), nil
}

func (m Manifest) normalized() Manifest {
	def := DefaultManifest()
	if m.OfflinePage == "" {
		m.OfflinePage = def.OfflinePage
	}
	if len(m.Assets) == 0 {
		m.Assets = def.Assets
	}
	for _, a := range m.Assets {
		if a == m.OfflinePage {
			return m
		}
	}
	m.Assets = append(append([]string(nil), m.Assets...), m.OfflinePage)
	return m
}
