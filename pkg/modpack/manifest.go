// Package modpack loads modpack manifests and checks whether every project
// they reference can be downloaded by third-party launchers.
package modpack

// ManifestType is the only manifest type the loader accepts.
const ManifestType = "minecraftModpack"

// Manifest is the manifest.json at the root of a modpack archive.
type Manifest struct {
	ManifestType    string        `json:"manifestType"`
	ManifestVersion int           `json:"manifestVersion"`
	Name            string        `json:"name,omitempty"`
	Version         string        `json:"version,omitempty"`
	Author          string        `json:"author,omitempty"`
	Overrides       string        `json:"overrides,omitempty"`
	Minecraft       MinecraftInfo `json:"minecraft"`
	Files           []FileRef     `json:"files"`
}

// MinecraftInfo pins the game version and mod loaders.
type MinecraftInfo struct {
	Version    string      `json:"version"`
	ModLoaders []ModLoader `json:"modLoaders,omitempty"`
}

// ModLoader names a loader such as "forge-47.2.0".
type ModLoader struct {
	ID      string `json:"id"`
	Primary bool   `json:"primary"`
}

// FileRef references one project file bundled by the pack.
type FileRef struct {
	ProjectID int64 `json:"projectID"`
	FileID    int64 `json:"fileID"`
	Required  bool  `json:"required"`
}

// PrimaryLoader returns the loader marked primary, or the first one.
func (m *Manifest) PrimaryLoader() string {
	for _, l := range m.Minecraft.ModLoaders {
		if l.Primary {
			return l.ID
		}
	}
	if len(m.Minecraft.ModLoaders) > 0 {
		return m.Minecraft.ModLoaders[0].ID
	}
	return ""
}
