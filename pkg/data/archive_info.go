package data

type ArchivePlatform struct {
	OS        string `json:"os"`
	OSVersion string `json:"os_version,omitempty"`
	Arch      string `json:"architecture"`
}

// ArchiveInfo is embedded in every exported archive as .archive-info.json
// and mirrored into the config labels of a published image.
type ArchiveInfo struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Version string `json:"version"`

	Signer string `json:"signer"`

	Requires []string `json:"requires,omitempty"`

	Platform *ArchivePlatform `json:"platform"`

	Settings map[string]string `json:"settings,omitempty"`
}
