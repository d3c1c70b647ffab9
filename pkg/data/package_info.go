package data

// Linkage names the libraries a consumer of the package links against.
type Linkage struct {
	Libs []string `json:"libs"`
}

type PackageRequirement struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	User    string `json:"user,omitempty"`
	Channel string `json:"channel,omitempty"`
}

// PackageInfo is written as .pkg-info.json at the root of every package
// bundle.
type PackageInfo struct {
	Name        string `json:"name"`
	Version     string `json:"version,omitempty"`
	URL         string `json:"url,omitempty"`
	License     string `json:"license,omitempty"`
	Description string `json:"description,omitempty"`

	Settings map[string]string `json:"settings"`
	Options  map[string]string `json:"options"`

	Requires []*PackageRequirement `json:"requires"`

	Linkage Linkage `json:"linkage"`

	Files int `json:"files"`
}

// ID returns the identifier used for archive and image names.
func (p *PackageInfo) ID() string {
	if p.Version == "" {
		return p.Name
	}

	return p.Name + "-" + p.Version
}

func (r *PackageRequirement) String() string {
	s := r.Name + "/" + r.Version

	if r.User != "" {
		s += "@" + r.User + "/" + r.Channel
	}

	return s
}
