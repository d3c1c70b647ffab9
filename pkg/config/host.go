package config

import (
	"runtime"
	"strings"

	"github.com/shirou/gopsutil/v3/host"
)

func Platform() (string, string, string, error) {
	osName, _, osVersion, err := host.PlatformInformation()
	if err != nil {
		return "", "", "", err
	}

	arch, err := host.KernelArch()
	if err != nil {
		return "", "", "", err
	}

	return osName, osVersion, arch, nil
}

// HostSettings returns the build settings for the running machine, with the
// config's settings layered on top.
func (c *Config) HostSettings() (map[string]string, error) {
	arch, err := host.KernelArch()
	if err != nil {
		return nil, err
	}

	settings := hostSettings(runtime.GOOS, arch)

	for k, v := range c.Settings {
		settings[k] = v
	}

	return settings, nil
}

func hostSettings(goos, arch string) map[string]string {
	s := map[string]string{
		"build_type": "Release",
	}

	switch goos {
	case "linux":
		s["os"] = "Linux"
		s["compiler"] = "gcc"
	case "darwin":
		s["os"] = "Macos"
		s["compiler"] = "apple-clang"
	case "windows":
		s["os"] = "Windows"
		s["compiler"] = "Visual Studio"
	case "freebsd":
		s["os"] = "FreeBSD"
		s["compiler"] = "clang"
	default:
		if goos != "" {
			s["os"] = strings.Title(goos)
		}
	}

	switch arch {
	case "x86_64", "amd64":
		s["arch"] = "x86_64"
	case "aarch64", "arm64":
		s["arch"] = "armv8"
	case "i386", "i686", "x86":
		s["arch"] = "x86"
	case "":
		// unknown
	default:
		s["arch"] = arch
	}

	return s
}
