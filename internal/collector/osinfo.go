package collector

import (
	"context"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"sync"
)

const unknownVersion = "unknown"

// OSInfoCollector reports the OS name and version. A complete answer is
// cached for the life of the process.
type OSInfoCollector struct {
	mu     sync.Mutex
	cached *OSInfoResult
}

func NewOSInfoCollector() *OSInfoCollector { return &OSInfoCollector{} }

func (c *OSInfoCollector) Name() string { return "osinfo" }

func (c *OSInfoCollector) Collect(ctx context.Context) (Reading, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cached != nil {
		return *c.cached, nil
	}
	res := detectOSInfo(ctx)
	if res.OSVersion != unknownVersion {
		c.cached = &res
	}
	return res, nil
}

func (c *OSInfoCollector) IsAvailable() bool { return true }

func detectOSInfo(ctx context.Context) OSInfoResult {
	switch runtime.GOOS {
	case "linux":
		return linuxOSInfo(ctx)
	case "darwin":
		return darwinOSInfo(ctx)
	case "windows":
		return windowsOSInfo(ctx)
	default:
		return OSInfoResult{OSName: runtime.GOOS, OSVersion: unknownVersion}
	}
}

// linuxOSInfo reads /etc/os-release, falling back to lsb_release.
func linuxOSInfo(ctx context.Context) OSInfoResult {
	res := OSInfoResult{OSName: "Linux", OSVersion: unknownVersion}

	if data, err := os.ReadFile("/etc/os-release"); err == nil {
		return osReleaseInfo(string(data), res)
	}

	if out := commandOutput(ctx, "lsb_release", "-d", "-s"); out != "" {
		res.OSName = out
	}
	if out := commandOutput(ctx, "lsb_release", "-r", "-s"); out != "" {
		res.OSVersion = out
	}
	return res
}

// osReleaseInfo prefers PRETTY_NAME over NAME and takes VERSION_ID.
func osReleaseInfo(content string, res OSInfoResult) OSInfoResult {
	fields := parseKeyValueFile(content)
	if v := fields["PRETTY_NAME"]; v != "" {
		res.OSName = v
	} else if v := fields["NAME"]; v != "" {
		res.OSName = v
	}
	if v := fields["VERSION_ID"]; v != "" {
		res.OSVersion = v
	}
	return res
}

func darwinOSInfo(ctx context.Context) OSInfoResult {
	res := OSInfoResult{OSName: "macOS", OSVersion: unknownVersion}
	if out := commandOutput(ctx, "sw_vers", "-productVersion"); out != "" {
		res.OSVersion = out
	}
	if out := commandOutput(ctx, "sw_vers", "-productName"); out != "" {
		res.OSName = out
	}
	return res
}

func windowsOSInfo(ctx context.Context) OSInfoResult {
	res := OSInfoResult{OSName: "Windows", OSVersion: unknownVersion}
	query := func(prop string) string {
		return commandOutput(ctx, "powershell", "-NoProfile", "-Command",
			"(Get-CimInstance Win32_OperatingSystem)."+prop)
	}
	if out := query("Caption"); out != "" {
		res.OSName = out
	}
	if out := query("Version"); out != "" {
		res.OSVersion = out
	}
	return res
}

func commandOutput(ctx context.Context, name string, args ...string) string {
	out, err := exec.CommandContext(ctx, name, args...).Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}

// parseKeyValueFile parses KEY=VALUE lines, skipping comments and stripping
// surrounding quotes from values.
func parseKeyValueFile(content string) map[string]string {
	fields := make(map[string]string)
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		fields[key] = strings.Trim(value, `"'`)
	}
	return fields
}
