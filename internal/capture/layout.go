package capture

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

var allDevices = []DeviceType{DeviceMobile, DeviceDesktop}

// DomainName derives the filesystem-safe folder key for a validated URL.
func DomainName(validURL string) string {
	parsed, err := url.Parse(validURL)
	if err != nil {
		return ""
	}
	host := strings.TrimPrefix(parsed.Host, "www.")
	return strings.ReplaceAll(host, ":", "_")
}

// DeviceDir is <base>/<domain>/<device>.
func DeviceDir(base string, target Target) string {
	return filepath.Join(base, target.DomainName, string(target.Device))
}

// EnsureFolders creates both device folders for the target's domain.
func EnsureFolders(base string, target Target) error {
	for _, device := range allDevices {
		dir := filepath.Join(base, target.DomainName, string(device))
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("%w: create %s: %v", ErrCapture, dir, err)
		}
	}
	return nil
}

// MainPageFile names the root screenshot.
func MainPageFile(device DeviceType) string {
	return fmt.Sprintf("main_page_%s.png", device)
}

// LinkFile names the screenshot for the link at the given 1-based ordinal.
func LinkFile(ordinal int, device DeviceType) string {
	return fmt.Sprintf("screen_%d_%s.png", ordinal, device)
}
