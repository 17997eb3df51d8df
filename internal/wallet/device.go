// Package wallet derives a coarse device description from wallet callback
// requests, used for structured logging only.
package wallet

import (
	"strings"

	"github.com/mssola/useragent"
)

// Device is a coarse summary of the wallet client that hit a callback.
type Device struct {
	Browser  string
	OS       string
	Platform string
}

// DescribeDevice parses a User-Agent header into a Device. Unknown or empty
// agents yield "unknown" fields rather than an error.
func DescribeDevice(userAgentString string) Device {
	device := Device{Browser: "unknown", OS: "unknown", Platform: "desktop"}
	if userAgentString == "" {
		return device
	}

	ua := useragent.New(userAgentString)
	if browser, _ := ua.Browser(); browser != "" {
		device.Browser = strings.ToLower(strings.TrimSpace(browser))
	}
	if os := ua.OS(); os != "" {
		device.OS = strings.ToLower(strings.TrimSpace(os))
	}
	if ua.Mobile() {
		device.Platform = "mobile"
	}
	if ua.Bot() {
		device.Platform = "bot"
	}
	return device
}

// LogFields flattens the device for slog key-value pairs.
func (d Device) LogFields() []any {
	return []any{"device_browser", d.Browser, "device_os", d.OS, "device_platform", d.Platform}
}
