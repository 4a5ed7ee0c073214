package capture

import (
	"strings"

	"maison/api/models"
)

// ParseUserAgent sniffs the device class, browser and OS from a
// User-Agent header. Unrecognised values come back as "Unknown".
func ParseUserAgent(ua string) *models.Device {
	s := strings.ToLower(ua)
	return &models.Device{
		Type:    deviceType(s),
		Browser: browserName(s),
		OS:      osName(s),
	}
}

func deviceType(s string) string {
	switch {
	case s == "":
		return "Unknown"
	case strings.Contains(s, "ipad"), strings.Contains(s, "tablet"),
		strings.Contains(s, "android") && !strings.Contains(s, "mobile"):
		return "tablet"
	case strings.Contains(s, "mobi"), strings.Contains(s, "iphone"), strings.Contains(s, "ipod"):
		return "mobile"
	default:
		return "desktop"
	}
}

// Order matters: Edge and Opera carry "chrome", Chrome carries "safari".
func browserName(s string) string {
	switch {
	case strings.Contains(s, "edg/"), strings.Contains(s, "edga/"), strings.Contains(s, "edgios/"):
		return "Edge"
	case strings.Contains(s, "opr/"), strings.Contains(s, "opera"):
		return "Opera"
	case strings.Contains(s, "samsungbrowser/"):
		return "Samsung Internet"
	case strings.Contains(s, "firefox/"), strings.Contains(s, "fxios/"):
		return "Firefox"
	case strings.Contains(s, "chrome/"), strings.Contains(s, "crios/"):
		return "Chrome"
	case strings.Contains(s, "safari/"):
		return "Safari"
	default:
		return "Unknown"
	}
}

func osName(s string) string {
	switch {
	case strings.Contains(s, "iphone"), strings.Contains(s, "ipad"), strings.Contains(s, "ipod"):
		return "iOS"
	case strings.Contains(s, "android"):
		return "Android"
	case strings.Contains(s, "windows"):
		return "Windows"
	case strings.Contains(s, "mac os x"), strings.Contains(s, "macintosh"):
		return "macOS"
	case strings.Contains(s, "cros"):
		return "ChromeOS"
	case strings.Contains(s, "linux"):
		return "Linux"
	default:
		return "Unknown"
	}
}
