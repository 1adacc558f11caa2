package useragent

import (
	ua "github.com/mileusna/useragent"

	"github.com/noah-isme/sma-audit-api/internal/models"
)

// Classification is the device fingerprint derived from a User-Agent header.
type Classification struct {
	DeviceType models.DeviceType
	Browser    string
	Platform   string
}

// Classify parses a raw User-Agent string into a deterministic device
// classification. Empty or unrecognised input degrades to "unknown" values;
// the function never fails so classification can never block session
// creation.
func Classify(raw string) Classification {
	result := Classification{
		DeviceType: models.DeviceUnknown,
		Browser:    "unknown",
		Platform:   "unknown",
	}
	if raw == "" {
		return result
	}

	parsed := ua.Parse(raw)

	switch {
	case parsed.Bot:
		result.DeviceType = models.DeviceBot
	case parsed.Tablet:
		result.DeviceType = models.DeviceTablet
	case parsed.Mobile:
		result.DeviceType = models.DeviceMobile
	case parsed.Desktop:
		result.DeviceType = models.DeviceDesktop
	}

	if parsed.Name != "" {
		result.Browser = parsed.Name
	}
	if parsed.OS != "" {
		result.Platform = parsed.OS
	}

	return result
}
