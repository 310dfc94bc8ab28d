package telegram

import "tether/pkg/tether"

const (
	// DriverType is the configured driver type token for the Telegram runtime.
	DriverType = "telegram"
	// DriverPlatform is the neutral platform produced by the Telegram runtime.
	DriverPlatform tether.Platform = tether.PlatformTelegram
)
