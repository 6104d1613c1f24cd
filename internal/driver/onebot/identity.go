package onebot

import "otogi-invite/pkg/otogi"

const (
	// DriverType is the configured driver type token for the OneBot runtime.
	DriverType = "onebot"
	// DriverPlatform is the neutral otogi platform produced by the OneBot runtime.
	DriverPlatform otogi.Platform = otogi.PlatformOneBot
)
