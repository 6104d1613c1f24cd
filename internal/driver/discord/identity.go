package discord

import "otogi-invite/pkg/otogi"

const (
	// DriverType is the configured driver type token for the Discord bot runtime.
	DriverType = "discord"
	// DriverPlatform is the neutral platform stamped on every Discord event.
	DriverPlatform otogi.Platform = otogi.PlatformDiscord
)

// Notice payload vocabulary produced for guild membership changes.
const (
	noticeClassification = "notice"
	noticeDetailIncrease = "group_member_increase"
	noticeDetailDecrease = "group_member_decrease"
)
