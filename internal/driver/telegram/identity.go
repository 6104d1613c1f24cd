package telegram

import "otogi-invite/pkg/otogi"

const (
	// DriverType is the configured driver type token for the Telegram userbot runtime.
	DriverType = "telegram"
	// DriverPlatform is the neutral platform stamped on every Telegram event.
	DriverPlatform otogi.Platform = otogi.PlatformTelegram
)

// Notice payload vocabulary produced for membership updates.
const (
	noticeClassification = "group_notice"
	noticeEventIncrease  = "member_increase"
	noticeEventDecrease  = "member_decrease"
)

// noticeSubEvents maps membership transitions onto the notice sub-type vocabulary.
var noticeSubEvents = map[JoinVia]string{
	ViaAdded:   "invite",
	ViaLink:    "invite",
	ViaSelf:    "join",
	ViaLeft:    "leave",
	ViaRemoved: "kick",
}
