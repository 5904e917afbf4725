package models

// BotSetting is a key/value feature flag consumed by the chat front end.
type BotSetting struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// DefaultBotSettings are inserted when missing; existing values are kept.
var DefaultBotSettings = map[string]string{
	"maintenance_mode": "0",
	"scheduler_on":     "1",
	"btn_schedule":     "1",
	"btn_search":       "1",
	"btn_favorites":    "1",
	"btn_settings":     "1",
	"btn_free_rooms":   "1",
}
