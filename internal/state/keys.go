package state

import "time"

// Velocity windows tracked per entity. The TTL doubles as the window
// size, so a counter approximates events seen within the window.
var VelocityWindows = []VelocityWindow{
	{Name: "1h", TTL: time.Hour},
	{Name: "24h", TTL: 24 * time.Hour},
	{Name: "7d", TTL: 7 * 24 * time.Hour},
}

type VelocityWindow struct {
	Name string
	TTL  time.Duration
}

// Watchlist set keys. Seeded out of band, consulted per decision.
const (
	WatchlistEntities = "watchlist:entities"
	WatchlistIPs      = "watchlist:ips"
	WatchlistDevices  = "watchlist:devices"
)

// Cache lifetimes for derived feature state.
const (
	IPRiskTTL        = time.Hour
	GeoTTL           = 24 * time.Hour
	MerchantRiskTTL  = 24 * time.Hour
	AccountAgeTTL    = 24 * time.Hour
	UsualLocationTTL = 30 * 24 * time.Hour
	PatternTTL       = 24 * time.Hour
	DeviceGraphTTL   = 30 * 24 * time.Hour
)

func VelocityKey(entityID, window string) string {
	return "velocity:" + entityID + ":" + window
}

func IPRiskKey(ip string) string {
	return "ip_risk:" + ip
}

func GeoKey(ip string) string {
	return "geo:" + ip
}

func MerchantRiskKey(merchantID string) string {
	return "merchant_risk:" + merchantID
}

func UsualLocationKey(entityID string) string {
	return "usual_location:" + entityID
}

func AccountAgeKey(entityID string) string {
	return "account_age:" + entityID
}

func VelocityPatternKey(window, entityID string) string {
	return "velocity_pattern_" + window + ":" + entityID
}

func DeviceAccountsKey(fingerprint string) string {
	return "device_accounts:" + fingerprint
}
