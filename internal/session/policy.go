// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package session

// Policy is the operator-configured login policy.
type Policy struct {
	// WhitelistEnabled restricts login and provisioning to whitelisted names.
	WhitelistEnabled bool `koanf:"whitelist"`

	// Block rules. A login matching any enabled rule is rejected.
	BlockCompanionPS3 bool `koanf:"block_companion_ps3"`
	BlockPSP          bool `koanf:"block_psp"`
	BlockPSV          bool `koanf:"block_psv"`
	BlockPrimary      bool `koanf:"block_primary"`
}

// companionTitles are title ids of the companion title on the primary
// platform.
var companionTitles = map[string]struct{}{
	"BCUS98167": {}, "BCES00701": {}, "BCES00764": {}, "BCJS30041": {},
	"BCAS20105": {}, "BCKS10122": {}, "NPEA00291": {}, "NPUA80535": {},
	"BCET70020": {}, "NPUA70074": {}, "NPEA90062": {}, "NPUA70096": {},
	"NPJA90132": {},
}

// IsCompanion reports whether a login from platform with titleID belongs
// to the companion title. Every platform other than PS3 only runs it.
func IsCompanion(platform Platform, titleID string) bool {
	if platform != PlatformPS3 {
		return true
	}
	_, ok := companionTitles[titleID]
	return ok
}

// blockRule is one configurable login block.
type blockRule struct {
	name    string
	enabled func(Policy) bool
	matches func(platform Platform, companion bool) bool
}

var blockRules = []blockRule{
	{
		name:    "block_companion_ps3",
		enabled: func(p Policy) bool { return p.BlockCompanionPS3 },
		matches: func(pl Platform, companion bool) bool { return companion && pl == PlatformPS3 },
	},
	{
		name:    "block_psp",
		enabled: func(p Policy) bool { return p.BlockPSP },
		matches: func(pl Platform, _ bool) bool { return pl == PlatformPSP },
	},
	{
		name:    "block_psv",
		enabled: func(p Policy) bool { return p.BlockPSV },
		matches: func(pl Platform, _ bool) bool { return pl == PlatformPSV },
	},
	{
		name:    "block_primary",
		enabled: func(p Policy) bool { return p.BlockPrimary },
		matches: func(_ Platform, companion bool) bool { return !companion },
	},
}

// Blocked returns the name of the first enabled rule matching the login,
// or "" when the login is allowed.
func (p Policy) Blocked(platform Platform, companion bool) string {
	for _, r := range blockRules {
		if r.enabled(p) && r.matches(platform, companion) {
			return r.name
		}
	}
	return ""
}
