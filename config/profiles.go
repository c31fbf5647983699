package config

import "time"

// ProfileSettings is the threshold tuple selected by the profile name.
type ProfileSettings struct {
	MediumThreshold   int
	BlockThreshold    int
	MaxFetchBytes     int64
	MaxExtractedChars int
	FetchTimeout      time.Duration
	MaxRedirects      int
}

// Profiles maps profile names to their settings. baseline is permissive,
// paranoid trades recall for a hard safety margin.
var Profiles = map[string]ProfileSettings{
	"baseline": {
		MediumThreshold:   8,
		BlockThreshold:    14,
		MaxFetchBytes:     1_500_000,
		MaxExtractedChars: 22_000,
		FetchTimeout:      8 * time.Second,
		MaxRedirects:      4,
	},
	"strict": {
		MediumThreshold:   6,
		BlockThreshold:    10,
		MaxFetchBytes:     1_000_000,
		MaxExtractedChars: 16_000,
		FetchTimeout:      7 * time.Second,
		MaxRedirects:      3,
	},
	"paranoid": {
		MediumThreshold:   4,
		BlockThreshold:    7,
		MaxFetchBytes:     750_000,
		MaxExtractedChars: 10_000,
		FetchTimeout:      6 * time.Second,
		MaxRedirects:      2,
	},
}
