package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// FeedConfig is one configured feed and the community it publishes into.
// Many feeds may share one destination.
type FeedConfig struct {
	FeedURL     string `json:"feed_url"`
	Destination string `json:"community"`
	Enabled     *bool  `json:"enabled,omitempty"`
}

// IsEnabled reports whether the feed takes part in polling. A missing
// "enabled" key counts as enabled.
func (f FeedConfig) IsEnabled() bool {
	return f.Enabled == nil || *f.Enabled
}

// LoadFeeds reads the feeds JSON file: an array of
// {"feed_url": ..., "community": ..., "enabled": ...} objects.
func LoadFeeds(path string) ([]FeedConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigError{Op: "load feeds", Err: err}
	}

	var feeds []FeedConfig
	if err := json.Unmarshal(data, &feeds); err != nil {
		return nil, &ConfigError{Op: "load feeds", Err: fmt.Errorf("parse %s: %w", path, err)}
	}

	for i := range feeds {
		feeds[i].FeedURL = strings.TrimSpace(feeds[i].FeedURL)
		feeds[i].Destination = strings.TrimSpace(feeds[i].Destination)
		if feeds[i].FeedURL == "" || feeds[i].Destination == "" {
			return nil, &ConfigError{
				Op:  "load feeds",
				Err: fmt.Errorf("entry %d: feed_url and community are required", i),
			}
		}
	}

	return feeds, nil
}
