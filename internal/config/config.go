// Package config loads the ledger's operational settings from YAML.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Faction struct {
	Name string `yaml:"name"`
	Tag  string `yaml:"tag"`
}

type Config struct {
	SystemAccountID string   `yaml:"system_account_id"`
	PrivilegedIDs   []string `yaml:"privileged_ids"`

	Factions []Faction `yaml:"factions"`

	ReasonMinLen int `yaml:"reason_min_len"`
	ReasonMaxLen int `yaml:"reason_max_len"`

	LeaderboardPlaces         int    `yaml:"leaderboard_places"`
	BackupIntervalMinutes     int    `yaml:"backup_interval_minutes"`
	GateAcquireTimeoutSeconds int    `yaml:"gate_acquire_timeout_seconds"`
	InviteURL                 string `yaml:"invite_url"`
}

func Load(path string) (Config, error) {
	c := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return c, err
	}
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return c, fmt.Errorf("ledger.yaml: %w", err)
	}
	return c, nil
}

// Defaults carries the settings the service ran with historically,
// including the registered faction set.
func Defaults() Config {
	return Config{
		ReasonMinLen:              16,
		ReasonMaxLen:              1024,
		LeaderboardPlaces:         5,
		BackupIntervalMinutes:     60,
		GateAcquireTimeoutSeconds: 10,
		Factions: []Faction{
			{Name: "Astral Vanguard", Tag: "astral"},
			{Name: "Auditor", Tag: "auditor"},
			{Name: "Blue Bird", Tag: "blue_bird"},
			{Name: "Faelorn Darthulia", Tag: "faelorn"},
			{Name: "Grand Kingdom of Khazabrar", Tag: "dwarves"},
			{Name: "Kairengoku Empire", Tag: "goku"},
			{Name: "Land of Awesomeness", Tag: "awesome"},
			{Name: "Lunaria", Tag: "lunaria"},
			{Name: "Mjirr's Edge", Tag: "mjirr_edge"},
			{Name: "Northwind", Tag: "northwind"},
			{Name: "Phoenix Republic", Tag: "phoenix"},
			{Name: "Reggionic Cult", Tag: "cult"},
			{Name: "Shiverbane", Tag: "shiverbane"},
			{Name: "The Epic Alliance", Tag: "epic"},
			{Name: "The Hand of Kravor", Tag: "hand"},
			{Name: "The Knights of Camelot", Tag: "knights"},
			{Name: "The Order of the Sun and Moon", Tag: "order"},
			{Name: "Umbra", Tag: "umbra"},
			{Name: "Gods", Tag: "gods"},
		},
	}
}

func (c Config) FactionMap() map[string]string {
	m := make(map[string]string, len(c.Factions))
	for _, f := range c.Factions {
		m[f.Tag] = f.Name
	}
	return m
}

func (c Config) PrivilegedSet() map[string]bool {
	m := make(map[string]bool, len(c.PrivilegedIDs))
	for _, id := range c.PrivilegedIDs {
		m[id] = true
	}
	return m
}

func (c Config) BackupInterval() time.Duration {
	return time.Duration(c.BackupIntervalMinutes) * time.Minute
}

func (c Config) GateAcquireTimeout() time.Duration {
	return time.Duration(c.GateAcquireTimeoutSeconds) * time.Second
}
