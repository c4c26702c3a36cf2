package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"educards-match/internal/match"
)

type Config struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
	Log struct {
		Level  string `yaml:"level"`
		Pretty bool   `yaml:"pretty"`
	} `yaml:"log"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		TTL      string `yaml:"ttl"`
		// Events publishes match snapshots on redis pub/sub when set.
		Events bool `yaml:"events"`
	} `yaml:"redis"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
	NATS struct {
		URL string `yaml:"url"`
	} `yaml:"nats"`
	Quiz struct {
		TTL string `yaml:"ttl"`
		// Dir holds YAML quiz files used when no postgres is configured.
		Dir string `yaml:"dir"`
	} `yaml:"quiz"`
	Match MatchConfig `yaml:"match"`
}

type MatchConfig struct {
	AnswerWindow          string `yaml:"answer_window"`
	RevealDelay           string `yaml:"reveal_delay"`
	BasePoints            int    `yaml:"base_points"`
	SpeedBonus            *int   `yaml:"speed_bonus"`
	MinParticipants       *int   `yaml:"min_participants"`
	RevealWhenAllAnswered *bool  `yaml:"reveal_when_all_answered"`
	ResultRetention       string `yaml:"result_retention"`
}

// Load reads YAML config from path.
func Load(path string) (Config, error) {
	cfg := Config{}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// TTLDuration parses a duration string or returns the fallback if empty.
func TTLDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}

// Options converts the match section into session options, keeping defaults for
// anything left out.
func (m MatchConfig) Options() match.Options {
	opts := match.DefaultOptions()
	opts.AnswerWindow = TTLDuration(m.AnswerWindow, opts.AnswerWindow)
	opts.RevealDelay = TTLDuration(m.RevealDelay, opts.RevealDelay)
	if m.BasePoints > 0 {
		opts.Scoring.BasePoints = m.BasePoints
	}
	if m.SpeedBonus != nil {
		opts.Scoring.SpeedBonus = *m.SpeedBonus
	}
	if m.MinParticipants != nil {
		opts.MinParticipants = *m.MinParticipants
	}
	if m.RevealWhenAllAnswered != nil {
		opts.RevealWhenAllAnswered = *m.RevealWhenAllAnswered
	}
	return opts
}

// Retention is how long a completed match stays queryable.
func (m MatchConfig) Retention() time.Duration {
	return TTLDuration(m.ResultRetention, 10*time.Minute)
}
