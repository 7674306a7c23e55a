package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// peerConfig describes one outer peer station the bridge fans messages
// out to (§4.11).
type peerConfig struct {
	ID   string `yaml:"id"`
	Addr string `yaml:"addr"`
}

// octopusConfig is the edge bridge's configuration: where to dial the
// local station's Gate listener (the inner session) and which peer
// stations to bridge to (the outer sessions).
type octopusConfig struct {
	LocalID     string       `yaml:"local_id"`
	StationAddr string       `yaml:"station_addr"`
	Peers       []peerConfig `yaml:"peers"`
}

func loadOctopusConfig(path string) (*octopusConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg := &octopusConfig{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if cfg.LocalID == "" {
		return nil, fmt.Errorf("config %s: local_id is required", path)
	}
	if cfg.StationAddr == "" {
		return nil, fmt.Errorf("config %s: station_addr is required", path)
	}
	return cfg, nil
}
