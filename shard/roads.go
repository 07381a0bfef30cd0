package shard

import (
	"encoding/json"
	"fmt"
	"os"
)

// RoadTag is the attribute and tag recorded for a road feature. In JSON it
// is a two element array: ["highway", "primary"].
type RoadTag struct {
	Attribute string
	Tag       string
}

func (t *RoadTag) UnmarshalJSON(b []byte) error {
	var pair []string
	if err := json.Unmarshal(b, &pair); err != nil {
		return err
	}
	if len(pair) != 2 {
		return fmt.Errorf("shard: road tag needs 2 elements, got %d", len(pair))
	}
	t.Attribute, t.Tag = pair[0], pair[1]
	return nil
}

func (t RoadTag) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]string{t.Attribute, t.Tag})
}

// RoadMapping maps an input tag such as "highway=primary" to its road
// attributes. It is read-only once loaded.
type RoadMapping map[string]RoadTag

// LoadRoadMapping reads the "road_tags" object from an osmium export config.
func LoadRoadMapping(path string) (RoadMapping, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg struct {
		RoadTags RoadMapping `json:"road_tags"`
	}
	if err := json.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if cfg.RoadTags == nil {
		cfg.RoadTags = RoadMapping{}
	}
	return cfg.RoadTags, nil
}
