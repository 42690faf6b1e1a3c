package roadmap

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"traffic-sim/internal/collision"
)

// Format is the encoding of a map document
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// Document is the on-disk description of a road network
type Document struct {
	Name          string             `json:"name" yaml:"name" jsonschema:"required,description=Display name of the map"`
	Bounds        *collision.Bounds  `json:"bounds,omitempty" yaml:"bounds,omitempty" jsonschema:"description=World rectangle; defaults to the padded extent of the intersections"`
	Geo           *GeoBox            `json:"geo,omitempty" yaml:"geo,omitempty" jsonschema:"description=Lat/lon box used to project intersections given as lat/lon"`
	Intersections []IntersectionSpec `json:"intersections" yaml:"intersections" jsonschema:"required,minItems=1"`
	Roads         []RoadSpec         `json:"roads" yaml:"roads"`
}

// IntersectionSpec is a graph vertex. Either X/Y or Lat/Lon is given.
type IntersectionSpec struct {
	ID  string   `json:"id" yaml:"id" jsonschema:"required,minLength=1"`
	X   float64  `json:"x,omitempty" yaml:"x,omitempty"`
	Y   float64  `json:"y,omitempty" yaml:"y,omitempty"`
	Lat *float64 `json:"lat,omitempty" yaml:"lat,omitempty" jsonschema:"minimum=-90,maximum=90"`
	Lon *float64 `json:"lon,omitempty" yaml:"lon,omitempty" jsonschema:"minimum=-180,maximum=180"`
}

// RoadSpec is a graph edge between two intersections
type RoadSpec struct {
	ID     string `json:"id,omitempty" yaml:"id,omitempty" jsonschema:"description=Defaults to from-to"`
	From   string `json:"from" yaml:"from" jsonschema:"required"`
	To     string `json:"to" yaml:"to" jsonschema:"required"`
	Name   string `json:"name,omitempty" yaml:"name,omitempty"`
	Lanes  int    `json:"lanes,omitempty" yaml:"lanes,omitempty" jsonschema:"minimum=0,default=1"`
	OneWay bool   `json:"one_way,omitempty" yaml:"one_way,omitempty"`
}

// GeoBox maps a lat/lon rectangle onto a Width x Height world
type GeoBox struct {
	BottomLat float64 `json:"bottom_lat" yaml:"bottom_lat" jsonschema:"required"`
	LeftLon   float64 `json:"left_lon" yaml:"left_lon" jsonschema:"required"`
	TopLat    float64 `json:"top_lat" yaml:"top_lat" jsonschema:"required"`
	RightLon  float64 `json:"right_lon" yaml:"right_lon" jsonschema:"required"`
	Width     float64 `json:"width" yaml:"width" jsonschema:"required,exclusiveMinimum=0"`
	Height    float64 `json:"height" yaml:"height" jsonschema:"required,exclusiveMinimum=0"`
}

// FormatFromPath picks the encoding from a file extension
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json":
		return FormatJSON, nil
	}
	return "", fmt.Errorf("%w: unsupported map extension %q", ErrInvalidMap, filepath.Ext(path))
}

// Parse decodes a map document. Unknown fields are rejected.
func Parse(data []byte, format Format) (*Document, error) {
	var doc Document
	switch format {
	case FormatYAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&doc); err != nil {
			return nil, fmt.Errorf("%w: decode yaml: %v", ErrInvalidMap, err)
		}
	case FormatJSON:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&doc); err != nil {
			return nil, fmt.Errorf("%w: decode json: %v", ErrInvalidMap, err)
		}
	default:
		return nil, fmt.Errorf("%w: unknown format %q", ErrInvalidMap, format)
	}
	return &doc, nil
}

// Load reads, decodes and builds the map at path
func Load(path string) (*Map, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read map: %w", err)
	}
	doc, err := Parse(data, format)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	m, err := New(doc)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}
