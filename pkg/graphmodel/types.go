package graphmodel

import (
	"fmt"
	"strings"
)

// Level is the position of a warehouse in the location hierarchy.
// Exactly one level holds for a node at any time.
type Level int

const (
	// LevelCity is an ordinary warehouse inside a city.
	LevelCity Level = iota
	// LevelCityMain is the hub warehouse of a city.
	LevelCityMain
	// LevelRegionMain is the hub warehouse of a region.
	LevelRegionMain
)

// Levels lists every level, hubs first.
var Levels = []Level{LevelRegionMain, LevelCityMain, LevelCity}

func (l Level) String() string {
	switch l {
	case LevelRegionMain:
		return "region_main"
	case LevelCityMain:
		return "city_main"
	case LevelCity:
		return "city"
	default:
		return fmt.Sprintf("level(%d)", int(l))
	}
}

// Valid reports whether l is one of the declared levels.
func (l Level) Valid() bool {
	switch l {
	case LevelRegionMain, LevelCityMain, LevelCity:
		return true
	default:
		return false
	}
}

// IsMain reports whether the level designates a hub warehouse.
func (l Level) IsMain() bool {
	switch l {
	case LevelRegionMain, LevelCityMain:
		return true
	case LevelCity:
		return false
	default:
		return false
	}
}

// ParseLevel accepts the canonical names plus a few spellings used by operators.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "region_main", "region-main", "regionmain":
		return LevelRegionMain, nil
	case "city_main", "city-main", "citymain":
		return LevelCityMain, nil
	case "city", "plain":
		return LevelCity, nil
	default:
		return 0, fmt.Errorf("unknown warehouse level %q", s)
	}
}

func (l Level) MarshalText() ([]byte, error) {
	if !l.Valid() {
		return nil, fmt.Errorf("cannot marshal invalid level %d", int(l))
	}
	return []byte(l.String()), nil
}

func (l *Level) UnmarshalText(text []byte) error {
	parsed, err := ParseLevel(string(text))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// ConnType records which hierarchy level justified a connection.
type ConnType string

const (
	ConnRegion ConnType = "region"
	ConnCity   ConnType = "city"
)

// Valid reports whether t is a known connection type.
func (t ConnType) Valid() bool {
	return t == ConnRegion || t == ConnCity
}

// ParseConnType converts the stored representation into a ConnType.
func ParseConnType(s string) (ConnType, error) {
	t := ConnType(strings.ToLower(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", fmt.Errorf("unknown connection type %q", s)
	}
	return t, nil
}
