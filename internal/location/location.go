// Package location holds the campaign's check-in locations and the per-phase overrides
// applied during the knockout rounds.
package location

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

const (
	PhaseGroupStage  = "group_stage"
	PhaseKnockoutR32 = "knockout_r32"
	PhaseKnockoutR16 = "knockout_r16"
	PhaseSemifinal   = "semifinal"
)

var ErrUnknownLocation = errors.New("unknown location")

type Location struct {
	Slug     string `json:"slug" yaml:"slug"`
	Name     string `json:"name" yaml:"name"`
	Country  string `json:"country" yaml:"country"`
	Flag     string `json:"flag" yaml:"flag"`
	Tier     int    `json:"tier" yaml:"tier"`
	Tagline  string `json:"tagline" yaml:"tagline"`
	Knockout bool   `json:"knockout" yaml:"-"`
}

// Override replaces the pairing of one location during a knockout phase.
type Override struct {
	LocationID string `json:"location_id" yaml:"location_id"`
	Phase      string `json:"phase" yaml:"phase"`
	Country    string `json:"country,omitempty" yaml:"country"`
	Flag       string `json:"flag,omitempty" yaml:"flag"`
	Tagline    string `json:"tagline,omitempty" yaml:"tagline"`
}

var defaults = []Location{
	{Slug: "jackson-street-bridge", Name: "Jackson Street Bridge", Country: "Spain", Flag: "\U0001F1EA\U0001F1F8", Tier: 1, Tagline: "Where the skyline meets the world"},
	{Slug: "ponce-city-market", Name: "Ponce City Market", Country: "Morocco", Flag: "\U0001F1F2\U0001F1E6", Tier: 1, Tagline: "Market vibes, global flavor"},
	{Slug: "krog-street-market", Name: "Krog Street Market", Country: "South Africa", Flag: "\U0001F1FF\U0001F1E6", Tier: 1, Tagline: "Culture on every corner"},
	{Slug: "pittsburgh-yards", Name: "Pittsburgh Yards", Country: "Cabo Verde", Flag: "\U0001F1E8\U0001F1FB", Tier: 1, Tagline: "Building tomorrow today"},
	{Slug: "piedmont-park", Name: "Piedmont Park", Country: "Saudi Arabia", Flag: "\U0001F1F8\U0001F1E6", Tier: 1, Tagline: "Atlanta's green heart"},
	{Slug: "buckhead-village", Name: "Buckhead Village", Country: "Haiti", Flag: "\U0001F1ED\U0001F1F9", Tier: 1, Tagline: "Luxury meets legacy"},
	{Slug: "west-end", Name: "West End", Country: "Uzbekistan", Flag: "\U0001F1FA\U0001F1FF", Tier: 1, Tagline: "The heartbeat of the Westside"},
	{Slug: "little-five-points", Name: "Little Five Points", Country: "Rotating", Flag: "\U0001F30D", Tier: 2, Tagline: "Atlanta's creative soul"},
	{Slug: "east-atlanta-village", Name: "East Atlanta Village", Country: "Rotating", Flag: "\U0001F30D", Tier: 2, Tagline: "Village vibes, world stage"},
	{Slug: "sweet-auburn", Name: "Sweet Auburn", Country: "Heritage", Flag: "\U0001F3DB\uFE0F", Tier: 2, Tagline: "Where history walks"},
	{Slug: "auc-clark-atlanta", Name: "AUC / Clark Atlanta", Country: "Heritage", Flag: "\U0001F3DB\uFE0F", Tier: 2, Tagline: "Legacy of excellence"},
	{Slug: "castleberry-hill", Name: "Castleberry Hill", Country: "TBD", Flag: "\U0001F3A8", Tier: 2, Tagline: "Art district energy"},
	{Slug: "centennial-olympic-park", Name: "Centennial Olympic Park", Country: "Fan Festival", Flag: "\u26BD", Tier: 3, Tagline: "The world plays here"},
	{Slug: "pemberton-place", Name: "Pemberton Place", Country: "Fan Festival", Flag: "\u26BD", Tier: 3, Tagline: "Where Atlanta welcomes the world"},
	{Slug: "hartsfield-jackson-airport", Name: "Hartsfield-Jackson Airport", Country: "Arrivals", Flag: "\u2708\uFE0F", Tier: 3, Tagline: "Welcome to Atlanta"},
	{Slug: "oca-mural-network", Name: "OCA Mural Network", Country: "Bonus", Flag: "\u2B50", Tier: 3, Tagline: "Art without walls"},
}

// Catalog resolves locations for the active campaign phase.
type Catalog struct {
	phase     string
	locations map[string]Location
	order     []string
	overrides map[string]Override
}

// NewCatalog returns the default campaign catalog for phase. Overrides whose phase does
// not match are ignored.
func NewCatalog(phase string, overrides []Override) (*Catalog, error) {
	phase = strings.TrimSpace(phase)
	if phase == "" {
		phase = PhaseGroupStage
	}
	if !ValidPhase(phase) {
		return nil, fmt.Errorf("unsupported campaign phase: %s", phase)
	}

	c := &Catalog{
		phase:     phase,
		locations: make(map[string]Location, len(defaults)),
		order:     make([]string, 0, len(defaults)),
		overrides: make(map[string]Override),
	}
	for _, loc := range defaults {
		c.locations[loc.Slug] = loc
		c.order = append(c.order, loc.Slug)
	}

	if phase == PhaseGroupStage {
		return c, nil
	}
	for _, o := range overrides {
		if o.Phase != phase {
			continue
		}
		if _, ok := c.locations[o.LocationID]; !ok {
			return nil, fmt.Errorf("override for %s: %w", o.LocationID, ErrUnknownLocation)
		}
		c.overrides[o.LocationID] = o
	}
	return c, nil
}

func ValidPhase(phase string) bool {
	switch phase {
	case PhaseGroupStage, PhaseKnockoutR32, PhaseKnockoutR16, PhaseSemifinal:
		return true
	default:
		return false
	}
}

func (c *Catalog) Phase() string { return c.phase }

// Total is the number of locations a visitor must capture.
func (c *Catalog) Total() int { return len(c.order) }

// Get returns the base location without phase overrides.
func (c *Catalog) Get(slug string) (Location, bool) {
	loc, ok := c.locations[slug]
	return loc, ok
}

// Effective returns the location with the active phase override merged in.
func (c *Catalog) Effective(slug string) (Location, error) {
	loc, ok := c.locations[slug]
	if !ok {
		return Location{}, fmt.Errorf("%w: %s", ErrUnknownLocation, slug)
	}
	o, ok := c.overrides[slug]
	if !ok {
		return loc, nil
	}

	if o.Country != "" {
		loc.Country = o.Country
	}
	if o.Flag != "" {
		loc.Flag = o.Flag
	}
	if o.Tagline != "" {
		loc.Tagline = o.Tagline
	}
	loc.Knockout = true
	return loc, nil
}

// All returns every effective location in campaign order.
func (c *Catalog) All() []Location {
	out := make([]Location, 0, len(c.order))
	for _, slug := range c.order {
		loc, _ := c.Effective(slug)
		out = append(out, loc)
	}
	return out
}

// Knockout returns the slugs that carry an override in the active phase, sorted.
func (c *Catalog) Knockout() []string {
	out := make([]string, 0, len(c.overrides))
	for slug := range c.overrides {
		out = append(out, slug)
	}
	sort.Strings(out)
	return out
}
