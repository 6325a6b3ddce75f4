package hospital

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog"
)

const (
	earthRadiusKm = 6371.0

	DefaultSpeedKmh      = 40.0
	DefaultCity          = "Jaipur"
	DefaultLocateTimeout = 10 * time.Second
)

// ErrLocationUnavailable is returned by locators that cannot produce a fix.
var ErrLocationUnavailable = errors.New("location unavailable")

// Locator acquires the reporter's current position. Acquisition is best
// effort; callers fall back when it fails.
type Locator interface {
	Locate(ctx context.Context) (Coordinates, error)
}

// LocatorFunc adapts a function to Locator.
type LocatorFunc func(ctx context.Context) (Coordinates, error)

func (f LocatorFunc) Locate(ctx context.Context) (Coordinates, error) { return f(ctx) }

// FixedLocator always reports the same position.
type FixedLocator Coordinates

func (l FixedLocator) Locate(context.Context) (Coordinates, error) { return Coordinates(l), nil }

// NoLocator always fails, selecting the fallback path.
type NoLocator struct{}

func (NoLocator) Locate(context.Context) (Coordinates, error) {
	return Coordinates{}, ErrLocationUnavailable
}

// Config tunes a Matcher. Zero values select the defaults.
type Config struct {
	SpeedKmh      float64
	DefaultCity   string
	LocateTimeout time.Duration
}

// Matcher ranks facilities by distance from the reporter.
type Matcher struct {
	dir    Directory
	cfg    Config
	logger zerolog.Logger
}

func NewMatcher(dir Directory, cfg Config, logger zerolog.Logger) *Matcher {
	if cfg.SpeedKmh <= 0 {
		cfg.SpeedKmh = DefaultSpeedKmh
	}
	if cfg.DefaultCity == "" {
		cfg.DefaultCity = DefaultCity
	}
	if cfg.LocateTimeout <= 0 {
		cfg.LocateTimeout = DefaultLocateTimeout
	}
	return &Matcher{dir: dir, cfg: cfg, logger: logger}
}

// Distance returns the great-circle distance between a and b in kilometres.
func Distance(a, b Coordinates) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLng := (b.Lng - a.Lng) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusKm * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// ETA converts a distance to whole minutes at the configured speed.
func (m *Matcher) ETA(distanceKm float64) int {
	return int(math.Round(distanceKm / m.cfg.SpeedKmh * 60))
}

// Rank annotates every facility with distance and ETA from `from` and sorts
// ascending by distance. The nearest entry is flagged as recommended.
func (m *Matcher) Rank(from Coordinates) []RankedHospital {
	ranked := make([]RankedHospital, 0, len(m.dir))
	for _, h := range m.dir {
		rh := RankedHospital{Hospital: h}
		if from.Valid() {
			d := Distance(from, Coordinates{Lat: h.Lat, Lng: h.Lng})
			if !math.IsNaN(d) {
				eta := m.ETA(d)
				rh.DistanceKm = &d
				rh.EtaMinutes = &eta
			}
		}
		ranked = append(ranked, rh)
	}
	sortByDistance(ranked)
	markRecommended(ranked)
	return ranked
}

// Fallback returns the default-city facilities with no distance or ETA.
func (m *Matcher) Fallback() []RankedHospital {
	hs := m.dir.InCity(m.cfg.DefaultCity)
	out := make([]RankedHospital, 0, len(hs))
	for _, h := range hs {
		out = append(out, RankedHospital{Hospital: h})
	}
	return out
}

// Nearby acquires the reporter position through loc, bounded by the locate
// timeout, and ranks facilities from it. Acquisition failures never surface:
// the fallback list is returned with located=false.
func (m *Matcher) Nearby(ctx context.Context, loc Locator) (ranked []RankedHospital, located bool) {
	if loc == nil {
		loc = NoLocator{}
	}
	lctx, cancel := context.WithTimeout(ctx, m.cfg.LocateTimeout)
	defer cancel()

	pos, err := locate(lctx, loc)
	if err == nil && !pos.Valid() {
		err = fmt.Errorf("coordinates out of range: %v", pos)
	}
	if err != nil {
		m.logger.Warn().Err(err).Str("default_city", m.cfg.DefaultCity).Msg("location unavailable, using fallback hospitals")
		return m.Fallback(), false
	}
	return m.Rank(pos), true
}

// locate runs loc, converting a panic into an error and honouring ctx even
// when the locator ignores it.
func locate(ctx context.Context, loc Locator) (Coordinates, error) {
	type result struct {
		pos Coordinates
		err error
	}
	ch := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- result{err: fmt.Errorf("locator panicked: %v", r)}
			}
		}()
		pos, err := loc.Locate(ctx)
		ch <- result{pos: pos, err: err}
	}()

	select {
	case r := <-ch:
		return r.pos, r.err
	case <-ctx.Done():
		return Coordinates{}, fmt.Errorf("%w: %v", ErrLocationUnavailable, ctx.Err())
	}
}

func sortByDistance(hs []RankedHospital) {
	key := func(h RankedHospital) float64 {
		if h.DistanceKm == nil {
			return math.Inf(1)
		}
		return *h.DistanceKm
	}
	sort.SliceStable(hs, func(i, j int) bool { return key(hs[i]) < key(hs[j]) })
}

func markRecommended(hs []RankedHospital) {
	if len(hs) > 0 && hs[0].DistanceKm != nil {
		hs[0].Recommended = true
	}
}
