package tracking

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/foodhub-delivery/service-routing/internal/domain/route"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// GeoKey is the Redis GEO set holding every driver's latest position.
const GeoKey = "geo:drivers"

// DefaultStaleAfter is how old a stored location may be before it no longer counts as a sample.
const DefaultStaleAfter = 30 * time.Second

var (
	// ErrNoLocation is returned when a driver has never reported a location.
	ErrNoLocation = errors.New("no location reported")

	// ErrStaleLocation is returned when the latest report is older than the staleness limit.
	ErrStaleLocation = errors.New("location report is stale")
)

// LocationCache stores device location reports in Redis and serves them back as position samples.
// Exact coordinates live in a per-driver hash; the GEO set is kept for proximity queries.
type LocationCache struct {
	rdb        *redis.Client
	staleAfter time.Duration
	ttl        time.Duration
	now        func() time.Time
}

// NewLocationCache creates a LocationCache. staleAfter ≤ 0 uses DefaultStaleAfter.
func NewLocationCache(rdb *redis.Client, staleAfter time.Duration) *LocationCache {
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	return &LocationCache{
		rdb:        rdb,
		staleAfter: staleAfter,
		ttl:        10 * staleAfter,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// NewRedisClient creates a go-redis client.
func NewRedisClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

func locationKey(driverID uuid.UUID) string {
	return "driver:loc:" + driverID.String()
}

// Record stores a location report. Reports older than the stored one are ignored.
func (c *LocationCache) Record(ctx context.Context, driverID uuid.UUID, p route.GeoPoint, at time.Time) error {
	if err := p.Validate(); err != nil {
		return err
	}

	key := locationKey(driverID)
	prev, err := c.rdb.HGet(ctx, key, "recorded_at").Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("failed to read previous location: %w", err)
	}
	if err == nil && at.UnixMilli() < prev {
		return nil
	}

	_, err = c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key,
			"lat", strconv.FormatFloat(p.Lat, 'f', -1, 64),
			"lng", strconv.FormatFloat(p.Lng, 'f', -1, 64),
			"recorded_at", at.UnixMilli(),
		)
		pipe.Expire(ctx, key, c.ttl)
		pipe.GeoAdd(ctx, GeoKey, &redis.GeoLocation{
			Name:      driverID.String(),
			Longitude: p.Lng,
			Latitude:  p.Lat,
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to store location: %w", err)
	}
	return nil
}

// Latest returns the driver's latest stored location and its report time.
func (c *LocationCache) Latest(ctx context.Context, driverID uuid.UUID) (route.GeoPoint, time.Time, error) {
	values, err := c.rdb.HGetAll(ctx, locationKey(driverID)).Result()
	if err != nil {
		return route.GeoPoint{}, time.Time{}, fmt.Errorf("failed to read location: %w", err)
	}
	if len(values) == 0 {
		return route.GeoPoint{}, time.Time{}, ErrNoLocation
	}

	lat, err := strconv.ParseFloat(values["lat"], 64)
	if err != nil {
		return route.GeoPoint{}, time.Time{}, fmt.Errorf("corrupt latitude: %w", err)
	}
	lng, err := strconv.ParseFloat(values["lng"], 64)
	if err != nil {
		return route.GeoPoint{}, time.Time{}, fmt.Errorf("corrupt longitude: %w", err)
	}
	ms, err := strconv.ParseInt(values["recorded_at"], 10, 64)
	if err != nil {
		return route.GeoPoint{}, time.Time{}, fmt.Errorf("corrupt timestamp: %w", err)
	}
	return route.GeoPoint{Lat: lat, Lng: lng}, time.UnixMilli(ms).UTC(), nil
}

// Sample implements the position provider: the latest location, if it is fresh enough.
func (c *LocationCache) Sample(ctx context.Context, driverID uuid.UUID) (route.GeoPoint, error) {
	p, at, err := c.Latest(ctx, driverID)
	if err != nil {
		return route.GeoPoint{}, err
	}
	if age := c.now().Sub(at); age > c.staleAfter {
		return route.GeoPoint{}, fmt.Errorf("%w: %s old", ErrStaleLocation, age.Truncate(time.Second))
	}
	return p, nil
}

// Nearby returns the IDs of drivers within radiusKm of p, nearest first.
func (c *LocationCache) Nearby(ctx context.Context, p route.GeoPoint, radiusKm float64) ([]string, error) {
	locations, err := c.rdb.GeoRadius(ctx, GeoKey, p.Lng, p.Lat, &redis.GeoRadiusQuery{
		Radius: radiusKm,
		Unit:   "km",
		Sort:   "ASC",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to search nearby drivers: %w", err)
	}

	ids := make([]string, len(locations))
	for i, loc := range locations {
		ids[i] = loc.Name
	}
	return ids, nil
}

// Ping checks the Redis connection.
func (c *LocationCache) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}
