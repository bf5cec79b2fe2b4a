// Package presence maintains a Redis mirror of driver status for
// dashboards and other read-heavy collaborators.
package presence

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/campus-dispatch/internal/models"
)

type Mirror struct {
	client *redis.Client
	prefix string
}

func NewMirror(addr, password, prefix string) *Mirror {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &Mirror{client: c, prefix: prefix}
}

func (m *Mirror) key(driverID string) string { return m.prefix + driverID }

// Update writes the driver's current status fields in one HSET.
func (m *Mirror) Update(ctx context.Context, d models.Driver) error {
	return m.client.HSet(ctx, m.key(d.ID), map[string]interface{}{
		"name":      d.Name,
		"location":  d.Location,
		"available": strconv.FormatBool(d.Available),
		"trip_id":   d.TripID,
		"rating":    strconv.FormatFloat(d.Rating, 'f', 2, 64),
		"status":    d.Status,
		"updated":   time.Now().UTC().Format(time.RFC3339),
	}).Err()
}

func (m *Mirror) Get(ctx context.Context, driverID string) (map[string]string, error) {
	return m.client.HGetAll(ctx, m.key(driverID)).Result()
}

func (m *Mirror) Ping(ctx context.Context) error { return m.client.Ping(ctx).Err() }

func (m *Mirror) Close() error { return m.client.Close() }
