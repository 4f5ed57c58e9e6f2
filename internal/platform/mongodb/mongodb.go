// Package mongodb bootstraps the MongoDB client used by the record store and
// the GridFS report bucket.
package mongodb

import (
	"context"
	"fmt"
	"time"

	"github.com/labstack/echo/v4"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/fl1X12/doctor-side-sub000/internal/platform/health"
)

// Connect dials uri and verifies the primary is reachable.
func Connect(ctx context.Context, uri string) (*mongo.Client, error) {
	opts := options.Client().
		ApplyURI(uri).
		SetAppName("opd-server").
		SetServerSelectionTimeout(10 * time.Second)

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	return client, nil
}

func StoreCheck(client *mongo.Client) health.StoreCheck {
	return health.StoreCheck{
		Store: "mongo",
		Ping: func(ctx context.Context) error {
			return client.Ping(ctx, readpref.Primary())
		},
		Details: func() any {
			return map[string]int{"sessionsInProgress": client.NumberSessionsInProgress()}
		},
	}
}

// HealthHandler serves /health/store when the Mongo backend is active.
func HealthHandler(client *mongo.Client) echo.HandlerFunc {
	return health.Handler(StoreCheck(client))
}
