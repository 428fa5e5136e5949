package health

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"

	config "gitlab.com/maplesense1/gas.telemetry_server/src/production/GAS.Config"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// ConnectMongoWithTimeout creates a MongoDB connection and pings the primary
// within the configured connect timeout.
func ConnectMongoWithTimeout(ctx context.Context, cfg config.StoreConfig) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	clientOptions := options.Client().ApplyURI(cfg.URI)

	// Atlas SRV URIs always negotiate TLS
	if strings.HasPrefix(cfg.URI, "mongodb+srv://") {
		clientOptions.SetTLSConfig(&tls.Config{
			MinVersion: tls.VersionTLS12,
		})
	}

	clientOptions.SetServerSelectionTimeout(cfg.ConnectTimeout)
	clientOptions.SetConnectTimeout(cfg.ConnectTimeout)

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("unable to ping MongoDB: %w", err)
	}

	return client, nil
}

// GetCollection returns the readings collection named by the store configuration.
func GetCollection(client *mongo.Client, cfg config.StoreConfig) *mongo.Collection {
	return client.Database(cfg.Database()).Collection(cfg.Collection)
}
