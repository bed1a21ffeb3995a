package mongo

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	appName               = "docstore"
	defaultConnectTimeout = 10 * time.Second
)

// Provider owns the client connection and the database the engine uses.
type Provider struct {
	client *mongo.Client
	db     *mongo.Database
}

// NewProvider connects to cfg.URI and pings the primary so that a bad URI
// fails at startup rather than on the first write.
func NewProvider(ctx context.Context, cfg Config) (*Provider, error) {
	clientOpts := options.Client().ApplyURI(cfg.URI).SetAppName(appName)
	if clientOpts.ConnectTimeout == nil {
		clientOpts.SetConnectTimeout(defaultConnectTimeout)
	}

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return &Provider{client: client, db: client.Database(cfg.DatabaseName)}, nil
}

// Database returns the configured database handle.
func (p *Provider) Database() *mongo.Database {
	return p.db
}

func (p *Provider) Close(ctx context.Context) error {
	return p.client.Disconnect(ctx)
}
