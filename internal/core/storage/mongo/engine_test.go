package mongo

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/syntrixbase/docstore/internal/core/storage/storagetest"
	"github.com/syntrixbase/docstore/internal/core/storage/types"
)

func TestEngineConformance(t *testing.T) {
	uri := os.Getenv("MONGO_URI")
	if uri == "" {
		t.Skip("MONGO_URI not set")
	}

	storagetest.Run(t, func(t *testing.T) types.Engine {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		cfg := DefaultConfig()
		cfg.URI = uri
		cfg.DatabaseName = fmt.Sprintf("docstore_test_%d", time.Now().UnixNano())
		provider, err := NewProvider(ctx, cfg)
		require.NoError(t, err)
		t.Cleanup(func() {
			cleanup, err := NewProvider(context.Background(), cfg)
			if err == nil {
				_ = cleanup.Database().Drop(context.Background())
				_ = cleanup.Close(context.Background())
			}
		})

		e, err := NewEngine(ctx, provider, cfg)
		require.NoError(t, err)
		return e
	})
}
