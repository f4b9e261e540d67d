package offlinegate

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/offline-gate/offline-gate/broadcast"
	"github.com/offline-gate/offline-gate/cache"
	serializer "github.com/offline-gate/offline-gate/pkg/response-serializer"
)

// Install pre-populates the current static-asset cache generation with
// the configured asset manifest. It fails on the first asset that
// cannot be fetched; partial precache is not activated.
func (g *Gateway) Install(ctx context.Context) error {
	g.log.Info().Int("assets", len(g.manifest)).Str("generation", g.staticKeyer.Generation).
		Msg("Installing, precaching asset manifest")
	for _, path := range g.manifest {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, path, nil)
		if err != nil {
			return fmt.Errorf("precache %s: %w", path, err)
		}
		res, err := g.fetchAsset(req)
		if err != nil {
			return fmt.Errorf("precache %s: %w", path, err)
		}
		if res.StatusCode != http.StatusOK {
			res.Body.Close()
			return fmt.Errorf("precache %s: unexpected status %d", path, res.StatusCode)
		}
		bts, err := serializer.StoredResponseToBytes(serializer.StoredResponse{
			Response: res,
			StoredAt: time.Now(),
		})
		res.Body.Close()
		if err != nil {
			return fmt.Errorf("precache %s: %w", path, err)
		}
		key := g.staticKeyer.GetKey(req)
		if err := g.staticCache.Put(key, bts); err != nil {
			return fmt.Errorf("precache %s: %w", path, err)
		}
		g.log.Debug().Str("key", key).Msg("Precached asset")
	}
	return nil
}

// Activate purges every cache generation whose name matches neither
// the current static-asset nor the current data generation, then takes
// control of all connected page contexts immediately.
func (g *Gateway) Activate() error {
	live := map[string]bool{
		g.staticKeyer.Generation: true,
		g.dataKeyer.Generation:   true,
	}
	for _, provider := range []cache.Provider{g.staticCache, g.dataCache} {
		names, err := provider.Generations()
		if err != nil {
			return err
		}
		for _, name := range names {
			if live[name] {
				continue
			}
			g.log.Info().Str("generation", name).Msg("Purging stale cache generation")
			if err := provider.PurgeGeneration(name); err != nil {
				return err
			}
		}
	}
	g.hub.Broadcast(broadcast.Message{Type: "ACTIVATED"})
	g.log.Info().Int("contexts", g.hub.Count()).Msg("Activated, claimed page contexts")
	return nil
}
