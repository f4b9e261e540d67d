package offlinegate

import (
	"bytes"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/offline-gate/offline-gate/broadcast"
	synctrigger "github.com/offline-gate/offline-gate/pkg/sync-trigger"
	"github.com/offline-gate/offline-gate/queue"
)

// RequestSync registers the replay trigger and fires it, as if the
// platform had signaled connectivity restoration. Used by the explicit
// sync endpoint.
func (g *Gateway) RequestSync() {
	g.triggers.Register(synctrigger.TagSyncQueue)
	g.triggers.Fire(synctrigger.TagSyncQueue)
}

// syncLoop runs queued-request replay whenever a trigger fires.
func (g *Gateway) syncLoop() {
	defer g.wg.Done()
	for {
		select {
		case <-g.stopCh:
			return
		case tag := <-g.triggers.Fired():
			g.log.Debug().Str("tag", tag).Msg("Replay trigger fired")
			g.ProcessQueue()
		}
	}
}

// probeLoop watches origin connectivity. On an offline-to-online
// transition it fires any pending triggers and independently runs a
// replay pass, mirroring the two separate recovery paths (platform
// trigger and page-observed online event). The replay engine tolerates
// both firing for the same transition.
func (g *Gateway) probeLoop() {
	defer g.wg.Done()
	t := time.NewTicker(g.probeInterval)
	defer t.Stop()
	for {
		select {
		case <-g.stopCh:
			return
		case <-t.C:
			online := g.probeOrigin()
			if g.setOnline(online) && online {
				g.log.Info().Msg("Origin connectivity restored")
				g.triggers.FireAll()
				go g.ProcessQueue()
			}
		}
	}
}

func (g *Gateway) probeOrigin() bool {
	req, err := http.NewRequest(http.MethodHead, g.originURL.String(), nil)
	if err != nil {
		return false
	}
	res, err := g.client.Do(req)
	if err != nil {
		return false
	}
	res.Body.Close()
	return true
}

// ProcessQueue drains the durable queue: every entry is replayed
// against the network in store order, deleted on ok status and left
// untouched otherwise. Entries for the mock endpoint are deleted
// unconditionally. A completion broadcast is sent to all page contexts
// after the pass, even when the queue was empty. Store errors abort
// the pass quietly; the queue is retried on the next trigger.
//
// Concurrent invocations are serialized, and deleting an
// already-deleted entry is a no-op, so duplicate triggers cannot
// corrupt the queue.
func (g *Gateway) ProcessQueue() {
	g.replayMutex.Lock()
	defer g.replayMutex.Unlock()

	entries, err := g.queue.All()
	if err != nil {
		g.log.Error().Err(err).Msg("Could not read sync queue, aborting replay pass")
		return
	}

	replayed := 0
	for _, entry := range entries {
		if g.isMockEndpoint(entry.URL) {
			g.log.Info().Int64("id", entry.ID).Str("url", entry.URL).
				Msg("Mock endpoint entry, deleting without replay")
			if err := g.queue.Delete(entry.ID); err != nil {
				g.log.Error().Err(err).Int64("id", entry.ID).Msg("Could not delete queue entry")
			}
			continue
		}
		if g.replayEntry(entry) {
			replayed++
		}
	}

	g.log.Debug().Int("entries", len(entries)).Int("replayed", replayed).
		Msg("Replay pass complete")
	g.hub.Broadcast(broadcast.SyncCompleted(time.Now()))
}

// replayEntry reconstructs a queued request and issues it against the
// network. It reports whether the entry was replayed and removed.
// No retry backoff here: a failed entry simply stays for the next pass.
func (g *Gateway) replayEntry(entry queue.Entry) bool {
	var reader io.Reader
	if len(entry.Body) > 0 {
		reader = bytes.NewReader(entry.Body)
	}
	target := g.replayURL(entry.URL)
	req, err := http.NewRequest(entry.Method, target, reader)
	if err != nil {
		g.log.Error().Err(err).Int64("id", entry.ID).Msg("Could not reconstruct queued request")
		return false
	}
	for name, value := range entry.Headers {
		req.Header.Set(name, value)
	}

	res, err := g.client.Do(req)
	if err != nil {
		g.log.Debug().Err(err).Int64("id", entry.ID).Str("url", entry.URL).
			Msg("Replay failed, leaving entry for next pass")
		return false
	}
	defer res.Body.Close()
	io.Copy(io.Discard, res.Body)

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		g.log.Debug().Int("status", res.StatusCode).Int64("id", entry.ID).Str("url", entry.URL).
			Msg("Replay rejected by origin, leaving entry for next pass")
		return false
	}

	if err := g.queue.Delete(entry.ID); err != nil {
		g.log.Error().Err(err).Int64("id", entry.ID).Msg("Could not delete replayed queue entry")
		return false
	}
	g.log.Info().Int64("id", entry.ID).Str("method", entry.Method).Str("url", entry.URL).
		Msg("Replayed queued request")
	return true
}

// replayURL resolves a stored request URI against the origin.
func (g *Gateway) replayURL(stored string) string {
	u, err := url.Parse(stored)
	if err != nil || u.IsAbs() {
		return stored
	}
	target := g.originURL
	target.Path = u.Path
	target.RawQuery = u.RawQuery
	return target.String()
}

func (g *Gateway) isMockEndpoint(stored string) bool {
	u, err := url.Parse(stored)
	if err != nil {
		return false
	}
	return u.Path == g.mockPath
}
