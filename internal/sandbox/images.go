package sandbox

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"

	"github.com/HyphaGroup/warden/logging"
)

// imageCache remembers which images were recently confirmed present so every
// spawn does not pay an inspect round trip. Entries expire so an image
// removed behind our back is eventually noticed.
type imageCache struct {
	client *client.Client
	log    logging.Logger

	mu      sync.Mutex
	present map[string]time.Time
	ttl     time.Duration
}

func newImageCache(cli *client.Client, log logging.Logger) *imageCache {
	return &imageCache{
		client:  cli,
		log:     log,
		present: make(map[string]time.Time),
		ttl:     time.Hour,
	}
}

// Ensure makes name available locally, pulling it when missing. Concurrent
// calls for the same missing image may pull twice; the daemon deduplicates
// the layer downloads.
func (c *imageCache) Ensure(ctx context.Context, name string) error {
	c.mu.Lock()
	confirmed, ok := c.present[name]
	c.mu.Unlock()
	if ok && time.Since(confirmed) < c.ttl {
		return nil
	}

	exists, err := c.exists(ctx, name)
	if err != nil {
		return err
	}
	if !exists {
		if err := c.pull(ctx, name); err != nil {
			return err
		}
	}

	c.mu.Lock()
	c.present[name] = time.Now()
	c.mu.Unlock()
	return nil
}

// Invalidate forgets name so the next Ensure asks the daemon again.
func (c *imageCache) Invalidate(name string) {
	c.mu.Lock()
	delete(c.present, name)
	c.mu.Unlock()
}

func (c *imageCache) exists(ctx context.Context, name string) (bool, error) {
	_, err := c.client.ImageInspect(ctx, name)
	if err != nil {
		if client.IsErrNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("inspecting image: %w", err)
	}
	return true, nil
}

func (c *imageCache) pull(ctx context.Context, name string) error {
	c.log.Info("pulling image", "image", name)
	reader, err := c.client.ImagePull(ctx, name, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("pulling image %s: %w", name, err)
	}
	defer func() { _ = reader.Close() }()

	type pullProgress struct {
		Status   string `json:"status"`
		Progress string `json:"progress"`
		ID       string `json:"id"`
		Error    string `json:"error"`
	}

	decoder := json.NewDecoder(reader)
	for {
		var msg pullProgress
		if err := decoder.Decode(&msg); err != nil {
			if err == io.EOF {
				break
			}
			return fmt.Errorf("decoding pull output: %w", err)
		}
		if msg.Error != "" {
			return fmt.Errorf("pulling image %s: %s", name, msg.Error)
		}
		if msg.ID != "" {
			c.log.Debug("pull progress", "image", name, "layer", msg.ID, "status", msg.Status)
		} else if msg.Status != "" {
			c.log.Debug("pull progress", "image", name, "status", msg.Status)
		}
	}

	c.log.Info("image ready", "image", name)
	return nil
}
