// Package buffercache loads and caches decoded sample buffers. Concurrent
// loads of the same URL share one fetch and decode; decoded buffers are
// cached per URL and exposed under any number of logical ids.
package buffercache

import (
	"context"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/cbegin/dawcore/internal/graph"
	"github.com/gopxl/beep"
	"github.com/gopxl/beep/wav"
	"github.com/pion/logging"
	"github.com/pkg/errors"
	"golang.org/x/sync/singleflight"
)

var ErrNotFound = errors.New("buffercache: buffer not found")

// FetchFunc opens the raw bytes behind url.
type FetchFunc func(ctx context.Context, url string) (io.ReadCloser, error)

// FileFetch opens local paths and file:// URLs.
func FileFetch(_ context.Context, url string) (io.ReadCloser, error) {
	path := strings.TrimPrefix(url, "file://")
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open sample")
	}
	return f, nil
}

type Cache struct {
	sampleRate int
	fetch      FetchFunc
	log        logging.LeveledLogger
	group      singleflight.Group

	mu    sync.RWMutex
	byID  map[string]*graph.Buffer
	byURL map[string]*graph.Buffer
}

// New creates a cache that resamples everything to sampleRate. A nil fetch
// uses FileFetch.
func New(sampleRate int, fetch FetchFunc, log logging.LeveledLogger) *Cache {
	if fetch == nil {
		fetch = FileFetch
	}
	if log == nil {
		log = logging.NewDefaultLoggerFactory().NewLogger("buffercache")
	}
	return &Cache{
		sampleRate: sampleRate,
		fetch:      fetch,
		log:        log,
		byID:       make(map[string]*graph.Buffer),
		byURL:      make(map[string]*graph.Buffer),
	}
}

// Load returns the buffer for url and registers it under id. Failed loads
// cache nothing, so a later Load retries.
func (c *Cache) Load(ctx context.Context, id, url string) (*graph.Buffer, error) {
	c.mu.RLock()
	buf, ok := c.byURL[url]
	c.mu.RUnlock()
	if ok {
		c.Put(id, buf)
		return buf, nil
	}

	ch := c.group.DoChan(url, func() (interface{}, error) {
		c.mu.RLock()
		b, ok := c.byURL[url]
		c.mu.RUnlock()
		if ok {
			return b, nil
		}
		b, err := c.fetchAndDecode(ctx, url)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.byURL[url] = b
		c.mu.Unlock()
		return b, nil
	})
	select {
	case <-ctx.Done():
		return nil, errors.Wrapf(ctx.Err(), "load %s", url)
	case res := <-ch:
		if res.Err != nil {
			c.log.Warnf("load %s failed: %v", url, res.Err)
			return nil, res.Err
		}
		buf := res.Val.(*graph.Buffer)
		c.Put(id, buf)
		return buf, nil
	}
}

func (c *Cache) fetchAndDecode(ctx context.Context, url string) (*graph.Buffer, error) {
	rc, err := c.fetch(ctx, url)
	if err != nil {
		return nil, errors.Wrapf(err, "fetch %s", url)
	}
	defer rc.Close()
	buf, err := Decode(rc, c.sampleRate)
	if err != nil {
		return nil, errors.Wrapf(err, "decode %s", url)
	}
	c.log.Debugf("decoded %s: %.2fs", url, buf.Duration())
	return buf, nil
}

// Decode reads a WAV stream, downmixes it to mono and resamples it to
// sampleRate.
func Decode(r io.Reader, sampleRate int) (*graph.Buffer, error) {
	stream, format, err := wav.Decode(r)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	var src beep.Streamer = stream
	target := beep.SampleRate(sampleRate)
	if sampleRate > 0 && format.SampleRate != target {
		src = beep.Resample(4, format.SampleRate, target, stream)
	} else {
		target = format.SampleRate
	}

	var data []float32
	chunk := make([][2]float64, 1024)
	for {
		n, ok := src.Stream(chunk)
		for _, s := range chunk[:n] {
			data = append(data, float32((s[0]+s[1])/2))
		}
		if !ok {
			break
		}
	}
	if err := stream.Err(); err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, errors.New("empty audio stream")
	}
	return graph.NewBuffer(data, float64(target)), nil
}

// Put registers buf under id, replacing any previous buffer.
func (c *Cache) Put(id string, buf *graph.Buffer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byID[id] = buf
}

func (c *Cache) Get(id string) (*graph.Buffer, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	buf, ok := c.byID[id]
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "id %q", id)
	}
	return buf, nil
}

// Evict drops id. The decoded data stays cached for its URL.
func (c *Cache) Evict(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.byID, id)
}

// Len is the number of registered ids.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.byID)
}
