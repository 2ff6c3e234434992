package broadcast

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/redis/go-redis/v9"
)

// OpenerFromURL picks a channel implementation from a broadcast URL:
//
//	""/"memory"          in-process Bus (only tabs in this process)
//	http(s)://, ws(s)://  websocket relay of a `surveyor serve` instance
//	redis://, rediss://   redis pub/sub
func OpenerFromURL(raw string, bus *Bus, header http.Header, log *slog.Logger) (Opener, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "memory" {
		if bus == nil {
			bus = NewBus()
		}
		return bus, nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("broadcast: invalid url %q: %w", raw, err)
	}
	switch u.Scheme {
	case "http", "https", "ws", "wss":
		return WSOpener{BaseURL: raw, Header: header, Logger: log}, nil
	case "redis", "rediss":
		opts, err := redis.ParseURL(raw)
		if err != nil {
			return nil, fmt.Errorf("broadcast: %w", err)
		}
		return RedisOpener{Client: redis.NewClient(opts), Logger: log}, nil
	default:
		return nil, fmt.Errorf("broadcast: unsupported scheme %q (want memory, ws, http or redis)", u.Scheme)
	}
}
