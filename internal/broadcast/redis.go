package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"surveyor/internal/model"

	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "surveyor:survey:"

// RedisOpener uses redis pub/sub as the broadcast channel, one redis channel
// per survey. Redis echoes a publisher's own messages back to it; the
// Synchronizer drops them by sender id.
type RedisOpener struct {
	Client *redis.Client
	Prefix string
	Logger *slog.Logger
}

func (o RedisOpener) channelName(surveyID model.ID) string {
	p := o.Prefix
	if p == "" {
		p = defaultRedisPrefix
	}
	return p + surveyID.String()
}

func (o RedisOpener) Open(ctx context.Context, surveyID model.ID) (Channel, error) {
	if o.Client == nil {
		return nil, fmt.Errorf("broadcast: redis client not configured")
	}
	name := o.channelName(surveyID)
	ps := o.Client.Subscribe(ctx, name)
	// Wait for the subscription confirmation so nothing published right
	// after Open is missed.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("broadcast: subscribe %s: %w", name, err)
	}
	log := o.Logger
	if log == nil {
		log = slog.Default()
	}
	ch := &redisChannel{
		client:   o.Client,
		ps:       ps,
		name:     name,
		surveyID: surveyID,
		out:      newFanout(),
		log:      log.With("survey", surveyID),
	}
	go ch.readLoop()
	return ch, nil
}

type redisChannel struct {
	client   *redis.Client
	ps       *redis.PubSub
	name     string
	surveyID model.ID
	out      *fanout
	log      *slog.Logger

	closeOnce sync.Once
}

func (c *redisChannel) readLoop() {
	defer c.out.close()
	for msg := range c.ps.Channel() {
		var ch Change
		if err := json.Unmarshal([]byte(msg.Payload), &ch); err != nil {
			c.log.Debug("broadcast: dropping undecodable redis message", "err", err)
			continue
		}
		if ch.SurveyID != c.surveyID {
			continue
		}
		c.out.deliver(ch)
	}
}

func (c *redisChannel) Publish(ctx context.Context, ch Change) error {
	if c.out.isClosed() {
		return ErrClosed
	}
	ch.SurveyID = c.surveyID
	b, err := json.Marshal(ch)
	if err != nil {
		return err
	}
	return c.client.Publish(ctx, c.name, b).Err()
}

func (c *redisChannel) Subscribe() (<-chan Change, func()) {
	return c.out.subscribe()
}

func (c *redisChannel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.out.close()
		err = c.ps.Close()
	})
	return err
}
