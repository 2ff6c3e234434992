package broadcast

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"surveyor/internal/model"

	"github.com/gorilla/websocket"
)

// WSOpener connects to the relay served by `surveyor serve` at
// <BaseURL>/ws/surveys/{id}.
type WSOpener struct {
	BaseURL string
	Header  http.Header
	Logger  *slog.Logger
}

func (o WSOpener) Open(ctx context.Context, surveyID model.ID) (Channel, error) {
	u, err := relayURL(o.BaseURL, surveyID)
	if err != nil {
		return nil, err
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u, o.Header)
	if err != nil {
		return nil, fmt.Errorf("broadcast: dial %s: %w", u, err)
	}
	log := o.Logger
	if log == nil {
		log = slog.Default()
	}
	ch := &wsChannel{conn: conn, surveyID: surveyID, out: newFanout(), log: log.With("survey", surveyID)}
	go ch.readLoop()
	return ch, nil
}

func relayURL(base string, surveyID model.ID) (string, error) {
	base = strings.TrimSpace(base)
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("broadcast: invalid relay url %q: %w", base, err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("broadcast: unsupported relay scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws/surveys/" + surveyID.String()
	return u.String(), nil
}

type wsChannel struct {
	conn     *websocket.Conn
	surveyID model.ID
	out      *fanout
	log      *slog.Logger

	writeMu   sync.Mutex
	closeOnce sync.Once
}

func (c *wsChannel) readLoop() {
	defer c.out.close()
	for {
		var ch Change
		if err := c.conn.ReadJSON(&ch); err != nil {
			if !c.out.isClosed() && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Debug("broadcast: relay read stopped", "err", err)
			}
			return
		}
		if ch.SurveyID != c.surveyID {
			continue
		}
		c.out.deliver(ch)
	}
}

func (c *wsChannel) Publish(ctx context.Context, ch Change) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.out.isClosed() {
		return ErrClosed
	}
	ch.SurveyID = c.surveyID
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if dl, ok := ctx.Deadline(); ok {
		_ = c.conn.SetWriteDeadline(dl)
		defer func() { _ = c.conn.SetWriteDeadline(time.Time{}) }()
	}
	return c.conn.WriteJSON(ch)
}

func (c *wsChannel) Subscribe() (<-chan Change, func()) {
	return c.out.subscribe()
}

func (c *wsChannel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.out.close()
		c.writeMu.Lock()
		_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()
		err = c.conn.Close()
	})
	return err
}
