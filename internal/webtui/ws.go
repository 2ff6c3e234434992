package webtui

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/creack/pty"
	"github.com/gorilla/websocket"
)

type wsMsg struct {
	Type string `json:"type"`
	Cols int    `json:"cols"`
	Rows int    `json:"rows"`
}

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  32 * 1024,
	WriteBufferSize: 32 * 1024,
	CheckOrigin:     sameOrigin,
}

// sameOrigin accepts requests without an Origin header and browser requests
// whose origin host, port included, is the host they were sent to.
func sameOrigin(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return false
	}
	return strings.EqualFold(u.Host, strings.TrimSpace(r.Host))
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	ptmx, cleanup, err := s.startPTYSession()
	if err != nil {
		_ = conn.WriteMessage(websocket.TextMessage, []byte("failed to start session: "+err.Error()))
		return
	}
	defer cleanup()

	var wg sync.WaitGroup
	errCh := make(chan error, 2)

	wg.Add(2)
	go func() {
		defer wg.Done()
		errCh <- pumpPTYToWS(ptmx, conn)
	}()
	go func() {
		defer wg.Done()
		errCh <- pumpWSToPTY(ctx, conn, ptmx)
	}()

	select {
	case <-ctx.Done():
	case <-errCh:
	}
	cancel()
	cleanup()
	_ = conn.Close()
	wg.Wait()
}

func (s *Server) startPTYSession() (*os.File, func(), error) {
	cmd, err := s.sessionCmd()
	if err != nil {
		return nil, nil, err
	}
	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Cols: 120, Rows: 40})
	if err != nil {
		return nil, nil, err
	}
	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			_ = ptmx.Close()
			killAndWait(cmd)
		})
	}
	return ptmx, cleanup, nil
}

func killAndWait(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	_ = cmd.Process.Kill()
	_, _ = cmd.Process.Wait()
}

func pumpPTYToWS(ptmx *os.File, conn *websocket.Conn) error {
	buf := make([]byte, 32*1024)
	for {
		n, err := ptmx.Read(buf)
		if n > 0 {
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if werr := conn.WriteMessage(websocket.BinaryMessage, buf[:n]); werr != nil {
				return werr
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}

// pumpWSToPTY forwards keystrokes. JSON text frames are control messages;
// only {"type":"resize"} is understood.
func pumpWSToPTY(ctx context.Context, conn *websocket.Conn, ptmx *os.File) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		mt, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		if mt == websocket.TextMessage && len(data) > 0 && data[0] == '{' {
			var m wsMsg
			if jerr := json.Unmarshal(data, &m); jerr != nil {
				continue
			}
			if strings.EqualFold(strings.TrimSpace(m.Type), "resize") && m.Cols > 0 && m.Rows > 0 {
				_ = pty.Setsize(ptmx, &pty.Winsize{Cols: uint16(m.Cols), Rows: uint16(m.Rows)})
			}
			continue
		}
		if len(data) == 0 {
			continue
		}
		if _, err := ptmx.Write(data); err != nil {
			return err
		}
	}
}
