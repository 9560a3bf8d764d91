package handler

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-cbt/internal/middleware"
	"github.com/stemsi/exstem-cbt/internal/model"
	"github.com/stemsi/exstem-cbt/internal/service"
)

func TestSessionStream_ReadLimit(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := NewWSHandler(nil, zerolog.Nop(), nil)
	h.readLimit = 512

	r := gin.New()
	r.GET("/stream/:session_id", func(c *gin.Context) {
		c.Set(middleware.ContextKeyClaims, &service.Claims{UserID: 7, Role: model.RoleStudent})
		c.Next()
	}, h.SessionStream)

	srv := httptest.NewServer(r)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/stream/" + uuid.NewString()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(map[string]any{"action": "ping", "ref": "p1"}); err != nil {
		t.Fatalf("write ping: %v", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var pong map[string]any
	if err := conn.ReadJSON(&pong); err != nil || pong["event"] != "pong" {
		t.Fatalf("ping under the limit: %v %v", pong, err)
	}

	if err := conn.WriteJSON(map[string]any{"action": "violation", "kind": strings.Repeat("x", 4096)}); err != nil {
		t.Fatalf("write oversized: %v", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var reply map[string]any
	err = conn.ReadJSON(&reply)
	if !websocket.IsCloseError(err, websocket.CloseMessageTooBig) {
		t.Fatalf("oversized frame: reply %v err %v, want close 1009", reply, err)
	}
}
