// Package relay is a development signaling relay and token issuer. It routes
// call events between users and media negotiation between the two members of
// a call channel.
package relay

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/1ureka/duocall/internal/config"
	"github.com/1ureka/duocall/internal/protocol"
	"github.com/1ureka/duocall/internal/token"
	"github.com/1ureka/duocall/internal/util"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Server serves the relay's HTTP surface.
type Server struct {
	hub      *Hub
	issuer   *token.Issuer
	metrics  *metrics
	engine   *gin.Engine
	listener net.Listener
	http     *http.Server
}

// NewServer builds a relay from cfg. It does not listen until Start.
func NewServer(cfg *config.Relay) *Server {
	gin.SetMode(gin.ReleaseMode)

	m := newMetrics()
	issuer := token.NewIssuer(cfg.AppID, cfg.TokenSecret, cfg.TokenTTL)
	s := &Server{
		hub:     newHub(issuer, m),
		issuer:  issuer,
		metrics: m,
		engine:  gin.New(),
	}

	s.engine.Use(gin.Recovery())

	// for probes
	s.engine.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })
	s.engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})))

	s.engine.GET("/ws", s.handleWS)
	s.engine.POST("/token", s.handleToken)

	return s
}

// Handler exposes the router, mainly for httptest.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start begins listening on addr. Returns the assigned port number.
func (s *Server) Start(addr string) (int, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return 0, fmt.Errorf("failed to start relay: %w", err)
	}
	s.listener = listener
	port := listener.Addr().(*net.TCPAddr).Port

	s.http = &http.Server{Handler: s.engine, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := s.http.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			util.LogError("relay stopped: %v", err)
		}
	}()

	return port, nil
}

// Close shuts the HTTP server down, dropping open connections.
func (s *Server) Close() error {
	if s.http == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := s.http.Shutdown(ctx)
	s.hub.closeAll()
	return err
}

func (s *Server) handleWS(c *gin.Context) {
	user := c.Query("user")
	if user == "" {
		c.String(http.StatusBadRequest, errUnknownUser.Error())
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	conn.SetReadLimit(protocol.MaxEnvelopeSize)

	p := s.hub.attach(user, conn)
	util.LogInfo("user %s connected", user)
	defer func() {
		s.hub.detach(p)
		conn.Close()
		util.LogInfo("user %s disconnected", user)
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		env, err := protocol.Decode(data)
		if err != nil {
			util.LogDebug("dropping frame from %s: %v", user, err)
			continue
		}
		s.hub.route(p, env)
	}
}

func (s *Server) handleToken(c *gin.Context) {
	var req token.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.ChannelName == "" || req.UID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "channelName and uid are required"})
		return
	}
	if req.Role != token.RolePublisher {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported role"})
		return
	}

	tok, err := s.issuer.Issue(req.ChannelName, req.UID, req.Role)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	s.metrics.tokens.Inc()
	c.JSON(http.StatusOK, token.Grant{Token: tok, AppID: s.issuer.AppID()})
}
