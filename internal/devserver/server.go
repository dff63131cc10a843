// Package devserver is an in-process stand-in for the coaching backend. It
// serves the same REST and socket surface the client core talks to: call
// routing between identities, a signaling relay, chat fan-out and history.
package devserver

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/coachrtc/internal/auth"
	"github.com/dkeye/coachrtc/internal/domain"
)

const identityKey = "identity"

type Config struct {
	Mode     string
	Secret   string
	TokenTTL time.Duration
	// PageSize is the number of messages per history page.
	PageSize     int
	SendBuffer   int
	SendLimit    int
	SendInterval time.Duration
	MaxUpload    int64
	Policy       Policy
	Clock        clock.Clock
}

func (c *Config) withDefaults() {
	if c.TokenTTL <= 0 {
		c.TokenTTL = 24 * time.Hour
	}
	if c.PageSize <= 0 {
		c.PageSize = 50
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = 64
	}
	if c.SendLimit <= 0 {
		c.SendLimit = 20
	}
	if c.SendInterval <= 0 {
		c.SendInterval = 10 * time.Second
	}
	if c.MaxUpload <= 0 {
		c.MaxUpload = 10 << 20
	}
	if c.Clock == nil {
		c.Clock = clock.New()
	}
}

type Server struct {
	cfg     Config
	store   *Store
	issuer  *auth.Issuer
	hub     *Hub
	calls   *callTable
	media   *mediaStore
	limiter *RateLimiter
	log     zerolog.Logger
}

func New(cfg Config, store *Store) *Server {
	cfg.withDefaults()
	logger := log.With().Str("module", "devserver").Logger()
	return &Server{
		cfg:     cfg,
		store:   store,
		issuer:  auth.NewIssuer(cfg.Secret, cfg.TokenTTL),
		hub:     NewHub(cfg.Policy, logger),
		calls:   newCallTable(),
		media:   newMediaStore(),
		limiter: NewRateLimiter(cfg.SendLimit, cfg.SendInterval, cfg.Clock),
		log:     logger,
	}
}

func (s *Server) Issuer() *auth.Issuer { return s.issuer }

// SeedRooms makes sure every room exists with the given participants.
func (s *Server) SeedRooms(ctx context.Context, rooms []domain.ChatRoom) error {
	for _, r := range rooms {
		if err := s.store.PutRoom(ctx, r); err != nil {
			return err
		}
		s.log.Info().Str("room_id", string(r.ID)).Str("member_id", string(r.MemberID)).Str("coach_id", string(r.CoachID)).Msg("room ready")
	}
	return nil
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (s *Server) Router() *gin.Engine {
	if s.cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	if s.cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	r.GET("/media/:id", s.serveMedia)

	api := r.Group("/api", s.authenticate)
	api.POST("/calls/start/:room/", s.startCall)
	api.POST("/calls/:id/accept/", s.acceptCall)
	api.POST("/calls/:id/end/", s.endCall)
	api.GET("/chat/rooms/", s.listRooms)
	api.GET("/chat/rooms/:room/messages/", s.listMessages)
	api.POST("/chat/send/text/", s.sendText)
	api.POST("/chat/send/media/", s.sendMedia)

	ws := r.Group("/ws", s.authenticate)
	ws.GET("/user/call/", s.presenceSocket)
	ws.GET("/calls/:id/", s.signalingSocket)
	ws.GET("/chat/:room/", s.chatSocket)

	s.log.Info().Msg("router setup")
	return r
}

// authenticate accepts the token as a bearer header or a token query
// parameter, the way sockets carry it.
func (s *Server) authenticate(c *gin.Context) {
	token := strings.TrimSpace(strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer "))
	if token == "" {
		token = c.Query("token")
	}
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "authentication required"})
		return
	}
	id, err := s.issuer.Parse(token)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": err.Error()})
		return
	}
	c.Set(identityKey, id)
	c.Next()
}

func identityOf(c *gin.Context) domain.Identity {
	id, _ := c.MustGet(identityKey).(domain.Identity)
	return id
}

func (s *Server) serveMedia(c *gin.Context) {
	blob, ok := s.media.get(c.Param("id"))
	if !ok {
		c.Status(http.StatusNotFound)
		return
	}
	c.Data(http.StatusOK, blob.contentType, blob.data)
}
