package serverapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/pairlink/pairlink/apiframework"
	"github.com/pairlink/pairlink/chatservice"
	"github.com/pairlink/pairlink/internal/chatapi"
	"github.com/pairlink/pairlink/internal/rosterapi"
	"github.com/pairlink/pairlink/internal/sessionapi"
	libauth "github.com/pairlink/pairlink/libauth"
	libbus "github.com/pairlink/pairlink/libbus"
	libdb "github.com/pairlink/pairlink/libdbexec"
	libkv "github.com/pairlink/pairlink/libkvstore"
	"github.com/pairlink/pairlink/libroutine"
	"github.com/pairlink/pairlink/libtracker"
	"github.com/pairlink/pairlink/notificationservice"
	"github.com/pairlink/pairlink/presenceservice"
	"github.com/pairlink/pairlink/rosterservice"
	"github.com/pairlink/pairlink/sessionservice"
	"github.com/pairlink/pairlink/typingservice"
)

func New(
	ctx context.Context,
	mux *http.ServeMux,
	nodeInstanceID string,
	tenancy string,
	config *Config,
	dbInstance libdb.DBManager,
	pubsub libbus.Messenger,
	health libbus.ConnHealth,
	kvManager libkv.KVManager,
	rosterService rosterservice.Service,
) (func() error, error) {
	stdOuttracker := libtracker.NewLogActivityTracker(slog.Default())
	serveropsChainedTracker := libtracker.ChainedTracker{
		stdOuttracker,
	}
	mux.HandleFunc("GET /", func(w http.ResponseWriter, r *http.Request) {
		apiframework.Error(w, r, apiframework.ErrNotFound, apiframework.ListOperation)
	})
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		// OK
	})
	version := apiframework.GetVersion()
	mux.HandleFunc("GET /version", func(w http.ResponseWriter, r *http.Request) {
		apiframework.Encode(w, r, http.StatusOK, apiframework.AboutServer{Version: version, NodeInstanceID: nodeInstanceID, Tenancy: tenancy})
	})

	chatService := chatservice.New(dbInstance, pubsub)
	chatService = chatservice.WithActivityTracker(chatService, serveropsChainedTracker)
	typingService := typingservice.New(kvManager, pubsub)
	typingService = typingservice.WithActivityTracker(typingService, serveropsChainedTracker)
	presenceService := presenceservice.New(kvManager, pubsub)
	presenceService = presenceservice.WithActivityTracker(presenceService, serveropsChainedTracker)
	rosterService = rosterservice.WithActivityTracker(rosterService, serveropsChainedTracker)

	chatapi.AddChatRoutes(mux, chatService, typingService, presenceService)
	rosterapi.AddRosterRoutes(mux, rosterService)

	// One chat session per authenticated user, created lazily on first use.
	// Notifications ride the bus so any connected client of that user can
	// render them.
	manager := sessionapi.NewManager(func(identity libauth.Identity) (sessionservice.Service, notificationservice.Service) {
		sink := notificationservice.NewBusSink(pubsub, identity.ID)
		notifier := notificationservice.New(sink, rosterService, identity.ID, nil)
		session := sessionservice.New(identity.ID, identity.Role, chatService, typingService, presenceService, rosterService, notifier, health)
		return sessionservice.WithActivityTracker(session, serveropsChainedTracker), notifier
	})
	sessionapi.AddSessionRoutes(mux, manager, pubsub)

	// Presence records have no server-side expiry callback; a periodic sweep
	// degrades records whose liveness window lapsed.
	libroutine.GetGroup().StartLoop(
		ctx,
		&libroutine.LoopConfig{
			Key:          "presenceSweep",
			Threshold:    3,
			ResetTimeout: 10 * time.Second,
			Interval:     presenceservice.LivenessTTL,
			Operation:    presenceService.Sweep,
		},
	)

	cleanup := func() error {
		manager.CloseAll()
		return nil
	}
	return cleanup, nil
}

type Config struct {
	DatabaseURL  string `json:"database_url"`
	Port         string `json:"port"`
	Addr         string `json:"addr"`
	NATSURL      string `json:"nats_url"`
	NATSUser     string `json:"nats_user"`
	NATSPassword string `json:"nats_password"`
	KVAddr       string `json:"kv_addr"`
	KVPassword   string `json:"kv_password"`
	JWTSecret    string `json:"jwt_secret"`
	RosterURL    string `json:"roster_url"`
	RosterToken  string `json:"roster_token"`
	Token        string `json:"token"`
	UIBaseURL    string `json:"ui_base_url"`
}

func LoadConfig[T any](cfg *T) error {
	if cfg == nil {
		return fmt.Errorf("config pointer is nil")
	}
	config := map[string]string{}
	for _, kvPair := range os.Environ() {
		ar := strings.SplitN(kvPair, "=", 2)
		if len(ar) < 2 {
			continue
		}
		key := strings.ToLower(ar[0])
		value := ar[1]
		config[key] = value
	}

	b, err := json.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal env vars: %w", err)
	}
	err = json.Unmarshal(b, cfg)
	if err != nil {
		return fmt.Errorf("failed to unmarshal into config struct: %w", err)
	}

	return nil
}
