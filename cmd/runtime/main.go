package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/pairlink/pairlink/apiframework"
	"github.com/pairlink/pairlink/chatstore"
	libbus "github.com/pairlink/pairlink/libbus"
	libdb "github.com/pairlink/pairlink/libdbexec"
	libkv "github.com/pairlink/pairlink/libkvstore"
	libroutine "github.com/pairlink/pairlink/libroutine"
	"github.com/pairlink/pairlink/rosterservice"
	"github.com/pairlink/pairlink/serverapi"
	"github.com/google/uuid"
)

var (
	Tenancy        = "96ed1c59-ffc1-4545-b3c3-191079c68d79"
	nodeInstanceID = "NODE-Instance-UNSET-dev"
)

func initDatabase(ctx context.Context, cfg *serverapi.Config) (libdb.DBManager, error) {
	dbURL := cfg.DatabaseURL
	var err error
	if dbURL == "" {
		err = fmt.Errorf("DATABASE_URL is required")
		return nil, fmt.Errorf("failed to create store: %w", err)
	}
	var dbInstance libdb.DBManager
	err = libroutine.NewRoutine(10, time.Minute).ExecuteWithRetry(ctx, time.Second, 3, func(ctx context.Context) error {
		dbInstance, err = libdb.NewPostgresDBManager(ctx, dbURL, chatstore.Schema)
		if err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create store: %w", err)
	}

	return dbInstance, nil
}

func initPubSub(ctx context.Context, cfg *serverapi.Config) (*libbus.PubSub, error) {
	ps, err := libbus.NewPubSub(ctx, &libbus.Config{
		NATSURL:      cfg.NATSURL,
		NATSPassword: cfg.NATSPassword,
		NATSUser:     cfg.NATSUser,
	})
	if err != nil {
		return nil, err
	}
	return ps, nil
}

func initKV(ctx context.Context, cfg *serverapi.Config) (libkv.KVManager, error) {
	var kvManager libkv.KVManager
	err := libroutine.NewRoutine(10, time.Minute).ExecuteWithRetry(ctx, time.Second, 3, func(ctx context.Context) error {
		var err error
		kvManager, err = libkv.NewManager(libkv.Config{
			KVAddr:     cfg.KVAddr,
			KVPassword: cfg.KVPassword,
		}, 5*time.Second)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create kv manager: %w", err)
	}
	return kvManager, nil
}

func main() {
	nodeInstanceID = uuid.NewString()[0:8]
	config := &serverapi.Config{}
	if err := serverapi.LoadConfig(config); err != nil {
		log.Fatalf("%s: failed to load configuration: %v", nodeInstanceID, err)
	}
	if config.JWTSecret == "" {
		log.Fatalf("%s: JWT_SECRET is required", nodeInstanceID)
	}
	ctx := context.TODO()
	cleanups := []func() error{func() error {
		fmt.Printf("%s cleaning up", nodeInstanceID)
		return nil
	}}
	defer func() {
		for _, cleanup := range cleanups {
			err := cleanup()
			if err != nil {
				log.Printf("%s cleanup failed: %v", nodeInstanceID, err)
			}
		}
	}()

	dbInstance, err := initDatabase(ctx, config)
	if err != nil {
		log.Fatalf("%s initializing database failed: %v", nodeInstanceID, err)
	}
	defer dbInstance.Close()

	ps, err := initPubSub(ctx, config)
	if err != nil {
		log.Fatalf("%s initializing PubSub failed: %v", nodeInstanceID, err)
	}
	defer ps.Close()

	kvManager, err := initKV(ctx, config)
	if err != nil {
		log.Fatalf("%s initializing KV store failed: %v", nodeInstanceID, err)
	}

	var roster rosterservice.Service
	if config.RosterURL != "" {
		roster = rosterservice.NewHTTPRosterService(config.RosterURL, config.RosterToken, nil)
	} else {
		log.Printf("%s ROSTER_URL not set; starting with an empty roster", nodeInstanceID)
		roster = rosterservice.NewStatic(nil)
	}

	internalMux := http.NewServeMux()
	var apiHandler http.Handler = internalMux
	cleanup, err := serverapi.New(ctx, internalMux, nodeInstanceID, Tenancy, config, dbInstance, ps, ps, kvManager, roster)
	cleanups = append(cleanups, cleanup)
	if err != nil {
		log.Fatalf("%s initializing API handler failed: %v", nodeInstanceID, err)
	}
	apiHandler = apiframework.JWTMiddleware(config.JWTSecret, apiHandler)
	apiHandler = apiframework.RequestIDMiddleware(apiHandler)
	apiHandler = apiframework.TracingMiddleware(apiHandler)

	mux := http.NewServeMux()
	mux.Handle("/", apiHandler)
	port := config.Port
	log.Printf("%s %s starting server on :%s", Tenancy, nodeInstanceID, port)
	if err := http.ListenAndServe(config.Addr+":"+port, mux); err != nil {
		log.Fatalf("%s server failed: %v", nodeInstanceID, err)
	}
}
