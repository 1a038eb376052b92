package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/httprate"
	"github.com/nats-io/nats.go"
	log "github.com/sirupsen/logrus"

	config "github.com/avvvet/btc-raffle/configs"
	natscli "github.com/avvvet/btc-raffle/internal/nats"
	"github.com/avvvet/btc-raffle/internal/rafflesvc/broker"
	raffleconfig "github.com/avvvet/btc-raffle/internal/rafflesvc/config"
	"github.com/avvvet/btc-raffle/internal/rafflesvc/db"
	"github.com/avvvet/btc-raffle/internal/rafflesvc/handlers"
	"github.com/avvvet/btc-raffle/internal/rafflesvc/oracle"
	"github.com/avvvet/btc-raffle/internal/rafflesvc/payment"
	"github.com/avvvet/btc-raffle/internal/rafflesvc/service"
	"github.com/avvvet/btc-raffle/internal/rafflesvc/store"
	"github.com/avvvet/btc-raffle/internal/rafflesvc/ws"
)

const SERVICE_NAME = "raffle"

var instanceId string

func init() {
	config.Logging(SERVICE_NAME + "_service")
	config.LoadEnv(SERVICE_NAME)
	instanceId = config.CreateUniqueInstance(SERVICE_NAME)
}

func main() {
	cfg, err := raffleconfig.Load()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	if cfg.AdminSecretGenerated {
		log.Warn("ADMIN_SECRET not set, generated a random one for this process; admin endpoints need ADMIN_SECRET to be usable")
	}

	// pg connection
	dbpool, err := db.Connect(cfg.DBUrl)
	if err != nil {
		log.Fatalf("Failed to connect to DB: %v", err)
	}
	defer db.ClosePool()
	log.Printf("pg connection established successfully")

	migrateCtx, cancelMigrate := context.WithTimeout(context.Background(), 30*time.Second)
	err = db.Migrate(migrateCtx, dbpool)
	cancelMigrate()
	if err != nil {
		log.Fatalf("Failed to migrate DB: %v", err)
	}

	priceOracle := oracle.New(
		oracle.NewCoinGecko(cfg.PriceFeedURL, cfg.PriceFeedTimeout),
		cfg.PriceCacheTTL, cfg.PriceFeedTimeout, cfg.FallbackBTCPrice)
	pricingEngine := service.NewPricingEngine(priceOracle)

	entryStore := store.NewEntryStore(dbpool)
	entryService := service.NewEntryService(entryStore, service.NewCodeGenerator())

	roundStore := store.NewRoundStore(dbpool)
	roundService := service.NewRoundService(roundStore, service.NewCryptoPicker(), cfg.PrizeSharePercent)

	gate := payment.NewGate(payment.GateConfig{
		FaceValueUSD: cfg.TicketPriceUSD,
		PayTo:        cfg.PrizePoolWallet,
		Network:      cfg.Network,
		TokenType:    cfg.TokenType,
		Asset:        cfg.TokenContract,
		Description:  "Bitcoin Faces Raffle entry",
	}, pricingEngine, payment.NewFacilitator(cfg.FacilitatorURL, cfg.TokenType, 30*time.Second))

	// websocket clients of this instance
	s := ws.NewWs()

	// NATS is optional, a single instance delivers events locally
	var conn *nats.Conn
	if cfg.NatsURL != "" {
		n, err := natscli.Connect(cfg.NatsURL, cfg.NatsToken, SERVICE_NAME+"-"+instanceId)
		if err != nil {
			log.Errorf("Error: unable to connect to NATS server %v", err)
			os.Exit(1)
		}
		defer n.Conn.Close()
		conn = n.Conn
		log.Printf("NATS connection established successfully %s", n.Url)
	}

	b := broker.NewBroker(conn, s.Broadcast) // s.Broadcast dependency injection to broker
	sub, err := b.Subscribe()
	if err != nil {
		log.Errorf("Error: unable to subscribe to %s %v", broker.Topic, err)
		os.Exit(1)
	}

	// Setup router
	r := chi.NewRouter()
	c := config.CORS(cfg.CORSOrigins)

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(config.CustomLoggerMiddleware())
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(c.Handler)

	// to protect the service api from any over requests
	r.Use(httprate.LimitByIP(cfg.RateLimit, 1*time.Minute))

	// Init handlers and routes
	h := handlers.NewHandler(cfg, pricingEngine, entryService, roundService, gate, b, s)
	h.SetRoutes(r)

	// warm the price cache so the first visitor does not wait on the feed
	go priceOracle.GetReferencePrice(context.Background())

	// Create server with timeout settings
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("ListenAndServe(): %v", err)
		}
	}()
	log.Infof("%s service running at port %s", SERVICE_NAME, server.Addr)

	// Wait for interrupt signal to gracefully shutdown the server
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	if sub != nil {
		sub.Unsubscribe()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("%s service shutdown Failed:%+v", SERVICE_NAME, err)
	}
	log.Infof("%s service gracefully stopped", SERVICE_NAME)
}
