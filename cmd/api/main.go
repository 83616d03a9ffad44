package main

import (
	"context"
	"log"
	"time"

	"github.com/pinkypill/pocket-backend/internal/botchat"
	"github.com/pinkypill/pocket-backend/internal/config"
	"github.com/pinkypill/pocket-backend/internal/db"
	"github.com/pinkypill/pocket-backend/internal/httpapi"
	"github.com/pinkypill/pocket-backend/internal/store/rabbitmq"
	"github.com/pinkypill/pocket-backend/internal/store/redisstore"
)

func main() {
	cfg := config.Load()

	gdb := db.Connect(cfg.DBDSN)

	rds := redisstore.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	defer rds.Close()
	{
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := rds.Ping(ctx); err != nil {
			log.Fatalf("redis ping: %v", err)
		}
		cancel()
	}

	pub, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue)
	if err != nil {
		log.Fatalf("rabbit publisher: %v", err)
	}
	defer pub.Close()

	// startup probe; the API still serves if the bot is briefly unreachable
	{
		probe := botchat.NewClient(botchat.Config{
			ChatBaseURL: cfg.BotpressChatURL,
			APIBaseURL:  cfg.BotpressAPIURL,
			ClientID:    cfg.BotpressClientID,
			BotID:       cfg.BotpressBotID,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if _, err := probe.GetBot(ctx); err != nil {
			log.Printf("bot probe: %v", err)
		}
		cancel()
	}

	r := httpapi.NewRouter(gdb, cfg, rds, pub)

	log.Printf("api listening on %s", cfg.Addr)
	if err := r.Run(cfg.Addr); err != nil {
		log.Fatalf("server: %v", err)
	}
}
