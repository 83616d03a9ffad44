package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/pinkypill/pocket-backend/internal/botchat"
	"github.com/pinkypill/pocket-backend/internal/chat"
	"github.com/pinkypill/pocket-backend/internal/config"
	"github.com/pinkypill/pocket-backend/internal/db"
	"github.com/pinkypill/pocket-backend/internal/profile"
	"github.com/pinkypill/pocket-backend/internal/push"
	"github.com/pinkypill/pocket-backend/internal/store/rabbitmq"
	"github.com/pinkypill/pocket-backend/internal/store/redisstore"
	amqp "github.com/rabbitmq/amqp091-go"
)

func workerConcurrency() int {
	v := os.Getenv("WORKER_CONCURRENCY")
	if v == "" {
		return 2
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 2
	}
	if n > 50 {
		return 50
	}
	return n
}

func main() {
	cfg := config.Load()

	gdb := db.Connect(cfg.DBDSN)

	rds := redisstore.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	defer rds.Close()

	factory := func() chat.BotSession {
		return botchat.NewClient(botchat.Config{
			ChatBaseURL:   cfg.BotpressChatURL,
			APIBaseURL:    cfg.BotpressAPIURL,
			ClientID:      cfg.BotpressClientID,
			BotID:         cfg.BotpressBotID,
			Store:         rds,
			WatchAttempts: cfg.WatchAttempts,
			WatchInterval: cfg.WatchInterval,
		})
	}

	repo := chat.NewRepo(gdb)
	svc := chat.NewService(factory, repo, nil)
	profiles := profile.NewRepo(gdb)
	pusher := push.NewClient(cfg.ExpoPushURL)

	conn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		log.Fatalf("rabbit dial: %v", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		log.Fatalf("rabbit channel: %v", err)
	}
	defer ch.Close()

	if err := rabbitmq.DeclareTopology(ch, cfg.RabbitQueue); err != nil {
		log.Fatalf("queue declare: %v", err)
	}

	concurrency := workerConcurrency()

	if err := ch.Qos(concurrency, 0, false); err != nil {
		log.Fatalf("qos: %v", err)
	}

	msgs, err := ch.Consume(cfg.RabbitQueue, "", false, false, false, false, nil)
	if err != nil {
		log.Fatalf("consume: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Printf("notifier started, queue=%s concurrency=%d", cfg.RabbitQueue, concurrency)

	// worker pool
	jobs := make(chan amqp.Delivery, concurrency*2)

	var wg sync.WaitGroup
	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go func(workerID int) {
			defer wg.Done()
			for d := range jobs {
				var m rabbitmq.JobMessage
				if err := json.Unmarshal(d.Body, &m); err != nil || m.JobID == "" {
					log.Printf("worker=%d bad message: %v", workerID, err)
					_ = d.Nack(false, false)
					continue
				}

				start := time.Now()
				if err := handleJob(ctx, svc, profiles, pusher, m.JobID); err != nil {
					log.Printf("worker=%d job %s failed cost=%s err=%v", workerID, m.JobID, time.Since(start), err)
					_ = d.Nack(false, false)
					continue
				}

				if err := d.Ack(false); err != nil {
					log.Printf("worker=%d ack failed job=%s err=%v", workerID, m.JobID, err)
				}
			}
		}(i)
	}

	// dispatcher
	for {
		select {
		case <-ctx.Done():
			log.Printf("notifier shutting down")
			close(jobs)
			wg.Wait()
			return

		case d, ok := <-msgs:
			if !ok {
				log.Printf("delivery channel closed")
				time.Sleep(1 * time.Second)
				continue
			}
			jobs <- d
		}
	}
}

// handleJob runs the reply watch and pushes the bot's answer to the user's
// device. A watch that times out without a reply is a success with nothing
// to deliver.
func handleJob(ctx context.Context, svc *chat.Service, profiles *profile.Repo, pusher *push.Client, jobID string) error {
	job, reply, err := svc.RunWatch(ctx, jobID)
	if err != nil {
		return err
	}
	if reply == nil {
		return nil
	}

	prof, err := profiles.Get(ctx, job.UserID)
	if err != nil {
		log.Printf("job=%s profile load failed uid=%d err=%v", jobID, job.UserID, err)
		return nil // reply already recorded; push is best effort
	}
	if !prof.Preferences().Messages {
		return nil
	}
	if !push.ValidToken(prof.PushToken) {
		return nil
	}

	n := push.Notification{
		To:    prof.PushToken,
		Title: "Pinky replied",
		Body:  reply.Payload.Text,
		Data:  map[string]string{"conversation_id": reply.ConversationID},
	}
	if err := pusher.Send(ctx, n); err != nil {
		log.Printf("job=%s push failed uid=%d err=%v", jobID, job.UserID, err)
	}
	return nil
}
