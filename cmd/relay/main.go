package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vdraw-app/vdraw/backend/internal/persist"
	"github.com/vdraw-app/vdraw/backend/internal/relay"
)

func main() {
	records, err := openRecordStore()
	if err != nil {
		log.Fatalf("Failed to initialize record store: %v", err)
	}
	defer records.Close()

	hub := relay.NewHub()

	if redisAddr := os.Getenv("VDRAW_REDIS_ADDR"); redisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := rdb.Ping(ctx).Err(); err != nil {
			cancel()
			log.Fatalf("Could not connect to Redis at %s: %v", redisAddr, err)
		}
		cancel()

		bridge := relay.NewBridge(rdb)
		defer bridge.Close()
		hub.SetBridge(bridge)
		log.Printf("Redis bridge enabled (%s)", redisAddr)
	}

	go hub.Run()

	api := relay.NewAPI(hub, records)
	handler := corsMiddleware(api.Router())

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	server := &http.Server{Addr: ":" + port, Handler: handler}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("Shutting down relay...")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(ctx)
	}()

	log.Printf("Vdraw relay starting on :%s", port)
	log.Println("Endpoints:")
	log.Println("  - WebSocket: /ws?room={roomId}&peer={peerId}")
	log.Println("  - Health:    GET /health")
	log.Println("  - Stats:     GET /api/stats")
	log.Println("  - Rooms:     GET/POST /api/rooms")
	log.Println("  - Room:      GET/DELETE /api/rooms/{id}")

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal("ListenAndServe: ", err)
	}
}

// openRecordStore picks Postgres when VDRAW_DATABASE_URL is set, otherwise a
// local sqlite file.
func openRecordStore() (persist.RecordStore, error) {
	if dbURL := os.Getenv("VDRAW_DATABASE_URL"); dbURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		log.Println("Using Postgres record store")
		return persist.NewPostgres(ctx, dbURL)
	}

	dbPath := os.Getenv("VDRAW_DB_PATH")
	if dbPath == "" {
		dbPath = "./data/vdraw.db"
	}
	log.Printf("Using sqlite record store at %s", dbPath)
	return persist.NewSQLite(dbPath)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
