package backend

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/jghoshh/habitgrove/backend/queue"
	"github.com/jghoshh/habitgrove/backend/server"
	"github.com/jghoshh/habitgrove/backend/server/ai"
	"github.com/jghoshh/habitgrove/backend/server/auth"
	storage "github.com/jghoshh/habitgrove/backend/storage/persistent"
	"github.com/joho/godotenv"
)

// RunBackend is the main function that sets up and runs the backend server.
func RunBackend() {

	// Load the .env file.
	err := godotenv.Load("backend/.env")
	if err != nil {
		fmt.Println("Error loading .env file")
	}

	// Read the environment variables from the .env file using os.Getenv.
	signingKey := os.Getenv("JWT_SIGNING_KEY") // JWT signing key for token generation
	serverURL := os.Getenv("SERVER_URL")       // The URL where the server is running
	dbURI := os.Getenv("MONGODB_URI")          // MongoDB database URI
	dbName := os.Getenv("DB_NAME")             // The name of the MongoDB database
	redisUrl := os.Getenv("REDIS_URL")         // The Redis URL for caching derived data
	rabbitMQURL := os.Getenv("RABBITMQ_URL")   // The URL for the RabbitMQ message broker
	aiGatewayURL := os.Getenv("AI_GATEWAY_URL") // The chat-completions gateway endpoint
	aiAPIKey := os.Getenv("AI_API_KEY")        // The gateway API key; empty disables AI features
	numChangeProducers := 1                    // The number of change-event producers
	numChangeConsumers := 2                    // The number of change-event consumers
	ctx := context.Background()                // Create a new context

	// Initialize the persistent storage
	store, err := storage.NewStorage(dbName, dbURI)
	if err != nil {
		log.Fatal("error initializing storage: ", err)
	}

	// Initialize the cache using the Redis URL
	changeCache := queue.InitChangeCache(redisUrl)

	// Build the change queue using the RabbitMQ URL, number of producers and consumers, and cache
	changeQueue := queue.BuildChangeQueue(rabbitMQURL, numChangeProducers, numChangeConsumers, changeCache)

	// Start the queue consumers
	_, _, err = changeQueue.StartConsumers(ctx)
	if err != nil {
		log.Fatal("error starting queue consumers: ", err)
	}

	// Initialize the authentication service against the shared store
	auth.InitAuth(store, signingKey)

	// Initialize the AI gateway client
	aiClient := ai.NewClient(aiGatewayURL, aiAPIKey)

	// Start the core server
	go server.Start(server.Config{
		ServerURL:   serverURL,
		SigningKey:  signingKey,
		Store:       store,
		Cache:       changeCache,
		AI:          aiClient,
		ChangeQueue: changeQueue,
	})

	// Setting up the signal interrupt handler to gracefully shutdown our server
	sigs := make(chan os.Signal, 1)

	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigs
		fmt.Println()
		fmt.Println(sig)
		store.Disconnect()
		os.Exit(0)
	}()

	select {}
}
