package server

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/form3tech-oss/jwt-go"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/jghoshh/habitgrove/backend/queue"
	"github.com/jghoshh/habitgrove/backend/server/ai"
	contextKey "github.com/jghoshh/habitgrove/backend/server/context_key"
	cache "github.com/jghoshh/habitgrove/backend/storage/cache"
	storage "github.com/jghoshh/habitgrove/backend/storage/persistent"
	"github.com/jghoshh/habitgrove/core/disruption"
	"github.com/jghoshh/habitgrove/core/intake"
	"github.com/jghoshh/habitgrove/core/ledger"
	"github.com/jghoshh/habitgrove/core/registry"
)

// Server bundles the storage, cache, queue and domain components behind
// the REST surface. Handlers hang off this struct so tests can build a
// Server around in-memory fakes.
type Server struct {
	store       storage.StorageInterface
	cache       cache.CacheInterface
	registry    *registry.Registry
	ledger      *ledger.Ledger
	machine     *disruption.Machine
	intake      *intake.Intake
	ai          *ai.Client
	changeQueue *queue.Queue
}

// Config carries everything Start needs to assemble a Server.
type Config struct {
	ServerURL   string
	SigningKey  string
	Store       storage.StorageInterface
	Cache       cache.CacheInterface
	AI          *ai.Client
	ChangeQueue *queue.Queue
}

// NewServer wires the domain components around the given storage and
// collaborators.
func NewServer(cfg Config) *Server {
	reg := registry.New(cfg.Store)
	machine := disruption.New(cfg.Store, cfg.Store)
	var classifier intake.Classifier
	if cfg.AI != nil {
		classifier = cfg.AI
	}
	return &Server{
		store:       cfg.Store,
		cache:       cfg.Cache,
		registry:    reg,
		ledger:      ledger.New(cfg.Store),
		machine:     machine,
		intake:      intake.New(cfg.Store, machine, classifier),
		ai:          cfg.AI,
		changeQueue: cfg.ChangeQueue,
	}
}

// jwtMiddleware is a middleware function that performs JWT validation.
//
// It accepts two arguments:
// - signingKey: A key used for validating the JWT signature.
// - next: The next http.Handler to be executed once the middleware has done its job.
//
// This function reads the JWT from the Authorization header of the HTTP request. If a JWT is present,
// it verifies the token's signature and checks if it has expired. If the JWT is valid, the function
// injects the user's ID extracted from the JWT into the request's context under the contextKey.UserIDKey.
//
// If the JWT has expired but the claims can still be extracted, the function also injects the user's ID
// into the request's context. In case of any error during the JWT parsing, the function injects the error
// into the request's context under the contextKey.JwtErrorKey.
//
// The function does not stop the HTTP request processing and always calls the next http.Handler regardless
// of whether a JWT was present and valid, or any error occurred. Thus, it's up to the next handlers
// to interpret the data in the request's context and react accordingly.
func jwtMiddleware(signingKey string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader != "" {
			splitToken := strings.Split(authHeader, "Bearer ")
			if len(splitToken) == 2 {
				token, err := jwt.Parse(splitToken[1], func(token *jwt.Token) (interface{}, error) {
					if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
						return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
					}
					return []byte(signingKey), nil
				})
				if err != nil {
					if err, ok := err.(*jwt.ValidationError); ok && err.Errors == jwt.ValidationErrorExpired {
						if claims, ok := token.Claims.(jwt.MapClaims); ok {
							ctx := context.WithValue(r.Context(), contextKey.UserIDKey, claims["id"])
							r = r.WithContext(ctx)
						}
					} else {
						ctx := context.WithValue(r.Context(), contextKey.JwtErrorKey, err)
						r = r.WithContext(ctx)
					}
				} else if claims, ok := token.Claims.(jwt.MapClaims); ok && token.Valid {
					ctx := context.WithValue(r.Context(), contextKey.UserIDKey, claims["id"])
					r = r.WithContext(ctx)
				}
			}
		}
		next.ServeHTTP(w, r)
	})
}

// recoveryMiddleware is a middleware function that recovers from panics and provides a generic error message to the client.
func recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				log.Printf("Panic recovered: %s\n", err)
				http.Error(w, "Internal server error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// Router builds the REST routing table. Exposed separately from Start
// so handler tests can mount it on an httptest server.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()

	// Auth endpoints are the only routes that work without a token.
	r.HandleFunc("/auth/signup", s.handleSignUp).Methods(http.MethodPost)
	r.HandleFunc("/auth/signin", s.handleSignIn).Methods(http.MethodPost)
	r.HandleFunc("/auth/refresh", s.handleRefresh).Methods(http.MethodPost)

	r.HandleFunc("/habits", s.handleListHabits).Methods(http.MethodGet)
	r.HandleFunc("/habits", s.handleAddHabit).Methods(http.MethodPost)
	r.HandleFunc("/habits/expected", s.handleExpectedHabits).Methods(http.MethodGet)
	r.HandleFunc("/habits/{id}", s.handleDeleteHabit).Methods(http.MethodDelete)
	r.HandleFunc("/habits/{id}/toggle", s.handleToggleHabit).Methods(http.MethodPost)
	r.HandleFunc("/habits/{id}/pause", s.handlePauseHabit).Methods(http.MethodPost)

	r.HandleFunc("/completions/toggle", s.handleToggleCompletion).Methods(http.MethodPost)

	r.HandleFunc("/plant-health", s.handlePlantHealth).Methods(http.MethodGet)

	r.HandleFunc("/disruption", s.handleActiveDisruption).Methods(http.MethodGet)
	r.HandleFunc("/disruption/start", s.handleStartDisruption).Methods(http.MethodPost)
	r.HandleFunc("/disruption/end", s.handleEndDisruption).Methods(http.MethodPost)
	r.HandleFunc("/disruption/toggle", s.handleToggleDisruption).Methods(http.MethodPost)
	r.HandleFunc("/disruption/history", s.handleDisruptionHistory).Methods(http.MethodGet)

	r.HandleFunc("/logs", s.handleSaveLog).Methods(http.MethodPut)
	r.HandleFunc("/logs", s.handleListLogs).Methods(http.MethodGet)
	r.HandleFunc("/logs/{date}", s.handleGetLog).Methods(http.MethodGet)

	r.HandleFunc("/analytics", s.handleAnalytics).Methods(http.MethodGet)
	r.HandleFunc("/suggestions", s.handleSuggestions).Methods(http.MethodGet)
	r.HandleFunc("/export", s.handleExport).Methods(http.MethodGet)

	return r
}

// Start initializes and starts the REST server. Runs on localhost:8080 by default.
// The function requires a Config carrying the deployment URL, the JWT signing key,
// and the storage, cache, AI, and queue collaborators.
func Start(cfg Config) {
	s := NewServer(cfg)

	// Set up the routing table with JWT middleware and recovery middleware
	router := recoveryMiddleware(jwtMiddleware(cfg.SigningKey, s.Router()))

	// Apply the CORS middleware to the router
	corsOrigins := handlers.AllowedOrigins([]string{"*"})
	corsMethods := handlers.AllowedMethods([]string{"GET", "HEAD", "POST", "PUT", "DELETE", "OPTIONS"})
	corsHeaders := handlers.AllowedHeaders([]string{"X-Requested-With", "Content-Type", "Authorization"})

	// Wrap the router with the CORS middleware
	corsRouter := handlers.CORS(corsOrigins, corsMethods, corsHeaders)(router)

	// Apply the logging middleware
	loggingRouter := handlers.LoggingHandler(os.Stdout, corsRouter)

	// Parsing the server url
	u, err := url.Parse(cfg.ServerURL)
	if err != nil {
		panic(err)
	}

	// Start the server
	server := &http.Server{
		Handler:      loggingRouter,
		Addr:         u.Host,
		WriteTimeout: 15 * time.Second,
		ReadTimeout:  15 * time.Second,
	}

	log.Fatal(server.ListenAndServe())
}
