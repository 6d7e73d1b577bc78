package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	storage "github.com/jghoshh/habitgrove/backend/storage/cache"
	"github.com/streadway/amqp"
)

// globalCount is a global variable used in the round robin algorithm to assign producers to each change event.
var globalCount int

// dedupeTTL is how long a processed change event id is remembered so
// redelivered messages are discarded instead of reprocessed.
const dedupeTTL = 24 * time.Hour

// ChangeProducerFactory is a struct for creating new ChangeProducer instances
type ChangeProducerFactory struct{}

// ChangeConsumerFactory is a struct for creating new ChangeConsumer instances
// It contains a Cache which is an interface to the cache service.
type ChangeConsumerFactory struct {
	Cache storage.CacheInterface
}

// ChangeProducer is a struct for managing the connection, channel, and queue of the AMQP message producer for change events
type ChangeProducer struct {
	conn    *amqp.Connection // the connection to the AMQP broker
	channel *amqp.Channel    // the channel used for publishing messages
	queue   *amqp.Queue      // the queue from which messages will be sent
}

// ChangeConsumer is a struct for managing the connection, channel, queue and cache of the AMQP message consumer for change events
type ChangeConsumer struct {
	conn    *amqp.Connection       // the connection to the AMQP broker
	channel *amqp.Channel          // the channel used for consuming messages
	queue   *amqp.Queue            // the queue from which messages will be consumed
	cache   storage.CacheInterface // the cache for deduplication and invalidation
}

// ChangeEvent describes a mutation to a user's tracking data. Every
// write that can move a derived number (analytics, plant health,
// suggestions) publishes one of these.
type ChangeEvent struct {
	Id     string `json:"id"`     // unique id of the event, used for deduplication
	Entity string `json:"entity"` // what changed: habit, completion, log, disruption
	Action string `json:"action"` // created, updated, deleted, toggled
	Owner  string `json:"owner"`  // hex id of the user the change belongs to
	Date   string `json:"date"`   // the day the change applies to, YYYY-MM-DD
}

// CreateProducer is a method on ChangeProducerFactory for creating a new instance of ChangeProducer.
// It accepts three arguments:
// - conn: A pointer to an AMQP connection.
// - ch: A pointer to an AMQP channel.
// - queue: A pointer to an AMQP queue.
//
// This method performs the task of instantiating a new ChangeProducer with the given connection, channel, and queue.
// The function returns a new instance of ChangeProducer and an error. In the current implementation, the error is always nil.
func (f *ChangeProducerFactory) CreateProducer(conn *amqp.Connection, ch *amqp.Channel, queue *amqp.Queue) (Producer, error) {
	// We always nil for error for now. If in the future we needed to do some setup before returning the producer,
	// we could employ error checking there.
	return &ChangeProducer{
		conn:    conn,
		channel: ch,
		queue:   queue,
	}, nil
}

// CreateConsumer is a method on ChangeConsumerFactory for creating a new instance of ChangeConsumer.
// It accepts three arguments:
// - conn: A pointer to an AMQP connection.
// - ch: A pointer to an AMQP channel.
// - queue: A pointer to an AMQP queue.
//
// This method performs the task of instantiating a new ChangeConsumer with the given connection, channel, queue, and cache.
// The function returns a new instance of ChangeConsumer and an error. In the current implementation, the error is always nil.
func (f *ChangeConsumerFactory) CreateConsumer(conn *amqp.Connection, ch *amqp.Channel, queue *amqp.Queue) (Consumer, error) {
	// We always nil for error for now. If in the future we needed to do some setup before returning the producer,
	// we could employ error checking there.
	return &ChangeConsumer{
		conn:    conn,
		channel: ch,
		queue:   queue,
		cache:   f.Cache,
	}, nil
}

// Publish is a method on ChangeProducer for publishing a message to the AMQP queue.
// It accepts a single argument:
// - body: A byte array containing the message to be published.
//
// This method performs the task of publishing the given message to the queue.
// The function returns an error if there was a problem with publishing the message.
func (cp *ChangeProducer) Publish(body []byte) error {
	err := cp.channel.Publish(
		"",            // exchange
		cp.queue.Name, // routing key
		false,         // mandatory
		false,         // immediate
		amqp.Publishing{
			ContentType: "application/json",
			Body:        body,
		})
	if err != nil {
		return fmt.Errorf("failed to publish a message: %w", err)
	}

	return nil
}

// Consume is a method on ChangeConsumer for consuming messages from the AMQP queue.
// It accepts a single argument:
// - ctx: The context within which the method is being called.
//
// This method sets up a consumer on the queue and then launches a goroutine that continuously reads from the queue.
// It handles each message by unmarshalling it, checking its processed state from the cache, and then either
// processing it (dropping the owner's cached derived data so the next read recomputes) or discarding it.
// The function returns a channel of deliveries from the queue and an error if there was a problem with setting up the consumer.
func (cc *ChangeConsumer) Consume(ctx context.Context) (<-chan amqp.Delivery, error) {
	msgs, err := cc.channel.Consume(
		cc.queue.Name,
		"",
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return nil, err
	}

	// Deploy the consumer worker to read messages from the queue.
	go func() {
		for {
			select {
			case d, ok := <-msgs:

				if !ok {
					return
				}

				event := &ChangeEvent{}
				if err := json.Unmarshal(d.Body, event); err != nil {
					log.Printf("failed to unmarshal change event: %v", err)
					d.Nack(false, true) // requeue the message in case of transient error.
					continue
				}

				// Fetch processed state from cache
				processed, err := cc.cache.Get(ctx, "change_"+event.Id)
				if err != nil {
					// Ignore cache misses, handle other errors
					if err.Error() != storage.ErrCacheMiss {
						log.Printf("error checking cache: %v", err)
						d.Nack(false, true) // requeue the message in case of transient error.
						continue
					}
				}

				if processed != nil {
					d.Ack(false)
					continue
				}

				// At this point, we know the event has not been processed, so we can
				// invalidate the owner's derived data.
				if err := cc.invalidate(ctx, event); err != nil {
					log.Printf("failed to process change event: %v", err)
					d.Nack(false, true) // requeue the message in case of transient error.
				} else {
					d.Ack(false)
					if err := cc.cache.Set(ctx, "change_"+event.Id, true, dedupeTTL); err != nil {
						log.Printf("failed to set key in cache: %v", err)
					}
				}

			case <-ctx.Done():
				return
			}
		}
	}()

	return msgs, nil
}

// invalidate drops the cached analytics snapshot for the event's owner.
// A habit change additionally drops cached suggestions, since those are
// derived from the habit list.
func (cc *ChangeConsumer) invalidate(ctx context.Context, event *ChangeEvent) error {
	if err := cc.cache.Delete(ctx, storage.AnalyticsKey(event.Owner)); err != nil {
		return err
	}
	if event.Entity == "habit" {
		if err := cc.cache.Delete(ctx, storage.SuggestionsKey(event.Owner)); err != nil {
			return err
		}
	}
	return nil
}

// BuildChangeQueue is a function that initializes a new Queue for handling change events.
// It accepts four arguments:
// - rabbitMQURL: A string containing the URL of the RabbitMQ server.
// - numProducers: An integer indicating the number of producers to create.
// - numConsumers: An integer indicating the number of consumers to create.
// - changeCache: A CacheInterface instance to be used for deduplication and invalidation.
//
// This function creates the specified number of ChangeProducer and ChangeConsumer instances using factories
// and initializes a new Queue with the created producers and consumers.
// The function returns the initialized Queue.
func BuildChangeQueue(rabbitMQURL string, numProducers int, numConsumers int, changeCache storage.CacheInterface) *Queue {

	// Producer factories
	prodFactories := make([]ProducerFactory, numProducers)
	for i := 0; i < numProducers; i++ {
		prodFactories[i] = &ChangeProducerFactory{}
	}

	// Consumer factories
	consFactories := make([]ConsumerFactory, numConsumers)
	for i := 0; i < numConsumers; i++ {
		consFactories[i] = &ChangeConsumerFactory{Cache: changeCache}
	}

	// Initialize the queue
	queue := InitQueue(rabbitMQURL, "changeQueue", prodFactories, consFactories)
	return queue
}

// InitChangeCache is a function that initializes the cache storage used by the change queue.
// It accepts one argument:
// - url: A string containing the URL of the cache server.
//
// This function performs the task of creating a new cache with the given URL.
// The function returns a CacheInterface object that can be used to communicate with the cache in the backend.
func InitChangeCache(url string) storage.CacheInterface {
	c, err := storage.NewCache(url)
	if err != nil {
		log.Fatalf("Error connecting to cache: %v", err)
	}
	return c
}

// ProcessChange is a function that takes a ChangeEvent and a Queue of producers,
// serializes the event to JSON, and then publishes it onto the queue using one of the producers in a round-robin manner.
// It accepts two arguments:
// - event: A pointer to the ChangeEvent to be processed.
// - changeQueue: A pointer to the Queue to which the event is to be published.
//
// This function serializes the event, selects a producer from the queue in a round-robin manner,
// and then publishes the serialized event to the queue.
// The function returns an error if there was a problem with any step of the process.
func ProcessChange(event *ChangeEvent, changeQueue *Queue) error {

	body, err := json.Marshal(event)
	if err != nil {
		return errors.New("failed to marshal change event: " + err.Error())
	}

	producerCount := len(changeQueue.Producers)
	if producerCount == 0 {
		return errors.New("no producers available")
	}

	producer := changeQueue.Producers[globalCount%producerCount]
	globalCount++

	if err := producer.Publish(body); err != nil {
		return errors.New("failed to publish change event: " + err.Error())
	}

	return nil
}
