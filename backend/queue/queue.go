package queue

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/streadway/amqp"
)

// Producer interface provides the Publish method to publish messages to RabbitMQ.
// Publish sends a message body as a byte array to RabbitMQ.
// Returns an error if there was a problem.
type Producer interface {
	Publish(body []byte) error
}

// Consumer interface provides the Consume method to consume messages from RabbitMQ.
// Consume listens to messages from RabbitMQ and handles the message stream.
// Returns the stream of RabbitMQ Delivery and an error if there was a problem.
type Consumer interface {
	Consume(ctx context.Context) (<-chan amqp.Delivery, error)
}

// ProducerFactory interface provides the CreateProducer method to instantiate new producers.
// CreateProducer uses a RabbitMQ connection, channel and queue details to create a new Producer.
// Returns the newly created Producer or an error.
type ProducerFactory interface {
	CreateProducer(conn *amqp.Connection, ch *amqp.Channel, queue *amqp.Queue) (Producer, error)
}

// ConsumerFactory interface provides the CreateConsumer method to instantiate new consumers.
// CreateConsumer uses a RabbitMQ connection, channel and queue details to create a new Consumer.
// Returns the newly created Consumer or an error.
type ConsumerFactory interface {
	CreateConsumer(conn *amqp.Connection, ch *amqp.Channel, queue *amqp.Queue) (Consumer, error)
}

// Queue struct holds slices of Producers and Consumers which can be used to send and consume messages.
type Queue struct {
	Producers []Producer
	Consumers []Consumer
}

// connect establishes a connection to RabbitMQ and opens a new channel.
// The function listens for closure of connection and logs any closure error.
// Returns the RabbitMQ connection, channel, and an error if there was a problem.
func connect(url string) (*amqp.Connection, *amqp.Channel, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		return nil, nil, err
	}

	if err = ch.Confirm(false); err != nil {
		return nil, nil, err
	}

	notifyClose := make(chan *amqp.Error)
	conn.NotifyClose(notifyClose)

	go func() {
		err := <-notifyClose
		if err != nil {
			log.Fatalf("RabbitMQ connection closed: %v", err)
		}
	}()

	return conn, ch, nil
}

// InitQueue initializes a Queue with producers and consumers.
// It first establishes a connection to the RabbitMQ instance using the provided URL.
// Upon a successful connection, it declares a durable queue using the provided queue name,
// then uses the provided factories to create producers and consumers for it.
// The producers and consumers are added to the Queue struct, which is then returned.
func InitQueue(url string, queueName string, prodFactories []ProducerFactory, consFactories []ConsumerFactory) *Queue {
	conn, ch, err := connect(url)
	if err != nil {
		log.Fatalf("error connecting to RabbitMQ: %v", err)
	}

	var producers []Producer
	var consumers []Consumer

	queue, err := ch.QueueDeclare(
		queueName,
		true,  // Durable
		false, // Delete when unused
		false, // Exclusive
		false, // No-wait
		nil,   // Arguments
	)
	if err != nil {
		log.Fatalf("error declaring queue: %v", err)
	}

	for _, prodFactory := range prodFactories {
		producer, err := prodFactory.CreateProducer(conn, ch, &queue)
		if err != nil {
			log.Fatalf("error creating producer: %v", err)
		}
		producers = append(producers, producer)
	}

	for _, consFactory := range consFactories {
		consumer, err := consFactory.CreateConsumer(conn, ch, &queue)
		if err != nil {
			log.Fatalf("error creating consumer: %v", err)
		}
		consumers = append(consumers, consumer)
	}

	return &Queue{
		Producers: producers,
		Consumers: consumers,
	}
}

// StartConsumers starts every consumer in the queue, each in its own
// goroutine so they process messages independently and concurrently.
// The context controls the consumers' lifetime; an optional duration
// wraps it with a timeout. The returned cancel function stops the
// consumers early, and the WaitGroup waits for them to finish.
func (q *Queue) StartConsumers(ctx context.Context, runFor ...time.Duration) (context.CancelFunc, *sync.WaitGroup, error) {
	if len(runFor) > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, runFor[0])

		// automatically cancel the context when the timeout is reached
		go func() {
			<-ctx.Done()
			if ctx.Err() == context.DeadlineExceeded {
				cancel()
			}
		}()
		return cancel, nil, ctx.Err()
	}

	var wg sync.WaitGroup

	for _, consumer := range q.Consumers {
		wg.Add(1)

		go func(c Consumer) {
			defer wg.Done()

			if _, err := c.Consume(ctx); err != nil {
				log.Printf("Error starting consumer: %v", err)
			}
		}(consumer)
	}

	return nil, &wg, nil
}
