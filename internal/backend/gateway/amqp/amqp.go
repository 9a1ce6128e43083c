// Package amqp implements an AMQP (RabbitMQ) device gateway backend.
package amqp

import (
	"context"
	"encoding/base64"
	"sync"
	"text/template"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/streadway/amqp"

	"github.com/devicehive/devicehive-server/internal/backend/gateway"
	"github.com/devicehive/devicehive-server/internal/config"
	"github.com/devicehive/devicehive-server/internal/storage"
)

const exchange = "amq.topic"

// Backend implements an AMQP backend.
type Backend struct {
	chPool *pool
	wg     sync.WaitGroup

	notificationQueueName  string
	notificationRoutingKey string
	commandRoutingKey      *template.Template

	notificationChan chan gateway.Notification
}

// NewBackend creates a new Backend.
func NewBackend(c config.Config) (gateway.Gateway, error) {
	var err error
	conf := c.Gateway.Backend.AMQP

	b := Backend{
		notificationQueueName:  conf.NotificationQueueName,
		notificationRoutingKey: conf.NotificationRoutingKey,
		notificationChan:       make(chan gateway.Notification),
	}

	b.commandRoutingKey, err = gateway.NewTopicTemplate("command", conf.CommandRoutingKeyTemplate)
	if err != nil {
		return nil, errors.Wrap(err, "gateway/amqp: parse command routing-key template error")
	}

	log.Info("gateway/amqp: connecting to AMQP server")
	b.chPool, err = newPool(10, conf.URL)
	if err != nil {
		return nil, errors.Wrap(err, "gateway/amqp: new amqp channel pool error")
	}

	if err := b.setupQueue(); err != nil {
		b.chPool.close()
		return nil, errors.Wrap(err, "gateway/amqp: setup queue error")
	}

	b.wg.Add(1)
	go b.notificationLoop()

	return &b, nil
}

// SendCommand publishes the command with the routing key of its device.
func (b *Backend) SendCommand(ctx context.Context, cmd storage.DeviceCommand) error {
	bb, err := gateway.MarshalCommand(cmd)
	if err != nil {
		return errors.Wrap(err, "gateway/amqp: marshal command error")
	}

	ch, err := b.chPool.get()
	if err != nil {
		return errors.Wrap(err, "get amqp channel from pool error")
	}
	defer ch.close()

	routingKey, err := gateway.ExecuteTopicTemplate(b.commandRoutingKey, cmd.DeviceGUID)
	if err != nil {
		return errors.Wrap(err, "execute command routing-key error")
	}

	err = ch.ch.Publish(
		exchange,
		routingKey,
		false,
		false,
		amqp.Publishing{
			ContentType: "application/json",
			Body:        bb,
		},
	)
	if err != nil {
		ch.markUnusable()
		amqpCommandCounter("error").Inc()
		return errors.Wrap(err, "publish message error")
	}
	amqpCommandCounter("published").Inc()

	log.WithFields(log.Fields{
		"device_id":   cmd.DeviceGUID,
		"command_id":  cmd.ID,
		"routing_key": routingKey,
	}).Info("gateway/amqp: command published")

	return nil
}

// NotificationChan returns the notification channel.
func (b *Backend) NotificationChan() chan gateway.Notification {
	return b.notificationChan
}

// Close closes the backend. The consumer loop ends once the pool is
// closed.
func (b *Backend) Close() error {
	log.Info("gateway/amqp: closing backend")
	err := b.chPool.close()
	b.wg.Wait()
	close(b.notificationChan)
	return err
}

func (b *Backend) setupQueue() error {
	ch, err := b.chPool.get()
	if err != nil {
		return errors.Wrap(err, "open channel error")
	}
	defer ch.close()

	_, err = ch.ch.QueueDeclare(
		b.notificationQueueName,
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return errors.Wrap(err, "declare queue error")
	}

	err = ch.ch.QueueBind(
		b.notificationQueueName,
		b.notificationRoutingKey,
		exchange,
		false,
		nil,
	)
	if err != nil {
		return errors.Wrap(err, "bind queue error")
	}

	return nil
}

func (b *Backend) notificationLoop() {
	defer b.wg.Done()

	for {
		err := func() error {
			// borrow amqp channel from the pool
			ch, err := b.chPool.get()
			if err != nil {
				return errors.Wrap(err, "get amqp channel from pool error")
			}
			defer ch.close()

			log.Info("gateway/amqp: start consuming device notifications")

			msgs, err := ch.ch.Consume(
				b.notificationQueueName,
				"",
				true,
				false,
				false,
				false,
				nil,
			)
			if err != nil {
				ch.markUnusable()
				return errors.Wrap(err, "register consumer error")
			}

			for msg := range msgs {
				amqpEventCounter("notification").Inc()
				if err := b.handleNotification(msg); err != nil {
					log.WithError(err).WithFields(log.Fields{
						"routing_key": msg.RoutingKey,
						"data_base64": base64.StdEncoding.EncodeToString(msg.Body),
					}).Error("gateway/amqp: handle notification error")
				}
			}

			// the delivery channel is closed together with the amqp channel
			ch.markUnusable()
			return nil
		}()
		if err != nil {
			// the channel pool was closed and we can break out of the loop
			if errors.Cause(err) == errClosed {
				break
			}

			log.WithError(err).Error("gateway/amqp: notification loop error")
			time.Sleep(time.Second)
			continue
		}

		if chans, _ := b.chPool.getChansAndConn(); chans == nil {
			break
		}
	}
}

func (b *Backend) handleNotification(msg amqp.Delivery) error {
	guid, err := gateway.DeviceIDFromTopic(b.notificationRoutingKey, msg.RoutingKey, ".", "*")
	if err != nil {
		return errors.Wrap(err, "get device id from routing-key error")
	}

	n, err := gateway.UnmarshalNotification(guid, msg.Body)
	if err != nil {
		return err
	}

	log.WithFields(log.Fields{
		"device_id":    guid,
		"notification": n.Notification,
	}).Info("gateway/amqp: notification received")

	b.notificationChan <- n
	return nil
}
