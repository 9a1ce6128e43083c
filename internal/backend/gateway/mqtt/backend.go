// Package mqtt implements a MQTT device gateway backend.
package mqtt

import (
	"context"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io/ioutil"
	"sync"
	"text/template"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/go-redis/redis/v8"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/devicehive/devicehive-server/internal/backend/gateway"
	"github.com/devicehive/devicehive-server/internal/config"
	"github.com/devicehive/devicehive-server/internal/storage"
)

const notificationLockKeyTempl = "devicehive:gateway:notification:lock:%s:%s"

// Backend implements a MQTT pub-sub backend.
type Backend struct {
	wg sync.WaitGroup

	notificationChan chan gateway.Notification
	commandTemplate  *template.Template

	conn        paho.Client
	redisClient redis.UniversalClient

	notificationTopic string
	qos               uint8
	lockTTL           time.Duration
}

// NewBackend creates a new Backend.
func NewBackend(redisClient redis.UniversalClient, c config.Config) (gateway.Gateway, error) {
	var err error
	conf := c.Gateway.Backend.MQTT

	b := Backend{
		notificationChan:  make(chan gateway.Notification),
		redisClient:       redisClient,
		notificationTopic: conf.NotificationTopic,
		qos:               conf.QOS,
		lockTTL:           conf.NotificationLockTTL,
	}

	b.commandTemplate, err = gateway.NewTopicTemplate("command", conf.CommandTopicTemplate)
	if err != nil {
		return nil, errors.Wrap(err, "gateway/mqtt: parse command topic template error")
	}

	opts := paho.NewClientOptions()
	opts.AddBroker(conf.Server)
	opts.SetUsername(conf.Username)
	opts.SetPassword(conf.Password)
	opts.SetCleanSession(conf.CleanSession)
	opts.SetClientID(conf.ClientID)
	opts.SetOnConnectHandler(b.onConnected)
	opts.SetConnectionLostHandler(b.onConnectionLost)
	if conf.MaxReconnectInterval != 0 {
		opts.SetMaxReconnectInterval(conf.MaxReconnectInterval)
	}

	tlsconfig, err := newTLSConfig(conf.CACert, conf.TLSCert, conf.TLSKey)
	if err != nil {
		return nil, errors.Wrap(err, "gateway/mqtt: load tls configuration error")
	}
	if tlsconfig != nil {
		opts.SetTLSConfig(tlsconfig)
	}

	log.WithField("server", conf.Server).Info("gateway/mqtt: connecting to mqtt broker")
	b.conn = paho.NewClient(opts)
	for {
		if token := b.conn.Connect(); token.Wait() && token.Error() != nil {
			log.Errorf("gateway/mqtt: connecting to mqtt broker failed, will retry in 2s: %s", token.Error())
			time.Sleep(2 * time.Second)
		} else {
			break
		}
	}

	return &b, nil
}

// Close closes the backend.
// Note that this closes the backend one-way (device to broker). Commands
// can still be sent until the connection is dropped.
func (b *Backend) Close() error {
	log.Info("gateway/mqtt: closing backend")

	log.WithField("topic", b.notificationTopic).Info("gateway/mqtt: unsubscribing from notification topic")
	if token := b.conn.Unsubscribe(b.notificationTopic); token.Wait() && token.Error() != nil {
		return fmt.Errorf("gateway/mqtt: unsubscribe from %s error: %s", b.notificationTopic, token.Error())
	}

	log.Info("gateway/mqtt: handling last messages")
	b.wg.Wait()
	close(b.notificationChan)
	b.conn.Disconnect(250)
	return nil
}

// NotificationChan returns the notification channel.
func (b *Backend) NotificationChan() chan gateway.Notification {
	return b.notificationChan
}

// SendCommand publishes the command on the command topic of its device.
func (b *Backend) SendCommand(ctx context.Context, cmd storage.DeviceCommand) error {
	bb, err := gateway.MarshalCommand(cmd)
	if err != nil {
		return errors.Wrap(err, "gateway/mqtt: marshal command error")
	}

	topic, err := gateway.ExecuteTopicTemplate(b.commandTemplate, cmd.DeviceGUID)
	if err != nil {
		return errors.Wrap(err, "gateway/mqtt: execute command topic template error")
	}
	log.WithFields(log.Fields{
		"topic":      topic,
		"qos":        b.qos,
		"command_id": cmd.ID,
	}).Info("gateway/mqtt: publishing command")

	if token := b.conn.Publish(topic, b.qos, false, bb); token.Wait() && token.Error() != nil {
		mqttCommandCounter("error").Inc()
		return errors.Wrap(token.Error(), "gateway/mqtt: publish command error")
	}
	mqttCommandCounter("published").Inc()
	return nil
}

func (b *Backend) notificationHandler(c paho.Client, msg paho.Message) {
	b.wg.Add(1)
	defer b.wg.Done()

	mqttEventCounter("notification").Inc()

	guid, err := gateway.DeviceIDFromTopic(b.notificationTopic, msg.Topic(), "/", "+")
	if err != nil {
		log.WithError(err).WithField("topic", msg.Topic()).Error("gateway/mqtt: get device id from topic error")
		return
	}

	n, err := gateway.UnmarshalNotification(guid, msg.Payload())
	if err != nil {
		log.WithFields(log.Fields{
			"topic":       msg.Topic(),
			"data_base64": base64.StdEncoding.EncodeToString(msg.Payload()),
		}).WithError(err).Error("gateway/mqtt: unmarshal notification error")
		return
	}

	// Since with MQTT all subscribers will receive the notifications sent
	// by all the devices, the first instance receiving the message must lock
	// it, so that other instances can ignore the same message.
	sum := sha256.Sum256(msg.Payload())
	key := storage.GetRedisKey(notificationLockKeyTempl, guid, hex.EncodeToString(sum[:]))
	set, err := b.redisClient.SetNX(context.Background(), key, "lock", b.lockTTL).Result()
	if err != nil {
		log.WithError(err).Error("gateway/mqtt: acquire notification lock error")
		return
	}
	if !set {
		// the payload is already being processed by an other instance
		return
	}

	log.WithFields(log.Fields{
		"device_id":    guid,
		"notification": n.Notification,
	}).Info("gateway/mqtt: notification received")
	b.notificationChan <- n
}

func (b *Backend) onConnected(c paho.Client) {
	mqttConnectCounter().Inc()
	log.Info("gateway/mqtt: connected to mqtt server")

	for {
		log.WithFields(log.Fields{
			"topic": b.notificationTopic,
			"qos":   b.qos,
		}).Info("gateway/mqtt: subscribing to notification topic")
		if token := b.conn.Subscribe(b.notificationTopic, b.qos, b.notificationHandler); token.Wait() && token.Error() != nil {
			log.WithFields(log.Fields{
				"topic": b.notificationTopic,
				"qos":   b.qos,
			}).Errorf("gateway/mqtt: subscribe error: %s", token.Error())
			time.Sleep(time.Second)
			continue
		}
		break
	}
}

func (b *Backend) onConnectionLost(c paho.Client, reason error) {
	mqttDisconnectCounter().Inc()
	log.Errorf("gateway/mqtt: mqtt connection error: %s", reason)
}

func newTLSConfig(cafile, certFile, certKeyFile string) (*tls.Config, error) {
	if cafile == "" && certFile == "" && certKeyFile == "" {
		return nil, nil
	}

	tlsConfig := &tls.Config{}

	if cafile != "" {
		cacert, err := ioutil.ReadFile(cafile)
		if err != nil {
			return nil, errors.Wrap(err, "load ca certificate error")
		}
		certpool := x509.NewCertPool()
		certpool.AppendCertsFromPEM(cacert)

		tlsConfig.RootCAs = certpool
	}

	if certFile != "" && certKeyFile != "" {
		kp, err := tls.LoadX509KeyPair(certFile, certKeyFile)
		if err != nil {
			return nil, errors.Wrap(err, "load tls key-pair error")
		}
		tlsConfig.Certificates = []tls.Certificate{kp}
	}

	return tlsConfig, nil
}
