package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofrs/uuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/devicehive/devicehive-server/internal/api"
	"github.com/devicehive/devicehive-server/internal/api/rest"
	"github.com/devicehive/devicehive-server/internal/auth"
	"github.com/devicehive/devicehive-server/internal/backend/cluster"
	gwbackend "github.com/devicehive/devicehive-server/internal/backend/gateway"
	"github.com/devicehive/devicehive-server/internal/backend/gateway/amqp"
	"github.com/devicehive/devicehive-server/internal/backend/gateway/azureservicebus"
	"github.com/devicehive/devicehive-server/internal/backend/gateway/gcppubsub"
	"github.com/devicehive/devicehive-server/internal/backend/gateway/mqtt"
	"github.com/devicehive/devicehive-server/internal/config"
	"github.com/devicehive/devicehive-server/internal/directory"
	"github.com/devicehive/devicehive-server/internal/dispatch"
	"github.com/devicehive/devicehive-server/internal/gateway"
	"github.com/devicehive/devicehive-server/internal/messages"
	"github.com/devicehive/devicehive-server/internal/migrations/code"
	"github.com/devicehive/devicehive-server/internal/monitoring"
	"github.com/devicehive/devicehive-server/internal/plugin"
	"github.com/devicehive/devicehive-server/internal/storage"
	"github.com/devicehive/devicehive-server/internal/subscription"
)

const pluginSyncInterval = 30 * time.Second

// server holds the services of the running process.
type server struct {
	hasher   auth.PasswordHasher
	services rest.Services

	bus     *cluster.Bus
	backend gwbackend.Gateway
	bridge  *gateway.Bridge
}

func run(cmd *cobra.Command, args []string) error {
	s := &server{}

	tasks := []func() error{
		setLogLevel,
		setSyslog,
		setNodeID,
		printStartMessage,
		setupMonitoring,
		setupStorage,
		s.runCodeMigrations,
		s.setupServices,
		s.setupCluster,
		s.setupPlugins,
		s.setupGatewayBackend,
		s.setupAPI,
	}

	for _, t := range tasks {
		if err := t(); err != nil {
			log.Fatal(err)
		}
	}

	sigChan := make(chan os.Signal, 1)
	exitChan := make(chan struct{})
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	log.WithField("signal", <-sigChan).Info("signal received")
	go func() {
		log.Warning("stopping devicehive-server")
		if err := s.stop(); err != nil {
			log.Fatal(err)
		}
		exitChan <- struct{}{}
	}()
	select {
	case <-exitChan:
	case sig := <-sigChan:
		log.WithField("signal", sig).Info("signal received, stopping immediately")
	}

	return nil
}

func (s *server) stop() error {
	if err := api.Stop(); err != nil {
		return err
	}
	if s.backend != nil {
		if err := s.backend.Close(); err != nil {
			return errors.Wrap(err, "close gateway backend error")
		}
		if err := s.bridge.Stop(); err != nil {
			return errors.Wrap(err, "stop gateway bridge error")
		}
	}
	s.services.Plugins.Close()
	if s.bus != nil {
		if err := s.bus.Close(); err != nil {
			return errors.Wrap(err, "close cluster bus error")
		}
	}
	return nil
}

func setLogLevel() error {
	log.SetLevel(log.Level(uint8(config.C.General.LogLevel)))
	return nil
}

// setNodeID generates a random node id when none is configured. The id
// is used to skip the own events on the cluster bus.
func setNodeID() error {
	if config.C.General.NodeID != "" {
		return nil
	}

	id, err := uuid.NewV4()
	if err != nil {
		return errors.Wrap(err, "new uuid error")
	}
	config.C.General.NodeID = id.String()
	return nil
}

func printStartMessage() error {
	log.WithFields(log.Fields{
		"version": version,
		"node_id": config.C.General.NodeID,
		"cluster": config.C.Cluster.Enabled,
		"gateway": config.C.Gateway.Backend.Type,
	}).Info("starting DeviceHive server")
	return nil
}

func setupMonitoring() error {
	if err := monitoring.Setup(config.C); err != nil {
		return errors.Wrap(err, "setup monitoring error")
	}
	return nil
}

func setupStorage() error {
	if err := storage.Setup(config.C); err != nil {
		return errors.Wrap(err, "setup storage error")
	}
	return nil
}

func (s *server) runCodeMigrations() error {
	s.hasher = auth.PasswordHasher{
		Time:      config.C.Auth.Argon2.Time,
		Memory:    config.C.Auth.Argon2.Memory,
		Threads:   config.C.Auth.Argon2.Threads,
		KeyLength: config.C.Auth.Argon2.KeyLength,
	}

	if config.C.Auth.AdminLogin != "" && config.C.Auth.AdminPassword != "" {
		hash, err := s.hasher.Hash(config.C.Auth.AdminPassword)
		if err != nil {
			return errors.Wrap(err, "hash admin password error")
		}
		if err := code.Migrate(storage.DB().DB, "create_admin_user", code.CreateAdminUser(config.C.Auth.AdminLogin, hash)); err != nil {
			return errors.Wrap(err, "create admin user error")
		}
	}

	if err := code.Migrate(storage.DB().DB, "flush_device_cache", code.FlushDeviceCache); err != nil {
		return errors.Wrap(err, "flush device cache error")
	}
	return nil
}

func (s *server) setupServices() error {
	authenticator := auth.NewAuthenticator(
		storage.DB(),
		auth.NewJWTService(config.C.Auth.JWT.Secret, config.C.Auth.JWT.AccessTokenLifetime, config.C.Auth.JWT.RefreshTokenLifetime),
		s.hasher,
		config.C.Auth.MaxLoginAttempts,
	)

	engine := dispatch.NewEngine(subscription.NewRegistry())
	dir := directory.NewService(engine, s.hasher)
	msgs := messages.NewService(dir, engine, config.C.API.DefaultWaitTimeout, config.C.API.MaxWaitTimeout)

	s.services = rest.Services{
		Auth:      authenticator,
		Directory: dir,
		Messages:  msgs,
		Plugins:   plugin.NewService(dir, engine, authenticator, storage.RedisClient()),
		Engine:    engine,
	}
	return nil
}

func (s *server) setupCluster() error {
	if !config.C.Cluster.Enabled {
		return nil
	}

	bus, err := cluster.NewBus(
		context.Background(),
		storage.RedisClient(),
		config.C.Cluster.Channel,
		config.C.General.NodeID,
		s.services.Engine,
	)
	if err != nil {
		return errors.Wrap(err, "setup cluster bus error")
	}
	s.bus = bus
	s.services.Engine.SetBus(bus)
	return nil
}

func (s *server) setupPlugins() error {
	if err := s.services.Plugins.Start(context.Background(), pluginSyncInterval); err != nil {
		return errors.Wrap(err, "start plugins error")
	}
	return nil
}

func (s *server) setupGatewayBackend() error {
	var err error
	var b gwbackend.Gateway

	switch config.C.Gateway.Backend.Type {
	case "":
		return nil
	case "mqtt":
		b, err = mqtt.NewBackend(storage.RedisClient(), config.C)
	case "amqp":
		b, err = amqp.NewBackend(config.C)
	case "gcp_pub_sub":
		b, err = gcppubsub.NewBackend(config.C)
	case "azure_service_bus":
		b, err = azureservicebus.NewBackend(config.C)
	default:
		return fmt.Errorf("unexpected gateway backend type: %s", config.C.Gateway.Backend.Type)
	}
	if err != nil {
		return errors.Wrap(err, "gateway-backend setup failed")
	}

	s.backend = b
	s.bridge = gateway.NewBridge(b, s.services.Messages, s.services.Engine)
	if err := s.bridge.Start(); err != nil {
		return errors.Wrap(err, "start gateway bridge error")
	}
	return nil
}

func (s *server) setupAPI() error {
	if err := api.Setup(config.C, s.services); err != nil {
		return errors.Wrap(err, "setup api error")
	}
	return nil
}
