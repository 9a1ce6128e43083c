// Package plugin implements plugin registrations. A plugin is a remote
// subscriber: the events matching its filter are published on its own
// Redis topic.
package plugin

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gofrs/uuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/devicehive/devicehive-server/internal/apierr"
	"github.com/devicehive/devicehive-server/internal/directory"
	"github.com/devicehive/devicehive-server/internal/dispatch"
	"github.com/devicehive/devicehive-server/internal/logging"
	"github.com/devicehive/devicehive-server/internal/permission"
	"github.com/devicehive/devicehive-server/internal/storage"
	"github.com/devicehive/devicehive-server/internal/subscription"
)

// TopicPrefix is the prefix of the generated plugin topic names.
const TopicPrefix = "plugin_topic_"

const defaultQueueSize = 1024

// PermissionSource returns the permissions a user currently holds.
type PermissionSource interface {
	UserPermissions(ctx context.Context, u storage.User) ([]permission.Permission, error)
}

// Registration holds the data of a new plugin.
type Registration struct {
	Name        string        `json:"name"`
	Description *string       `json:"description"`
	Parameters  storage.JSONB `json:"parameters"`
	Filter      Filter        `json:"-"`
}

// Update holds the fields of a partial plugin update. Nil fields are left
// untouched.
type Update struct {
	Name        *string               `json:"name"`
	Description *string               `json:"description"`
	Parameters  *storage.JSONB        `json:"parameters"`
	Status      *storage.PluginStatus `json:"status"`
	Filter      *Filter               `json:"-"`
}

// Credentials is returned on registration.
type Credentials struct {
	ID        int64  `json:"id"`
	TopicName string `json:"topicName"`
}

// Service manages the plugin registrations and forwards the events of the
// active plugins.
type Service struct {
	dir       *directory.Service
	registry  *subscription.Registry
	perms     PermissionSource
	client    redis.UniversalClient
	queueSize int

	// syncMu serializes starting and stopping of owners
	syncMu sync.Mutex
	mu     sync.Mutex
	owners map[string]*owner

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewService creates a new Service. The service is registered with the
// engine, user changes sync the plugins at once.
func NewService(dir *directory.Service, engine *dispatch.Engine, perms PermissionSource, client redis.UniversalClient) *Service {
	s := Service{
		dir:       dir,
		registry:  engine.Registry(),
		perms:     perms,
		client:    client,
		queueSize: defaultQueueSize,
		owners:    make(map[string]*owner),
	}
	engine.AddUserRefresher(&s)
	return &s
}

// RefreshUser implements dispatch.UserRefresher.
func (s *Service) RefreshUser(ctx context.Context, userID int64) {
	if err := s.Sync(ctx); err != nil {
		log.WithError(err).WithFields(log.Fields{
			"user_id": userID,
			"ctx_id":  ctx.Value(logging.ContextIDKey),
		}).Error("plugin: sync plugins after user change error")
	}
}

func pluginNotFound(topic string) error {
	return apierr.NotFound("Plugin with topic name = %s not found", topic)
}

// Register registers a plugin for the calling user and starts forwarding
// its events.
func (s *Service) Register(ctx context.Context, p *permission.Principal, r Registration) (Credentials, error) {
	if !permission.CanAny(p, permission.ManagePlugin) || !p.HasUser() {
		return Credentials{}, apierr.Forbidden()
	}
	if r.Name == "" {
		return Credentials{}, apierr.BadRequest("Plugin name is required")
	}
	if err := s.checkFilter(ctx, p, r.Filter); err != nil {
		return Credentials{}, err
	}

	id, err := uuid.NewV4()
	if err != nil {
		return Credentials{}, errors.Wrap(err, "new uuid error")
	}

	pl := storage.Plugin{
		Name:        r.Name,
		Description: r.Description,
		TopicName:   TopicPrefix + id.String(),
		Filter:      r.Filter.String(),
		Status:      storage.PluginActive,
		UserID:      p.UserID,
		Parameters:  r.Parameters,
	}
	if err := storage.CreatePlugin(ctx, storage.DB(), &pl); err != nil {
		if errors.Cause(err) == storage.ErrAlreadyExists {
			return Credentials{}, apierr.Conflict("Plugin with such name already exists")
		}
		return Credentials{}, err
	}

	if err := s.syncPlugin(ctx, pl); err != nil {
		return Credentials{}, errors.Wrap(err, "start plugin error")
	}

	log.WithFields(log.Fields{
		"plugin_id":  pl.ID,
		"topic_name": pl.TopicName,
		"filter":     pl.Filter,
		"ctx_id":     ctx.Value(logging.ContextIDKey),
	}).Info("plugin: plugin registered")

	return Credentials{ID: pl.ID, TopicName: pl.TopicName}, nil
}

// checkFilter checks that the principal may receive the events the filter
// selects.
func (s *Service) checkFilter(ctx context.Context, p *permission.Principal, f Filter) error {
	for _, k := range f.Kinds {
		action := permission.GetDeviceCommand
		if k == subscription.KindNotification {
			action = permission.GetDeviceNotification
		}
		if !permission.CanAny(p, action) {
			return apierr.Forbidden()
		}

		switch {
		case f.DeviceGUID != "":
			if _, err := s.dir.GetVisibleDevice(ctx, p, action, f.DeviceGUID); err != nil {
				return err
			}
		case len(f.NetworkIDs) != 0:
			if err := s.dir.CheckNetworks(ctx, p, action, f.NetworkIDs); err != nil {
				return err
			}
		case len(f.DeviceTypeIDs) != 0:
			if err := s.dir.CheckDeviceTypes(ctx, p, action, f.DeviceTypeIDs); err != nil {
				return err
			}
		}
	}
	return nil
}

// get returns the plugin when the principal may manage it.
func (s *Service) get(ctx context.Context, p *permission.Principal, topic string) (storage.Plugin, error) {
	if !permission.CanAny(p, permission.ManagePlugin) || !p.HasUser() {
		return storage.Plugin{}, apierr.Forbidden()
	}

	pl, err := storage.GetPluginByTopic(ctx, storage.DB(), topic)
	if err != nil {
		if errors.Cause(err) == storage.ErrDoesNotExist {
			return pl, pluginNotFound(topic)
		}
		return pl, errors.Wrap(err, "get plugin error")
	}
	if !p.Admin && pl.UserID != p.UserID {
		return pl, pluginNotFound(topic)
	}
	return pl, nil
}

// Update applies a partial update to the plugin with the given topic.
func (s *Service) Update(ctx context.Context, p *permission.Principal, topic string, u Update) error {
	pl, err := s.get(ctx, p, topic)
	if err != nil {
		return err
	}

	if u.Name != nil {
		pl.Name = *u.Name
	}
	if u.Description != nil {
		pl.Description = u.Description
	}
	if u.Parameters != nil {
		pl.Parameters = *u.Parameters
	}
	if u.Status != nil {
		switch *u.Status {
		case storage.PluginActive, storage.PluginInactive:
			pl.Status = *u.Status
		default:
			return apierr.BadRequest("Invalid plugin status: %s", *u.Status)
		}
	}
	if u.Filter != nil {
		if err := s.checkFilter(ctx, p, *u.Filter); err != nil {
			return err
		}
		pl.Filter = u.Filter.String()
	}

	if err := storage.UpdatePlugin(ctx, storage.DB(), pl); err != nil {
		switch errors.Cause(err) {
		case storage.ErrAlreadyExists:
			return apierr.Conflict("Plugin with such name already exists")
		case storage.ErrDoesNotExist:
			return pluginNotFound(topic)
		}
		return err
	}

	if err := s.syncPlugin(ctx, pl); err != nil {
		return errors.Wrap(err, "sync plugin error")
	}
	return nil
}

// Delete deletes the plugin with the given topic and stops forwarding its
// events. Deleting a missing plugin is not an error.
func (s *Service) Delete(ctx context.Context, p *permission.Principal, topic string) error {
	if _, err := s.get(ctx, p, topic); err != nil {
		if apierr.FromError(err).Code == http.StatusNotFound {
			return nil
		}
		return err
	}

	if err := storage.DeletePlugin(ctx, storage.DB(), topic); err != nil {
		return err
	}

	s.syncMu.Lock()
	s.stop(topic)
	s.syncMu.Unlock()
	return nil
}

// visibleFilters forces the user filter for non-admin principals.
func visibleFilters(p *permission.Principal, filters storage.PluginFilters) (storage.PluginFilters, error) {
	if !permission.CanAny(p, permission.GetPlugin) || !p.HasUser() {
		return filters, apierr.Forbidden()
	}
	if !p.Admin {
		id := p.UserID
		filters.UserID = &id
	}
	return filters, nil
}

// List returns the plugins visible to the principal.
func (s *Service) List(ctx context.Context, p *permission.Principal, filters storage.PluginFilters) ([]storage.Plugin, error) {
	filters, err := visibleFilters(p, filters)
	if err != nil {
		return nil, err
	}
	return storage.GetPlugins(ctx, storage.DB(), filters)
}

// Count returns the number of plugins visible to the principal.
func (s *Service) Count(ctx context.Context, p *permission.Principal, filters storage.PluginFilters) (int, error) {
	filters, err := visibleFilters(p, filters)
	if err != nil {
		return 0, err
	}
	return storage.GetPluginCount(ctx, storage.DB(), filters)
}

// Sync starts forwarding for the active plugins, stops the plugins which
// are no longer active and refreshes the permissions of the others.
func (s *Service) Sync(ctx context.Context) error {
	plugins, err := storage.GetPlugins(ctx, storage.DB(), storage.PluginFilters{
		Status: storage.PluginActive,
	})
	if err != nil {
		return errors.Wrap(err, "get plugins error")
	}

	active := make(map[string]struct{}, len(plugins))
	for _, pl := range plugins {
		active[pl.TopicName] = struct{}{}
		if err := s.syncPlugin(ctx, pl); err != nil {
			log.WithError(err).WithField("topic_name", pl.TopicName).Error("plugin: sync plugin error")
		}
	}

	s.mu.Lock()
	var stale []string
	for topic := range s.owners {
		if _, ok := active[topic]; !ok {
			stale = append(stale, topic)
		}
	}
	s.mu.Unlock()

	s.syncMu.Lock()
	for _, topic := range stale {
		s.stop(topic)
	}
	s.syncMu.Unlock()
	return nil
}

// Start syncs the plugins and keeps them in sync until ctx is cancelled or
// Close is called.
func (s *Service) Start(ctx context.Context, interval time.Duration) error {
	if err := s.Sync(ctx); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := s.Sync(ctx); err != nil {
					log.WithError(err).Error("plugin: sync plugins error")
				}
			}
		}
	}()
	return nil
}

// Close stops the sync loop and the forwarding of all plugins.
func (s *Service) Close() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()

	s.mu.Lock()
	var topics []string
	for topic := range s.owners {
		topics = append(topics, topic)
	}
	s.mu.Unlock()

	s.syncMu.Lock()
	for _, topic := range topics {
		s.stop(topic)
	}
	s.syncMu.Unlock()
}

// syncPlugin brings the forwarding of the plugin in line with its stored
// state.
func (s *Service) syncPlugin(ctx context.Context, pl storage.Plugin) error {
	s.syncMu.Lock()
	defer s.syncMu.Unlock()

	if pl.Status != storage.PluginActive {
		s.stop(pl.TopicName)
		return nil
	}

	f, err := ParseFilter(pl.Filter)
	if err != nil {
		s.stop(pl.TopicName)
		return errors.Wrap(err, "parse filter error")
	}

	principal, err := s.principal(ctx, pl.UserID)
	if err != nil {
		if errors.Cause(err) == storage.ErrDoesNotExist {
			s.stop(pl.TopicName)
			return nil
		}
		return err
	}

	s.mu.Lock()
	o, ok := s.owners[pl.TopicName]
	s.mu.Unlock()

	if ok && o.filter == pl.Filter {
		o.setPrincipal(principal)
		return nil
	}
	if ok {
		s.stop(pl.TopicName)
	}

	o = newOwner(s.client, pl.TopicName, pl.Filter, principal, s.queueSize)
	for _, sf := range f.Subscriptions() {
		s.registry.Add(o, sf, false)
	}

	s.mu.Lock()
	s.owners[pl.TopicName] = o
	s.mu.Unlock()
	ag.Inc()

	log.WithFields(log.Fields{
		"topic_name": pl.TopicName,
		"filter":     pl.Filter,
	}).Info("plugin: forwarding started")
	return nil
}

// principal returns the principal of an active plugin owner. Locked and
// disabled users report ErrDoesNotExist.
func (s *Service) principal(ctx context.Context, userID int64) (*permission.Principal, error) {
	u, err := storage.GetUser(ctx, storage.DB(), userID)
	if err != nil {
		return nil, err
	}
	if u.Status != storage.UserActive {
		return nil, storage.ErrDoesNotExist
	}

	perms, err := s.perms.UserPermissions(ctx, u)
	if err != nil {
		return nil, errors.Wrap(err, "get user permissions error")
	}
	return &permission.Principal{
		Kind:        permission.KindUser,
		UserID:      u.ID,
		Admin:       u.IsAdmin(),
		Permissions: perms,
	}, nil
}

// stop must be called with syncMu held.
func (s *Service) stop(topic string) {
	s.mu.Lock()
	o, ok := s.owners[topic]
	delete(s.owners, topic)
	s.mu.Unlock()

	if !ok {
		return
	}
	o.close(s.registry)
	ag.Dec()

	log.WithField("topic_name", topic).Info("plugin: forwarding stopped")
}
