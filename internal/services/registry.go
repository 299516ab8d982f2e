package services

import (
	"github.com/verdanthealth/chartd/internal/catalog"
	"github.com/verdanthealth/chartd/internal/events"
	"github.com/verdanthealth/chartd/internal/localstore"
	"github.com/verdanthealth/chartd/internal/notifications"
	"github.com/verdanthealth/chartd/internal/records"
	"github.com/verdanthealth/chartd/internal/remote"
	"github.com/verdanthealth/chartd/internal/settings"
	"github.com/verdanthealth/chartd/internal/workflow"
)

// Registry provides access to all chartd services.
// Use accessor methods to retrieve individual services.
type Registry interface {
	Records() *records.Repository
	Workflows() workflow.Service
	Feed() *notifications.Service
	Catalog() *catalog.Catalog
	Settings() *settings.Service
	Events() *events.Publisher
	Health() *remote.HealthMonitor
	Cache() *localstore.Store
}

// Options configures the registry with service instances.
type Options struct {
	Records   *records.Repository
	Workflows workflow.Service
	Feed      *notifications.Service
	Catalog   *catalog.Catalog
	Settings  *settings.Service
	Events    *events.Publisher
	Health    *remote.HealthMonitor
	Cache     *localstore.Store
}

// registry is the concrete implementation of Registry.
type registry struct {
	records   *records.Repository
	workflows workflow.Service
	feed      *notifications.Service
	catalog   *catalog.Catalog
	settings  *settings.Service
	events    *events.Publisher
	health    *remote.HealthMonitor
	cache     *localstore.Store
}

// NewRegistry creates a new service registry.
func NewRegistry(opts Options) Registry {
	return &registry{
		records:   opts.Records,
		workflows: opts.Workflows,
		feed:      opts.Feed,
		catalog:   opts.Catalog,
		settings:  opts.Settings,
		events:    opts.Events,
		health:    opts.Health,
		cache:     opts.Cache,
	}
}

func (r *registry) Records() *records.Repository   { return r.records }
func (r *registry) Workflows() workflow.Service    { return r.workflows }
func (r *registry) Feed() *notifications.Service   { return r.feed }
func (r *registry) Catalog() *catalog.Catalog      { return r.catalog }
func (r *registry) Settings() *settings.Service    { return r.settings }
func (r *registry) Events() *events.Publisher      { return r.events }
func (r *registry) Health() *remote.HealthMonitor  { return r.health }
func (r *registry) Cache() *localstore.Store       { return r.cache }
