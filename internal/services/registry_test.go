package services

import (
	"testing"

	"github.com/verdanthealth/chartd/internal/catalog"
	"github.com/verdanthealth/chartd/internal/localstore"
	"github.com/verdanthealth/chartd/internal/notifications"
	"github.com/verdanthealth/chartd/internal/records"
)

func TestNewRegistry(t *testing.T) {
	var _ Registry = (*registry)(nil)
}

func TestRegistryAccessors(t *testing.T) {
	reg := NewRegistry(Options{})

	if reg.Records() != nil {
		t.Error("expected nil record repository")
	}
	if reg.Workflows() != nil {
		t.Error("expected nil workflow service")
	}
	if reg.Feed() != nil {
		t.Error("expected nil notification feed")
	}
	if reg.Catalog() != nil {
		t.Error("expected nil catalog")
	}
	if reg.Settings() != nil {
		t.Error("expected nil settings service")
	}
	if reg.Events() != nil {
		t.Error("expected nil event publisher")
	}
	if reg.Health() != nil {
		t.Error("expected nil health monitor")
	}
	if reg.Cache() != nil {
		t.Error("expected nil cache")
	}
}

func TestRegistryWithServices(t *testing.T) {
	var mockRecords *records.Repository
	var mockFeed *notifications.Service
	var mockCache *localstore.Store
	mockCatalog := catalog.Default()

	reg := NewRegistry(Options{
		Records: mockRecords,
		Feed:    mockFeed,
		Catalog: mockCatalog,
		Cache:   mockCache,
	})

	if reg.Records() != mockRecords {
		t.Error("record repository mismatch")
	}
	if reg.Feed() != mockFeed {
		t.Error("notification feed mismatch")
	}
	if reg.Catalog() != mockCatalog {
		t.Error("catalog mismatch")
	}
	if reg.Cache() != mockCache {
		t.Error("cache mismatch")
	}
}
