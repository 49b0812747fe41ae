// ABOUTME: Tenant registry: builds one isolated runtime per tenant at startup
// ABOUTME: Startup recovery marks talks stranded by a previous crash as shutdown

package tenant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/2389/livedesk/internal/canned"
	"github.com/2389/livedesk/internal/dispatch"
	"github.com/2389/livedesk/internal/events"
	"github.com/2389/livedesk/internal/imaging"
	"github.com/2389/livedesk/internal/metrics"
	"github.com/2389/livedesk/internal/presence"
	"github.com/2389/livedesk/internal/store"
)

// ErrUnknownTenant is returned when a connection carries a routing key no
// tenant owns.
var ErrUnknownTenant = errors.New("unknown tenant")

// Runtime is one tenant's isolated serving state: its dispatcher and
// presence tables. Runtimes never share mutable state with each other.
type Runtime struct {
	Tenant     *store.Tenant
	Dispatcher *dispatch.Dispatcher
	Customers  *presence.CustomerTable
	Agents     *presence.AgentTable
	Canned     *canned.Cache
}

// Config carries the shared collaborators runtimes are built from.
type Config struct {
	Store         store.Store
	Images        *imaging.Processor
	FileURL       func(name string) string
	Events        events.Publisher
	Metrics       *metrics.Metrics
	Logger        *slog.Logger
	Mode          string
	MaxPerAgent   int
	ConnectLimit  time.Duration
	CustomerGrace time.Duration
}

// Registry maps routing keys to tenant runtimes. Built once at startup;
// adding tenants requires a restart.
type Registry struct {
	byKey  map[string]*Runtime
	logger *slog.Logger
}

// NewRegistry loads every tenant, recovers talks stranded by a previous
// process, and builds a runtime per tenant.
func NewRegistry(ctx context.Context, cfg Config) (*Registry, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	logger := cfg.Logger.With("component", "tenant")

	tenants, err := cfg.Store.ListTenants(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing tenants: %w", err)
	}

	r := &Registry{byKey: make(map[string]*Runtime, len(tenants)), logger: logger}
	for _, t := range tenants {
		// Live talks in the database at startup belonged to a previous
		// process; their in-memory state is gone, so they terminate here.
		stranded, err := cfg.Store.ListLiveTalks(ctx, t.ID)
		if err != nil {
			return nil, fmt.Errorf("listing live talks for tenant %s: %w", t.Key, err)
		}
		if len(stranded) > 0 {
			ids := make([]int64, 0, len(stranded))
			for _, rec := range stranded {
				ids = append(ids, rec.ID)
			}
			if _, err := cfg.Store.MarkTalksShutdown(ctx, t.ID); err != nil {
				return nil, fmt.Errorf("recovering talks for tenant %s: %w", t.Key, err)
			}
			logger.Warn("marked stranded talks shutdown", "tenant", t.Key, "talk_ids", ids)
		}

		customers := presence.NewCustomerTable(cfg.CustomerGrace, cfg.Logger)
		agents := presence.NewAgentTable(cfg.Logger)
		articles := canned.NewCache(cfg.Store, t.ID, cfg.Logger)

		d := dispatch.New(t, dispatch.Deps{
			Store:        cfg.Store,
			Images:       cfg.Images,
			FileURL:      cfg.FileURL,
			Events:       cfg.Events,
			Canned:       articles,
			Customers:    customers,
			Agents:       agents,
			Metrics:      cfg.Metrics,
			Logger:       cfg.Logger,
			Mode:         cfg.Mode,
			MaxPerAgent:  cfg.MaxPerAgent,
			ConnectLimit: cfg.ConnectLimit,
		})

		r.byKey[t.Key] = &Runtime{
			Tenant:     t,
			Dispatcher: d,
			Customers:  customers,
			Agents:     agents,
			Canned:     articles,
		}

		staff, err := cfg.Store.ListAgents(ctx, t.ID)
		if err != nil {
			return nil, fmt.Errorf("listing agents for tenant %s: %w", t.Key, err)
		}
		logger.Info("tenant ready", "tenant", t.Key, "tenant_id", t.ID, "agents", len(staff))
	}
	return r, nil
}

// ReloadArticles drops a tenant's canned-article cache so the next auto-send
// re-reads the store. The trigger for out-of-band article edits.
func (r *Registry) ReloadArticles(key string) error {
	rt, err := r.Lookup(key)
	if err != nil {
		return err
	}
	rt.Canned.InvalidateAll()
	r.logger.Info("canned articles reloaded", "tenant", key)
	return nil
}

// Lookup resolves a routing key to its runtime.
func (r *Registry) Lookup(key string) (*Runtime, error) {
	rt, ok := r.byKey[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTenant, key)
	}
	return rt, nil
}

// All returns every runtime.
func (r *Registry) All() []*Runtime {
	out := make([]*Runtime, 0, len(r.byKey))
	for _, rt := range r.byKey {
		out = append(out, rt)
	}
	return out
}
