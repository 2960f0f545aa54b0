package llm

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/MakeHub-ai/makehub-gateway/types"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"
)

// snapshot is the Model Registry's immutable in-memory view. Registry holds
// an atomic.Pointer to one of these; readers never block on refresh.
type snapshot struct {
	byExact map[string][]types.GatewayModel // model_id or provider_model_id -> rows
	active  []types.GatewayModel
}

func newSnapshot(rows []types.GatewayModel) *snapshot {
	s := &snapshot{byExact: make(map[string][]types.GatewayModel, len(rows)*2)}
	for _, m := range rows {
		s.byExact[m.ModelID] = append(s.byExact[m.ModelID], m)
		if m.ProviderModelID != "" && m.ProviderModelID != m.ModelID {
			s.byExact[m.ProviderModelID] = append(s.byExact[m.ProviderModelID], m)
		}
		if m.Active {
			s.active = append(s.active, m)
		}
	}
	return s
}

// Registry is the Model Registry: a read-mostly, atomically-swapped
// snapshot of every (model_id, provider) row, reloaded from gorm storage
// each time Refresh is called. The Registry runs no refresh timer of its
// own; cmd/gateway calls Refresh once at startup and not periodically after
// that. Concurrent LookupExact/ListActive calls never block a
// concurrent Refresh, and never block each other.
type Registry struct {
	db     *gorm.DB
	logger *zap.Logger
	snap   atomic.Pointer[snapshot]
	group  singleflight.Group
}

// NewRegistry builds a Registry backed by db. Callers must call Refresh
// once before first use; an empty snapshot is installed in the meantime so
// LookupExact/ListActive never see a nil pointer.
func NewRegistry(db *gorm.DB, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Registry{db: db, logger: logger.With(zap.String("component", "model_registry"))}
	r.snap.Store(newSnapshot(nil))
	return r
}

// LookupExact returns every row whose model_id or provider_model_id equals
// requestedID, per spec.md §4.A.
func (r *Registry) LookupExact(requestedID string) []types.GatewayModel {
	s := r.snap.Load()
	rows := s.byExact[requestedID]
	out := make([]types.GatewayModel, len(rows))
	copy(out, rows)
	return out
}

// ListActive returns a snapshot copy of every active row.
func (r *Registry) ListActive() []types.GatewayModel {
	s := r.snap.Load()
	out := make([]types.GatewayModel, len(s.active))
	copy(out, s.active)
	return out
}

// Refresh reloads the full row set from storage and atomically installs a
// new snapshot. Idempotent: concurrent callers collapse into one storage
// round trip via singleflight, and a storage failure leaves the prior
// snapshot installed and returns the error.
func (r *Registry) Refresh(ctx context.Context) error {
	_, err, _ := r.group.Do("refresh", func() (interface{}, error) {
		var rows []types.GatewayModel
		if err := r.db.WithContext(ctx).Find(&rows).Error; err != nil {
			return nil, fmt.Errorf("model registry refresh: %w", err)
		}
		r.snap.Store(newSnapshot(rows))
		r.logger.Info("model registry refreshed", zap.Int("rows", len(rows)))
		return nil, nil
	})
	if err != nil {
		r.logger.Warn("model registry refresh failed, keeping prior snapshot", zap.Error(err))
	}
	return err
}

// Len reports the number of distinct lookup keys (model_id and
// provider_model_id values) in the current snapshot, active rows or not;
// rows that share a key count once.
func (r *Registry) Len() int {
	return len(r.snap.Load().byExact)
}

// InitDatabase auto-migrates every gorm-backed table the gateway owns: the
// model registry itself, the provider credential pool, and the metrics
// sample log. Safe to call on every startup; gorm's AutoMigrate only adds
// missing tables/columns.
func InitDatabase(db *gorm.DB) error {
	return db.AutoMigrate(
		&types.GatewayModel{},
		&types.MetricsSample{},
		&types.WalletTransaction{},
		&types.WalletBalance{},
		&types.CallerAPIKey{},
		&LLMProvider{},
		&LLMProviderAPIKey{},
	)
}
