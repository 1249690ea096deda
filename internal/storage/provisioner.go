package storage

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Provisioner makes sure the bronze namespace and its tables exist before
// any load runs. Ensure is idempotent; a failure is fatal to the run.
type Provisioner struct {
	repo      Repository
	namespace string
	tables    []TableSpec
	logger    *zap.Logger
}

// NewProvisioner returns a Provisioner for the fixed bronze tables.
// An empty namespace selects DefaultNamespace; a nil logger disables logging.
func NewProvisioner(repo Repository, namespace string, logger *zap.Logger) *Provisioner {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provisioner{
		repo:      repo,
		namespace: namespace,
		tables:    BronzeTables(),
		logger:    logger,
	}
}

// Ensure creates the namespace and every table that does not exist yet.
func (p *Provisioner) Ensure(ctx context.Context) error {
	if p.repo == nil {
		return fmt.Errorf("storage: provision: repository is nil")
	}
	if err := p.repo.EnsureSchema(ctx, p.namespace, p.tables); err != nil {
		p.logger.Error("schema provisioning failed", zap.String("namespace", p.namespace), zap.Error(err))
		return fmt.Errorf("storage: provision %s: %w", p.namespace, err)
	}
	p.logger.Info("schema ready", zap.String("namespace", p.namespace), zap.Int("tables", len(p.tables)))
	return nil
}
