package repo

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/CanSsever/qoder-deneme-sub000/internal/domain"
	"github.com/CanSsever/qoder-deneme-sub000/internal/infra"
	"github.com/CanSsever/qoder-deneme-sub000/internal/sqlinline"
)

// DeliveryRepositoryPG records webhook delivery outcomes.
type DeliveryRepositoryPG struct {
	sql infra.SQLExecutor
}

func NewDeliveryRepository(sql infra.SQLExecutor) *DeliveryRepositoryPG {
	return &DeliveryRepositoryPG{sql: sql}
}

func (r *DeliveryRepositoryPG) RecordDelivery(ctx context.Context, d domain.WebhookDelivery) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	_, err := r.sql.Exec(ctx, sqlinline.QInsertWebhookDelivery,
		d.ID,
		d.JobID,
		d.Event,
		d.TargetURL,
		string(d.Outcome),
		d.Attempts,
		d.StatusCode,
		d.LastError,
		d.CreatedAt,
	)
	return err
}
