package repo

import (
	"github.com/CanSsever/qoder-deneme-sub000/internal/domain"
	"github.com/CanSsever/qoder-deneme-sub000/internal/infra"
)

// Store groups the Postgres repositories behind domain.Store.
type Store struct {
	*JobRepositoryPG
	*ArtifactRepositoryPG
	*DeliveryRepositoryPG
}

// NewStore wires every repository onto the same executor.
func NewStore(sql infra.SQLExecutor) *Store {
	return &Store{
		JobRepositoryPG:      NewJobRepository(sql),
		ArtifactRepositoryPG: NewArtifactRepository(sql),
		DeliveryRepositoryPG: NewDeliveryRepository(sql),
	}
}

var (
	_ domain.Store      = (*Store)(nil)
	_ domain.JobCreator = (*Store)(nil)
)
