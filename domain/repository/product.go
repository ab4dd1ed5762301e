package repository

import (
	"context"

	"crosspost/domain/model"
)

// IProduct reads catalog items. Catalog writes are owned by another service.
type IProduct interface {
	Get(ctx context.Context, id string) (*model.Product, error)
}
