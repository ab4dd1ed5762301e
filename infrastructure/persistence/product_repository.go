package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"crosspost/domain/model"
	"crosspost/domain/repository"

	"github.com/shopspring/decimal"
)

// ProductRepository reads the products table kept alongside the status store
// when no MongoDB catalog is configured.
type ProductRepository struct {
	db      *sql.DB
	dialect Dialect
}

func NewProductRepository(db *sql.DB, dialect Dialect) repository.IProduct {
	return &ProductRepository{db: db, dialect: dialect}
}

func (r *ProductRepository) Get(ctx context.Context, id string) (*model.Product, error) {
	row := r.db.QueryRowContext(ctx, rebind(r.dialect, `SELECT id, owner_id, title, description, price, condition, size, brand, color,
		category, sub_category, images, measurements, material, care_instructions, created_at, updated_at
		FROM products WHERE id = $1`), id)

	p := &model.Product{}
	var price, images, measurements string
	err := row.Scan(&p.ID, &p.OwnerID, &p.Title, &p.Description, &price, &p.Condition, &p.Size, &p.Brand, &p.Color,
		&p.Category, &p.SubCategory, &images, &measurements, &p.Material, &p.CareInstructions, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if p.Price, err = decimal.NewFromString(price); err != nil {
		return nil, fmt.Errorf("product %s price %q: %w", id, price, err)
	}
	if err := json.Unmarshal([]byte(images), &p.Images); err != nil {
		return nil, fmt.Errorf("product %s images: %w", id, err)
	}
	if err := json.Unmarshal([]byte(measurements), &p.Measurements); err != nil {
		return nil, fmt.Errorf("product %s measurements: %w", id, err)
	}
	return p, nil
}
