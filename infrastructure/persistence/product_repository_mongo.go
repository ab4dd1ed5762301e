package persistence

import (
	"context"
	"errors"
	"time"

	"crosspost/domain/model"
	"crosspost/domain/repository"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
)

type productDocument struct {
	ID               string            `bson:"_id"`
	OwnerID          string            `bson:"ownerId"`
	Title            string            `bson:"title"`
	Description      string            `bson:"description"`
	Price            float64           `bson:"price"`
	Condition        string            `bson:"condition"`
	Size             string            `bson:"size"`
	Brand            string            `bson:"brand"`
	Color            string            `bson:"color"`
	Category         string            `bson:"category"`
	SubCategory      string            `bson:"subCategory"`
	Images           []string          `bson:"images"`
	Measurements     map[string]string `bson:"measurements,omitempty"`
	Material         string            `bson:"material,omitempty"`
	CareInstructions string            `bson:"careInstructions,omitempty"`
	CreatedAt        time.Time         `bson:"createdAt"`
	UpdatedAt        time.Time         `bson:"updatedAt"`
}

func (d productDocument) toModel() *model.Product {
	return &model.Product{
		ID:               d.ID,
		OwnerID:          d.OwnerID,
		Title:            d.Title,
		Description:      d.Description,
		Price:            decimal.NewFromFloat(d.Price).Round(2),
		Condition:        d.Condition,
		Size:             d.Size,
		Brand:            d.Brand,
		Color:            d.Color,
		Category:         d.Category,
		SubCategory:      d.SubCategory,
		Images:           d.Images,
		Measurements:     d.Measurements,
		Material:         d.Material,
		CareInstructions: d.CareInstructions,
		CreatedAt:        d.CreatedAt,
		UpdatedAt:        d.UpdatedAt,
	}
}

// ProductRepositoryMongo reads products from the catalog's "products" collection.
type ProductRepositoryMongo struct {
	collection *mongo.Collection
}

func NewProductRepositoryMongo(client *mongo.Client, database string) repository.IProduct {
	return &ProductRepositoryMongo{collection: client.Database(database).Collection("products")}
}

func (r *ProductRepositoryMongo) Get(ctx context.Context, id string) (*model.Product, error) {
	var doc productDocument
	err := r.collection.FindOne(ctx, bson.D{{Key: "_id", Value: id}}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return doc.toModel(), nil
}
