package repository

import (
	"context"

	"crosspost/domain/model"
)

type ICredential interface {
	Get(ctx context.Context, ownerID, platform string) (*model.Credential, error)
	Upsert(ctx context.Context, cred *model.Credential) error
	ListPlatforms(ctx context.Context, ownerID string) ([]string, error)
}
