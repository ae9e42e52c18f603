package service

import (
	"context"

	"github.com/phitk/render/internal/client"
	"github.com/phitk/render/internal/model"
)

// StoragePublisher uploads finished renders to a RenderStore.
type StoragePublisher struct {
	store client.RenderStore
}

func NewStoragePublisher(store client.RenderStore) *StoragePublisher {
	return &StoragePublisher{store: store}
}

// Publish uploads the job's output file and returns a URL for it.
func (p *StoragePublisher) Publish(ctx context.Context, job *model.Job) (string, error) {
	key, err := p.store.Put(ctx, job.ID, job.Output)
	if err != nil {
		return "", err
	}
	return p.store.Link(ctx, key)
}

// Unpublish removes the uploaded output.
func (p *StoragePublisher) Unpublish(ctx context.Context, job *model.Job) error {
	return p.store.Remove(ctx, client.RenderKey(job.ID, job.Output))
}
