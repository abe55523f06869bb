package formloader

import (
	"context"
	"fmt"
	"time"

	"github.com/rpattn/formkeep/internal/domain"
	"github.com/rpattn/formkeep/internal/repository"

	"github.com/graph-gophers/dataloader"
)

// FormLoader batches document reads issued while rendering one listing.
type FormLoader struct {
	Loader *dataloader.Loader
}

func NewFormLoader(store repository.FormStore) *FormLoader {
	batchFn := func(ctx context.Context, keys dataloader.Keys) []*dataloader.Result {
		formKeys := keys.Keys()

		docs, err := store.ReadMany(ctx, formKeys)
		if err != nil {
			results := make([]*dataloader.Result, len(keys))
			for i := range results {
				results[i] = &dataloader.Result{Error: err}
			}
			return results
		}

		// Build results in the same order as keys; missing documents resolve to nil
		results := make([]*dataloader.Result, len(keys))
		for i, key := range formKeys {
			if doc, ok := docs[key]; ok {
				d := doc
				results[i] = &dataloader.Result{Data: &d}
			} else {
				results[i] = &dataloader.Result{Data: (*domain.StoredDocument)(nil)}
			}
		}
		return results
	}

	loader := dataloader.NewBatchedLoader(batchFn, dataloader.WithWait(5*time.Millisecond))

	return &FormLoader{Loader: loader}
}

// Load returns the document stored under key, or nil when it does not exist.
func (l *FormLoader) Load(ctx context.Context, key string) (*domain.StoredDocument, error) {
	value, err := l.Loader.Load(ctx, dataloader.StringKey(key))()
	if err != nil {
		return nil, err
	}
	return asDocument(value)
}

// LoadMany resolves keys in one batch. The result is aligned with keys.
func (l *FormLoader) LoadMany(ctx context.Context, keys []string) ([]*domain.StoredDocument, error) {
	values, errs := l.Loader.LoadMany(ctx, dataloader.NewKeysFromStrings(keys))()
	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	docs := make([]*domain.StoredDocument, len(values))
	for i, value := range values {
		doc, err := asDocument(value)
		if err != nil {
			return nil, err
		}
		docs[i] = doc
	}
	return docs, nil
}

func asDocument(value interface{}) (*domain.StoredDocument, error) {
	if value == nil {
		return nil, nil
	}
	doc, ok := value.(*domain.StoredDocument)
	if !ok {
		return nil, fmt.Errorf("unexpected loader value %T", value)
	}
	return doc, nil
}
