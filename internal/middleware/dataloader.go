package middleware

import (
	"context"
	"net/http"

	"github.com/rpattn/formkeep/internal/formloader"
	"github.com/rpattn/formkeep/internal/repository"
)

type ctxKey string

const formLoaderKey ctxKey = "formLoader"

// DataLoaderMiddleware attaches a request-scoped form loader to the request context
func DataLoaderMiddleware(store repository.FormStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			loader := formloader.NewFormLoader(store)
			ctx := WithFormLoader(r.Context(), loader)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func WithFormLoader(ctx context.Context, loader *formloader.FormLoader) context.Context {
	return context.WithValue(ctx, formLoaderKey, loader)
}

// FormLoaderFromContext retrieves the form loader from context
func FormLoaderFromContext(ctx context.Context) *formloader.FormLoader {
	if l, ok := ctx.Value(formLoaderKey).(*formloader.FormLoader); ok {
		return l
	}
	return nil
}
