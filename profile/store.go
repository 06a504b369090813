// Package profile stores user profile documents and applies single-path
// writes to them.
package profile

import (
	"context"
	"errors"

	"github.com/bytedance/sonic"

	"github.com/tbxark/jobfill/types"
)

var ErrNotFound = errors.New("profile not found")

// Store reads and writes the profile of the user carried by the context.
// Each Write is atomic for its path; no lock is held between calls.
type Store interface {
	Load(ctx context.Context) (types.ProfileNode, error)
	Write(ctx context.Context, path string, value any) error
}

// Importer replaces a whole profile document.
type Importer interface {
	Put(ctx context.Context, userID string, doc types.ProfileNode) error
}

type userIDContext struct{}

const DefaultUserID = "default"

// WithUserID routes profile calls made with ctx to userID.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDContext{}, userID)
}

func UserIDFromContext(ctx context.Context) (string, bool) {
	value := ctx.Value(userIDContext{})
	if value == nil {
		return "", false
	}
	id, ok := value.(string)
	return id, ok
}

func userIDOrDefault(ctx context.Context) string {
	id, ok := UserIDFromContext(ctx)
	if ok && id != "" {
		return id
	}
	return DefaultUserID
}

func clone(doc types.ProfileNode) (types.ProfileNode, error) {
	raw, err := sonic.Marshal(doc)
	if err != nil {
		return nil, err
	}
	var out types.ProfileNode
	if err := sonic.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = types.ProfileNode{}
	}
	return out, nil
}
