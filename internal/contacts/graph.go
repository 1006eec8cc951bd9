// Package contacts resolves the notification audience for a user: everyone
// connected to them by a contact edge in either direction.
package contacts

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/veilchat/presence/internal/storage"
)

// Cache is the short-TTL contact cache, implemented by the presence store.
// It exists purely to avoid a relational query on every broadcast.
type Cache interface {
	CacheContacts(ctx context.Context, userID string, contactIDs []string) error
	CachedContacts(ctx context.Context, userID string) ([]string, bool, error)
}

// Graph is a two-tier cached lookup over the persisted contact relation:
// cache hit wins, a miss falls through to the backing store and refills the
// cache.
type Graph struct {
	store  storage.Store
	cache  Cache
	logger *zap.Logger
}

func NewGraph(store storage.Store, cache Cache, logger *zap.Logger) *Graph {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Graph{store: store, cache: cache, logger: logger.Named("contacts")}
}

// Resolve returns the contact IDs of a user, consulting the cache first.
// Cache failures degrade to the backing store; they never fail the lookup.
func (g *Graph) Resolve(ctx context.Context, userID string) ([]string, error) {
	if g.cache != nil {
		ids, hit, err := g.cache.CachedContacts(ctx, userID)
		if err != nil {
			g.logger.Warn("contact cache read failed", zap.String("user_id", userID), zap.Error(err))
		} else if hit {
			return ids, nil
		}
	}

	ids, err := g.store.ContactsOf(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("resolve contacts: %w", err)
	}

	if g.cache != nil {
		if err := g.cache.CacheContacts(ctx, userID, ids); err != nil {
			g.logger.Warn("contact cache refill failed", zap.String("user_id", userID), zap.Error(err))
		}
	}
	return ids, nil
}

// Add persists a contact edge and refreshes the cached lists on both sides,
// since the audience of each user changed.
func (g *Graph) Add(ctx context.Context, ownerID, contactID string) error {
	if err := g.store.AddContact(ctx, ownerID, contactID); err != nil {
		return err
	}
	g.refresh(ctx, ownerID)
	g.refresh(ctx, contactID)
	return nil
}

// Remove deletes a contact edge and refreshes both cached lists.
func (g *Graph) Remove(ctx context.Context, ownerID, contactID string) error {
	if err := g.store.RemoveContact(ctx, ownerID, contactID); err != nil {
		return err
	}
	g.refresh(ctx, ownerID)
	g.refresh(ctx, contactID)
	return nil
}

func (g *Graph) refresh(ctx context.Context, userID string) {
	if g.cache == nil {
		return
	}
	ids, err := g.store.ContactsOf(ctx, userID)
	if err != nil {
		g.logger.Warn("contact cache refresh failed", zap.String("user_id", userID), zap.Error(err))
		return
	}
	if err := g.cache.CacheContacts(ctx, userID, ids); err != nil {
		g.logger.Warn("contact cache write failed", zap.String("user_id", userID), zap.Error(err))
	}
}
