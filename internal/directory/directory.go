// Package directory resolves user ids to profiles with a local cache.
package directory

import (
	"context"
	"fmt"
	"time"

	"github.com/knotmsg/knot/internal/bus"
	"github.com/knotmsg/knot/internal/store"
	"github.com/knotmsg/knot/internal/wire"
	"go.uber.org/zap"
)

// Service is the remote user directory.
type Service interface {
	GetUserInfo(ctx context.Context, userID string) (*wire.UserInfo, error)
	GetAllUsers(ctx context.Context) ([]wire.UserInfo, error)
}

// Result is a two-stage lookup result. Stale marks a value served from the
// cache while a background refresh runs; the refreshed profile arrives as a
// "directory.refreshed" bus event. A fresh value is final.
type Result struct {
	User  store.User
	Stale bool
}

// Directory caches profiles in the local store.
type Directory struct {
	db     *store.DB
	svc    Service
	bus    *bus.Bus
	logger *zap.Logger
}

// New creates a directory client.
func New(db *store.DB, svc Service, b *bus.Bus, logger *zap.Logger) *Directory {
	return &Directory{db: db, svc: svc, bus: b, logger: logger}
}

// Lookup resolves a user id. A cached profile is returned immediately with
// Stale set and a refresh is issued in the background; a miss goes to the
// directory service synchronously.
func (d *Directory) Lookup(ctx context.Context, userID string) (Result, error) {
	cached, err := d.db.GetUser(userID)
	if err != nil {
		return Result{}, fmt.Errorf("read cached user: %w", err)
	}
	if cached != nil {
		go d.refresh(context.WithoutCancel(ctx), userID)
		return Result{User: *cached, Stale: true}, nil
	}

	u, err := d.fetch(ctx, userID)
	if err != nil {
		return Result{}, err
	}
	return Result{User: *u, Stale: false}, nil
}

// ListAll fetches the full directory (for "start new chat") and refreshes
// the cache in bulk.
func (d *Directory) ListAll(ctx context.Context) ([]store.User, error) {
	infos, err := d.svc.GetAllUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list directory: %w", err)
	}
	users := make([]store.User, 0, len(infos))
	for _, info := range infos {
		users = append(users, userFromWire(&info))
	}
	if err := d.db.BulkUpsertUsers(users); err != nil {
		return nil, fmt.Errorf("cache directory: %w", err)
	}
	return users, nil
}

// fetch pulls a profile from the service and caches it.
func (d *Directory) fetch(ctx context.Context, userID string) (*store.User, error) {
	info, err := d.svc.GetUserInfo(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("fetch user %s: %w", userID, err)
	}
	u := userFromWire(info)
	if err := d.db.UpsertUser(&u); err != nil {
		return nil, fmt.Errorf("cache user %s: %w", userID, err)
	}
	return &u, nil
}

func (d *Directory) refresh(ctx context.Context, userID string) {
	u, err := d.fetch(ctx, userID)
	if err != nil {
		d.logger.Warn("profile refresh failed", zap.String("user_id", userID), zap.Error(err))
		return
	}
	d.bus.Publish(bus.Event{
		Kind:      "directory.refreshed",
		Timestamp: time.Now(),
		Payload:   *u,
	})
}

func userFromWire(info *wire.UserInfo) store.User {
	return store.User{
		ID:        info.UserID,
		Phone:     info.Phone,
		Name:      info.Name,
		Bio:       info.Bio,
		Exists:    info.Exists,
		AvatarURL: info.AvatarURL,
	}
}
