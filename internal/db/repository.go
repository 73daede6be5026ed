package db

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"gorm.io/gorm"

	"github.com/trakbridge/trakbridge/internal/cotservice"
	"github.com/trakbridge/trakbridge/internal/models"
	"github.com/trakbridge/trakbridge/internal/streamworker"
	"github.com/trakbridge/trakbridge/internal/takcert"
)

// Repository is the single persistence seam streammanager and streamworker
// depend on through their own narrow interfaces (StreamStore,
// SnapshotLoader, Bookkeeper, callsign.Loader). It owns struct-tag
// validation via go-playground/validator/v10, matching the tags already
// present on internal/models.
type Repository struct {
	db       *gorm.DB
	codec    Codec
	validate *validator.Validate
}

// New constructs a Repository. codec may be nil to use NoopCodec.
func New(gdb *gorm.DB, codec Codec) *Repository {
	if codec == nil {
		codec = NoopCodec{}
	}
	return &Repository{db: gdb, codec: codec, validate: validator.New()}
}

// Load implements streammanager.StreamStore.
func (r *Repository) Load(ctx context.Context, streamID uint64) (*models.Stream, error) {
	var s models.Stream
	if err := r.db.WithContext(ctx).First(&s, streamID).Error; err != nil {
		return nil, fmt.Errorf("db: load stream %d: %w", streamID, err)
	}
	ids, err := r.serverIDs(ctx, streamID)
	if err != nil {
		return nil, err
	}
	s.TAKServerIDs = ids
	return &s, nil
}

// Save implements streammanager.StreamStore. It bumps ConfigVersion and
// performs an optimistic-locking update guarded by the previous
// ConfigVersion, so a concurrent writer's update is rejected by the
// WHERE clause matching zero rows rather than silently overwritten
// (spec.md §9 "Optimistic locking across databases").
func (r *Repository) Save(ctx context.Context, stream *models.Stream) error {
	if errs := r.validate.Struct(stream); errs != nil {
		return fmt.Errorf("db: validate stream: %w", errs)
	}

	prevVersion := stream.ConfigVersion
	stream.ConfigVersion = time.Now().UnixNano()
	stream.UpdatedAt = time.Now().UTC()

	res := r.db.WithContext(ctx).
		Model(&models.Stream{}).
		Where("id = ? AND config_version = ?", stream.ID, prevVersion).
		Updates(stream)
	if res.Error != nil {
		return fmt.Errorf("db: save stream %d: %w", stream.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("db: save stream %d: %w", stream.ID, errConcurrencyConflict)
	}
	return nil
}

var errConcurrencyConflict = fmt.Errorf("database is locked: config_version changed since load")

func (r *Repository) serverIDs(ctx context.Context, streamID uint64) ([]uint64, error) {
	var rows []streamTAKServer
	if err := r.db.WithContext(ctx).Where("stream_id = ?", streamID).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("db: load tak_server_ids for stream %d: %w", streamID, err)
	}
	ids := make([]uint64, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.TAKServerID)
	}
	return ids, nil
}

// LoadSnapshot implements streamworker.SnapshotLoader: loads the Stream row,
// its TAK server destinations (building any missing TLS bundle), and its
// decrypted plugin config (spec.md §4.7 step 1 "Config snapshot").
func (r *Repository) LoadSnapshot(streamID uint64) (*streamworker.Snapshot, error) {
	ctx := context.Background()

	stream, err := r.Load(ctx, streamID)
	if err != nil {
		return nil, err
	}

	plaintext, err := r.codec.Decrypt(stream.PluginConfig)
	if err != nil {
		return nil, fmt.Errorf("db: decrypt plugin config for stream %d: %w", streamID, err)
	}
	cfg, err := decodePluginConfig(plaintext)
	if err != nil {
		return nil, fmt.Errorf("db: decode plugin config for stream %d: %w", streamID, err)
	}

	dests := make([]cotservice.Destination, 0, len(stream.TAKServerIDs))
	for _, id := range stream.TAKServerIDs {
		var server models.TAKServer
		if err := r.db.WithContext(ctx).First(&server, id).Error; err != nil {
			return nil, fmt.Errorf("db: load tak_server %d: %w", id, err)
		}

		dest := cotservice.Destination{ServerID: server.ID, Server: &server}
		if server.Protocol == models.ProtocolTLS && len(server.ClientCertBundle) > 0 {
			password := ""
			if server.ClientCertPassword != nil {
				password = *server.ClientCertPassword
			}
			bundle, err := takcert.LoadClientBundle(server.ClientCertBundle, password)
			if err != nil {
				return nil, fmt.Errorf("db: load client cert bundle for tak_server %d: %w", id, err)
			}
			dest.Bundle = bundle
		}
		dests = append(dests, dest)
	}

	return &streamworker.Snapshot{Stream: stream, PluginConfig: cfg, Destinations: dests}, nil
}

// RecordIteration implements streamworker.Bookkeeper (spec.md §4.7 step 7).
func (r *Repository) RecordIteration(streamID uint64, sent int, fetchErr error) {
	ctx := context.Background()
	updates := map[string]interface{}{"last_poll": time.Now().UTC()}
	if sent > 0 {
		updates["total_messages_sent"] = gorm.Expr("total_messages_sent + ?", sent)
		updates["last_error"] = nil
	} else if fetchErr != nil {
		msg := fetchErr.Error()
		updates["last_error"] = &msg
	}
	r.db.WithContext(ctx).Model(&models.Stream{}).Where("id = ?", streamID).Updates(updates)
}

// LoadCallsignMappings implements callsign.Loader.
func (r *Repository) LoadCallsignMappings(streamID uint64) ([]models.CallsignMapping, error) {
	var rows []models.CallsignMapping
	if err := r.db.Where("stream_id = ?", streamID).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("db: load callsign mappings for stream %d: %w", streamID, err)
	}
	return rows, nil
}

// SaveCallsignMapping upserts one mapping row, validating struct tags first.
func (r *Repository) SaveCallsignMapping(ctx context.Context, m *models.CallsignMapping) error {
	if err := r.validate.Struct(m); err != nil {
		return fmt.Errorf("db: validate callsign mapping: %w", err)
	}
	return r.db.WithContext(ctx).Save(m).Error
}

// CreateStream inserts a new Stream and its TAK server associations.
func (r *Repository) CreateStream(ctx context.Context, stream *models.Stream) error {
	if err := r.validate.Struct(stream); err != nil {
		return fmt.Errorf("db: validate stream: %w", err)
	}
	stream.ConfigVersion = time.Now().UnixNano()

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(stream).Error; err != nil {
			return err
		}
		for _, id := range stream.TAKServerIDs {
			if err := tx.Create(&streamTAKServer{StreamID: stream.ID, TAKServerID: id, CreatedAt: time.Now().UTC()}).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// ListActiveStreamIDs returns every stream with is_active=true, used on
// daemon startup to decide which workers the Stream Manager should start.
func (r *Repository) ListActiveStreamIDs(ctx context.Context) ([]uint64, error) {
	var ids []uint64
	err := r.db.WithContext(ctx).Model(&models.Stream{}).Where("is_active = ?", true).Pluck("id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("db: list active streams: %w", err)
	}
	return ids, nil
}
