package syncer

import (
	"context"
	"errors"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/relationships"
	"github.com/Ramsey-B/fern/pkg/schema"
	"github.com/Ramsey-B/fern/pkg/store"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// cycle is the working state of one sync cycle. It is only touched from the store's exclusive context.
type cycle struct {
	registry *schema.Registry
	store    store.Store
	mapper   *schema.Mapper
	durable  *relationships.Store
	logger   ectologger.Logger

	locales  []string
	fallback string

	pending *models.Pending
	touched map[string]struct{}
	order   []string
	changes *Changes
	outcome *Outcome
}

func (c *cycle) touch(id string) {
	if _, ok := c.touched[id]; ok {
		return
	}
	c.touched[id] = struct{}{}
	c.order = append(c.order, id)
}

func (c *cycle) applyPage(ctx context.Context, page *models.SyncPage) error {
	ctx, span := tracing.StartSpan(ctx, "syncer.cycle.applyPage")
	defer span.End()

	c.outcome.Pages++
	metrics.SyncPagesTotal.Inc()

	if asset, ok := c.registry.Asset(); ok {
		mapping := c.mapper.MappingFor(asset)
		for _, record := range page.Assets {
			if err := ctx.Err(); err != nil {
				return err
			}
			c.applyRecord(ctx, asset, mapping, record)
		}
	} else if len(page.Assets) > 0 {
		c.outcome.Skipped += len(page.Assets)
		metrics.RecordsAppliedTotal.WithLabelValues(string(models.KindAsset), "skipped").Add(float64(len(page.Assets)))
	}

	for _, record := range page.Entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		desc, ok := c.registry.ByContentType(record.ContentTypeID)
		if !ok {
			c.outcome.Skipped++
			metrics.RecordsAppliedTotal.WithLabelValues(string(models.KindEntry), "skipped").Inc()
			c.logger.WithContext(ctx).WithFields(map[string]any{
				"id":              record.ID,
				"content_type_id": record.ContentTypeID,
			}).Debug("Skipping entry of unregistered content type")
			continue
		}
		c.applyRecord(ctx, desc, c.mapper.MappingFor(desc), record)
	}

	for _, id := range page.DeletedAssets {
		c.deleteAsset(ctx, id)
	}
	for _, id := range page.DeletedEntries {
		c.deleteEntry(ctx, id)
	}
	return nil
}

func (c *cycle) applyRecord(ctx context.Context, desc *schema.TypeDescriptor, mapping schema.FieldMapping, record models.RemoteRecord) {
	for _, locale := range c.locales {
		log := c.logger.WithContext(ctx).WithFields(map[string]any{
			"type":   desc.Name,
			"id":     record.ID,
			"locale": locale,
		})

		row, err := c.upsert(ctx, desc.Name, record.ID, locale)
		if err != nil {
			log.WithError(err).Error("Failed to load or create local row, skipping")
			c.outcome.Failed++
			metrics.RecordsAppliedTotal.WithLabelValues(string(desc.Kind), "failed").Inc()
			continue
		}

		sys := row.System()
		sys.ID = record.ID
		sys.LocaleCode = locale
		sys.ContentTypeID = record.ContentTypeID
		sys.CreatedAt = record.CreatedAt
		sys.UpdatedAt = record.UpdatedAt

		for remote, local := range mapping.Plain {
			setter, ok := desc.Fields[local]
			if !ok {
				continue
			}
			value, _ := record.Value(remote, locale, c.fallback)
			if err := setter(row, value); err != nil {
				log.WithError(err).WithField("field", local).Warn("Failed to set field")
			}
		}

		for remote, local := range mapping.Relationships {
			value, present := record.Value(remote, locale, c.fallback)
			raw := rawRelationship(value, present)
			if raw.Kind == models.RawMissing {
				log.WithField("field", local).Warnf("Ignoring relationship value of type %T", value)
				continue
			}
			c.pending.Set(desc.Name, record.ID, locale, local, raw)
		}

		c.outcome.Applied++
		metrics.RecordsAppliedTotal.WithLabelValues(string(desc.Kind), "applied").Inc()
		c.changes.Upserted = append(c.changes.Upserted, RecordRef{
			Kind:          desc.Kind,
			Type:          desc.Name,
			ID:            record.ID,
			LocaleCode:    locale,
			ContentTypeID: record.ContentTypeID,
		})
	}
	c.touch(record.ID)
}

func (c *cycle) upsert(ctx context.Context, typeName, id, locale string) (models.Entity, error) {
	row, err := c.store.FetchOne(ctx, typeName, store.ByKey(id, locale))
	if err == nil {
		return row, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	return c.store.Create(ctx, typeName)
}

func (c *cycle) deleteAsset(ctx context.Context, id string) {
	asset, ok := c.registry.Asset()
	if !ok {
		return
	}
	n, err := c.store.Delete(ctx, asset.Name, store.ByID(id))
	if err != nil {
		c.logger.WithContext(ctx).WithError(err).WithField("id", id).Error("Failed to delete asset, skipping")
		c.outcome.Failed++
		return
	}
	c.durable.Delete(id)
	c.outcome.Deleted += n
	c.changes.Deleted = append(c.changes.Deleted, RecordRef{Kind: models.KindAsset, Type: asset.Name, ID: id})
}

// deleteEntry removes the id from every entry type: delete notifications carry no content type.
func (c *cycle) deleteEntry(ctx context.Context, id string) {
	var hits []string
	for _, desc := range c.registry.EntryTypes() {
		n, err := c.store.Delete(ctx, desc.Name, store.ByID(id))
		if err != nil {
			c.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"id": id, "type": desc.Name}).Error("Failed to delete entry, skipping")
			c.outcome.Failed++
			continue
		}
		if n == 0 {
			continue
		}
		hits = append(hits, desc.Name)
		c.outcome.Deleted += n
		c.changes.Deleted = append(c.changes.Deleted, RecordRef{Kind: models.KindEntry, Type: desc.Name, ID: id})
	}
	if len(hits) > 1 {
		c.logger.WithContext(ctx).WithFields(map[string]any{"id": id, "types": hits}).Warn("Deleted entry id matched rows in more than one entry type")
	}
	c.durable.Delete(id)
}

// rawRelationship converts a decoded remote value into a pending relationship value.
// Null, an empty list and an absent field all clear the property.
func rawRelationship(value any, present bool) models.RawRelationship {
	if !present || value == nil {
		return models.RawClearMarker()
	}

	switch v := value.(type) {
	case models.Link:
		return models.RawOneOf(v.ID)
	case *models.Link:
		return models.RawOneOf(v.ID)
	case string:
		return models.RawOneOf(v)
	case map[string]any:
		if id, ok := linkID(v); ok {
			return models.RawOneOf(id)
		}
	case []models.Link:
		if len(v) == 0 {
			return models.RawClearMarker()
		}
		ids := make([]string, 0, len(v))
		for _, link := range v {
			ids = append(ids, link.ID)
		}
		return models.RawManyOf(ids...)
	case []string:
		if len(v) == 0 {
			return models.RawClearMarker()
		}
		return models.RawManyOf(v...)
	case []any:
		if len(v) == 0 {
			return models.RawClearMarker()
		}
		ids := make([]string, 0, len(v))
		for _, item := range v {
			switch item := item.(type) {
			case models.Link:
				ids = append(ids, item.ID)
			case string:
				ids = append(ids, item)
			case map[string]any:
				if id, ok := linkID(item); ok {
					ids = append(ids, id)
				}
			}
		}
		return models.RawManyOf(ids...)
	}
	return models.RawRelationship{Kind: models.RawMissing}
}

// linkID reads {"sys": {"id": ...}} link objects that were not decoded into models.Link.
func linkID(value map[string]any) (string, bool) {
	sys, ok := value["sys"].(map[string]any)
	if !ok {
		return "", false
	}
	id, ok := sys["id"].(string)
	return id, ok && id != ""
}
