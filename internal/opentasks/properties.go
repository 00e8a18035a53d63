package opentasks

import (
	"context"
	"fmt"
	"strings"

	"github.com/steveyegge/taskbridge/internal/codec"
	"github.com/steveyegge/taskbridge/internal/provider"
)

var (
	categorySelection = provider.PropertyTaskID + " = ? AND " + provider.PropertyMimetype + " = ?"
	orderSelection    = provider.PropertyTaskID + " = ? AND " + provider.PropertyMimetype + " = ? AND " +
		provider.UnknownPropertyData + " LIKE ?"
)

// GetTags returns the category labels of a task. An unresolved task has no tags.
func (a *Adapter) GetTags(ctx context.Context, ref ItemRef) ([]string, error) {
	id, err := a.resolveRef(ctx, ref, "tag read")
	if err != nil || !id.OK {
		return nil, err
	}
	return a.tagsOf(ctx, id.ID)
}

func (a *Adapter) tagsOf(ctx context.Context, taskID int64) ([]string, error) {
	rows, err := a.store.Query(ctx, a.properties, []string{provider.CategoryName},
		categorySelection, taskID, provider.MimeCategory)
	if err != nil {
		return nil, unavailable(fmt.Sprintf("read tags of task %d", taskID), err)
	}
	tags := make([]string, 0, len(rows))
	for _, row := range rows {
		if name := row.String(provider.CategoryName); name != nil {
			tags = append(tags, *name)
		}
	}
	return tags, nil
}

// SetTags replaces the category labels of a task with tags. Duplicates are
// written once.
//
// Existing categories are deleted before the new ones are inserted, in
// separate writes. A category added by another writer between GetTags and
// SetTags is lost.
func (a *Adapter) SetTags(ctx context.Context, ref ItemRef, tags []string) error {
	id, err := a.resolveRef(ctx, ref, "tag write")
	if err != nil || !id.OK {
		return err
	}
	if _, err := a.store.Delete(ctx, a.properties, categorySelection, id.ID, provider.MimeCategory); err != nil {
		return unavailable(fmt.Sprintf("clear tags of task %d", id.ID), err)
	}

	seen := make(map[string]bool, len(tags))
	for _, tag := range tags {
		if seen[tag] {
			continue
		}
		seen[tag] = true
		if _, err := a.store.Insert(ctx, a.properties, provider.Values{
			provider.PropertyMimetype: provider.MimeCategory,
			provider.PropertyTaskID:   id.ID,
			provider.CategoryName:     tag,
		}); err != nil {
			return unavailable(fmt.Sprintf("add tag %q to task %d", tag, id.ID), err)
		}
	}
	return nil
}

// GetOrder returns the sort order of a task, or nil if it has none.
func (a *Adapter) GetOrder(ctx context.Context, ref ItemRef) (*int64, error) {
	id, err := a.resolveRef(ctx, ref, "order read")
	if err != nil || !id.OK {
		return nil, err
	}
	candidates, err := a.orderCandidates(ctx, id.ID)
	if err != nil {
		return nil, err
	}
	for _, c := range candidates {
		if c.order != nil {
			return c.order, nil
		}
	}
	return nil, nil
}

// SetOrder replaces the sort order of a task. A nil order only clears it.
// Every property named as the sort order is removed, including ones whose
// value does not parse; other unknown properties are kept.
//
// The old property is deleted before the new one is inserted, in separate
// writes; a failure in between leaves the task without an order.
func (a *Adapter) SetOrder(ctx context.Context, ref ItemRef, order *int64) error {
	id, err := a.resolveRef(ctx, ref, "order write")
	if err != nil || !id.OK {
		return err
	}
	candidates, err := a.orderCandidates(ctx, id.ID)
	if err != nil {
		return err
	}

	var stale []any
	for _, c := range candidates {
		if c.named {
			stale = append(stale, c.propertyID)
		}
	}
	if len(stale) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(stale)), ", ")
		if _, err := a.store.Delete(ctx, a.properties,
			fmt.Sprintf("%s IN (%s)", provider.PropertyID, placeholders), stale...); err != nil {
			return unavailable(fmt.Sprintf("clear order of task %d", id.ID), err)
		}
	}

	if order == nil {
		return nil
	}
	blob, err := codec.EncodeOrder(*order)
	if err != nil {
		return err
	}
	if _, err := a.store.Insert(ctx, a.properties, provider.Values{
		provider.PropertyMimetype:    provider.MimeUnknownProperty,
		provider.PropertyTaskID:      id.ID,
		provider.UnknownPropertyData: blob,
	}); err != nil {
		return unavailable(fmt.Sprintf("write order of task %d", id.ID), err)
	}
	return nil
}

type orderCandidate struct {
	propertyID int64
	// named is set when the property is named as the sort order, even if its
	// value does not parse.
	named bool
	order *int64
}

// orderCandidates returns the unknown properties of a task whose blob
// mentions the sort order name. order is set for those that decode as one.
func (a *Adapter) orderCandidates(ctx context.Context, taskID int64) ([]orderCandidate, error) {
	rows, err := a.store.Query(ctx, a.properties,
		[]string{provider.PropertyID, provider.UnknownPropertyData},
		orderSelection, taskID, provider.MimeUnknownProperty, codec.OrderPattern())
	if err != nil {
		return nil, unavailable(fmt.Sprintf("read order of task %d", taskID), err)
	}

	candidates := make([]orderCandidate, 0, len(rows))
	for _, row := range rows {
		propertyID, _ := row.Int64(provider.PropertyID)
		c := orderCandidate{propertyID: propertyID}
		if data := row.String(provider.UnknownPropertyData); data != nil {
			if prop, err := codec.DecodeUnknownProperty(*data); err == nil {
				c.named = prop.IsOrder()
			}
			order, err := codec.DecodeOrder(*data)
			if err != nil {
				a.config.Logger.Printf("Ignoring order property %d of task %d: %v", propertyID, taskID, err)
			}
			c.order = order
		}
		candidates = append(candidates, c)
	}
	return candidates, nil
}

// UpdateParentLink records ref.ParentUID as the parent of ref. Nothing is
// written for a blank parent. Relations are additive, so an existing link is
// left alone; a link identical to an existing one is not written twice.
func (a *Adapter) UpdateParentLink(ctx context.Context, ref ItemRef) error {
	parentUID := strings.TrimSpace(ref.ParentUID)
	if parentUID == "" {
		return nil
	}

	id, err := a.resolveRef(ctx, ref, "parent link")
	if err != nil || !id.OK {
		return err
	}

	existing, err := a.store.Query(ctx, a.properties, []string{provider.PropertyID},
		provider.PropertyTaskID+" = ? AND "+provider.PropertyMimetype+" = ? AND "+
			provider.RelationRelatedType+" = ? AND "+provider.RelationRelatedUID+" = ?",
		id.ID, provider.MimeRelation, int64(codec.RelTypeParent), parentUID)
	if err != nil {
		return unavailable(fmt.Sprintf("read parent links of task %d", id.ID), err)
	}
	if len(existing) > 0 {
		return nil
	}

	parentID, err := a.ResolveLocalID(ctx, &parentUID)
	if err != nil {
		return err
	}
	var relatedID *int64
	if parentID.OK {
		relatedID = &parentID.ID
	}
	rel, _ := codec.ParentRelation(parentUID, relatedID)

	values := provider.Values{
		provider.PropertyMimetype:    provider.MimeRelation,
		provider.PropertyTaskID:      id.ID,
		provider.RelationRelatedType: int64(rel.Type),
		provider.RelationRelatedUID:  rel.RelatedUID,
	}
	if rel.RelatedID != nil {
		values[provider.RelationRelatedID] = *rel.RelatedID
	}
	if _, err := a.store.Insert(ctx, a.properties, values); err != nil {
		return unavailable(fmt.Sprintf("link task %d to parent %s", id.ID, parentUID), err)
	}
	return nil
}

// readProperties fills the tags, order and parent of task from its property rows.
func (a *Adapter) readProperties(ctx context.Context, task *Task) error {
	rows, err := a.store.Query(ctx, a.properties,
		[]string{provider.PropertyID, provider.PropertyMimetype,
			provider.PropertyData0, provider.PropertyData1, provider.PropertyData2, provider.PropertyData3},
		provider.PropertyTaskID+" = ?", task.ID)
	if err != nil {
		return unavailable(fmt.Sprintf("read properties of task %d", task.ID), err)
	}

	task.Tags = []string{}
	for _, row := range rows {
		switch deref(row.String(provider.PropertyMimetype)) {
		case provider.MimeCategory:
			if name := row.String(provider.CategoryName); name != nil {
				task.Tags = append(task.Tags, *name)
			}
		case provider.MimeUnknownProperty:
			if task.Order != nil {
				continue
			}
			data := row.String(provider.UnknownPropertyData)
			if data == nil {
				continue
			}
			order, err := codec.DecodeOrder(*data)
			if err != nil {
				a.config.Logger.Printf("Ignoring order property of task %d: %v", task.ID, err)
				continue
			}
			task.Order = order
		case provider.MimeRelation:
			if task.ParentUID != "" {
				continue
			}
			relType, ok := row.Int64(provider.RelationRelatedType)
			if !ok {
				continue
			}
			if rt, err := codec.ParseRelationType(relType); err != nil || rt != codec.RelTypeParent {
				continue
			}
			if uid := row.String(provider.RelationRelatedUID); uid != nil && *uid != "" {
				task.ParentUID = *uid
				continue
			}
			// Links written by other clients may carry only the row id.
			if relatedID, ok := row.Int64(provider.RelationRelatedID); ok {
				uid, err := a.ResolveRemoteUID(ctx, relatedID)
				if err != nil {
					return err
				}
				task.ParentUID = deref(uid)
			}
		}
	}
	return nil
}
