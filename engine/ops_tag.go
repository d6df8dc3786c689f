package engine

import (
	"errors"
	"fmt"

	"taglink/config"
	"taglink/tagstore"
)

// AddTag inserts or replaces a tag in the registry and persists the
// provisioning entry.
func (e *Engine) AddTag(t tagstore.Tag) error {
	if t.Type() == 0 {
		return fmt.Errorf("%w: tag %d has no value type", ErrInvalidInput, t.ID)
	}

	existing := e.cfg.FindTag(t.ID) != nil

	e.cfg.Lock()
	entry := config.TagConfig{
		ID:     t.ID,
		Name:   t.Name,
		Type:   t.Type().String(),
		Access: t.Access.String(),
		Value:  t.Value.Display(),
	}
	if tc := e.cfg.FindTag(t.ID); tc != nil {
		*tc = entry
	} else {
		e.cfg.Tags = append(e.cfg.Tags, entry)
	}
	e.cfg.Unlock()

	if err := e.saveConfig(); err != nil {
		return fmt.Errorf("%w: %v", ErrSaveFailed, err)
	}

	e.store.Insert(t)
	if existing {
		e.emit(EventTagUpdated, TagEvent{ID: t.ID, Name: t.Name})
	} else {
		e.emit(EventTagAdded, TagEvent{ID: t.ID, Name: t.Name})
	}
	return nil
}

// GetTag returns the tag with the given id.
func (e *Engine) GetTag(id uint16) (tagstore.Tag, error) {
	t, ok := e.store.Get(id)
	if !ok {
		return tagstore.Tag{}, fmt.Errorf("%w: tag %d", ErrNotFound, id)
	}
	return t, nil
}

// UpdateTagValue replaces a tag's value. The tag's type is fixed; a
// value of another type is rejected.
func (e *Engine) UpdateTagValue(id uint16, v tagstore.Value) error {
	if err := e.store.UpdateValue(id, v); err != nil {
		if errors.Is(err, tagstore.ErrNotFound) {
			return fmt.Errorf("%w: tag %d", ErrNotFound, id)
		}
		return err
	}
	return nil
}

// RemoveTag deletes a tag from the registry and the provisioning config.
// Removing an absent id is a no-op.
func (e *Engine) RemoveTag(id uint16) error {
	e.cfg.Lock()
	for i := range e.cfg.Tags {
		if e.cfg.Tags[i].ID == id {
			e.cfg.Tags = append(e.cfg.Tags[:i], e.cfg.Tags[i+1:]...)
			break
		}
	}
	e.cfg.Unlock()

	if err := e.saveConfig(); err != nil {
		return fmt.Errorf("%w: %v", ErrSaveFailed, err)
	}

	if t, ok := e.store.Get(id); ok {
		e.store.Remove(id)
		e.emit(EventTagRemoved, TagEvent{ID: id, Name: t.Name})
	}
	return nil
}

// ListTags returns all registered tags ordered by id.
func (e *Engine) ListTags() []tagstore.Tag {
	return e.store.List()
}

// ClientCount returns the number of currently connected FDI clients.
func (e *Engine) ClientCount() int {
	if e.fdiServer == nil {
		return 0
	}
	return e.fdiServer.ClientCount()
}
