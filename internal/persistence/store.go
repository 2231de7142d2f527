package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
)

// Entity is anything the store can persist. Name selects the collection, ID the row.
type Entity interface {
	EntityName() string
	EntityID() string
}

type Op string

const (
	OpEq Op = "="
	OpNe Op = "!="
)

// Filter compares a top-level document field against a value by its string form.
type Filter struct {
	Field string
	Op    Op
	Value any
}

func Eq(field string, value any) Filter { return Filter{Field: field, Op: OpEq, Value: value} }
func Ne(field string, value any) Filter { return Filter{Field: field, Op: OpNe, Value: value} }

// Order sorts by a numeric document field.
type Order struct {
	Field string
	Desc  bool
}

// Page bounds a GetByFields result. Limit 0 means no limit.
type Page struct {
	Limit   int
	Offset  int
	OrderBy []Order
}

// Document is one stored entity in encoded form.
type Document struct {
	Name string
	ID   string
	Data json.RawMessage
}

type Ref struct {
	Name string
	ID   string
}

// Batch is a set of writes applied atomically by Store.Apply.
type Batch struct {
	Saves   []Document
	Removes []Ref
}

func (b *Batch) Len() int { return len(b.Saves) + len(b.Removes) }

// Store is the key-value persistence contract used by every engine.
type Store interface {
	Get(ctx context.Context, name, id string, dst Entity) error
	Save(ctx context.Context, e Entity) error
	Remove(ctx context.Context, name, id string) error
	GetByFields(ctx context.Context, name string, filters []Filter, page Page) ([]Document, error)
	Apply(ctx context.Context, b *Batch) error
}

// EntityPtr constrains generic helpers to pointer entity types.
type EntityPtr[T any] interface {
	*T
	Entity
}

func nameOf[T any, PT EntityPtr[T]]() string {
	return PT(new(T)).EntityName()
}

// Load fetches one entity by id.
func Load[T any, PT EntityPtr[T]](ctx context.Context, s Store, id string) (PT, error) {
	v := PT(new(T))
	if err := s.Get(ctx, v.EntityName(), id, v); err != nil {
		return nil, err
	}
	return v, nil
}

// LoadOrNil is Load that maps ErrNotFound to a nil entity.
func LoadOrNil[T any, PT EntityPtr[T]](ctx context.Context, s Store, id string) (PT, error) {
	v, err := Load[T, PT](ctx, s, id)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return v, err
}

// Find decodes one page of GetByFields results.
func Find[T any, PT EntityPtr[T]](ctx context.Context, s Store, filters []Filter, page Page) ([]PT, error) {
	name := nameOf[T, PT]()
	docs, err := s.GetByFields(ctx, name, filters, page)
	if err != nil {
		return nil, err
	}

	out := make([]PT, 0, len(docs))
	for _, d := range docs {
		v := PT(new(T))
		if err := json.Unmarshal(d.Data, v); err != nil {
			return nil, fmt.Errorf("decode %s %s: %w", name, d.ID, err)
		}
		out = append(out, v)
	}
	return out, nil
}

const defaultPageSize = 100

// FindAll pages through every match ordered by id.
func FindAll[T any, PT EntityPtr[T]](ctx context.Context, s Store, filters ...Filter) ([]PT, error) {
	var all []PT
	for offset := 0; ; offset += defaultPageSize {
		page, err := Find[T, PT](ctx, s, filters, Page{Limit: defaultPageSize, Offset: offset})
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(page) < defaultPageSize {
			return all, nil
		}
	}
}

// SaveAll saves entities in order, stopping at the first error.
func SaveAll[PT Entity](ctx context.Context, s Store, entities []PT) error {
	for _, e := range entities {
		if err := s.Save(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

func encode(e Entity) (Document, error) {
	if e.EntityID() == "" {
		return Document{}, fmt.Errorf("%s without id: %w", e.EntityName(), ErrInvalidInput)
	}
	data, err := json.Marshal(e)
	if err != nil {
		return Document{}, fmt.Errorf("encode %s %s: %w", e.EntityName(), e.EntityID(), err)
	}
	return Document{Name: e.EntityName(), ID: e.EntityID(), Data: data}, nil
}

func decode(d json.RawMessage, dst Entity) error {
	if err := json.Unmarshal(d, dst); err != nil {
		return fmt.Errorf("decode %s: %w", dst.EntityName(), err)
	}
	return nil
}
