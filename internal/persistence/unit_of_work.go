package persistence

import (
	"context"
	"fmt"
)

// UnitOfWork buffers the writes of one event on top of a Store. Reads observe
// buffered writes; nothing reaches the underlying store until Commit.
type UnitOfWork struct {
	base    Store
	pending map[Ref]*pendingWrite
	order   []Ref
}

type pendingWrite struct {
	doc     Document
	removed bool
}

var _ Store = (*UnitOfWork)(nil)

func NewUnitOfWork(base Store) *UnitOfWork {
	return &UnitOfWork{
		base:    base,
		pending: make(map[Ref]*pendingWrite),
	}
}

func (u *UnitOfWork) Get(ctx context.Context, name, id string, dst Entity) error {
	if w, ok := u.pending[Ref{Name: name, ID: id}]; ok {
		if w.removed {
			return fmt.Errorf("%s %s: %w", name, id, ErrNotFound)
		}
		return decode(w.doc.Data, dst)
	}
	return u.base.Get(ctx, name, id, dst)
}

func (u *UnitOfWork) Save(_ context.Context, e Entity) error {
	doc, err := encode(e)
	if err != nil {
		return err
	}
	u.stage(Ref{Name: doc.Name, ID: doc.ID}, &pendingWrite{doc: doc})
	return nil
}

func (u *UnitOfWork) Remove(_ context.Context, name, id string) error {
	u.stage(Ref{Name: name, ID: id}, &pendingWrite{removed: true})
	return nil
}

// GetByFields merges buffered writes into the base result. The base is asked for
// enough extra rows to cover any buffered row displacing a base row from the window.
func (u *UnitOfWork) GetByFields(ctx context.Context, name string, filters []Filter, page Page) ([]Document, error) {
	if err := validateQuery(filters, page); err != nil {
		return nil, err
	}

	touched := 0
	for ref := range u.pending {
		if ref.Name == name {
			touched++
		}
	}
	if touched == 0 {
		return u.base.GetByFields(ctx, name, filters, page)
	}

	basePage := Page{OrderBy: page.OrderBy}
	if page.Limit > 0 {
		basePage.Limit = page.Offset + page.Limit + touched
	}
	baseDocs, err := u.base.GetByFields(ctx, name, filters, basePage)
	if err != nil {
		return nil, err
	}

	rows := make([]row, 0, len(baseDocs)+touched)
	for _, d := range baseDocs {
		if _, shadowed := u.pending[Ref{Name: name, ID: d.ID}]; shadowed {
			continue
		}
		f, err := decodeFields(d.Data)
		if err != nil {
			return nil, fmt.Errorf("decode %s %s: %w", name, d.ID, err)
		}
		rows = append(rows, row{doc: d, fields: f})
	}
	for _, ref := range u.order {
		w := u.pending[ref]
		if ref.Name != name || w.removed {
			continue
		}
		f, err := decodeFields(w.doc.Data)
		if err != nil {
			return nil, fmt.Errorf("decode %s %s: %w", name, ref.ID, err)
		}
		if f.matches(filters) {
			rows = append(rows, row{doc: w.doc, fields: f})
		}
	}

	sortRows(rows, page.OrderBy)
	return paginate(rows, page), nil
}

// Apply stages a batch into the unit of work.
func (u *UnitOfWork) Apply(_ context.Context, b *Batch) error {
	for _, d := range b.Saves {
		u.stage(Ref{Name: d.Name, ID: d.ID}, &pendingWrite{doc: d})
	}
	for _, r := range b.Removes {
		u.stage(r, &pendingWrite{removed: true})
	}
	return nil
}

// Pending returns the number of buffered writes.
func (u *UnitOfWork) Pending() int { return len(u.order) }

// Touched lists the ids of buffered writes for one collection, in write order.
func (u *UnitOfWork) Touched(name string) []string {
	var ids []string
	for _, ref := range u.order {
		if ref.Name == name {
			ids = append(ids, ref.ID)
		}
	}
	return ids
}

// Commit applies all buffered writes to the base store in one batch.
func (u *UnitOfWork) Commit(ctx context.Context) error {
	if len(u.order) == 0 {
		return nil
	}
	batch := &Batch{}
	for _, ref := range u.order {
		w := u.pending[ref]
		if w.removed {
			batch.Removes = append(batch.Removes, ref)
		} else {
			batch.Saves = append(batch.Saves, w.doc)
		}
	}
	if err := u.base.Apply(ctx, batch); err != nil {
		return fmt.Errorf("commit %d writes: %w", batch.Len(), err)
	}
	u.Discard()
	return nil
}

// Discard drops all buffered writes.
func (u *UnitOfWork) Discard() {
	u.pending = make(map[Ref]*pendingWrite)
	u.order = u.order[:0]
}

func (u *UnitOfWork) stage(ref Ref, w *pendingWrite) {
	if _, exists := u.pending[ref]; !exists {
		u.order = append(u.order, ref)
	}
	u.pending[ref] = w
}
