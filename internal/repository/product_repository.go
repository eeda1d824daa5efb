package repository

import (
	"context"
	"database/sql"
)

// Product is a concession item (combo, drink, snack) sold as an add-on.
type Product struct {
	ID    uint64
	Name  string
	Price int64
}

// ProductRepo reads the add-on catalog.
type ProductRepo struct {
	db *sql.DB
}

func NewProductRepo(db *sql.DB) *ProductRepo { return &ProductRepo{db: db} }

// ActiveByIDs returns active products keyed by id.
func (r *ProductRepo) ActiveByIDs(ctx context.Context, ids []uint64) (map[uint64]Product, error) {
	out := make(map[uint64]Product, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, name, price FROM products WHERE is_active = 1 AND id IN (`+placeholders(len(ids))+`)`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var p Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Price); err != nil {
			return nil, err
		}
		out[p.ID] = p
	}
	return out, rows.Err()
}
