package catalog

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/markethub/livecommerce/internal/models"
)

// ErrNotFound is returned when a product does not exist or belongs to another seller.
var ErrNotFound = errors.New("product not found")

const productColumns = `id, seller_id, sku, name, price, stock, image_url, description, created_at, updated_at`

// Repository handles product persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a product repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func scanProduct(row pgx.Row, p *models.Product) error {
	return row.Scan(&p.ID, &p.SellerID, &p.SKU, &p.Name, &p.Price, &p.Stock, &p.ImageURL, &p.Description, &p.CreatedAt, &p.UpdatedAt)
}

// Create inserts a new product.
func (r *Repository) Create(ctx context.Context, p *models.Product) error {
	const q = `INSERT INTO products (id, seller_id, sku, name, price, stock, image_url, description)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at`
	return r.pool.QueryRow(ctx, q, p.SellerID, p.SKU, p.Name, p.Price, p.Stock, p.ImageURL, p.Description).
		Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
}

// GetForSeller returns a product owned by sellerID.
func (r *Repository) GetForSeller(ctx context.Context, sellerID, productID uuid.UUID) (*models.Product, error) {
	q := `SELECT ` + productColumns + ` FROM products WHERE id = $1 AND seller_id = $2`
	var p models.Product
	if err := scanProduct(r.pool.QueryRow(ctx, q, productID, sellerID), &p); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

// ListBySeller returns a seller's products, newest first.
func (r *Repository) ListBySeller(ctx context.Context, sellerID uuid.UUID) ([]models.Product, error) {
	q := `SELECT ` + productColumns + ` FROM products WHERE seller_id = $1 ORDER BY created_at DESC`
	rows, err := r.pool.Query(ctx, q, sellerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	list := []models.Product{}
	for rows.Next() {
		var p models.Product
		if err := scanProduct(rows, &p); err != nil {
			return nil, err
		}
		list = append(list, p)
	}
	return list, rows.Err()
}

// UpdatePrice sets a product's catalog price.
func (r *Repository) UpdatePrice(ctx context.Context, productID uuid.UUID, price decimal.Decimal) error {
	const q = `UPDATE products SET price = $1, updated_at = NOW() WHERE id = $2`
	tag, err := r.pool.Exec(ctx, q, price, productID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes a seller's product.
func (r *Repository) Delete(ctx context.Context, sellerID, productID uuid.UUID) error {
	const q = `DELETE FROM products WHERE id = $1 AND seller_id = $2`
	tag, err := r.pool.Exec(ctx, q, productID, sellerID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
