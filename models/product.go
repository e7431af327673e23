package models

import (
	"context"
	"time"

	"referral-system/database"
)

// Product – продукт подписки; цена нужна движку выплат для процентных
// счетов и для перерасчёта суммы при возврате
type Product struct {
	ID        string    `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	Price     float64   `json:"price" db:"price"`
	Currency  string    `json:"currency" db:"currency"`
	IsActive  bool      `json:"is_active" db:"is_active"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

func GetProductByID(ctx context.Context, id string) (*Product, error) {
	var p Product
	err := database.Pool.QueryRow(ctx, `
        SELECT id, name, price, currency, is_active, created_at
        FROM products WHERE id = $1
    `, id).Scan(&p.ID, &p.Name, &p.Price, &p.Currency, &p.IsActive, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func GetActiveProducts() ([]Product, error) {
	rows, err := database.Pool.Query(context.Background(), `
        SELECT id, name, price, currency, is_active, created_at
        FROM products WHERE is_active = true
        ORDER BY price
    `)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var products []Product
	for rows.Next() {
		var p Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Price, &p.Currency, &p.IsActive, &p.CreatedAt); err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, rows.Err()
}
