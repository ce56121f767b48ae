package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/stitchflow/stitchflow/internal/domain"
)

const productColumns = `id, name, price, description, category, complexity,
	estimated_time_minutes, is_active, created_at, updated_at`

func (s *store) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	row := s.q.QueryRow(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE id = $1
	`, id)

	var p domain.Product
	err := row.Scan(
		&p.ID, &p.Name, &p.Price, &p.Description, &p.Category, &p.Complexity,
		&p.EstimatedTimeMinutes, &p.IsActive, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &domain.NotFoundError{Kind: "product", ID: id}
		}
		return nil, fmt.Errorf("get product %s: %w", id, err)
	}
	return &p, nil
}

func (s *store) ListActiveProducts(ctx context.Context) ([]*domain.Product, error) {
	rows, err := s.q.Query(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE is_active
		ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("list active products: %w", err)
	}
	defer rows.Close()

	var products []*domain.Product
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(
			&p.ID, &p.Name, &p.Price, &p.Description, &p.Category, &p.Complexity,
			&p.EstimatedTimeMinutes, &p.IsActive, &p.CreatedAt, &p.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		products = append(products, &p)
	}
	return products, rows.Err()
}

// UpsertProducts replaces catalog rows wholesale: the remote copy wins on
// every field. Each row upsert is independently atomic so a cancelled sync
// pull leaves no partial row behind.
func (s *store) UpsertProducts(ctx context.Context, products []*domain.Product) error {
	for _, p := range products {
		_, err := s.q.Exec(ctx, `
			INSERT INTO products
				(`+productColumns+`)
			VALUES
				($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			ON CONFLICT (id) DO UPDATE SET
				name = EXCLUDED.name,
				price = EXCLUDED.price,
				description = EXCLUDED.description,
				category = EXCLUDED.category,
				complexity = EXCLUDED.complexity,
				estimated_time_minutes = EXCLUDED.estimated_time_minutes,
				is_active = EXCLUDED.is_active,
				updated_at = EXCLUDED.updated_at
		`,
			p.ID, p.Name, p.Price, p.Description, p.Category, p.Complexity,
			p.EstimatedTimeMinutes, p.IsActive, p.CreatedAt, p.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("upsert product %s: %w", p.ID, err)
		}
	}
	return nil
}

const workerColumns = `id, first_name, last_name, middle_name, position, department,
	skill_level, hourly_rate, is_active, phone, email, hire_date, created_at, updated_at`

func (s *store) GetWorker(ctx context.Context, id string) (*domain.Worker, error) {
	row := s.q.QueryRow(ctx, `
		SELECT `+workerColumns+`
		FROM workers
		WHERE id = $1
	`, id)

	var w domain.Worker
	err := row.Scan(
		&w.ID, &w.FirstName, &w.LastName, &w.MiddleName, &w.Position, &w.Department,
		&w.SkillLevel, &w.HourlyRate, &w.IsActive, &w.Phone, &w.Email, &w.HireDate,
		&w.CreatedAt, &w.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &domain.NotFoundError{Kind: "worker", ID: id}
		}
		return nil, fmt.Errorf("get worker %s: %w", id, err)
	}
	return &w, nil
}

func (s *store) ListActiveWorkers(ctx context.Context) ([]*domain.Worker, error) {
	rows, err := s.q.Query(ctx, `
		SELECT `+workerColumns+`
		FROM workers
		WHERE is_active
		ORDER BY last_name, first_name
	`)
	if err != nil {
		return nil, fmt.Errorf("list active workers: %w", err)
	}
	defer rows.Close()

	var workers []*domain.Worker
	for rows.Next() {
		var w domain.Worker
		if err := rows.Scan(
			&w.ID, &w.FirstName, &w.LastName, &w.MiddleName, &w.Position, &w.Department,
			&w.SkillLevel, &w.HourlyRate, &w.IsActive, &w.Phone, &w.Email, &w.HireDate,
			&w.CreatedAt, &w.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan worker: %w", err)
		}
		workers = append(workers, &w)
	}
	return workers, rows.Err()
}

// UpsertWorkers replaces roster rows wholesale, same semantics as UpsertProducts.
func (s *store) UpsertWorkers(ctx context.Context, workers []*domain.Worker) error {
	for _, w := range workers {
		_, err := s.q.Exec(ctx, `
			INSERT INTO workers
				(`+workerColumns+`)
			VALUES
				($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
			ON CONFLICT (id) DO UPDATE SET
				first_name = EXCLUDED.first_name,
				last_name = EXCLUDED.last_name,
				middle_name = EXCLUDED.middle_name,
				position = EXCLUDED.position,
				department = EXCLUDED.department,
				skill_level = EXCLUDED.skill_level,
				hourly_rate = EXCLUDED.hourly_rate,
				is_active = EXCLUDED.is_active,
				phone = EXCLUDED.phone,
				email = EXCLUDED.email,
				hire_date = EXCLUDED.hire_date,
				updated_at = EXCLUDED.updated_at
		`,
			w.ID, w.FirstName, w.LastName, w.MiddleName, w.Position, w.Department,
			w.SkillLevel, w.HourlyRate, w.IsActive, w.Phone, w.Email, w.HireDate,
			w.CreatedAt, w.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("upsert worker %s: %w", w.ID, err)
		}
	}
	return nil
}
