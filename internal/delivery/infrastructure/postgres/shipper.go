package postgres

import (
	"context"
	"errors"
	"strconv"

	"github.com/jackc/pgx/v5"

	"github.com/orderflow/fulfillment/internal/delivery/application"
	"github.com/orderflow/fulfillment/internal/delivery/domain"
)

const shipperColumns = `id, full_name, phone, email, is_active, warehouse_id, status, created_at`

func scanShipper(row pgx.Row) (*domain.Shipper, error) {
	var s domain.Shipper
	err := row.Scan(&s.ID, &s.FullName, &s.Phone, &s.Email, &s.Active,
		&s.WarehouseID, &s.Status, &s.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, application.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// ShipperRepository stores the courier directory.
type ShipperRepository struct{ *DB }

func NewShipperRepository(db *DB) *ShipperRepository { return &ShipperRepository{DB: db} }

func (r *ShipperRepository) Create(ctx context.Context, s *domain.Shipper) error {
	return r.q(ctx).QueryRow(ctx, `
		INSERT INTO shippers (full_name, phone, email, is_active, warehouse_id, status)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING id, created_at`,
		s.FullName, s.Phone, s.Email, s.Active, s.WarehouseID, s.Status).
		Scan(&s.ID, &s.CreatedAt)
}

func (r *ShipperRepository) GetByID(ctx context.Context, id int64) (*domain.Shipper, error) {
	return scanShipper(r.q(ctx).QueryRow(ctx, `
		SELECT `+shipperColumns+` FROM shippers WHERE id=$1`, id))
}

func (r *ShipperRepository) SetStatus(ctx context.Context, id int64, status domain.ShipperStatus) error {
	ct, err := r.q(ctx).Exec(ctx, `UPDATE shippers SET status=$2 WHERE id=$1`, id, status)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return application.ErrNotFound
	}
	return nil
}

func (r *ShipperRepository) SetActive(ctx context.Context, id int64, active bool) error {
	ct, err := r.q(ctx).Exec(ctx, `UPDATE shippers SET is_active=$2 WHERE id=$1`, id, active)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return application.ErrNotFound
	}
	return nil
}

func (r *ShipperRepository) List(ctx context.Context, f application.ShipperFilter) ([]*domain.Shipper, error) {
	sql := `SELECT ` + shipperColumns + ` FROM shippers WHERE TRUE`
	args := []any{}
	if f.Keyword != "" {
		args = append(args, "%"+f.Keyword+"%")
		n := strconv.Itoa(len(args))
		sql += ` AND (full_name ILIKE $` + n + ` OR email ILIKE $` + n + ` OR phone ILIKE $` + n + `)`
	}
	if f.Status != "" {
		args = append(args, f.Status)
		sql += ` AND status=$` + strconv.Itoa(len(args))
	}
	if f.WarehouseID > 0 {
		args = append(args, f.WarehouseID)
		sql += ` AND warehouse_id=$` + strconv.Itoa(len(args))
	}
	if f.ActiveOnly {
		sql += ` AND is_active`
	}
	sql += ` ORDER BY id`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		sql += ` LIMIT $` + strconv.Itoa(len(args))
	}
	if f.Offset > 0 {
		args = append(args, f.Offset)
		sql += ` OFFSET $` + strconv.Itoa(len(args))
	}

	rows, err := r.q(ctx).Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Shipper
	for rows.Next() {
		s, err := scanShipper(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *ShipperRepository) ListAvailableWithLoad(ctx context.Context) ([]application.ShipperLoad, error) {
	rows, err := r.q(ctx).Query(ctx, `
		SELECT s.id, s.full_name, s.phone, s.email, s.is_active, s.warehouse_id, s.status, s.created_at,
		       count(d.id) AS active
		FROM shippers s
		LEFT JOIN delivery_orders d
			ON d.assigned_shipper_id = s.id AND d.status = ANY($1)
		WHERE s.is_active AND s.status = $2
		GROUP BY s.id
		ORDER BY s.id`,
		activeStatusStrings(), domain.ShipperOnline)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []application.ShipperLoad
	for rows.Next() {
		var s domain.Shipper
		var active int
		if err := rows.Scan(&s.ID, &s.FullName, &s.Phone, &s.Email, &s.Active,
			&s.WarehouseID, &s.Status, &s.CreatedAt, &active); err != nil {
			return nil, err
		}
		out = append(out, application.ShipperLoad{Shipper: &s, Active: active})
	}
	return out, rows.Err()
}
