package postgres

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/orderflow/fulfillment/internal/delivery/application"
	"github.com/orderflow/fulfillment/internal/delivery/domain"
)

const deliveryColumns = `id, delivery_number, order_id, order_number, shipping_name, shipping_address,
	shipping_phone, payment_method, cod_amount, warehouse_id, status, assigned_shipper_id,
	assigned_at, delivered_at, delivered_image_url, failed_reason, created_at, updated_at`

func scanDelivery(row pgx.Row) (*domain.DeliveryOrder, error) {
	var d domain.DeliveryOrder
	err := row.Scan(&d.ID, &d.DeliveryNumber, &d.OrderID, &d.OrderNumber, &d.ShippingName,
		&d.ShippingAddress, &d.ShippingPhone, &d.PaymentMethod, &d.CODAmount, &d.WarehouseID,
		&d.Status, &d.AssignedShipperID, &d.AssignedAt, &d.DeliveredAt, &d.DeliveredImageURL,
		&d.FailedReason, &d.CreatedAt, &d.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, application.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// DeliveryRepository stores delivery orders and their line items.
type DeliveryRepository struct{ *DB }

func NewDeliveryRepository(db *DB) *DeliveryRepository { return &DeliveryRepository{DB: db} }

func (r *DeliveryRepository) Create(ctx context.Context, d *domain.DeliveryOrder) error {
	err := r.q(ctx).QueryRow(ctx, `
		INSERT INTO delivery_orders
			(delivery_number, order_id, order_number, shipping_name, shipping_address,
			 shipping_phone, payment_method, cod_amount, warehouse_id, status)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		RETURNING id, created_at, updated_at`,
		d.DeliveryNumber, d.OrderID, d.OrderNumber, d.ShippingName, d.ShippingAddress,
		d.ShippingPhone, d.PaymentMethod, d.CODAmount, d.WarehouseID, d.Status).
		Scan(&d.ID, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return err
	}
	for i := range d.Items {
		it := &d.Items[i]
		it.DeliveryID = d.ID
		err := r.q(ctx).QueryRow(ctx, `
			INSERT INTO delivery_order_items
				(delivery_id, order_item_id, variant_id, variant_name, sku, quantity, unit_price, image_url)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
			RETURNING id`,
			it.DeliveryID, it.OrderItemID, it.VariantID, it.VariantName, it.SKU,
			it.Quantity, it.UnitPrice, it.ImageURL).Scan(&it.ID)
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *DeliveryRepository) GetByID(ctx context.Context, id int64, forUpdate bool) (*domain.DeliveryOrder, error) {
	sql := `SELECT ` + deliveryColumns + ` FROM delivery_orders WHERE id=$1`
	if forUpdate {
		sql += ` FOR UPDATE`
	}
	d, err := scanDelivery(r.q(ctx).QueryRow(ctx, sql, id))
	if err != nil {
		return nil, err
	}
	if err := r.loadItems(ctx, d); err != nil {
		return nil, err
	}
	return d, nil
}

func (r *DeliveryRepository) loadItems(ctx context.Context, d *domain.DeliveryOrder) error {
	rows, err := r.q(ctx).Query(ctx, `
		SELECT id, delivery_id, order_item_id, variant_id, variant_name, sku, quantity, unit_price, image_url
		FROM delivery_order_items WHERE delivery_id=$1 ORDER BY id`, d.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	d.Items = nil
	for rows.Next() {
		var it domain.DeliveryItem
		if err := rows.Scan(&it.ID, &it.DeliveryID, &it.OrderItemID, &it.VariantID,
			&it.VariantName, &it.SKU, &it.Quantity, &it.UnitPrice, &it.ImageURL); err != nil {
			return err
		}
		d.Items = append(d.Items, it)
	}
	return rows.Err()
}

func (r *DeliveryRepository) ListByOrderID(ctx context.Context, orderID int64) ([]*domain.DeliveryOrder, error) {
	return r.listDeliveries(ctx, `
		SELECT `+deliveryColumns+` FROM delivery_orders WHERE order_id=$1 ORDER BY id`, orderID)
}

func (r *DeliveryRepository) ListPending(ctx context.Context) ([]*domain.DeliveryOrder, error) {
	return r.listDeliveries(ctx, `
		SELECT `+deliveryColumns+` FROM delivery_orders WHERE status=$1 ORDER BY id`, domain.DeliveryPending)
}

func (r *DeliveryRepository) Save(ctx context.Context, d *domain.DeliveryOrder) error {
	ct, err := r.q(ctx).Exec(ctx, `
		UPDATE delivery_orders
		SET status=$2, assigned_shipper_id=$3, assigned_at=$4, delivered_at=$5,
		    delivered_image_url=$6, failed_reason=$7, updated_at=now()
		WHERE id=$1`,
		d.ID, d.Status, d.AssignedShipperID, d.AssignedAt, d.DeliveredAt,
		d.DeliveredImageURL, d.FailedReason)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return application.ErrNotFound
	}
	return nil
}

func activeStatusStrings() []string {
	out := make([]string, len(domain.ActiveStatuses))
	for i, s := range domain.ActiveStatuses {
		out[i] = string(s)
	}
	return out
}

func (r *DeliveryRepository) CountActiveByShipper(ctx context.Context, shipperID int64) (int, error) {
	var n int
	err := r.q(ctx).QueryRow(ctx, `
		SELECT count(*) FROM delivery_orders
		WHERE assigned_shipper_id=$1 AND status = ANY($2)`,
		shipperID, activeStatusStrings()).Scan(&n)
	return n, err
}

func (r *DeliveryRepository) ListActiveByShipper(ctx context.Context, shipperID int64) ([]*domain.DeliveryOrder, error) {
	return r.listDeliveries(ctx, `
		SELECT `+deliveryColumns+` FROM delivery_orders
		WHERE assigned_shipper_id=$1 AND status = ANY($2) ORDER BY id`,
		shipperID, activeStatusStrings())
}

func (r *DeliveryRepository) List(ctx context.Context, f application.DeliveryFilter) ([]*domain.DeliveryOrder, error) {
	sql := `SELECT ` + deliveryColumns + ` FROM delivery_orders WHERE TRUE`
	args := []any{}
	add := func(clause string, v any) {
		args = append(args, v)
		sql += ` AND ` + clause + `$` + strconv.Itoa(len(args))
	}
	if f.Keyword != "" {
		args = append(args, "%"+f.Keyword+"%")
		n := strconv.Itoa(len(args))
		sql += ` AND (delivery_number ILIKE $` + n + ` OR order_number ILIKE $` + n + `)`
	}
	if f.Status != "" {
		add(`status=`, f.Status)
	}
	if f.WarehouseID > 0 {
		add(`warehouse_id=`, f.WarehouseID)
	}
	if f.ShipperID > 0 {
		add(`assigned_shipper_id=`, f.ShipperID)
	}
	sql += ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		sql += ` LIMIT $` + strconv.Itoa(len(args))
	}
	if f.Offset > 0 {
		args = append(args, f.Offset)
		sql += ` OFFSET $` + strconv.Itoa(len(args))
	}
	return r.listDeliveries(ctx, sql, args...)
}

func (r *DeliveryRepository) NextDailySequence(ctx context.Context, at time.Time) (int64, error) {
	day := time.Date(at.Year(), at.Month(), at.Day(), 0, 0, 0, 0, time.UTC)
	var seq int64
	err := r.q(ctx).QueryRow(ctx, `
		SELECT count(*)+1 FROM delivery_orders WHERE created_at >= $1 AND created_at < $2`,
		day, day.AddDate(0, 0, 1)).Scan(&seq)
	return seq, err
}

func (r *DeliveryRepository) listDeliveries(ctx context.Context, sql string, args ...any) ([]*domain.DeliveryOrder, error) {
	rows, err := r.q(ctx).Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.DeliveryOrder
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, d := range out {
		if err := r.loadItems(ctx, d); err != nil {
			return nil, err
		}
	}
	return out, nil
}
