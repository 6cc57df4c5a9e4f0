package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"orderflow/internal/lifecycle"
	"orderflow/internal/model"
)

//go:embed schema.sql
var schema string

const (
	orderColumns = `id, status, vendor_id, customer_id, delivery_agent_id,
		pickup_lat, pickup_lng, dropoff_lat, dropoff_lng, amount, created_at, updated_at`
	agentColumns = `id, user_id, is_available, vehicle_type, vehicle_number, lat, lng, updated_at`
)

type Postgres struct {
	db *sql.DB
}

// NewPostgres opens a pgx-backed pool and verifies connectivity.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return &Postgres{db: db}, nil
}

// Migrate applies the embedded schema. It is idempotent.
func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func (p *Postgres) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

func (p *Postgres) Close() error { return p.db.Close() }

type scanner interface {
	Scan(dest ...any) error
}

func scanOrder(row scanner) (model.Order, error) {
	var (
		o          model.Order
		status     string
		agent      sql.NullInt64
		pLat, pLng sql.NullFloat64
		dLat, dLng sql.NullFloat64
	)
	err := row.Scan(&o.ID, &status, &o.VendorID, &o.CustomerID, &agent,
		&pLat, &pLng, &dLat, &dLng, &o.Amount, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return model.Order{}, err
	}
	o.Status = lifecycle.Status(status)
	if agent.Valid {
		id := agent.Int64
		o.DeliveryAgentID = &id
	}
	o.Pickup = point(pLat, pLng)
	o.Dropoff = point(dLat, dLng)
	return o, nil
}

func scanAgent(row scanner) (model.DeliveryAgent, error) {
	var (
		a           model.DeliveryAgent
		vType, vNum sql.NullString
		lat, lng    sql.NullFloat64
	)
	if err := row.Scan(&a.ID, &a.UserID, &a.Available, &vType, &vNum, &lat, &lng, &a.UpdatedAt); err != nil {
		return model.DeliveryAgent{}, err
	}
	a.VehicleType = vType.String
	a.VehicleNumber = vNum.String
	a.Position = point(lat, lng)
	return a, nil
}

func point(lat, lng sql.NullFloat64) *model.GeoPoint {
	if !lat.Valid || !lng.Valid {
		return nil
	}
	return &model.GeoPoint{Lat: lat.Float64, Lng: lng.Float64}
}

func coords(p *model.GeoPoint) (lat, lng any) {
	if p == nil {
		return nil, nil
	}
	return p.Lat, p.Lng
}

func statusNames(ss []lifecycle.Status) []string {
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = string(s)
	}
	return out
}

func (p *Postgres) CreateOrder(ctx context.Context, in model.NewOrder) (model.Order, error) {
	pLat, pLng := coords(in.Pickup)
	dLat, dLng := coords(in.Dropoff)
	row := p.db.QueryRowContext(ctx, `INSERT INTO orders
		(status, vendor_id, customer_id, pickup_lat, pickup_lng, dropoff_lat, dropoff_lng, amount)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8) RETURNING `+orderColumns,
		lifecycle.Pending, in.VendorID, in.CustomerID, pLat, pLng, dLat, dLng, in.Amount)
	o, err := scanOrder(row)
	if err != nil {
		return model.Order{}, fmt.Errorf("insert order: %w", err)
	}
	return o, nil
}

func (p *Postgres) GetOrder(ctx context.Context, id int64) (model.Order, error) {
	o, err := scanOrder(p.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=$1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Order{}, ErrNotFound
	}
	return o, err
}

func (p *Postgres) ListCustomerOrders(ctx context.Context, customerID int64) ([]model.Order, error) {
	return p.queryOrders(ctx, `SELECT `+orderColumns+` FROM orders
		WHERE customer_id=$1 ORDER BY created_at, id`, customerID)
}

func (p *Postgres) ListVendorOrders(ctx context.Context, vendorID int64, status *lifecycle.Status) ([]model.Order, error) {
	if status == nil {
		return p.queryOrders(ctx, `SELECT `+orderColumns+` FROM orders
			WHERE vendor_id=$1 ORDER BY created_at DESC, id DESC`, vendorID)
	}
	return p.queryOrders(ctx, `SELECT `+orderColumns+` FROM orders
		WHERE vendor_id=$1 AND status=$2 ORDER BY created_at DESC, id DESC`, vendorID, *status)
}

func (p *Postgres) ListTasks(ctx context.Context, agentID int64) ([]model.Order, error) {
	return p.queryOrders(ctx, `SELECT `+orderColumns+` FROM orders
		WHERE (status=$2 AND delivery_agent_id=$1) OR (status=$3 AND delivery_agent_id IS NULL)
		ORDER BY created_at, id`, agentID, lifecycle.OutForDelivery, lifecycle.Pending)
}

func (p *Postgres) queryOrders(ctx context.Context, query string, args ...any) ([]model.Order, error) {
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.Order{}
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// ClaimOrder assigns a pending, unassigned order to agentID in one
// conditional UPDATE. Zero matched rows means another writer got there first.
func (p *Postgres) ClaimOrder(ctx context.Context, orderID, agentID int64) (model.Order, error) {
	row := p.db.QueryRowContext(ctx, `UPDATE orders
		SET delivery_agent_id=$2, status=$3, updated_at=now()
		WHERE id=$1 AND status = ANY($4) AND delivery_agent_id IS NULL
		RETURNING `+orderColumns,
		orderID, agentID, lifecycle.OutForDelivery, statusNames(lifecycle.Sources(lifecycle.OutForDelivery)))
	o, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Order{}, p.missOr(ctx, orderID, ErrConflict)
	}
	if err != nil {
		return model.Order{}, fmt.Errorf("claim order %d: %w", orderID, err)
	}
	return o, nil
}

func (p *Postgres) CompleteOrder(ctx context.Context, orderID, agentID int64) (model.Order, error) {
	row := p.db.QueryRowContext(ctx, `UPDATE orders
		SET status=$3, updated_at=now()
		WHERE id=$1 AND delivery_agent_id=$2 AND status = ANY($4)
		RETURNING `+orderColumns,
		orderID, agentID, lifecycle.Delivered, statusNames(lifecycle.Sources(lifecycle.Delivered)))
	o, err := scanOrder(row)
	if err == nil {
		return o, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return model.Order{}, fmt.Errorf("complete order %d: %w", orderID, err)
	}
	cur, err := p.GetOrder(ctx, orderID)
	switch {
	case err != nil:
		return model.Order{}, err
	case !cur.AssignedTo(agentID):
		return model.Order{}, ErrNotAssigned
	case cur.Status == lifecycle.Delivered:
		return cur, ErrAlreadyDone
	default:
		return model.Order{}, ErrInvalidStatus
	}
}

func (p *Postgres) CancelOrder(ctx context.Context, orderID int64) (model.Order, error) {
	row := p.db.QueryRowContext(ctx, `UPDATE orders
		SET status=$2, updated_at=now()
		WHERE id=$1 AND status = ANY($3) AND delivery_agent_id IS NULL
		RETURNING `+orderColumns,
		orderID, lifecycle.Cancelled, statusNames(lifecycle.Sources(lifecycle.Cancelled)))
	o, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Order{}, p.missOr(ctx, orderID, ErrInvalidStatus)
	}
	if err != nil {
		return model.Order{}, fmt.Errorf("cancel order %d: %w", orderID, err)
	}
	return o, nil
}

// missOr returns ErrNotFound when the order does not exist and otherErr when
// it does.
func (p *Postgres) missOr(ctx context.Context, orderID int64, otherErr error) error {
	var exists bool
	if err := p.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM orders WHERE id=$1)`, orderID).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return ErrNotFound
	}
	return otherErr
}

func (p *Postgres) UpsertAgent(ctx context.Context, a model.DeliveryAgent) (model.DeliveryAgent, error) {
	row := p.db.QueryRowContext(ctx, `INSERT INTO delivery_agents (user_id, is_available, vehicle_type, vehicle_number)
		VALUES ($1,$2,NULLIF($3,''),NULLIF($4,''))
		ON CONFLICT (user_id) DO UPDATE SET
			is_available=EXCLUDED.is_available,
			vehicle_type=EXCLUDED.vehicle_type,
			vehicle_number=EXCLUDED.vehicle_number,
			updated_at=now()
		RETURNING `+agentColumns,
		a.UserID, a.Available, a.VehicleType, a.VehicleNumber)
	out, err := scanAgent(row)
	if err != nil {
		return model.DeliveryAgent{}, fmt.Errorf("upsert agent: %w", err)
	}
	return out, nil
}

func (p *Postgres) GetAgent(ctx context.Context, id int64) (model.DeliveryAgent, error) {
	a, err := scanAgent(p.db.QueryRowContext(ctx, `SELECT `+agentColumns+` FROM delivery_agents WHERE id=$1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.DeliveryAgent{}, ErrNotFound
	}
	return a, err
}

func (p *Postgres) GetAgentByUser(ctx context.Context, userID int64) (model.DeliveryAgent, error) {
	a, err := scanAgent(p.db.QueryRowContext(ctx, `SELECT `+agentColumns+` FROM delivery_agents WHERE user_id=$1`, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return model.DeliveryAgent{}, ErrNotFound
	}
	return a, err
}

func (p *Postgres) UpdateAgentPosition(ctx context.Context, agentID int64, pos model.GeoPoint) error {
	res, err := p.db.ExecContext(ctx, `UPDATE delivery_agents SET lat=$2, lng=$3, updated_at=now() WHERE id=$1`,
		agentID, pos.Lat, pos.Lng)
	if err != nil {
		return fmt.Errorf("update agent position: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
