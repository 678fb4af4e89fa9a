package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"bizzflow/backend/internal/domain"
	"bizzflow/backend/internal/store"
)

// CreateSale persists the sale header, its line items, the per-product stock
// decrements and the client aggregate update as one serializable transaction.
// Stock is re-checked under row locks inside the transaction, so two
// concurrent sales of the last unit cannot both commit.
func (s *Store) CreateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error) {
	if sale.ID == "" || sale.SaleNumber == "" || len(sale.Items) == 0 {
		return nil, store.ErrInvalidInput
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	ids := uniqueProductIDs(sale.Items)
	if len(ids) == 0 {
		return nil, store.ErrInvalidInput
	}

	stockRows, err := tx.QueryContext(ctx, `
		SELECT id, code, stock, active
		FROM products
		WHERE id = ANY($1)
		FOR UPDATE
	`, ids)
	if err != nil {
		return nil, err
	}
	type productState struct {
		code   string
		stock  int
		active bool
	}
	states := make(map[string]productState, len(ids))
	for stockRows.Next() {
		var id string
		var st productState
		if err := stockRows.Scan(&id, &st.code, &st.stock, &st.active); err != nil {
			_ = stockRows.Close()
			return nil, err
		}
		states[id] = st
	}
	if err := stockRows.Err(); err != nil {
		_ = stockRows.Close()
		return nil, err
	}
	_ = stockRows.Close()

	needed := make(map[string]int, len(ids))
	for _, item := range sale.Items {
		if item.Quantity < 1 {
			return nil, store.ErrInvalidInput
		}
		needed[item.ProductID] += item.Quantity
	}
	for id, qty := range needed {
		st, exists := states[id]
		if !exists || !st.active {
			return nil, fmt.Errorf("%w: %s", store.ErrProductNotFound, id)
		}
		if st.stock < qty {
			return nil, fmt.Errorf("%w: %s", store.ErrInsufficientStock, st.code)
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sales (
			id, sale_number, client_id, seller_id, subtotal, discount, tax,
			final_amount, payment_method, status, notes, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`, sale.ID, sale.SaleNumber, nullIfEmpty(sale.ClientID), sale.SellerID,
		sale.Subtotal, sale.Discount, sale.Tax, sale.FinalAmount,
		sale.PaymentMethod, sale.Status, nullIfEmpty(sale.Notes), sale.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: sale number %s", store.ErrConstraintViolation, sale.SaleNumber)
		}
		// The only foreign key on the header is client_id.
		if isForeignKeyViolation(err) {
			return nil, fmt.Errorf("%w: client %s", store.ErrNotFound, sale.ClientID)
		}
		return nil, err
	}

	for _, item := range sale.Items {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO sale_items (sale_id, product_id, quantity, unit_price, total_price)
			VALUES ($1,$2,$3,$4,$5)
		`, sale.ID, item.ProductID, item.Quantity, item.UnitPrice, item.TotalPrice)
		if err != nil {
			return nil, err
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE products
			SET stock = stock - $1, updated_at = now()
			WHERE id = $2
		`, item.Quantity, item.ProductID)
		if err != nil {
			if isCheckViolation(err) {
				return nil, fmt.Errorf("%w: %s", store.ErrInsufficientStock, item.ProductID)
			}
			return nil, err
		}
	}

	if sale.ClientID != "" {
		res, err := tx.ExecContext(ctx, `
			UPDATE clients
			SET total_spent = total_spent + $2, last_purchase = $3, updated_at = now()
			WHERE id = $1
		`, sale.ClientID, sale.FinalAmount, sale.CreatedAt)
		if err != nil {
			return nil, err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return nil, err
		}
		if affected == 0 {
			return nil, fmt.Errorf("%w: client %s", store.ErrNotFound, sale.ClientID)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	created := sale
	return &created, nil
}

// DeleteSale mirrors CreateSale in reverse inside one transaction: every
// line's quantity goes back onto its product and the client aggregate gives
// back the sale's final amount before the rows are removed.
func (s *Store) DeleteSale(ctx context.Context, id string) (*domain.Sale, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var sale domain.Sale
	var clientID sql.NullString
	var notes sql.NullString
	err = tx.QueryRowContext(ctx, `
		SELECT id, sale_number, client_id, seller_id, subtotal, discount, tax,
			final_amount, payment_method, status, notes, created_at
		FROM sales
		WHERE id = $1
		FOR UPDATE
	`, id).Scan(
		&sale.ID, &sale.SaleNumber, &clientID, &sale.SellerID,
		&sale.Subtotal, &sale.Discount, &sale.Tax, &sale.FinalAmount,
		&sale.PaymentMethod, &sale.Status, &notes, &sale.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrSaleNotFound
		}
		return nil, err
	}
	if clientID.Valid {
		sale.ClientID = clientID.String
	}
	if notes.Valid {
		sale.Notes = notes.String
	}
	sale.CreatedAt = sale.CreatedAt.UTC()

	itemRows, err := tx.QueryContext(ctx, `
		SELECT product_id, quantity, unit_price, total_price
		FROM sale_items
		WHERE sale_id = $1
		ORDER BY id ASC
	`, id)
	if err != nil {
		return nil, err
	}
	items := make([]domain.SaleItem, 0, 8)
	for itemRows.Next() {
		item := domain.SaleItem{SaleID: id}
		if err := itemRows.Scan(&item.ProductID, &item.Quantity, &item.UnitPrice, &item.TotalPrice); err != nil {
			_ = itemRows.Close()
			return nil, err
		}
		items = append(items, item)
	}
	if err := itemRows.Err(); err != nil {
		_ = itemRows.Close()
		return nil, err
	}
	_ = itemRows.Close()
	sale.Items = items

	for _, item := range items {
		_, err := tx.ExecContext(ctx, `
			UPDATE products
			SET stock = stock + $1, updated_at = now()
			WHERE id = $2
		`, item.Quantity, item.ProductID)
		if err != nil {
			return nil, err
		}
	}

	if sale.ClientID != "" {
		_, err := tx.ExecContext(ctx, `
			UPDATE clients
			SET total_spent = total_spent - $2, updated_at = now()
			WHERE id = $1
		`, sale.ClientID, sale.FinalAmount)
		if err != nil {
			return nil, err
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM sale_items WHERE sale_id = $1`, id); err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM sales WHERE id = $1`, id); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &sale, nil
}

func (s *Store) GetSaleByID(ctx context.Context, id string) (*domain.Sale, error) {
	var sale domain.Sale
	var clientID sql.NullString
	var notes sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, sale_number, client_id, seller_id, subtotal, discount, tax,
			final_amount, payment_method, status, notes, created_at
		FROM sales
		WHERE id = $1
	`, id).Scan(
		&sale.ID, &sale.SaleNumber, &clientID, &sale.SellerID,
		&sale.Subtotal, &sale.Discount, &sale.Tax, &sale.FinalAmount,
		&sale.PaymentMethod, &sale.Status, &notes, &sale.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrSaleNotFound
		}
		return nil, err
	}
	if clientID.Valid {
		sale.ClientID = clientID.String
	}
	if notes.Valid {
		sale.Notes = notes.String
	}
	sale.CreatedAt = sale.CreatedAt.UTC()

	rows, err := s.db.QueryContext(ctx, `
		SELECT product_id, quantity, unit_price, total_price
		FROM sale_items
		WHERE sale_id = $1
		ORDER BY id ASC
	`, sale.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.SaleItem, 0, 8)
	for rows.Next() {
		item := domain.SaleItem{SaleID: sale.ID}
		if err := rows.Scan(&item.ProductID, &item.Quantity, &item.UnitPrice, &item.TotalPrice); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sale.Items = items

	return &sale, nil
}

func (s *Store) ListSales(ctx context.Context, filter domain.SaleFilter) ([]domain.Sale, error) {
	limit := filter.Limit
	if limit < 1 {
		limit = 50
	}
	if limit > 1000 {
		limit = 1000
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	conditions := make([]string, 0, 4)
	args := make([]any, 0, 6)

	from, to, ok := dateWindow(filter, time.Now().UTC())
	if ok {
		args = append(args, from)
		conditions = append(conditions, fmt.Sprintf("created_at >= $%d", len(args)))
		args = append(args, to)
		conditions = append(conditions, fmt.Sprintf("created_at < $%d", len(args)))
	}
	if filter.ClientID != "" {
		args = append(args, filter.ClientID)
		conditions = append(conditions, fmt.Sprintf("client_id = $%d", len(args)))
	}
	if filter.SellerID != "" {
		args = append(args, filter.SellerID)
		conditions = append(conditions, fmt.Sprintf("seller_id = $%d", len(args)))
	}

	query := `
		SELECT id, sale_number, client_id, seller_id, subtotal, discount, tax,
			final_amount, payment_method, status, notes, created_at
		FROM sales
	`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", len(args))
	args = append(args, offset)
	query += fmt.Sprintf(" OFFSET $%d", len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sales := make([]domain.Sale, 0, limit)
	for rows.Next() {
		var sale domain.Sale
		var clientID sql.NullString
		var notes sql.NullString
		if err := rows.Scan(
			&sale.ID, &sale.SaleNumber, &clientID, &sale.SellerID,
			&sale.Subtotal, &sale.Discount, &sale.Tax, &sale.FinalAmount,
			&sale.PaymentMethod, &sale.Status, &notes, &sale.CreatedAt,
		); err != nil {
			return nil, err
		}
		if clientID.Valid {
			sale.ClientID = clientID.String
		}
		if notes.Valid {
			sale.Notes = notes.String
		}
		sale.CreatedAt = sale.CreatedAt.UTC()
		sales = append(sales, sale)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return sales, nil
}

func (s *Store) GetSaleStats(ctx context.Context, from, to time.Time) (domain.SaleStats, error) {
	stats := domain.SaleStats{
		Revenue:   decimal.Zero,
		Average:   decimal.Zero,
		ByPayment: make([]domain.PaymentMethodStat, 0, 4),
	}

	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*)::bigint, COALESCE(SUM(final_amount),0)
		FROM sales
		WHERE created_at >= $1 AND created_at < $2
	`, from, to).Scan(&stats.Count, &stats.Revenue)
	if err != nil {
		return stats, err
	}
	if stats.Count > 0 {
		stats.Average = stats.Revenue.Div(decimal.NewFromInt(stats.Count)).Round(2)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT payment_method, COUNT(*)::bigint, COALESCE(SUM(final_amount),0)
		FROM sales
		WHERE created_at >= $1 AND created_at < $2
		GROUP BY payment_method
		ORDER BY payment_method
	`, from, to)
	if err != nil {
		return stats, err
	}
	defer rows.Close()

	for rows.Next() {
		var row domain.PaymentMethodStat
		if err := rows.Scan(&row.Method, &row.Count, &row.Total); err != nil {
			return stats, err
		}
		stats.ByPayment = append(stats.ByPayment, row)
	}
	if err := rows.Err(); err != nil {
		return stats, err
	}
	return stats, nil
}

// dateWindow resolves the filter's date predicate with the fixed precedence
// explicit range > today > this-week > this-month.
func dateWindow(filter domain.SaleFilter, now time.Time) (time.Time, time.Time, bool) {
	if filter.From != nil || filter.To != nil {
		from := time.Time{}
		to := now.AddDate(100, 0, 0)
		if filter.From != nil {
			from = filter.From.UTC()
		}
		if filter.To != nil {
			to = filter.To.UTC()
		}
		return from, to, true
	}

	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	switch filter.Period {
	case domain.PeriodToday:
		return midnight, midnight.AddDate(0, 0, 1), true
	case domain.PeriodThisWeek:
		weekday := int(midnight.Weekday())
		if weekday == 0 {
			weekday = 7
		}
		start := midnight.AddDate(0, 0, -(weekday - 1))
		return start, start.AddDate(0, 0, 7), true
	case domain.PeriodThisMonth:
		start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
		return start, start.AddDate(0, 1, 0), true
	}
	return time.Time{}, time.Time{}, false
}

func uniqueProductIDs(items []domain.SaleItem) []string {
	set := make(map[string]struct{}, len(items))
	for _, item := range items {
		if item.ProductID == "" {
			continue
		}
		set[item.ProductID] = struct{}{}
	}
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	return ids
}
