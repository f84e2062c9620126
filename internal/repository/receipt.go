package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/receipts-worker/constants"
	"github.com/joseph-ayodele/receipts-worker/internal/common"
	"github.com/joseph-ayodele/receipts-worker/internal/entity"
)

const (
	foodHintBatch = 200
	foodHintLimit = 2000
)

var receiptColumns = []string{
	"id", "owner_id", "store", "source_hash", "schema_version", "file_name", "rel_path", "receipt_date",
	"currency", "total", "discount_total", "sgr_bottle_charge", "sgr_recovered_amount",
	"merchant_name", "merchant_address", "merchant_city", "merchant_cif",
	"status", "warnings", "ocr_engine", "raw_text", "created_at",
}

var itemColumns = []string{
	"id", "receipt_id", "owner_id", "line_no", "name", "quantity", "unit", "unit_price",
	"paid_amount", "discount", "needs_review", "is_food", "food_quality", "meta", "created_at",
}

// InsertResult reports what Insert did. A duplicate leaves the store
// untouched and carries the already stored row's id and total.
type InsertResult struct {
	ID            uuid.UUID
	Duplicate     bool
	ExistingTotal *float64
	Items         int
}

type ReceiptRepository interface {
	Insert(ctx context.Context, rec *entity.Receipt) (InsertResult, error)
	FoodHints(ctx context.Context, ownerID uuid.UUID, names []string) (map[string]entity.FoodHint, error)
	ListReceipts(ctx context.Context, ownerID uuid.UUID, fromDate, toDate *time.Time) ([]*entity.Receipt, error)
	ListItems(ctx context.Context, receiptIDs []uuid.UUID) (map[uuid.UUID][]entity.ReceiptItem, error)
	CountReceipts(ctx context.Context, ownerID uuid.UUID) (int, error)
}

type receiptRepository struct {
	db     *DB
	logger *slog.Logger
}

func NewReceiptRepository(db *DB, logger *slog.Logger) ReceiptRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &receiptRepository{
		db:     db,
		logger: logger,
	}
}

// Insert writes the receipt and its items in one transaction. The receipt
// row is inserted with ON CONFLICT DO NOTHING on (owner_id, store,
// source_hash); when no row comes back the receipt already exists and
// nothing is written.
func (r *receiptRepository) Insert(ctx context.Context, rec *entity.Receipt) (res InsertResult, err error) {
	if rec == nil || rec.Total == nil {
		return res, common.NewAppError("INVALID_RECEIPT", "receipt has no total", common.ErrInvalidInput)
	}
	if rec.OwnerID == uuid.Nil || rec.SourceHash == "" {
		return res, common.NewAppError("INVALID_RECEIPT", "owner id and source hash are required", common.ErrInvalidInput)
	}
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	rec.Normalize()
	now := time.Now().UTC()

	warnings, err := json.Marshal(rec.Processing.Warnings)
	if err != nil {
		return res, err
	}

	tx, err := r.db.sqlDB().BeginTx(ctx, nil)
	if err != nil {
		return res, fmt.Errorf("%w: begin: %v", common.ErrDatabase, err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var receiptDate any
	if rec.Timestamp != nil {
		receiptDate = rec.Timestamp.Time
	}
	q, args := r.db.builder().Insert("receipts").
		Columns(receiptColumns...).
		Values(
			rec.ID.String(), rec.OwnerID.String(), rec.Store, rec.SourceHash, rec.SchemaVersion, rec.Source.FileName, rec.Source.RelPath, receiptDate,
			rec.Currency, *rec.Total, rec.DiscountTotal, rec.SGRBottleCharge, rec.SGRRecoveredAmount,
			nullable(rec.Merchant.Name), nullable(rec.Merchant.Address), nullable(rec.Merchant.City), nullable(rec.Merchant.CIF),
			string(rec.Processing.Status), string(warnings), nullString(rec.Processing.OCREngine), nullString(rec.RawText), now,
		).
		OnConflict(entsql.ConflictColumns("owner_id", "store", "source_hash"), entsql.DoNothing()).
		Returning("id").
		Query()

	var id uuid.UUID
	scanErr := tx.QueryRowContext(ctx, q, args...).Scan(&id)
	switch {
	case errors.Is(scanErr, sql.ErrNoRows):
		res, err = r.existing(ctx, tx, rec)
		if err != nil {
			return res, err
		}
		if err = tx.Commit(); err != nil {
			return res, fmt.Errorf("%w: commit: %v", common.ErrDatabase, err)
		}
		r.logger.Debug("receipt already stored", "store", rec.Store, "hash", rec.SourceHash, "receipt_id", res.ID)
		return res, nil
	case scanErr != nil:
		r.logger.Error("failed to insert receipt", "store", rec.Store, "hash", rec.SourceHash, "error", scanErr)
		return res, fmt.Errorf("%w: insert receipt: %v", common.ErrDatabase, scanErr)
	}

	if len(rec.Items) > 0 {
		ins := r.db.builder().Insert("receipt_items").Columns(itemColumns...)
		for i := range rec.Items {
			it := &rec.Items[i]
			if it.ID == uuid.Nil {
				it.ID = uuid.New()
			}
			meta, mErr := json.Marshal(it.Meta)
			if mErr != nil {
				return res, mErr
			}
			var quality any
			if it.FoodFlag() && it.FoodQuality != nil {
				quality = string(*it.FoodQuality)
			}
			ins.Values(
				it.ID.String(), id.String(), rec.OwnerID.String(), i+1, it.Name, nullable(it.Quantity), nullable(it.Unit), nullable(it.UnitPrice),
				nullable(it.PaidAmount), it.Discount, it.NeedsReview, it.FoodFlag(), quality, string(meta), now,
			)
		}
		q, args = ins.Query()
		if _, err = tx.ExecContext(ctx, q, args...); err != nil {
			r.logger.Error("failed to insert receipt items", "store", rec.Store, "receipt_id", id, "error", err)
			return res, fmt.Errorf("%w: insert items: %v", common.ErrDatabase, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return res, fmt.Errorf("%w: commit: %v", common.ErrDatabase, err)
	}
	rec.ID = id
	rec.CreatedAt = now
	return InsertResult{ID: id, Items: len(rec.Items)}, nil
}

func (r *receiptRepository) existing(ctx context.Context, tx *sql.Tx, rec *entity.Receipt) (InsertResult, error) {
	q, args := r.db.builder().Select("id", "total").
		From(entsql.Table("receipts")).
		Where(entsql.And(
			entsql.EQ("owner_id", rec.OwnerID.String()),
			entsql.EQ("store", rec.Store),
			entsql.EQ("source_hash", rec.SourceHash),
		)).
		Limit(1).
		Query()
	var (
		id    uuid.UUID
		total float64
	)
	if err := tx.QueryRowContext(ctx, q, args...).Scan(&id, &total); err != nil {
		return InsertResult{}, fmt.Errorf("%w: lookup duplicate: %v", common.ErrDatabase, err)
	}
	return InsertResult{ID: id, Duplicate: true, ExistingTotal: &total}, nil
}

// FoodHints returns the most recent food classification per item name
// (trimmed, case-insensitive) among the owner's stored items.
func (r *receiptRepository) FoodHints(ctx context.Context, ownerID uuid.UUID, names []string) (map[string]entity.FoodHint, error) {
	hints := map[string]entity.FoodHint{}
	seen := map[string]struct{}{}
	var cleaned []string
	for _, n := range names {
		key := HintKey(n)
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		cleaned = append(cleaned, key)
	}

	for start := 0; start < len(cleaned); start += foodHintBatch {
		end := start + foodHintBatch
		if end > len(cleaned) {
			end = len(cleaned)
		}
		batch := make([]any, 0, end-start)
		for _, n := range cleaned[start:end] {
			batch = append(batch, n)
		}
		q, args := r.db.builder().Select("name", "is_food", "food_quality").
			From(entsql.Table("receipt_items")).
			Where(entsql.And(
				entsql.EQ("owner_id", ownerID.String()),
				entsql.In("LOWER(name)", batch...),
			)).
			OrderBy(entsql.Desc("created_at")).
			Limit(foodHintLimit).
			Query()

		rows, err := r.db.sqlDB().QueryContext(ctx, q, args...)
		if err != nil {
			r.logger.Error("failed to fetch food hints", "owner_id", ownerID, "error", err)
			return nil, fmt.Errorf("%w: food hints: %v", common.ErrDatabase, err)
		}
		for rows.Next() {
			var (
				name    string
				isFood  sql.NullBool
				quality sql.NullString
			)
			if err := rows.Scan(&name, &isFood, &quality); err != nil {
				rows.Close()
				return nil, fmt.Errorf("%w: food hints: %v", common.ErrDatabase, err)
			}
			key := HintKey(name)
			if _, ok := hints[key]; ok {
				continue
			}
			var h entity.FoodHint
			if isFood.Valid {
				v := isFood.Bool
				h.IsFood = &v
			}
			if quality.Valid {
				if q, ok := constants.CanonicalizeFoodQuality(quality.String); ok {
					h.FoodQuality = &q
				}
			}
			hints[key] = h
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, fmt.Errorf("%w: food hints: %v", common.ErrDatabase, err)
		}
	}
	return hints, nil
}

// HintKey is the lookup key for food hints.
func HintKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func (r *receiptRepository) ListReceipts(ctx context.Context, ownerID uuid.UUID, fromDate, toDate *time.Time) ([]*entity.Receipt, error) {
	preds := []*entsql.Predicate{entsql.EQ("owner_id", ownerID.String())}
	if fromDate != nil {
		preds = append(preds, entsql.GTE("receipt_date", *fromDate))
	}
	if toDate != nil {
		preds = append(preds, entsql.LTE("receipt_date", *toDate))
	}
	q, args := r.db.builder().Select(receiptColumns...).
		From(entsql.Table("receipts")).
		Where(entsql.And(preds...)).
		OrderBy(entsql.Asc("receipt_date"), entsql.Asc("created_at")).
		Query()

	rows, err := r.db.sqlDB().QueryContext(ctx, q, args...)
	if err != nil {
		r.logger.Error("failed to list receipts", "owner_id", ownerID, "error", err)
		return nil, fmt.Errorf("%w: list receipts: %v", common.ErrDatabase, err)
	}
	defer rows.Close()

	var result []*entity.Receipt
	for rows.Next() {
		rec, err := scanReceipt(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scan receipt: %v", common.ErrDatabase, err)
		}
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: list receipts: %v", common.ErrDatabase, err)
	}
	return result, nil
}

func scanReceipt(rows *sql.Rows) (*entity.Receipt, error) {
	var (
		rec                                   entity.Receipt
		receiptDate                           sql.NullTime
		total                                 float64
		name, address, city, cif, engine, raw sql.NullString
		status                                string
		warnings                              []byte
	)
	err := rows.Scan(
		&rec.ID, &rec.OwnerID, &rec.Store, &rec.SourceHash, &rec.SchemaVersion, &rec.Source.FileName, &rec.Source.RelPath, &receiptDate,
		&rec.Currency, &total, &rec.DiscountTotal, &rec.SGRBottleCharge, &rec.SGRRecoveredAmount,
		&name, &address, &city, &cif,
		&status, &warnings, &engine, &raw, &rec.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	rec.Source.StoreFolder = rec.Store
	rec.Total = &total
	if receiptDate.Valid {
		rec.Timestamp = entity.NewTimestamp(receiptDate.Time)
	}
	rec.Merchant = entity.Merchant{Name: fromNull(name), Address: fromNull(address), City: fromNull(city), CIF: fromNull(cif)}
	rec.Processing.Status = constants.ProcessingStatus(status)
	rec.Processing.OCREngine = engine.String
	rec.RawText = raw.String
	if len(warnings) > 0 {
		if err := json.Unmarshal(warnings, &rec.Processing.Warnings); err != nil {
			return nil, err
		}
	}
	rec.Normalize()
	return &rec, nil
}

func (r *receiptRepository) ListItems(ctx context.Context, receiptIDs []uuid.UUID) (map[uuid.UUID][]entity.ReceiptItem, error) {
	out := map[uuid.UUID][]entity.ReceiptItem{}
	if len(receiptIDs) == 0 {
		return out, nil
	}
	ids := make([]any, len(receiptIDs))
	for i, id := range receiptIDs {
		ids[i] = id.String()
	}
	q, args := r.db.builder().Select("id", "receipt_id", "name", "quantity", "unit", "unit_price", "paid_amount",
		"discount", "needs_review", "is_food", "food_quality", "meta", "created_at").
		From(entsql.Table("receipt_items")).
		Where(entsql.In("receipt_id", ids...)).
		OrderBy(entsql.Asc("receipt_id"), entsql.Asc("line_no")).
		Query()

	rows, err := r.db.sqlDB().QueryContext(ctx, q, args...)
	if err != nil {
		r.logger.Error("failed to list receipt items", "error", err)
		return nil, fmt.Errorf("%w: list items: %v", common.ErrDatabase, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			it                   entity.ReceiptItem
			receiptID            uuid.UUID
			qty, unitPrice, paid sql.NullFloat64
			unit, quality        sql.NullString
			isFood               bool
			meta                 []byte
		)
		if err := rows.Scan(&it.ID, &receiptID, &it.Name, &qty, &unit, &unitPrice, &paid,
			&it.Discount, &it.NeedsReview, &isFood, &quality, &meta, &it.CreatedAt); err != nil {
			return nil, fmt.Errorf("%w: scan item: %v", common.ErrDatabase, err)
		}
		it.Quantity = fromNullFloat(qty)
		it.UnitPrice = fromNullFloat(unitPrice)
		it.PaidAmount = fromNullFloat(paid)
		it.Unit = fromNull(unit)
		it.IsFood = &isFood
		if quality.Valid {
			q := constants.FoodQuality(quality.String)
			it.FoodQuality = &q
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &it.Meta); err != nil {
				return nil, fmt.Errorf("%w: decode item meta: %v", common.ErrDatabase, err)
			}
		}
		out[receiptID] = append(out[receiptID], it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: list items: %v", common.ErrDatabase, err)
	}
	return out, nil
}

func (r *receiptRepository) CountReceipts(ctx context.Context, ownerID uuid.UUID) (int, error) {
	q, args := r.db.builder().Select(entsql.Count("*")).
		From(entsql.Table("receipts")).
		Where(entsql.EQ("owner_id", ownerID.String())).
		Query()
	var n int
	if err := r.db.sqlDB().QueryRowContext(ctx, q, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("%w: count receipts: %v", common.ErrDatabase, err)
	}
	return n, nil
}

func fromNull(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}

func fromNullFloat(f sql.NullFloat64) *float64 {
	if !f.Valid {
		return nil
	}
	v := f.Float64
	return &v
}
