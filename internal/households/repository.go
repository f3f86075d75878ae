package households

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github.com/giftdrive/casework/internal/platform/db"
	"github.com/giftdrive/casework/internal/shared"
)

const householdColumns = `id, nominator_id, name_first, name_middle, name_last, dob, race, gender, email, last4ssn,
preferred_contact_method, draft, case_number, nomination_email_sent, reviewed, approved, reason,
deleted_at, created_at, updated_at`

const childColumns = `name_first, name_middle, name_last, dob, gender, school_id, bike_want, bike_size,
bike_style, clothes_want, clothes_size_shirt, clothes_size_pants, shoe_size, favourite_colour, interests,
additional_ideas`

// Repository persists households and their address, phones and children.
type Repository struct {
	pool   *pgxpool.Pool
	cipher *FieldCipher
}

// NewRepository constructs a repository. Sensitive columns are sealed with cipher.
func NewRepository(pool *pgxpool.Pool, cipher *FieldCipher) *Repository {
	return &Repository{pool: pool, cipher: cipher}
}

// Create inserts h with its associations and returns the stored household.
func (r *Repository) Create(ctx context.Context, h *Household) (*Household, error) {
	dob, email, ssn, err := r.cipher.seal(h)
	if err != nil {
		return nil, fmt.Errorf("households: seal: %w", err)
	}
	var id int64
	err = db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if err := tx.QueryRow(ctx, `INSERT INTO households (nominator_id, name_first, name_middle, name_last, dob, race,
gender, email, last4ssn, preferred_contact_method, case_number)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
RETURNING id`,
			h.NominatorID, h.NameFirst, h.NameMiddle, h.NameLast, dob, h.Race, h.Gender, email, ssn,
			h.PreferredContactMethod, h.CaseNumber).Scan(&id); err != nil {
			return err
		}
		return writeAssociations(ctx, tx, id, h)
	})
	if err != nil {
		return nil, fmt.Errorf("households: create: %w", err)
	}
	return r.FindByID(ctx, id)
}

// Update rewrites the editable fields of h and replaces its associations.
func (r *Repository) Update(ctx context.Context, h *Household) error {
	dob, email, ssn, err := r.cipher.seal(h)
	if err != nil {
		return fmt.Errorf("households: seal: %w", err)
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `UPDATE households SET
name_first = $2, name_middle = $3, name_last = $4, dob = $5, race = $6, gender = $7, email = $8,
last4ssn = $9, preferred_contact_method = $10, case_number = $11, updated_at = NOW()
WHERE id = $1 AND deleted_at IS NULL`,
			h.ID, h.NameFirst, h.NameMiddle, h.NameLast, dob, h.Race, h.Gender, email, ssn,
			h.PreferredContactMethod, h.CaseNumber)
		if err != nil {
			return fmt.Errorf("households: update %d: %w", h.ID, err)
		}
		if tag.RowsAffected() == 0 {
			return shared.ErrNotFound
		}
		for _, stmt := range []string{
			`DELETE FROM household_addresses WHERE household_id = $1`,
			`DELETE FROM household_phones WHERE household_id = $1`,
			`DELETE FROM children WHERE household_id = $1`,
		} {
			if _, err := tx.Exec(ctx, stmt, h.ID); err != nil {
				return fmt.Errorf("households: clear associations %d: %w", h.ID, err)
			}
		}
		return writeAssociations(ctx, tx, h.ID, h)
	})
}

// SaveStatus persists the workflow flags of h.
func (r *Repository) SaveStatus(ctx context.Context, h *Household) error {
	tag, err := r.pool.Exec(ctx, `UPDATE households SET
draft = $2, nomination_email_sent = $3, reviewed = $4, approved = $5, reason = $6, updated_at = NOW()
WHERE id = $1 AND deleted_at IS NULL`,
		h.ID, h.Draft, h.NominationEmailSent, h.Reviewed, h.Approved, h.Reason)
	if err != nil {
		return fmt.Errorf("households: save status %d: %w", h.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// SoftDelete stamps deleted_at.
func (r *Repository) SoftDelete(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `UPDATE households SET deleted_at = NOW(), updated_at = NOW()
WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return fmt.Errorf("households: delete %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// FindByID loads a live household with its associations or shared.ErrNotFound.
func (r *Repository) FindByID(ctx context.Context, id int64) (*Household, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+householdColumns+` FROM households WHERE id = $1 AND deleted_at IS NULL`, id)
	h, err := r.scanHousehold(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, shared.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		addr, err := loadAddress(gctx, r.pool, id)
		h.Address = addr
		return err
	})
	g.Go(func() error {
		phones, err := loadPhones(gctx, r.pool, []int64{id})
		h.Phones = phones[id]
		return err
	})
	g.Go(func() error {
		children, err := loadChildren(gctx, r.pool, id)
		h.Children = children
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("households: load %d: %w", id, err)
	}
	return h, nil
}

// List returns one page of live households visible in scope, newest first,
// with their phones, and the total count.
func (r *Repository) List(ctx context.Context, scope Scope, page shared.Page) ([]Household, int, error) {
	where := `WHERE deleted_at IS NULL AND ($1 OR nominator_id = $2)`

	var (
		total int
		items []Household
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := r.pool.QueryRow(gctx, `SELECT COUNT(*) FROM households `+where, scope.All, scope.NominatorID).Scan(&total)
		if err != nil {
			return fmt.Errorf("households: count: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		rows, err := r.pool.Query(gctx, `SELECT `+householdColumns+` FROM households `+where+`
ORDER BY created_at DESC, id DESC LIMIT $3 OFFSET $4`, scope.All, scope.NominatorID, page.Limit(), page.Offset())
		if err != nil {
			return fmt.Errorf("households: list: %w", err)
		}
		defer rows.Close()
		items = make([]Household, 0, page.Limit())
		for rows.Next() {
			h, err := r.scanHousehold(rows)
			if err != nil {
				return err
			}
			items = append(items, *h)
		}
		return rows.Err()
	})
	if err := g.Wait(); err != nil {
		return nil, 0, err
	}

	if len(items) == 0 {
		return items, total, nil
	}
	ids := make([]int64, len(items))
	for i := range items {
		ids[i] = items[i].ID
	}
	phones, err := loadPhones(ctx, r.pool, ids)
	if err != nil {
		return nil, 0, fmt.Errorf("households: list phones: %w", err)
	}
	for i := range items {
		items[i].Phones = phones[items[i].ID]
	}
	return items, total, nil
}

func (r *Repository) scanHousehold(row pgx.Row) (*Household, error) {
	var (
		h               Household
		dob, email, ssn string
	)
	err := row.Scan(&h.ID, &h.NominatorID, &h.NameFirst, &h.NameMiddle, &h.NameLast, &dob, &h.Race,
		&h.Gender, &email, &ssn, &h.PreferredContactMethod, &h.Draft, &h.CaseNumber,
		&h.NominationEmailSent, &h.Reviewed, &h.Approved, &h.Reason, &h.DeletedAt, &h.CreatedAt, &h.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := r.cipher.open(&h, dob, email, ssn); err != nil {
		return nil, fmt.Errorf("households: open %d: %w", h.ID, err)
	}
	return &h, nil
}

func writeAssociations(ctx context.Context, tx db.DBTX, id int64, h *Household) error {
	if a := h.Address; a != nil {
		if _, err := tx.Exec(ctx, `INSERT INTO household_addresses (household_id, street, street_2, city, state, zip)
VALUES ($1, $2, $3, $4, $5, $6)`, id, a.Street, a.Street2, a.City, a.State, a.Zip); err != nil {
			return fmt.Errorf("insert address: %w", err)
		}
	}
	for _, p := range h.Phones {
		if _, err := tx.Exec(ctx, `INSERT INTO household_phones (household_id, type, number) VALUES ($1, $2, $3)`,
			id, p.Type, p.Number); err != nil {
			return fmt.Errorf("insert phone: %w", err)
		}
	}
	for _, c := range h.Children {
		if _, err := tx.Exec(ctx, `INSERT INTO children (household_id, `+childColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
			id, c.NameFirst, c.NameMiddle, c.NameLast, c.DOB, c.Gender, c.SchoolID, c.BikeWant, c.BikeSize,
			c.BikeStyle, c.ClothesWant, c.ClothesSizeShirt, c.ClothesSizePants, c.ShoeSize, c.FavouriteColor,
			c.Interests, c.AdditionalIdeas); err != nil {
			return fmt.Errorf("insert child: %w", err)
		}
	}
	return nil
}

func loadAddress(ctx context.Context, q db.DBTX, id int64) (*Address, error) {
	var a Address
	err := q.QueryRow(ctx, `SELECT street, street_2, city, state, zip FROM household_addresses WHERE household_id = $1`, id).
		Scan(&a.Street, &a.Street2, &a.City, &a.State, &a.Zip)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func loadPhones(ctx context.Context, q db.DBTX, ids []int64) (map[int64][]Phone, error) {
	rows, err := q.Query(ctx, `SELECT household_id, type, number FROM household_phones
WHERE household_id = ANY($1) ORDER BY id`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[int64][]Phone, len(ids))
	for rows.Next() {
		var (
			householdID int64
			p           Phone
		)
		if err := rows.Scan(&householdID, &p.Type, &p.Number); err != nil {
			return nil, err
		}
		out[householdID] = append(out[householdID], p)
	}
	return out, rows.Err()
}

func loadChildren(ctx context.Context, q db.DBTX, id int64) ([]Child, error) {
	rows, err := q.Query(ctx, `SELECT `+childColumns+` FROM children WHERE household_id = $1 ORDER BY id`, id)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Child, error) {
		var c Child
		err := row.Scan(&c.NameFirst, &c.NameMiddle, &c.NameLast, &c.DOB, &c.Gender, &c.SchoolID, &c.BikeWant,
			&c.BikeSize, &c.BikeStyle, &c.ClothesWant, &c.ClothesSizeShirt, &c.ClothesSizePants, &c.ShoeSize,
			&c.FavouriteColor, &c.Interests, &c.AdditionalIdeas)
		return c, err
	})
}
