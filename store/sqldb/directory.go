package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/warp/offer-engine/offer"
)

// =============================================================================
// DIRECTORY - Properties, enquiries, users
// =============================================================================

func (s *Store) SaveProperty(ctx context.Context, p *offer.Property) error {
	_, err := s.exec(ctx, `
		INSERT INTO properties (id, name, house_type, price, seller_id)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			house_type = excluded.house_type,
			price = excluded.price,
			seller_id = excluded.seller_id
	`, string(p.ID), p.Name, p.HouseType, int64(p.Price), string(p.SellerID))
	if err != nil {
		return fmt.Errorf("failed to save property: %w", err)
	}
	return nil
}

func (qs queries) GetProperty(ctx context.Context, id offer.PropertyID) (*offer.Property, error) {
	var (
		p           offer.Property
		price       int64
		seller, pid string
	)
	err := qs.queryRow(ctx, `
		SELECT id, name, house_type, price, seller_id FROM properties WHERE id = ?
	`, string(id)).Scan(&pid, &p.Name, &p.HouseType, &price, &seller)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &offer.NotFoundError{Kind: "property", ID: string(id)}
	}
	if err != nil {
		return nil, err
	}
	p.ID = offer.PropertyID(pid)
	p.Price = offer.Amount(price)
	p.SellerID = offer.UserID(seller)
	return &p, nil
}

func (s *Store) SaveEnquiry(ctx context.Context, e *offer.Enquiry) error {
	var by sql.NullString
	if e.ApprovedBy != nil {
		by = nullString(string(*e.ApprovedBy))
	}
	_, err := s.exec(ctx, `
		INSERT INTO enquiries (id, buyer_id, property_id, approved, approved_by)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			buyer_id = excluded.buyer_id,
			property_id = excluded.property_id,
			approved = excluded.approved,
			approved_by = excluded.approved_by
	`, string(e.ID), string(e.BuyerID), string(e.PropertyID), boolInt(e.Approved), by)
	if err != nil {
		return fmt.Errorf("failed to save enquiry: %w", err)
	}
	return nil
}

func (qs queries) GetEnquiry(ctx context.Context, id offer.EnquiryID) (*offer.Enquiry, error) {
	var (
		eid, buyer, property string
		approved             int
		by                   sql.NullString
	)
	err := qs.queryRow(ctx, `
		SELECT id, buyer_id, property_id, approved, approved_by FROM enquiries WHERE id = ?
	`, string(id)).Scan(&eid, &buyer, &property, &approved, &by)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &offer.NotFoundError{Kind: "enquiry", ID: string(id)}
	}
	if err != nil {
		return nil, err
	}

	e := &offer.Enquiry{
		ID:         offer.EnquiryID(eid),
		BuyerID:    offer.UserID(buyer),
		PropertyID: offer.PropertyID(property),
		Approved:   approved != 0,
	}
	if by.Valid {
		u := offer.UserID(by.String)
		e.ApprovedBy = &u
	}
	return e, nil
}

func (qs queries) SetEnquiryApproved(ctx context.Context, id offer.EnquiryID, approved bool, by offer.UserID) error {
	var approvedBy sql.NullString
	if approved {
		approvedBy = nullString(string(by))
	}
	res, err := qs.exec(ctx, `
		UPDATE enquiries SET approved = ?, approved_by = ? WHERE id = ?
	`, boolInt(approved), approvedBy, string(id))
	if err != nil {
		return fmt.Errorf("failed to update enquiry: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return &offer.NotFoundError{Kind: "enquiry", ID: string(id)}
	}
	return nil
}

func (s *Store) SaveUser(ctx context.Context, u *offer.Party) error {
	_, err := s.exec(ctx, `
		INSERT INTO users (id, name, email, code)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			email = excluded.email,
			code = excluded.code
	`, string(u.ID), u.Name, u.Email, u.Code)
	if err != nil {
		return fmt.Errorf("failed to save user: %w", err)
	}
	return nil
}

func (qs queries) GetUser(ctx context.Context, id offer.UserID) (*offer.Party, error) {
	var (
		u   offer.Party
		uid string
	)
	err := qs.queryRow(ctx, `
		SELECT id, name, email, code FROM users WHERE id = ?
	`, string(id)).Scan(&uid, &u.Name, &u.Email, &u.Code)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &offer.NotFoundError{Kind: "user", ID: string(id)}
	}
	if err != nil {
		return nil, err
	}
	u.ID = offer.UserID(uid)
	return &u, nil
}
