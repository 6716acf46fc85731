// Package sqlite provides the durable RevisionStore backed by an embedded
// sqlite database.
package sqlite

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/halcyon-sec/driftwatch/pkg/store"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	_ "modernc.org/sqlite"
)

// Repository implements store.RevisionStore on sqlite.
type Repository struct {
	db *gorm.DB
}

// Open opens (or creates) the database at path.
func Open(path string) (*gorm.DB, error) {
	return gorm.Open(sqlite.Dialector{
		DriverName: "sqlite",
		DSN:        path,
	}, &gorm.Config{})
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) GetAccount(ctx context.Context, name string) (*store.Account, error) {
	var m AccountModel
	if err := r.db.WithContext(ctx).Where("name = ?", name).First(&m).Error; err != nil {
		return nil, translate(err)
	}
	return accountFromModel(m)
}

func (r *Repository) FindAccountByAlias(ctx context.Context, value string) (*store.Account, error) {
	var m AccountModel
	err := r.db.WithContext(ctx).Where("identifier = ?", value).First(&m).Error
	if err == nil {
		return accountFromModel(m)
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	// Aliases are a JSON list; sqlite has no native containment operator,
	// so fall back to scanning candidate rows.
	var rows []AccountModel
	like := "%" + value + "%"
	if err := r.db.WithContext(ctx).Where("aliases LIKE ?", like).Find(&rows).Error; err != nil {
		return nil, err
	}
	for _, row := range rows {
		acct, err := accountFromModel(row)
		if err != nil {
			continue
		}
		for _, alias := range acct.Aliases {
			if alias == value {
				return acct, nil
			}
		}
	}
	return nil, store.ErrNotFound
}

func (r *Repository) ListAccounts(ctx context.Context) ([]store.Account, error) {
	var rows []AccountModel
	if err := r.db.WithContext(ctx).Order("id").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]store.Account, 0, len(rows))
	for _, m := range rows {
		acct, err := accountFromModel(m)
		if err != nil {
			return nil, err
		}
		out = append(out, *acct)
	}
	return out, nil
}

func (r *Repository) UpsertAccount(ctx context.Context, acct *store.Account) error {
	aliases, err := json.Marshal(acct.Aliases)
	if err != nil {
		return err
	}
	m := AccountModel{
		ID:         acct.ID,
		Name:       acct.Name,
		Identifier: acct.Identifier,
		Active:     acct.Active,
		ThirdParty: acct.ThirdParty,
		Aliases:    string(aliases),
		Notes:      acct.Notes,
	}
	var existing AccountModel
	err = r.db.WithContext(ctx).Where("name = ?", acct.Name).First(&existing).Error
	switch {
	case err == nil:
		m.ID = existing.ID
		m.CreatedAt = existing.CreatedAt
		if err := r.db.WithContext(ctx).Save(&m).Error; err != nil {
			return err
		}
	case errors.Is(err, gorm.ErrRecordNotFound):
		if err := r.db.WithContext(ctx).Create(&m).Error; err != nil {
			return err
		}
	default:
		return err
	}
	acct.ID = m.ID
	return nil
}

func (r *Repository) GetItem(ctx context.Context, account string, tech store.Technology, name string) (*store.Item, error) {
	var m ItemModel
	err := r.db.WithContext(ctx).
		Where("account = ? AND technology = ? AND name = ?", account, string(tech), name).
		First(&m).Error
	if err != nil {
		return nil, translate(err)
	}
	it := itemFromModel(m)
	return &it, nil
}

func (r *Repository) ListItems(ctx context.Context, account string, tech store.Technology, includeInactive bool) ([]store.Item, error) {
	var rows []ItemModel
	q := r.db.WithContext(ctx).Where("account = ? AND technology = ?", account, string(tech))
	if !includeInactive {
		q = q.Where("latest_revision_id IN (SELECT id FROM item_revisions WHERE active = 1)")
	}
	if err := q.Order("id").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]store.Item, 0, len(rows))
	for _, m := range rows {
		out = append(out, itemFromModel(m))
	}
	return out, nil
}

func (r *Repository) LatestRevision(ctx context.Context, itemID uint) (*store.ItemRevision, error) {
	var m ItemRevisionModel
	err := r.db.WithContext(ctx).
		Where("item_id = ?", itemID).
		Order("id DESC").
		First(&m).Error
	if err != nil {
		return nil, translate(err)
	}
	return revisionFromModel(m)
}

func (r *Repository) AppendRevision(ctx context.Context, item *store.Item, config map[string]any, active bool, completeHash, durableHash string) (*store.ItemRevision, error) {
	cfg, err := json.Marshal(config)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}

	var rev ItemRevisionModel
	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		m := ItemModel{
			ID:         item.ID,
			Account:    item.Account,
			Technology: string(item.Technology),
			Name:       item.Name,
			Region:     item.Region,
			ResourceID: item.ResourceID,
		}
		if m.ID == 0 {
			var existing ItemModel
			err := tx.Where("account = ? AND technology = ? AND name = ?",
				m.Account, m.Technology, m.Name).First(&existing).Error
			switch {
			case err == nil:
				m = existing
			case errors.Is(err, gorm.ErrRecordNotFound):
				if err := tx.Create(&m).Error; err != nil {
					return err
				}
			default:
				return err
			}
		} else {
			var existing ItemModel
			if err := tx.First(&existing, m.ID).Error; err != nil {
				return err
			}
			m.CreatedAt = existing.CreatedAt
		}

		rev = ItemRevisionModel{
			ItemID:       m.ID,
			Config:       string(cfg),
			Active:       active,
			CompleteHash: completeHash,
			DurableHash:  durableHash,
			CreatedAt:    time.Now().UTC(),
		}
		if err := tx.Create(&rev).Error; err != nil {
			return err
		}

		m.LatestRevisionID = rev.ID
		m.CompleteHash = completeHash
		m.DurableHash = durableHash
		if err := tx.Save(&m).Error; err != nil {
			return err
		}

		item.ID = m.ID
		item.LatestRevisionID = rev.ID
		item.CompleteHash = completeHash
		item.DurableHash = durableHash
		return nil
	})
	if err != nil {
		return nil, err
	}
	return revisionFromModel(rev)
}

func (r *Repository) OrphanedItems(ctx context.Context, account string, tech store.Technology) ([]store.Item, error) {
	var rows []ItemModel
	err := r.db.WithContext(ctx).
		Where("account = ? AND technology = ? AND latest_revision_id = 0", account, string(tech)).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]store.Item, 0, len(rows))
	for _, m := range rows {
		out = append(out, itemFromModel(m))
	}
	return out, nil
}

func (r *Repository) IssuesFor(ctx context.Context, itemID uint) ([]store.Issue, error) {
	var rows []IssueModel
	if err := r.db.WithContext(ctx).Where("item_id = ?", itemID).Order("id").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]store.Issue, 0, len(rows))
	for _, m := range rows {
		out = append(out, store.Issue{
			ID:               m.ID,
			ItemID:           m.ItemID,
			Score:            m.Score,
			Category:         m.Category,
			Notes:            m.Notes,
			Justified:        m.Justified,
			Justification:    m.Justification,
			JustifiedAt:      m.JustifiedAt,
			SupportingItemID: m.SupportingItemID,
		})
	}
	return out, nil
}

func (r *Repository) ReplaceIssues(ctx context.Context, itemID uint, issues []store.Issue) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("item_id = ?", itemID).Delete(&IssueModel{}).Error; err != nil {
			return err
		}
		for _, iss := range issues {
			m := IssueModel{
				ItemID:           itemID,
				Score:            iss.Score,
				Category:         iss.Category,
				Notes:            iss.Notes,
				Justified:        iss.Justified,
				Justification:    iss.Justification,
				JustifiedAt:      iss.JustifiedAt,
				SupportingItemID: iss.SupportingItemID,
				CreatedAt:        time.Now().UTC(),
			}
			if err := tx.Create(&m).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *Repository) RecordException(ctx context.Context, rec *store.ExceptionRecord) error {
	m := ExceptionModel{
		Source:     rec.Source,
		Account:    rec.Account,
		Technology: string(rec.Technology),
		Region:     rec.Region,
		Name:       rec.Name,
		Message:    rec.Message,
		OccurredAt: rec.OccurredAt,
		ExpiresAt:  rec.ExpiresAt,
	}
	if err := r.db.WithContext(ctx).Create(&m).Error; err != nil {
		return err
	}
	rec.ID = m.ID
	return nil
}

func (r *Repository) ListExceptions(ctx context.Context, account string, tech store.Technology) ([]store.ExceptionRecord, error) {
	var rows []ExceptionModel
	err := r.db.WithContext(ctx).
		Where("account = ? AND technology = ?", account, string(tech)).
		Order("id").Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]store.ExceptionRecord, 0, len(rows))
	for _, m := range rows {
		out = append(out, store.ExceptionRecord{
			ID:         m.ID,
			Source:     m.Source,
			Account:    m.Account,
			Technology: store.Technology(m.Technology),
			Region:     m.Region,
			Name:       m.Name,
			Message:    m.Message,
			OccurredAt: m.OccurredAt,
			ExpiresAt:  m.ExpiresAt,
		})
	}
	return out, nil
}

func (r *Repository) PruneExceptions(ctx context.Context, now time.Time) (int, error) {
	res := r.db.WithContext(ctx).Where("expires_at <= ?", now).Delete(&ExceptionModel{})
	return int(res.RowsAffected), res.Error
}

func translate(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return store.ErrNotFound
	}
	return err
}

func accountFromModel(m AccountModel) (*store.Account, error) {
	var aliases []string
	if m.Aliases != "" {
		if err := json.Unmarshal([]byte(m.Aliases), &aliases); err != nil {
			return nil, fmt.Errorf("account %q aliases: %w", m.Name, err)
		}
	}
	return &store.Account{
		ID:         m.ID,
		Name:       m.Name,
		Identifier: m.Identifier,
		Active:     m.Active,
		ThirdParty: m.ThirdParty,
		Aliases:    aliases,
		Notes:      m.Notes,
	}, nil
}

func itemFromModel(m ItemModel) store.Item {
	return store.Item{
		ID:               m.ID,
		Account:          m.Account,
		Technology:       store.Technology(m.Technology),
		Name:             m.Name,
		Region:           m.Region,
		ResourceID:       m.ResourceID,
		LatestRevisionID: m.LatestRevisionID,
		CompleteHash:     m.CompleteHash,
		DurableHash:      m.DurableHash,
	}
}

func revisionFromModel(m ItemRevisionModel) (*store.ItemRevision, error) {
	var cfg map[string]any
	if m.Config != "" {
		if err := json.Unmarshal([]byte(m.Config), &cfg); err != nil {
			return nil, fmt.Errorf("revision %d config: %w", m.ID, err)
		}
	}
	return &store.ItemRevision{
		ID:           m.ID,
		ItemID:       m.ItemID,
		Config:       cfg,
		Active:       m.Active,
		CompleteHash: m.CompleteHash,
		DurableHash:  m.DurableHash,
		CreatedAt:    m.CreatedAt,
	}, nil
}
