package sqlite

import "time"

type AccountModel struct {
	ID         uint   `gorm:"primaryKey"`
	Name       string `gorm:"uniqueIndex"`
	Identifier string `gorm:"index"`
	Active     bool
	ThirdParty bool
	Aliases    string // JSON-encoded list
	Notes      string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (AccountModel) TableName() string { return "accounts" }

type ItemModel struct {
	ID         uint   `gorm:"primaryKey"`
	Account    string `gorm:"index:idx_item_identity,unique"`
	Technology string `gorm:"index:idx_item_identity,unique"`
	Name       string `gorm:"index:idx_item_identity,unique"`
	Region     string
	ResourceID string

	LatestRevisionID uint
	CompleteHash     string `gorm:"index"`
	DurableHash      string `gorm:"index"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (ItemModel) TableName() string { return "items" }

type ItemRevisionModel struct {
	ID           uint `gorm:"primaryKey"`
	ItemID       uint `gorm:"index"`
	Config       string
	Active       bool
	CompleteHash string
	DurableHash  string
	CreatedAt    time.Time
}

func (ItemRevisionModel) TableName() string { return "item_revisions" }

type IssueModel struct {
	ID       uint `gorm:"primaryKey"`
	ItemID   uint `gorm:"index"`
	Score    int
	Category string
	Notes    string

	Justified     bool
	Justification string
	JustifiedAt   *time.Time

	SupportingItemID uint

	CreatedAt time.Time
}

func (IssueModel) TableName() string { return "issues" }

type ExceptionModel struct {
	ID         uint   `gorm:"primaryKey"`
	Source     string
	Account    string `gorm:"index"`
	Technology string `gorm:"index"`
	Region     string
	Name       string
	Message    string
	OccurredAt time.Time
	ExpiresAt  time.Time `gorm:"index"`
}

func (ExceptionModel) TableName() string { return "exception_records" }
