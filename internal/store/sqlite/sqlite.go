// Package sqlite implements a SQLite-based persistence driver using GORM.
package sqlite

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	platformcfg "github.com/finsight/costgate/internal/platform/cfg"
	"github.com/finsight/costgate/internal/store"
)

func init() {
	store.Register("sqlite", NewDriver)
}

// Settings holds sqlite-specific options from the store config.
type Settings struct {
	// Filename is the database file name inside the data directory.
	Filename string `mapstructure:"filename"`

	// BusyTimeoutMS is the sqlite busy_timeout pragma value.
	BusyTimeoutMS int `mapstructure:"busy_timeout_ms"`
}

// ApplyDefaults implements cfg.Setter.
func (s *Settings) ApplyDefaults() {
	if s.Filename == "" {
		s.Filename = "costgate.db"
	}
	if s.BusyTimeoutMS <= 0 {
		s.BusyTimeoutMS = 5000
	}
}

// Driver implements the store.Driver interface using SQLite via GORM.
type Driver struct {
	dataDir  string
	settings Settings
	db       *gorm.DB
}

// NewDriver creates a new SQLite driver instance.
func NewDriver(cfg *store.DriverConfig) (store.Driver, error) {
	if cfg.DataDir == "" {
		return nil, fmt.Errorf("data_dir is required for sqlite driver")
	}

	var settings Settings
	if err := platformcfg.Decode(cfg.Settings, &settings); err != nil {
		return nil, fmt.Errorf("invalid sqlite settings: %w", err)
	}

	return &Driver{
		dataDir:  cfg.DataDir,
		settings: settings,
	}, nil
}

// Name returns the driver name.
func (d *Driver) Name() string {
	return "sqlite"
}

// Init initializes the SQLite database and runs AutoMigrate.
func (d *Driver) Init(ctx context.Context) error {
	dbPath := filepath.Join(d.dataDir, d.settings.Filename)
	dsn := fmt.Sprintf("%s?_busy_timeout=%d", dbPath, d.settings.BusyTimeoutMS)

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	d.db = db

	if err := db.AutoMigrate(
		&store.Organization{},
		&store.Member{},
		&store.Invite{},
	); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (d *Driver) Close() error {
	if d.db == nil {
		return nil
	}
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// CreateOrganization creates a new organization.
func (d *Driver) CreateOrganization(ctx context.Context, org *store.Organization) error {
	if org.ID == "" {
		org.ID = uuid.New().String()
	}
	if org.CreatedAt == 0 {
		org.CreatedAt = time.Now().Unix()
	}
	result := d.db.WithContext(ctx).Create(org)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrDuplicatedKey) {
			return store.ErrAlreadyExists
		}
		return result.Error
	}
	return nil
}

// GetOrganizationBySlug retrieves an organization by slug.
func (d *Driver) GetOrganizationBySlug(ctx context.Context, slug string) (*store.Organization, error) {
	var org store.Organization
	result := d.db.WithContext(ctx).First(&org, "slug = ?", slug)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, store.ErrNotFound
		}
		return nil, result.Error
	}
	return &org, nil
}

// GetOrganization retrieves an organization by id.
func (d *Driver) GetOrganization(ctx context.Context, id string) (*store.Organization, error) {
	var org store.Organization
	result := d.db.WithContext(ctx).First(&org, "id = ?", id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, store.ErrNotFound
		}
		return nil, result.Error
	}
	return &org, nil
}

// UpdateOrganization updates an existing organization.
func (d *Driver) UpdateOrganization(ctx context.Context, org *store.Organization) error {
	org.UpdatedAt = time.Now().Unix()
	return d.db.WithContext(ctx).Save(org).Error
}

// UpsertMember creates or replaces a membership row.
func (d *Driver) UpsertMember(ctx context.Context, m *store.Member) error {
	now := time.Now().Unix()
	if m.CreatedAt == 0 {
		m.CreatedAt = now
	}
	m.UpdatedAt = now
	return d.db.WithContext(ctx).Save(m).Error
}

// GetMember retrieves a membership row.
func (d *Driver) GetMember(ctx context.Context, orgID, userID string) (*store.Member, error) {
	var m store.Member
	result := d.db.WithContext(ctx).First(&m, "org_id = ? AND user_id = ?", orgID, userID)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, store.ErrNotFound
		}
		return nil, result.Error
	}
	return &m, nil
}

// ListMembers returns all membership rows for an organization.
func (d *Driver) ListMembers(ctx context.Context, orgID string) ([]*store.Member, error) {
	var members []*store.Member
	result := d.db.WithContext(ctx).Find(&members, "org_id = ?", orgID)
	if result.Error != nil {
		return nil, result.Error
	}
	return members, nil
}

// CountActiveMembers counts active membership rows for an organization.
func (d *Driver) CountActiveMembers(ctx context.Context, orgID string) (int, error) {
	var count int64
	result := d.db.WithContext(ctx).Model(&store.Member{}).
		Where("org_id = ? AND status = ?", orgID, store.MemberActive).
		Count(&count)
	if result.Error != nil {
		return 0, result.Error
	}
	return int(count), nil
}

// CreateInvite persists a pending invite inside a transaction that enforces
// the pending-uniqueness and seat-limit invariants.
func (d *Driver) CreateInvite(ctx context.Context, invite *store.Invite, seatLimit int) error {
	if invite.ID == "" {
		invite.ID = uuid.New().String()
	}
	if invite.CreatedAt == 0 {
		invite.CreatedAt = time.Now().Unix()
	}
	if invite.Status == "" {
		invite.Status = store.InvitePending
	}
	invite.Email = strings.ToLower(invite.Email)

	return d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var pending int64
		if err := tx.Model(&store.Invite{}).
			Where("org_id = ? AND status = ? AND LOWER(email) = ?",
				invite.OrgID, store.InvitePending, invite.Email).
			Count(&pending).Error; err != nil {
			return err
		}
		if pending > 0 {
			return store.ErrAlreadyExists
		}

		if seatLimit > 0 {
			var activeMembers, pendingInvites int64
			if err := tx.Model(&store.Member{}).
				Where("org_id = ? AND status = ?", invite.OrgID, store.MemberActive).
				Count(&activeMembers).Error; err != nil {
				return err
			}
			if err := tx.Model(&store.Invite{}).
				Where("org_id = ? AND status = ?", invite.OrgID, store.InvitePending).
				Count(&pendingInvites).Error; err != nil {
				return err
			}
			if int(activeMembers+pendingInvites) >= seatLimit {
				return store.ErrSeatLimit
			}
		}

		if err := tx.Create(invite).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return store.ErrAlreadyExists
			}
			return err
		}
		return nil
	})
}

// GetInvite retrieves an invite by id.
func (d *Driver) GetInvite(ctx context.Context, id string) (*store.Invite, error) {
	var inv store.Invite
	result := d.db.WithContext(ctx).First(&inv, "id = ?", id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, store.ErrNotFound
		}
		return nil, result.Error
	}
	return &inv, nil
}

// GetInviteByToken retrieves an invite by its current token.
func (d *Driver) GetInviteByToken(ctx context.Context, token string) (*store.Invite, error) {
	var inv store.Invite
	result := d.db.WithContext(ctx).First(&inv, "token = ?", token)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, store.ErrNotFound
		}
		return nil, result.Error
	}
	return &inv, nil
}

// GetPendingInviteByEmail retrieves the pending invite for an email, if any.
func (d *Driver) GetPendingInviteByEmail(ctx context.Context, orgID, email string) (*store.Invite, error) {
	var inv store.Invite
	result := d.db.WithContext(ctx).
		First(&inv, "org_id = ? AND status = ? AND LOWER(email) = ?",
			orgID, store.InvitePending, strings.ToLower(email))
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, store.ErrNotFound
		}
		return nil, result.Error
	}
	return &inv, nil
}

// ListInvites returns all invites for an organization.
func (d *Driver) ListInvites(ctx context.Context, orgID string) ([]*store.Invite, error) {
	var invites []*store.Invite
	result := d.db.WithContext(ctx).Find(&invites, "org_id = ?", orgID)
	if result.Error != nil {
		return nil, result.Error
	}
	return invites, nil
}

// CountPendingInvites counts pending invites for an organization.
func (d *Driver) CountPendingInvites(ctx context.Context, orgID string) (int, error) {
	var count int64
	result := d.db.WithContext(ctx).Model(&store.Invite{}).
		Where("org_id = ? AND status = ?", orgID, store.InvitePending).
		Count(&count)
	if result.Error != nil {
		return 0, result.Error
	}
	return int(count), nil
}

// UpdateInvite updates an existing invite.
func (d *Driver) UpdateInvite(ctx context.Context, invite *store.Invite) error {
	invite.UpdatedAt = time.Now().Unix()
	return d.db.WithContext(ctx).Save(invite).Error
}

var _ store.Driver = (*Driver)(nil)
