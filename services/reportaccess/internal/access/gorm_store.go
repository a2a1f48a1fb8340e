package access

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

// --- Persistence Models ---

type reportModel struct {
	Key       string    `gorm:"primaryKey;column:report_key;size:128"`
	CreatedAt time.Time `gorm:"column:created_at;not null"`
}

func (reportModel) TableName() string { return "reports" }

type policyModel struct {
	ReportKey          string     `gorm:"primaryKey;column:report_key;size:128"`
	IsPublic           bool       `gorm:"column:is_public;not null"`
	ExpiresAt          *time.Time `gorm:"column:expires_at"`
	AccessPassword     *string    `gorm:"column:access_password"`
	AllowedEmails      []string   `gorm:"column:allowed_emails;serializer:json"`
	MaxAccessCount     *int64     `gorm:"column:max_access_count"`
	CurrentAccessCount int64      `gorm:"column:current_access_count;not null;default:0"`
	LastAccessedAt     *time.Time `gorm:"column:last_accessed_at"`
	UpdatedAt          time.Time  `gorm:"column:updated_at;not null"`
}

func (policyModel) TableName() string { return "report_access_policies" }

func (m *policyModel) toPolicy() *Policy {
	p := &Policy{
		IsPublic:           m.IsPublic,
		ExpiresAt:          utcPtr(m.ExpiresAt),
		AccessPassword:     m.AccessPassword,
		MaxAccessCount:     m.MaxAccessCount,
		CurrentAccessCount: m.CurrentAccessCount,
		LastAccessedAt:     utcPtr(m.LastAccessedAt),
	}
	if len(m.AllowedEmails) > 0 {
		p.AllowedEmails = m.AllowedEmails
	}
	return p
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

// GormStore keeps reports and policies in two SQL tables (postgres or sqlite).
type GormStore struct {
	db *gorm.DB
}

var _ Store = (*GormStore)(nil)

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// Migrate creates or updates the tables.
func (s *GormStore) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(&reportModel{}, &policyModel{}); err != nil {
		return unavailable("migrate", err)
	}
	return nil
}

func (s *GormStore) DB() *gorm.DB {
	return s.db
}

func (s *GormStore) CreateReport(ctx context.Context, reportKey string) error {
	if err := validateReportKey(reportKey); err != nil {
		return err
	}
	m := reportModel{Key: reportKey, CreatedAt: time.Now().UTC()}
	err := s.db.WithContext(ctx).Where("report_key = ?", reportKey).FirstOrCreate(&m).Error
	if err != nil {
		return unavailable("create report", err)
	}
	return nil
}

func (s *GormStore) DeleteReport(ctx context.Context, reportKey string) error {
	if err := validateReportKey(reportKey); err != nil {
		return err
	}
	return s.tx(ctx, "delete report", func(tx *gorm.DB) error {
		if err := tx.Where("report_key = ?", reportKey).Delete(&policyModel{}).Error; err != nil {
			return err
		}
		res := tx.Where("report_key = ?", reportKey).Delete(&reportModel{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

func (s *GormStore) ReportExists(ctx context.Context, reportKey string) (bool, error) {
	if err := validateReportKey(reportKey); err != nil {
		return false, err
	}
	ok, err := s.reportExists(s.db.WithContext(ctx), reportKey)
	if err != nil {
		return false, unavailable("report exists", err)
	}
	return ok, nil
}

func (s *GormStore) Load(ctx context.Context, reportKey string) (*Policy, error) {
	if err := validateReportKey(reportKey); err != nil {
		return nil, err
	}
	var out *Policy
	err := s.tx(ctx, "load", func(tx *gorm.DB) error {
		ok, err := s.reportExists(tx, reportKey)
		if err != nil {
			return err
		}
		if !ok {
			return ErrNotFound
		}
		var m policyModel
		err = tx.Where("report_key = ?", reportKey).Take(&m).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		out = m.toPolicy()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *GormStore) Save(ctx context.Context, reportKey string, p *Policy) error {
	if err := validateReportKey(reportKey); err != nil {
		return err
	}
	if p == nil {
		return ErrNoPolicy
	}
	return s.tx(ctx, "save", func(tx *gorm.DB) error {
		ok, err := s.reportExists(tx, reportKey)
		if err != nil {
			return err
		}
		if !ok {
			return ErrNotFound
		}
		m := policyModel{
			ReportKey:          reportKey,
			IsPublic:           p.IsPublic,
			ExpiresAt:          utcPtr(p.ExpiresAt),
			AccessPassword:     p.AccessPassword,
			AllowedEmails:      p.AllowedEmails,
			MaxAccessCount:     p.MaxAccessCount,
			CurrentAccessCount: p.CurrentAccessCount,
			UpdatedAt:          time.Now().UTC(),
		}
		if err := tx.Where("report_key = ?", reportKey).Delete(&policyModel{}).Error; err != nil {
			return err
		}
		return tx.Create(&m).Error
	})
}

// IncrementAccess relies on a single conditional UPDATE; the quota check and
// the increment are evaluated by the database in one statement.
func (s *GormStore) IncrementAccess(ctx context.Context, reportKey string, now time.Time) (int64, error) {
	if err := validateReportKey(reportKey); err != nil {
		return 0, err
	}
	var count int64
	err := s.tx(ctx, "increment", func(tx *gorm.DB) error {
		res := tx.Model(&policyModel{}).
			Where("report_key = ? AND (max_access_count IS NULL OR current_access_count < max_access_count)", reportKey).
			Updates(map[string]interface{}{
				"current_access_count": gorm.Expr("current_access_count + 1"),
				"last_accessed_at":     now.UTC(),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return s.explainNoIncrement(tx, reportKey)
		}
		var m policyModel
		if err := tx.Select("current_access_count").Where("report_key = ?", reportKey).Take(&m).Error; err != nil {
			return err
		}
		count = m.CurrentAccessCount
		return nil
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (s *GormStore) explainNoIncrement(tx *gorm.DB, reportKey string) error {
	ok, err := s.reportExists(tx, reportKey)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	var n int64
	if err := tx.Model(&policyModel{}).Where("report_key = ?", reportKey).Count(&n).Error; err != nil {
		return err
	}
	if n == 0 {
		return ErrNoPolicy
	}
	return ErrQuotaExceeded
}

func (s *GormStore) Remove(ctx context.Context, reportKey string) error {
	if err := validateReportKey(reportKey); err != nil {
		return err
	}
	return s.tx(ctx, "remove", func(tx *gorm.DB) error {
		ok, err := s.reportExists(tx, reportKey)
		if err != nil {
			return err
		}
		if !ok {
			return ErrNotFound
		}
		return tx.Where("report_key = ?", reportKey).Delete(&policyModel{}).Error
	})
}

func (s *GormStore) reportExists(db *gorm.DB, reportKey string) (bool, error) {
	var n int64
	if err := db.Model(&reportModel{}).Where("report_key = ?", reportKey).Count(&n).Error; err != nil {
		return false, err
	}
	return n > 0, nil
}

// tx runs fn in a transaction. Domain sentinels pass through untouched;
// anything else is a backend fault.
func (s *GormStore) tx(ctx context.Context, op string, fn func(tx *gorm.DB) error) error {
	err := s.db.WithContext(ctx).Transaction(fn)
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrNoPolicy) || errors.Is(err, ErrQuotaExceeded) {
		return err
	}
	return unavailable(op, err)
}

// Stats aggregates the same numbers InMemoryStore.Stats reports.
func (s *GormStore) Stats(ctx context.Context) (InMemoryStats, error) {
	var st InMemoryStats
	db := s.db.WithContext(ctx)

	var reports int64
	if err := db.Model(&reportModel{}).Count(&reports).Error; err != nil {
		return st, unavailable("stats", err)
	}
	var agg struct {
		Policies      int64
		QuotaPolicies int64
		Recorded      int64
	}
	err := db.Model(&policyModel{}).
		Select("COUNT(*) AS policies, COUNT(max_access_count) AS quota_policies, COALESCE(SUM(current_access_count), 0) AS recorded").
		Scan(&agg).Error
	if err != nil {
		return st, unavailable("stats", err)
	}
	st.Reports = int(reports)
	st.Policies = int(agg.Policies)
	st.QuotaPolicies = int(agg.QuotaPolicies)
	st.RecordedAccess = agg.Recorded
	return st, nil
}
