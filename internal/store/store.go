package store

import (
	"errors"
	"fmt"
	"strings"

	"preptracker/internal/model"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
)

var (
	// ErrNotFound 记录不存在或不属于当前用户（两者不作区分）。
	ErrNotFound = errors.New("record not found")
	// ErrCompanyReference 任务引用的公司不存在或不属于当前用户。
	ErrCompanyReference = errors.New("company not found or not permitted")
	// ErrEmailTaken 邮箱已被注册。
	ErrEmailTaken = errors.New("email already registered")
)

// Store 基于 GORM 实现所有按用户限定范围的持久化操作。
type Store struct {
	db *gorm.DB
}

// New 使用已打开的数据库连接创建 Store。
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// DB 返回底层连接，用于健康检查与关闭。
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Open 根据驱动名打开数据库连接。
//
// 支持 mysql / postgres / sqlite。外键约束不在迁移时创建，
// 删除公司时任务引用的置空由 DeleteCompany 在事务中完成。
func Open(driver, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	isSQLite := false
	switch strings.ToLower(driver) {
	case "", "mysql":
		dialector = mysql.Open(dsn)
	case "postgres", "postgresql":
		dialector = postgres.Open(dsn)
	case "sqlite", "sqlite3":
		dialector = sqlite.Open(dsn)
		isSQLite = true
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:                                   gormLogger.Default.LogMode(gormLogger.Silent), // 关闭GORM调试日志
		TranslateError:                           true,
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}

	if isSQLite {
		// SQLite 只允许单写连接，内存库也依赖同一连接共享数据。
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}
	return db, nil
}

// Migrate 执行自动迁移。
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&model.User{}, &model.Company{}, &model.Task{}); err != nil {
		return err
	}
	return backfillTaskKeys(db)
}

// backfillTaskKeys 为折叠列出现之前写入的任务补齐数据。
func backfillTaskKeys(db *gorm.DB) error {
	var batch []model.Task
	fresh := db.Session(&gorm.Session{NewDB: true})
	res := db.Where("type_key = ? AND task_type <> ?", "", "").
		FindInBatches(&batch, 200, func(_ *gorm.DB, _ int) error {
			for i := range batch {
				t := &batch[i]
				desc := ""
				if t.Description != nil {
					desc = model.FoldText(*t.Description)
				}
				err := fresh.Model(&model.Task{}).Where("id = ?", t.ID).UpdateColumns(map[string]interface{}{
					"type_key":        model.FoldText(t.Type),
					"title_key":       model.FoldText(t.Title),
					"description_key": desc,
				}).Error
				if err != nil {
					return err
				}
			}
			return nil
		})
	if res.Error != nil {
		return fmt.Errorf("backfill task keys: %w", res.Error)
	}
	return nil
}

// ownedBy 限定记录属于指定用户。
func ownedBy(userID string) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("user_id = ?", userID)
	}
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
