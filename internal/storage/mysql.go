package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"ai-ats-go/internal/config"
	"ai-ats-go/internal/storage/models"
	"ai-ats-go/internal/types"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/datatypes"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

var mysqlTracer = otel.Tracer("ai-ats-go/storage/mysql")

type gormSpanKey struct{}

// gormTracePlugin 为每条 GORM 语句开启一个客户端 span
type gormTracePlugin struct {
	dbName string
}

func (gormTracePlugin) Name() string { return "ats:otel" }

func (p gormTracePlugin) Initialize(db *gorm.DB) error {
	cb := db.Callback()
	type stage struct {
		op, anchor string
		before     func(name string, fn func(*gorm.DB)) error
		after      func(name string, fn func(*gorm.DB)) error
	}
	stages := []stage{
		{"CREATE", "gorm:create",
			func(n string, fn func(*gorm.DB)) error { return cb.Create().Before("gorm:create").Register(n, fn) },
			func(n string, fn func(*gorm.DB)) error { return cb.Create().After("gorm:create").Register(n, fn) }},
		{"SELECT", "gorm:query",
			func(n string, fn func(*gorm.DB)) error { return cb.Query().Before("gorm:query").Register(n, fn) },
			func(n string, fn func(*gorm.DB)) error { return cb.Query().After("gorm:query").Register(n, fn) }},
		{"UPDATE", "gorm:update",
			func(n string, fn func(*gorm.DB)) error { return cb.Update().Before("gorm:update").Register(n, fn) },
			func(n string, fn func(*gorm.DB)) error { return cb.Update().After("gorm:update").Register(n, fn) }},
		{"DELETE", "gorm:delete",
			func(n string, fn func(*gorm.DB)) error { return cb.Delete().Before("gorm:delete").Register(n, fn) },
			func(n string, fn func(*gorm.DB)) error { return cb.Delete().After("gorm:delete").Register(n, fn) }},
		{"ROW", "gorm:row",
			func(n string, fn func(*gorm.DB)) error { return cb.Row().Before("gorm:row").Register(n, fn) },
			func(n string, fn func(*gorm.DB)) error { return cb.Row().After("gorm:row").Register(n, fn) }},
	}
	for _, st := range stages {
		if err := st.before("ats:otel_start_"+st.op, p.startSpan(st.op)); err != nil {
			return fmt.Errorf("注册%s追踪回调失败: %w", st.anchor, err)
		}
		if err := st.after("ats:otel_end_"+st.op, endSpan); err != nil {
			return fmt.Errorf("注册%s追踪回调失败: %w", st.anchor, err)
		}
	}
	return nil
}

func (p gormTracePlugin) startSpan(op string) func(*gorm.DB) {
	return func(db *gorm.DB) {
		if db.Statement.SkipHooks {
			return
		}
		ctx := db.Statement.Context
		if ctx == nil {
			ctx = context.Background()
		}
		table := db.Statement.Table
		if table == "" {
			table = "unknown"
		}
		ctx, span := mysqlTracer.Start(ctx, op+" "+table,
			trace.WithSpanKind(trace.SpanKindClient),
			trace.WithAttributes(
				semconv.DBSystemMySQL,
				attribute.String("db.name", p.dbName),
				attribute.String("db.operation", op),
				attribute.String("db.sql.table", table),
			))
		db.Statement.Context = context.WithValue(ctx, gormSpanKey{}, span)
	}
}

func endSpan(db *gorm.DB) {
	if db.Statement.Context == nil {
		return
	}
	span, ok := db.Statement.Context.Value(gormSpanKey{}).(trace.Span)
	if !ok {
		return
	}
	span.SetAttributes(attribute.Int64("db.rows_affected", db.Statement.RowsAffected))
	switch err := db.Error; {
	case err == nil:
		span.SetStatus(codes.Ok, "")
	case errors.Is(err, gorm.ErrRecordNotFound):
		// 未命中不算失败
		span.SetStatus(codes.Ok, "record not found")
	default:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// MySQL 基于 GORM 的候选人档案存储
type MySQL struct {
	db     *gorm.DB
	cfg    *config.MySQLConfig
	logger zerolog.Logger
}

// BuildDSN 构建MySQL连接串
func BuildDSN(cfg *config.MySQLConfig) string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local&timeout=%ds&readTimeout=%ds&writeTimeout=%ds",
		cfg.Username, cfg.Password, cfg.Host, cfg.Port, cfg.Database,
		cfg.ConnectTimeoutSeconds, cfg.ReadTimeoutSeconds, cfg.WriteTimeoutSeconds)
}

func gormLogLevel(level int) logger.LogLevel {
	switch level {
	case 1:
		return logger.Silent
	case 2:
		return logger.Error
	case 3:
		return logger.Warn
	case 4:
		return logger.Info
	default:
		return logger.Warn
	}
}

// NewMySQL 创建MySQL客户端并迁移档案表和发件箱表
func NewMySQL(cfg *config.MySQLConfig, zlog zerolog.Logger) (*MySQL, error) {
	if cfg == nil {
		return nil, fmt.Errorf("MySQL配置不能为空")
	}

	gormConfig := &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		Logger:                                   logger.Default.LogMode(gormLogLevel(cfg.LogLevel)),
		PrepareStmt:                              true,
		NowFunc: func() time.Time {
			return time.Now().Local()
		},
	}

	db, err := gorm.Open(mysql.Open(BuildDSN(cfg)), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("连接MySQL失败: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("获取底层 sql.DB 失败: %w", err)
	}
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetimeMinutes) * time.Minute)
	sqlDB.SetConnMaxIdleTime(time.Duration(cfg.ConnMaxIdleTimeMinutes) * time.Minute)

	if err := db.Use(gormTracePlugin{dbName: cfg.Database}); err != nil {
		return nil, fmt.Errorf("注册追踪插件失败: %w", err)
	}

	m := &MySQL{db: db, cfg: cfg, logger: zlog}
	if err := m.autoMigrateSchema(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("自动迁移数据库结构失败: %w", err)
	}

	zlog.Info().Str("host", cfg.Host).Str("database", cfg.Database).Msg("成功连接到MySQL并自动迁移数据库结构")
	return m, nil
}

// autoMigrateSchema 迁移档案表和发件箱表，迁移期间关闭SQL日志
func (m *MySQL) autoMigrateSchema() error {
	silentLogger := logger.New(
		log.New(log.Writer(), "", log.LstdFlags),
		logger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  logger.Silent,
			IgnoreRecordNotFoundError: true,
		},
	)
	if err := m.db.Session(&gorm.Session{Logger: silentLogger}).AutoMigrate(&models.CandidateProfile{}, &models.OutboxMessage{}); err != nil {
		return fmt.Errorf("GORM自动迁移失败: %w", err)
	}
	return nil
}

// DB 返回GORM数据库连接实例
func (m *MySQL) DB() *gorm.DB {
	return m.db
}

// Close 关闭数据库连接
func (m *MySQL) Close() error {
	sqlDB, err := m.db.DB()
	if err != nil {
		return fmt.Errorf("获取底层 sql.DB 失败: %w", err)
	}
	return sqlDB.Close()
}

// ToProfileRecord 档案转为数据库记录
func ToProfileRecord(id string, profile types.CandidateProfile) (models.CandidateProfile, error) {
	data, err := json.Marshal(profile)
	if err != nil {
		return models.CandidateProfile{}, fmt.Errorf("序列化档案失败: %w", err)
	}
	return models.CandidateProfile{
		CandidateID:  id,
		FullName:     types.Str(profile.FullName),
		Email:        types.Str(profile.Email),
		YearsExp:     profile.YearsExp,
		LLMModelUsed: profile.LLMModelUsed,
		FileName:     profile.FileName,
		Profile:      datatypes.JSON(data),
	}, nil
}

// FromProfileRecord 数据库记录还原档案
func FromProfileRecord(record models.CandidateProfile) (types.CandidateProfile, error) {
	var profile types.CandidateProfile
	if err := json.Unmarshal(record.Profile, &profile); err != nil {
		return types.CandidateProfile{}, fmt.Errorf("解析档案 %s 失败: %w", record.CandidateID, err)
	}
	return profile, nil
}

// PutProfile 写入档案，主键冲突时覆盖
func (m *MySQL) PutProfile(ctx context.Context, id string, profile types.CandidateProfile) error {
	record, err := ToProfileRecord(id, profile)
	if err != nil {
		return err
	}
	err = m.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "candidate_id"}},
		UpdateAll: true,
	}).Create(&record).Error
	if err != nil {
		return fmt.Errorf("保存档案 %s 失败: %w", id, err)
	}
	return nil
}

// GetProfile 读取档案，不存在时 found 为 false
func (m *MySQL) GetProfile(ctx context.Context, id string) (types.CandidateProfile, bool, error) {
	var record models.CandidateProfile
	err := m.db.WithContext(ctx).Where("candidate_id = ?", id).First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return types.CandidateProfile{}, false, nil
	}
	if err != nil {
		return types.CandidateProfile{}, false, fmt.Errorf("查询档案 %s 失败: %w", id, err)
	}
	profile, err := FromProfileRecord(record)
	if err != nil {
		return types.CandidateProfile{}, false, err
	}
	return profile, true, nil
}

// DeleteProfile 删除档案，记录不存在不视为错误
func (m *MySQL) DeleteProfile(ctx context.Context, id string) error {
	if err := m.db.WithContext(ctx).Where("candidate_id = ?", id).Delete(&models.CandidateProfile{}).Error; err != nil {
		return fmt.Errorf("删除档案 %s 失败: %w", id, err)
	}
	return nil
}

// EnqueueOutbox 写入一条待发布消息
func (m *MySQL) EnqueueOutbox(ctx context.Context, msg *models.OutboxMessage) error {
	if msg.Status == "" {
		msg.Status = models.OutboxStatusPending
	}
	if err := m.db.WithContext(ctx).Create(msg).Error; err != nil {
		return fmt.Errorf("写入发件箱失败: %w", err)
	}
	return nil
}

// ProcessOutbox 在一个事务内锁定最多 limit 条待发布消息，逐条交给 fn 处理后保存状态。
// 多实例并发轮询时通过 SKIP LOCKED 跳过其他事务已锁定的行
func (m *MySQL) ProcessOutbox(ctx context.Context, limit int, fn func(msg *models.OutboxMessage)) (int, error) {
	tx := m.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return 0, tx.Error
	}
	defer tx.Rollback()

	var messages []models.OutboxMessage
	err := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
		Where("status = ?", models.OutboxStatusPending).
		Order("created_at asc").
		Limit(limit).
		Find(&messages).Error
	if err != nil {
		return 0, fmt.Errorf("查询待发布消息失败: %w", err)
	}
	if len(messages) == 0 {
		return 0, tx.Commit().Error
	}

	for i := range messages {
		fn(&messages[i])
		// 保存失败时整批回滚，消息保持 PENDING 状态，下次轮询重新处理
		if err := tx.Save(&messages[i]).Error; err != nil {
			return 0, fmt.Errorf("更新发件箱消息 %d 失败: %w", messages[i].ID, err)
		}
	}
	if err := tx.Commit().Error; err != nil {
		return 0, err
	}
	return len(messages), nil
}
