package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"ai-ats-go/internal/config"
	"ai-ats-go/internal/tracing"
	"ai-ats-go/internal/types"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/minio/minio-go/v7/pkg/lifecycle"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var minioTracer = otel.Tracer("ai-ats-go/storage/minio")

// MinIO 对象存储：候选人完整档案存放在 profilesBucket，原始简历存放在 originalsBucket
type MinIO struct {
	client          *minio.Client
	cfg             *config.MinIOConfig
	profilesBucket  string
	originalsBucket string
	logger          zerolog.Logger
}

// NewMinIO 创建MinIO客户端并确保存储桶存在
func NewMinIO(ctx context.Context, cfg *config.MinIOConfig, logger zerolog.Logger) (*MinIO, error) {
	if cfg == nil {
		return nil, fmt.Errorf("MinIO配置不能为空")
	}
	logger.Info().
		Str("endpoint", cfg.Endpoint).
		Str("profiles_bucket", cfg.ProfilesBucket).
		Str("originals_bucket", cfg.OriginalsBucket).
		Msg("初始化MinIO客户端")

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("创建MinIO客户端失败: %w", err)
	}

	m := &MinIO{
		client:          client,
		cfg:             cfg,
		profilesBucket:  cfg.ProfilesBucket,
		originalsBucket: cfg.OriginalsBucket,
		logger:          logger,
	}
	if m.profilesBucket == "" {
		m.profilesBucket = "candidate-profiles"
	}
	if m.originalsBucket == "" {
		m.originalsBucket = "candidate-originals"
	}

	for _, bucket := range []string{m.profilesBucket, m.originalsBucket} {
		if err := m.ensureBucketExists(ctx, bucket, cfg.Location); err != nil {
			return nil, err
		}
	}

	if cfg.OriginalFileExpireDays > 0 {
		if err := m.setupBucketLifecycle(ctx, m.originalsBucket, "expire-originals", cfg.OriginalFileExpireDays); err != nil {
			logger.Warn().Err(err).Msg("设置原始文件生命周期规则失败")
		}
	}

	logger.Info().Str("endpoint", cfg.Endpoint).Msg("MinIO客户端初始化完成")
	return m, nil
}

// ensureBucketExists 确保存储桶存在
func (m *MinIO) ensureBucketExists(ctx context.Context, bucketName, location string) error {
	exists, err := m.client.BucketExists(ctx, bucketName)
	if err != nil {
		return fmt.Errorf("检查存储桶 %s 是否存在时出错: %w", bucketName, err)
	}
	if exists {
		m.logger.Debug().Str("bucket", bucketName).Msg("存储桶已存在")
		return nil
	}
	if err := m.client.MakeBucket(ctx, bucketName, minio.MakeBucketOptions{Region: location}); err != nil {
		return fmt.Errorf("创建存储桶 %s 失败: %w", bucketName, err)
	}
	m.logger.Info().Str("bucket", bucketName).Msg("存储桶创建成功")
	return nil
}

// setupBucketLifecycle 为指定存储桶设置过期规则
func (m *MinIO) setupBucketLifecycle(ctx context.Context, bucketName, ruleID string, expiryDays int) error {
	cfg := lifecycle.NewConfiguration()
	cfg.Rules = []lifecycle.Rule{
		{
			ID:     ruleID,
			Status: "Enabled",
			Expiration: lifecycle.Expiration{
				Days: lifecycle.ExpirationDays(expiryDays),
			},
		},
	}
	if err := m.client.SetBucketLifecycle(ctx, bucketName, cfg); err != nil {
		return err
	}
	m.logger.Info().Str("bucket", bucketName).Int("expire_days", expiryDays).Msg("已设置存储桶生命周期")
	return nil
}

// ProfileObjectName 档案对象名
func ProfileObjectName(id string) string {
	return "profiles/" + id + ".json"
}

// DocumentObjectName 原始简历对象名，文件名只保留最后一段
func DocumentObjectName(id, filename string) string {
	name := filepath.Base(strings.ReplaceAll(filename, "\\", "/"))
	if name == "." || name == "/" || name == "" {
		name = "document"
	}
	return id + "_" + name
}

// PutProfile 以 JSON 保存完整档案，同一 id 覆盖写入
func (m *MinIO) PutProfile(ctx context.Context, id string, profile types.CandidateProfile) error {
	ctx, span := minioTracer.Start(ctx, "MinIO.PutProfile",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("candidate.id", id)))
	defer span.End()

	data, err := json.Marshal(profile)
	if err != nil {
		return fmt.Errorf("序列化档案失败: %w", err)
	}
	_, err = m.client.PutObject(ctx, m.profilesBucket, ProfileObjectName(id), bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "application/json"})
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeObjectStorage)
		return fmt.Errorf("上传档案 %s 失败: %w", id, err)
	}
	return nil
}

// GetProfile 读取档案，不存在时 found 为 false
func (m *MinIO) GetProfile(ctx context.Context, id string) (types.CandidateProfile, bool, error) {
	ctx, span := minioTracer.Start(ctx, "MinIO.GetProfile",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("candidate.id", id)))
	defer span.End()

	obj, err := m.client.GetObject(ctx, m.profilesBucket, ProfileObjectName(id), minio.GetObjectOptions{})
	if err != nil {
		if isNoSuchKey(err) {
			return types.CandidateProfile{}, false, nil
		}
		tracing.RecordError(span, err, tracing.ErrorTypeObjectStorage)
		return types.CandidateProfile{}, false, fmt.Errorf("获取档案 %s 失败: %w", id, err)
	}
	defer obj.Close()

	var profile types.CandidateProfile
	if err := json.NewDecoder(obj).Decode(&profile); err != nil {
		// GetObject 延迟到读取时才返回对象不存在
		if isNoSuchKey(err) {
			return types.CandidateProfile{}, false, nil
		}
		tracing.RecordError(span, err, tracing.ErrorTypeObjectStorage)
		return types.CandidateProfile{}, false, fmt.Errorf("解析档案 %s 失败: %w", id, err)
	}
	return profile, true, nil
}

// DeleteProfile 删除档案，对象不存在不视为错误
func (m *MinIO) DeleteProfile(ctx context.Context, id string) error {
	err := m.client.RemoveObject(ctx, m.profilesBucket, ProfileObjectName(id), minio.RemoveObjectOptions{})
	if err != nil && !isNoSuchKey(err) {
		return fmt.Errorf("删除档案 %s 失败: %w", id, err)
	}
	return nil
}

// ArchiveDocument 保存原始简历，返回对象名
func (m *MinIO) ArchiveDocument(ctx context.Context, id, filename string, data []byte) (string, error) {
	ctx, span := minioTracer.Start(ctx, "MinIO.ArchiveDocument",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("candidate.id", id),
			attribute.Int("file.size", len(data)),
		))
	defer span.End()

	objectName := DocumentObjectName(id, filename)
	_, err := m.client.PutObject(ctx, m.originalsBucket, objectName, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: getContentType(filepath.Ext(objectName))})
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeObjectStorage)
		return "", fmt.Errorf("上传原始简历 %s 失败: %w", objectName, err)
	}
	m.logger.Debug().Str("object", objectName).Int("size", len(data)).Msg("原始简历已归档")
	return objectName, nil
}

// DeleteDocuments 删除以 "<id>_" 为前缀的所有原始简历，返回删除的对象数
func (m *MinIO) DeleteDocuments(ctx context.Context, id string) (int, error) {
	ctx, span := minioTracer.Start(ctx, "MinIO.DeleteDocuments",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("candidate.id", id)))
	defer span.End()

	// 提前返回时停止后台列举
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	removed := 0
	for obj := range m.client.ListObjects(ctx, m.originalsBucket, minio.ListObjectsOptions{Prefix: id + "_"}) {
		if obj.Err != nil {
			tracing.RecordError(span, obj.Err, tracing.ErrorTypeObjectStorage)
			return removed, fmt.Errorf("列出原始简历失败: %w", obj.Err)
		}
		err := m.client.RemoveObject(ctx, m.originalsBucket, obj.Key, minio.RemoveObjectOptions{})
		switch {
		case err == nil:
			removed++
		case isNoSuchKey(err):
		default:
			tracing.RecordError(span, err, tracing.ErrorTypeObjectStorage)
			return removed, fmt.Errorf("删除原始简历 %s 失败: %w", obj.Key, err)
		}
	}
	span.SetAttributes(attribute.Int("documents.removed", removed))
	return removed, nil
}

func isNoSuchKey(err error) bool {
	return minio.ToErrorResponse(err).Code == "NoSuchKey"
}

// 获取内容类型
func getContentType(ext string) string {
	switch strings.ToLower(ext) {
	case ".pdf":
		return "application/pdf"
	case ".txt":
		return "text/plain"
	case ".json":
		return "application/json"
	default:
		return "application/octet-stream"
	}
}
