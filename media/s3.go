package media

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/Tsukikage7/gather/logger"
)

// Config S3 兼容对象存储配置.
type Config struct {
	// Endpoint S3 端点地址
	Endpoint string `json:"endpoint" yaml:"endpoint" mapstructure:"endpoint"`
	// Region 区域
	Region string `json:"region" yaml:"region" mapstructure:"region"`
	// AccessKey 访问密钥 ID
	AccessKey string `json:"access_key" yaml:"access_key" mapstructure:"access_key"`
	// SecretKey 访问密钥
	SecretKey string `json:"secret_key" yaml:"secret_key" mapstructure:"secret_key"`
	// Bucket 桶名
	Bucket string `json:"bucket" yaml:"bucket" mapstructure:"bucket"`
	// UsePathStyle 是否使用路径风格（MinIO 需要）
	UsePathStyle bool `json:"use_path_style" yaml:"use_path_style" mapstructure:"use_path_style"`
	// KeyPrefix 对象键前缀，资源媒体存放在 <prefix>resources/<id>/ 下
	KeyPrefix string `json:"key_prefix" yaml:"key_prefix" mapstructure:"key_prefix"`
}

// Validate 验证配置.
func (c *Config) Validate() error {
	if c.Endpoint == "" {
		return ErrEmptyEndpoint
	}
	if c.Bucket == "" {
		return ErrEmptyBucket
	}
	return nil
}

// s3Cleaner 基于 S3 兼容存储的清理器实现.
type s3Cleaner struct {
	client *s3.Client
	config *Config
	log    logger.Logger
}

// NewS3Cleaner 创建 S3 清理器.
//
// 兼容 MinIO、阿里云 OSS 等 S3 兼容存储.
func NewS3Cleaner(cfg *Config, log logger.Logger) (Cleaner, error) {
	if cfg == nil {
		return nil, ErrNilConfig
	}
	if log == nil {
		return nil, ErrNilLogger
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	resolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, options ...any) (aws.Endpoint, error) {
		return aws.Endpoint{
			URL:               cfg.Endpoint,
			SigningRegion:     cfg.Region,
			HostnameImmutable: cfg.UsePathStyle,
		}, nil
	})

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKey,
			cfg.SecretKey,
			"",
		)),
		awsconfig.WithEndpointResolverWithOptions(resolver),
	)
	if err != nil {
		return nil, err
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.UsePathStyle
	})

	return &s3Cleaner{
		client: client,
		config: cfg,
		log:    log,
	}, nil
}

// RemoveAll 删除资源名下的全部媒体对象.
//
// 按前缀分页列举后批量删除，任一页失败即返回错误（调用方只记日志）.
func (c *s3Cleaner) RemoveAll(ctx context.Context, resourceID uint64) error {
	prefix := fmt.Sprintf("%sresources/%d/", c.config.KeyPrefix, resourceID)

	paginator := s3.NewListObjectsV2Paginator(c.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(c.config.Bucket),
		Prefix: aws.String(prefix),
	})

	removed := 0
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("列举媒体对象失败: %w", err)
		}
		if len(page.Contents) == 0 {
			continue
		}

		objects := make([]types.ObjectIdentifier, 0, len(page.Contents))
		for _, obj := range page.Contents {
			objects = append(objects, types.ObjectIdentifier{Key: obj.Key})
		}

		_, err = c.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(c.config.Bucket),
			Delete: &types.Delete{Objects: objects},
		})
		if err != nil {
			return fmt.Errorf("删除媒体对象失败: %w", err)
		}
		removed += len(objects)
	}

	if removed > 0 {
		c.log.With(
			logger.F("resource_id", resourceID),
			logger.F("removed", removed),
		).Info("资源媒体已清理")
	}

	return nil
}
