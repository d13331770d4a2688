package repository

import (
	"fmt"

	"gorm.io/gorm"

	"doctalk-go/internal/model"
)

// AutoMigrate 建表并确保 pgvector 扩展与向量索引就绪。
// 向量索引使用 HNSW + 余弦距离，与检索查询的 <=> 运算符保持一致。
func AutoMigrate(db *gorm.DB) error {
	if err := db.Exec("CREATE EXTENSION IF NOT EXISTS vector").Error; err != nil {
		return fmt.Errorf("failed to create vector extension: %w", err)
	}

	if err := db.AutoMigrate(
		&model.User{},
		&model.Document{},
		&model.Fragment{},
		&model.Chat{},
		&model.Message{},
	); err != nil {
		return fmt.Errorf("failed to migrate tables: %w", err)
	}

	if err := db.Exec(
		"CREATE INDEX IF NOT EXISTS idx_fragments_embedding ON fragments USING hnsw (embedding vector_cosine_ops)",
	).Error; err != nil {
		return fmt.Errorf("failed to create embedding index: %w", err)
	}
	return nil
}
