package repository

import (
	"os"
	"testing"

	"github.com/pgvector/pgvector-go"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"doctalk-go/internal/model"
)

// testDB 连接 TEST_DATABASE_URL 指定的数据库，完成迁移并清空全部表。
// 需要一个安装了 pgvector 扩展的 PostgreSQL，未设置该变量时跳过测试。
func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL 未设置，跳过数据库集成测试")
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, AutoMigrate(db))
	require.NoError(t, db.Exec("TRUNCATE TABLE messages, chats, fragments, documents, users CASCADE").Error)
	return db
}

func seedDocument(t *testing.T, db *gorm.DB, id, userID string) *model.Document {
	t.Helper()
	doc := &model.Document{
		ID:         id,
		UserID:     userID,
		FileName:   "测试文档.pdf",
		MediaType:  "pdf",
		StorageKey: "uploads/" + userID + "/" + id + "/测试文档.pdf",
		Status:     model.StatusReady,
	}
	require.NoError(t, db.Create(doc).Error)
	return doc
}

// padVec 把低维示例向量右侧补零到建表用的 1536 维。
// 补零不改变余弦相似度，便于用小向量构造可手算的检索场景。
func padVec(vals ...float32) pgvector.Vector {
	buf := make([]float32, 1536)
	copy(buf, vals)
	return pgvector.NewVector(buf)
}

func fragmentWithVec(docID string, ordinal int, content string, vec pgvector.Vector) *model.Fragment {
	return &model.Fragment{
		DocumentID: docID,
		Ordinal:    ordinal,
		Content:    content,
		Embedding:  &vec,
	}
}
