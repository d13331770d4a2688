package repository

import (
	"github.com/pgvector/pgvector-go"
	"gorm.io/gorm"

	"doctalk-go/internal/model"
)

// FragmentRepository 定义了对 fragments 表的数据操作接口。
type FragmentRepository interface {
	ReplaceForDocument(documentID string, fragments []*model.Fragment) error
	Search(documentID string, queryVec []float32, limit int, minSimilarity float64) ([]model.FragmentHit, error)
	CountByDocument(documentID string) (int64, error)
}

type fragmentRepository struct {
	db *gorm.DB
}

// NewFragmentRepository 创建一个新的 FragmentRepository 实例。
func NewFragmentRepository(db *gorm.DB) FragmentRepository {
	return &fragmentRepository{db: db}
}

// ReplaceForDocument 以事务替换某文档的全部片段，保证重复解析的幂等性。
func (r *fragmentRepository) ReplaceForDocument(documentID string, fragments []*model.Fragment) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("document_id = ?", documentID).Delete(&model.Fragment{}).Error; err != nil {
			return err
		}
		if len(fragments) == 0 {
			return nil
		}
		return tx.CreateInBatches(fragments, 100).Error // 每100条记录一批
	})
}

// Search 在单个文档内做余弦相似度检索。
// 相似度 = 1 - 余弦距离，阈值过滤在 SQL 中完成；
// 相似度相同时按片段序号升序，保证结果顺序确定。
func (r *fragmentRepository) Search(documentID string, queryVec []float32, limit int, minSimilarity float64) ([]model.FragmentHit, error) {
	vec := pgvector.NewVector(queryVec)
	var hits []model.FragmentHit
	err := r.db.Raw(`
		SELECT id, ordinal, content, page_number, 1 - (embedding <=> ?) AS similarity
		FROM fragments
		WHERE document_id = ?
		  AND embedding IS NOT NULL
		  AND 1 - (embedding <=> ?) >= ?
		ORDER BY similarity DESC, ordinal ASC
		LIMIT ?`,
		vec, documentID, vec, minSimilarity, limit,
	).Scan(&hits).Error
	if err != nil {
		return nil, err
	}
	return hits, nil
}

// CountByDocument 统计某文档的片段数量。
func (r *fragmentRepository) CountByDocument(documentID string) (int64, error) {
	var count int64
	err := r.db.Model(&model.Fragment{}).Where("document_id = ?", documentID).Count(&count).Error
	return count, err
}
