// Package pipeline 定义了文档解析入库的核心流程。
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/pgvector/pgvector-go"
	"gorm.io/gorm"

	"doctalk-go/internal/config"
	"doctalk-go/internal/model"
	"doctalk-go/internal/repository"
	"doctalk-go/pkg/embedding"
	"doctalk-go/pkg/log"
	"doctalk-go/pkg/metrics"
	"doctalk-go/pkg/tasks"
)

// ObjectFetcher 拉取已上传的原始文件内容，*storage.ObjectStore 实现了它。
type ObjectFetcher interface {
	GetObject(ctx context.Context, objectName string) ([]byte, error)
}

// TextExtractor 从原始文件内容中提取纯文本与页数，*tika.Client 实现了它。
type TextExtractor interface {
	ExtractText(ctx context.Context, content []byte, fileName string) (string, error)
	PageCount(ctx context.Context, content []byte, fileName string) int
}

// Processor 封装了文档解析入库的所有依赖和逻辑。
// 它实现 kafka.TaskProcessor：Process 失败会被重投递，
// 重试次数耗尽后 HandleFailure 将文档置为终态 failed。
type Processor struct {
	fetcher         ObjectFetcher
	extractor       TextExtractor
	embeddingClient embedding.Client
	docRepo         repository.DocumentRepository
	fragmentRepo    repository.FragmentRepository
	ingestCfg       config.IngestConfig
}

// NewProcessor 创建一个新的 Processor 实例。
func NewProcessor(
	fetcher ObjectFetcher,
	extractor TextExtractor,
	embeddingClient embedding.Client,
	docRepo repository.DocumentRepository,
	fragmentRepo repository.FragmentRepository,
	ingestCfg config.IngestConfig,
) *Processor {
	return &Processor{
		fetcher:         fetcher,
		extractor:       extractor,
		embeddingClient: embeddingClient,
		docRepo:         docRepo,
		fragmentRepo:    fragmentRepo,
		ingestCfg:       ingestCfg,
	}
}

// Process 是文档解析入库的主函数。
func (p *Processor) Process(ctx context.Context, task tasks.IngestTask) error {
	log.Infof("[Processor] 开始处理文档, DocumentID: %s, FileName: %s", task.DocumentID, task.FileName)

	// 0. 加载文档记录：已被删除的任务直接跳过，终态文档不再回退
	doc, err := p.docRepo.FindByID(task.DocumentID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			log.Warnf("[Processor] 文档记录不存在, 跳过任务, DocumentID: %s", task.DocumentID)
			return nil
		}
		return fmt.Errorf("加载文档记录失败: %w", err)
	}
	if doc.Status == model.StatusReady || doc.Status == model.StatusFailed {
		log.Warnf("[Processor] 文档已处于终态 %s, 跳过任务, DocumentID: %s", doc.Status, doc.ID)
		return nil
	}

	if err := p.docRepo.MarkProcessing(doc.ID); err != nil {
		return fmt.Errorf("更新文档状态为 processing 失败: %w", err)
	}

	// 1. 从对象存储下载原始文件
	log.Infof("[Processor] 步骤1: 从对象存储下载文件, Key: %s", task.StorageKey)
	content, err := p.fetcher.GetObject(ctx, task.StorageKey)
	if err != nil {
		log.Errorf("[Processor] 下载文件失败, Key: %s, Error: %v", task.StorageKey, err)
		return fmt.Errorf("从对象存储下载文件失败: %w", err)
	}
	log.Infof("[Processor] 步骤1: 文件下载成功, 大小: %d字节", len(content))
	if len(content) == 0 {
		return errors.New("文件内容为空")
	}

	// 2. 使用 Tika 提取文本与页数
	log.Info("[Processor] 步骤2: 使用Tika提取文本内容")
	textContent, err := p.extractor.ExtractText(ctx, content, task.FileName)
	if err != nil {
		log.Errorf("[Processor] 使用Tika提取文本失败, FileName: %s, Error: %v", task.FileName, err)
		return fmt.Errorf("使用 Tika 提取文本失败: %w", err)
	}
	if textContent == "" {
		return errors.New("提取的文本内容为空")
	}
	pageCount := p.extractor.PageCount(ctx, content, task.FileName)
	log.Infof("[Processor] 步骤2: 文本提取成功, 内容长度: %d 字符, 页数: %d", utf8.RuneCountInString(textContent), pageCount)

	// 3. 文本切块
	log.Infof("[Processor] 步骤3: 进行文本分块, chunkSize: %d, chunkOverlap: %d", p.ingestCfg.ChunkSize, p.ingestCfg.ChunkOverlap)
	chunks := splitText(textContent, p.ingestCfg.ChunkSize, p.ingestCfg.ChunkOverlap)
	log.Infof("[Processor] 步骤3: 文本分块完成, 共生成 %d 个分块", len(chunks))
	if len(chunks) == 0 {
		return errors.New("未生成任何文本分块")
	}

	// 4. 逐块向量化
	log.Info("[Processor] 步骤4: 开始遍历分块并进行向量化")
	fragments := make([]*model.Fragment, 0, len(chunks))
	for i, c := range chunks {
		vector, err := p.embeddingClient.CreateEmbedding(ctx, c.text)
		if err != nil {
			log.Errorf("[Processor] 分块 %d 向量化失败, Error: %v", i, err)
			return fmt.Errorf("分块 %d 向量化失败: %w", i, err)
		}
		vec := pgvector.NewVector(vector)
		fragments = append(fragments, &model.Fragment{
			DocumentID: doc.ID,
			Ordinal:    i,
			Content:    c.text,
			Embedding:  &vec,
			Metadata:   model.JSONMap{"offset": c.offset},
		})
	}
	log.Infof("[Processor] 步骤4: 全部 %d 个分块向量化完成", len(fragments))

	// 5. 以替换方式落库，重复处理同一文档不会累计膨胀
	log.Info("[Processor] 步骤5: 将分块与向量写入数据库")
	if err := p.fragmentRepo.ReplaceForDocument(doc.ID, fragments); err != nil {
		log.Errorf("[Processor] 批量保存分块失败, DocumentID: %s, Error: %v", doc.ID, err)
		return fmt.Errorf("批量保存分块失败: %w", err)
	}

	// 6. 置为 ready 并记录统计信息
	if err := p.docRepo.MarkReady(doc.ID, pageCount, len(fragments)); err != nil {
		return fmt.Errorf("更新文档状态为 ready 失败: %w", err)
	}

	metrics.DocumentsIngested.WithLabelValues(string(model.StatusReady)).Inc()
	log.Infof("[Processor] 文档处理成功完成, DocumentID: %s, fragments: %d", doc.ID, len(fragments))
	return nil
}

// HandleFailure 在重试次数耗尽后将文档置为终态 failed。
func (p *Processor) HandleFailure(ctx context.Context, task tasks.IngestTask, cause error) {
	log.Errorf("[Processor] 文档处理重试次数耗尽, DocumentID: %s, 最后错误: %v", task.DocumentID, cause)
	msg := "处理失败"
	if cause != nil {
		msg = cause.Error()
	}
	if err := p.docRepo.MarkFailed(task.DocumentID, msg); err != nil {
		log.Errorf("[Processor] 更新文档状态为 failed 失败, DocumentID: %s, Error: %v", task.DocumentID, err)
		return
	}
	metrics.DocumentsIngested.WithLabelValues(string(model.StatusFailed)).Inc()
}

// chunk 是一个切块结果，offset 为该块在全文中的起始字符位置。
type chunk struct {
	text   string
	offset int
}

// splitText 将长文本按指定大小和重叠进行切分，按字符（rune）计数。
func splitText(text string, chunkSize, chunkOverlap int) []chunk {
	runes := []rune(text)
	if len(runes) == 0 || chunkSize <= 0 {
		return nil
	}

	step := chunkSize - chunkOverlap
	if step <= 0 {
		// 重叠配置不合法时退化为不重叠切分
		step = chunkSize
	}

	var chunks []chunk
	for i := 0; i < len(runes); i += step {
		end := i + chunkSize
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, chunk{text: string(runes[i:end]), offset: i})
		if end == len(runes) {
			break
		}
	}
	return chunks
}
