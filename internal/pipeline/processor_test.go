package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"doctalk-go/internal/config"
	"doctalk-go/internal/model"
	"doctalk-go/pkg/tasks"
)

type fakeFetcher struct {
	content []byte
	err     error
	calls   int
	gotKey  string
}

func (f *fakeFetcher) GetObject(ctx context.Context, objectName string) ([]byte, error) {
	f.calls++
	f.gotKey = objectName
	return f.content, f.err
}

type fakeExtractor struct {
	text  string
	pages int
	err   error
}

func (f *fakeExtractor) ExtractText(ctx context.Context, content []byte, fileName string) (string, error) {
	return f.text, f.err
}

func (f *fakeExtractor) PageCount(ctx context.Context, content []byte, fileName string) int {
	return f.pages
}

type fakeEmbedder struct {
	vector []float32
	err    error
	texts  []string
}

func (f *fakeEmbedder) CreateEmbedding(ctx context.Context, text string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.texts = append(f.texts, text)
	return f.vector, nil
}

type fakeDocRepo struct {
	docs map[string]*model.Document
}

func (f *fakeDocRepo) put(doc *model.Document) {
	if f.docs == nil {
		f.docs = make(map[string]*model.Document)
	}
	f.docs[doc.ID] = doc
}

func (f *fakeDocRepo) Create(doc *model.Document) error { f.put(doc); return nil }

func (f *fakeDocRepo) FindByID(id string) (*model.Document, error) {
	doc, ok := f.docs[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *doc
	return &cp, nil
}

func (f *fakeDocRepo) FindByIDForUser(id, userID string) (*model.Document, error) {
	return f.FindByID(id)
}

func (f *fakeDocRepo) FindByUserID(userID string) ([]model.Document, error) { return nil, nil }

func (f *fakeDocRepo) UpdateSize(id string, sizeBytes int64) error { return nil }

func (f *fakeDocRepo) MarkProcessing(id string) error {
	f.docs[id].Status = model.StatusProcessing
	f.docs[id].ErrorMessage = ""
	return nil
}

func (f *fakeDocRepo) MarkReady(id string, pageCount, fragmentCount int) error {
	doc := f.docs[id]
	doc.Status = model.StatusReady
	if pageCount > 0 {
		doc.PageCount = &pageCount
	}
	doc.FragmentCount = &fragmentCount
	return nil
}

func (f *fakeDocRepo) MarkFailed(id string, errMsg string) error {
	doc, ok := f.docs[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	doc.Status = model.StatusFailed
	doc.ErrorMessage = errMsg
	return nil
}

func (f *fakeDocRepo) Delete(id, userID string) error { delete(f.docs, id); return nil }

type fakeFragmentRepo struct {
	stored       map[string][]*model.Fragment
	replaceCalls int
	replaceErr   error
}

func (f *fakeFragmentRepo) ReplaceForDocument(documentID string, fragments []*model.Fragment) error {
	f.replaceCalls++
	if f.replaceErr != nil {
		return f.replaceErr
	}
	if f.stored == nil {
		f.stored = make(map[string][]*model.Fragment)
	}
	f.stored[documentID] = fragments
	return nil
}

func (f *fakeFragmentRepo) Search(documentID string, queryVec []float32, limit int, minSimilarity float64) ([]model.FragmentHit, error) {
	return nil, nil
}

func (f *fakeFragmentRepo) CountByDocument(documentID string) (int64, error) {
	return int64(len(f.stored[documentID])), nil
}

type processorFixture struct {
	fetcher      *fakeFetcher
	extractor    *fakeExtractor
	embedder     *fakeEmbedder
	docRepo      *fakeDocRepo
	fragmentRepo *fakeFragmentRepo
	processor    *Processor
	task         tasks.IngestTask
}

func newProcessorFixture() *processorFixture {
	f := &processorFixture{
		fetcher:      &fakeFetcher{content: []byte("%PDF-1.4 raw bytes")},
		extractor:    &fakeExtractor{text: strings.Repeat("甲", 25), pages: 3},
		embedder:     &fakeEmbedder{vector: []float32{0.1, 0.2}},
		docRepo:      &fakeDocRepo{},
		fragmentRepo: &fakeFragmentRepo{},
	}
	f.docRepo.put(&model.Document{ID: "doc-1", UserID: "user-1", FileName: "报告.pdf", Status: model.StatusPending})
	f.processor = NewProcessor(f.fetcher, f.extractor, f.embedder, f.docRepo, f.fragmentRepo,
		config.IngestConfig{ChunkSize: 10, ChunkOverlap: 2, MaxFileSizeBytes: 10 << 20})
	f.task = tasks.IngestTask{DocumentID: "doc-1", StorageKey: "uploads/user-1/doc-1/报告.pdf", FileName: "报告.pdf", UserID: "user-1"}
	return f
}

func TestProcess_Success(t *testing.T) {
	f := newProcessorFixture()

	err := f.processor.Process(context.Background(), f.task)
	require.NoError(t, err)

	// 25 个字符、块大小 10、重叠 2：三个分块，起始位置 0/8/16
	fragments := f.fragmentRepo.stored["doc-1"]
	require.Len(t, fragments, 3)
	for i, frag := range fragments {
		assert.Equal(t, "doc-1", frag.DocumentID)
		assert.Equal(t, i, frag.Ordinal)
		require.NotNil(t, frag.Embedding)
	}
	assert.Equal(t, 0, fragments[0].Metadata["offset"])
	assert.Equal(t, 8, fragments[1].Metadata["offset"])
	assert.Equal(t, 16, fragments[2].Metadata["offset"])
	assert.Len(t, f.embedder.texts, 3)
	assert.Equal(t, f.task.StorageKey, f.fetcher.gotKey)

	doc := f.docRepo.docs["doc-1"]
	assert.Equal(t, model.StatusReady, doc.Status)
	require.NotNil(t, doc.PageCount)
	assert.Equal(t, 3, *doc.PageCount)
	require.NotNil(t, doc.FragmentCount)
	assert.Equal(t, 3, *doc.FragmentCount)
}

func TestProcess_UnknownPageCountLeavesNil(t *testing.T) {
	f := newProcessorFixture()
	f.extractor.pages = 0

	err := f.processor.Process(context.Background(), f.task)
	require.NoError(t, err)

	doc := f.docRepo.docs["doc-1"]
	assert.Equal(t, model.StatusReady, doc.Status)
	assert.Nil(t, doc.PageCount)
}

func TestProcess_SkipsDeletedDocument(t *testing.T) {
	f := newProcessorFixture()
	delete(f.docRepo.docs, "doc-1")

	// 文档已删除的任务按成功处理，不触发重试
	err := f.processor.Process(context.Background(), f.task)
	require.NoError(t, err)
	assert.Zero(t, f.fetcher.calls)
}

func TestProcess_SkipsTerminalStatus(t *testing.T) {
	for _, status := range []model.DocumentStatus{model.StatusReady, model.StatusFailed} {
		t.Run(string(status), func(t *testing.T) {
			f := newProcessorFixture()
			f.docRepo.docs["doc-1"].Status = status

			err := f.processor.Process(context.Background(), f.task)
			require.NoError(t, err)
			assert.Zero(t, f.fetcher.calls)
			assert.Equal(t, status, f.docRepo.docs["doc-1"].Status)
		})
	}
}

func TestProcess_RedeliveryAfterSuccessSkips(t *testing.T) {
	f := newProcessorFixture()

	require.NoError(t, f.processor.Process(context.Background(), f.task))
	require.NoError(t, f.processor.Process(context.Background(), f.task))

	// 第二次投递直接跳过，不重复下载与向量化
	assert.Equal(t, 1, f.fetcher.calls)
	assert.Equal(t, 1, f.fragmentRepo.replaceCalls)
}

func TestProcess_EmptyFileFails(t *testing.T) {
	f := newProcessorFixture()
	f.fetcher.content = nil

	err := f.processor.Process(context.Background(), f.task)
	require.Error(t, err)
	// 失败时状态停留在 processing，等待重试或最终置为 failed
	assert.Equal(t, model.StatusProcessing, f.docRepo.docs["doc-1"].Status)
}

func TestProcess_ExtractFailure(t *testing.T) {
	f := newProcessorFixture()
	f.extractor.err = errors.New("tika unavailable")

	err := f.processor.Process(context.Background(), f.task)
	require.Error(t, err)
	assert.Empty(t, f.fragmentRepo.stored)
}

func TestProcess_EmptyTextFails(t *testing.T) {
	f := newProcessorFixture()
	f.extractor.text = ""

	err := f.processor.Process(context.Background(), f.task)
	require.Error(t, err)
}

func TestProcess_EmbeddingFailure(t *testing.T) {
	f := newProcessorFixture()
	f.embedder.err = errors.New("rate limited")

	err := f.processor.Process(context.Background(), f.task)
	require.Error(t, err)
	assert.Zero(t, f.fragmentRepo.replaceCalls)
}

func TestHandleFailure_MarksTerminal(t *testing.T) {
	f := newProcessorFixture()

	f.processor.HandleFailure(context.Background(), f.task, errors.New("提取的文本内容为空"))

	doc := f.docRepo.docs["doc-1"]
	assert.Equal(t, model.StatusFailed, doc.Status)
	assert.Equal(t, "提取的文本内容为空", doc.ErrorMessage)
}

func TestHandleFailure_NilCause(t *testing.T) {
	f := newProcessorFixture()

	f.processor.HandleFailure(context.Background(), f.task, nil)

	doc := f.docRepo.docs["doc-1"]
	assert.Equal(t, model.StatusFailed, doc.Status)
	assert.Equal(t, "处理失败", doc.ErrorMessage)
}

func TestSplitText(t *testing.T) {
	t.Run("empty input", func(t *testing.T) {
		assert.Nil(t, splitText("", 10, 2))
	})

	t.Run("shorter than chunk size", func(t *testing.T) {
		chunks := splitText("短文本", 10, 2)
		require.Len(t, chunks, 1)
		assert.Equal(t, "短文本", chunks[0].text)
		assert.Equal(t, 0, chunks[0].offset)
	})

	t.Run("overlap between consecutive chunks", func(t *testing.T) {
		text := "0123456789"
		chunks := splitText(text, 6, 2)
		require.Len(t, chunks, 2)
		assert.Equal(t, "012345", chunks[0].text)
		assert.Equal(t, "456789", chunks[1].text)
		assert.Equal(t, []int{0, 4}, []int{chunks[0].offset, chunks[1].offset})
	})

	t.Run("runes not bytes", func(t *testing.T) {
		text := strings.Repeat("汉", 7)
		chunks := splitText(text, 5, 0)
		require.Len(t, chunks, 2)
		assert.Equal(t, strings.Repeat("汉", 5), chunks[0].text)
		assert.Equal(t, strings.Repeat("汉", 2), chunks[1].text)
		assert.Equal(t, 5, chunks[1].offset)
	})

	t.Run("overlap not smaller than size falls back", func(t *testing.T) {
		chunks := splitText("0123456789", 4, 4)
		require.Len(t, chunks, 3)
		assert.Equal(t, "0123", chunks[0].text)
		assert.Equal(t, "4567", chunks[1].text)
		assert.Equal(t, "89", chunks[2].text)
	})
}
