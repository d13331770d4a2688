package repository

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"doctalk-go/internal/model"
)

func TestChatRepository_CreateAndFind(t *testing.T) {
	db := testDB(t)
	repo := NewChatRepository(db)
	userID := uuid.NewString()
	doc := seedDocument(t, db, uuid.NewString(), userID)

	chat := &model.Chat{UserID: userID, DocumentID: doc.ID, Title: doc.FileName}
	require.NoError(t, repo.Create(chat))
	require.NotEmpty(t, chat.ID)

	found, err := repo.FindByUserAndDocument(userID, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, chat.ID, found.ID)
	assert.Equal(t, doc.FileName, found.Title)
}

func TestChatRepository_FindNotFound(t *testing.T) {
	db := testDB(t)
	repo := NewChatRepository(db)

	_, err := repo.FindByUserAndDocument(uuid.NewString(), uuid.NewString())
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestChatRepository_FindPrefersMostRecentlyUpdated(t *testing.T) {
	db := testDB(t)
	repo := NewChatRepository(db)
	userID := uuid.NewString()
	doc := seedDocument(t, db, uuid.NewString(), userID)

	first := &model.Chat{UserID: userID, DocumentID: doc.ID, Title: "先建"}
	require.NoError(t, repo.Create(first))
	time.Sleep(20 * time.Millisecond)
	second := &model.Chat{UserID: userID, DocumentID: doc.ID, Title: "后建"}
	require.NoError(t, repo.Create(second))

	found, err := repo.FindByUserAndDocument(userID, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, second.ID, found.ID)

	// 给先建的会话追加消息后它变成最近更新的
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, repo.AppendMessage(&model.Message{ChatID: first.ID, Role: model.RoleUser, Content: "新消息"}))

	found, err = repo.FindByUserAndDocument(userID, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, found.ID)
}

func TestChatRepository_AppendBumpsUpdatedAt(t *testing.T) {
	db := testDB(t)
	repo := NewChatRepository(db)
	userID := uuid.NewString()
	doc := seedDocument(t, db, uuid.NewString(), userID)

	chat := &model.Chat{UserID: userID, DocumentID: doc.ID}
	require.NoError(t, repo.Create(chat))
	before, err := repo.FindByUserAndDocument(userID, doc.ID)
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, repo.AppendMessage(&model.Message{ChatID: chat.ID, Role: model.RoleUser, Content: "问题"}))

	after, err := repo.FindByUserAndDocument(userID, doc.ID)
	require.NoError(t, err)
	assert.True(t, after.UpdatedAt.After(before.UpdatedAt))
}

func TestChatRepository_MessageOrdering(t *testing.T) {
	db := testDB(t)
	repo := NewChatRepository(db)
	userID := uuid.NewString()
	doc := seedDocument(t, db, uuid.NewString(), userID)
	chat := &model.Chat{UserID: userID, DocumentID: doc.ID}
	require.NoError(t, repo.Create(chat))

	contents := []string{"第一问", "第一答", "第二问", "第二答"}
	roles := []string{model.RoleUser, model.RoleAssistant, model.RoleUser, model.RoleAssistant}
	for i := range contents {
		require.NoError(t, repo.AppendMessage(&model.Message{
			ChatID:  chat.ID,
			Role:    roles[i],
			Content: contents[i],
		}))
		time.Sleep(5 * time.Millisecond)
	}

	all, err := repo.ListMessages(chat.ID)
	require.NoError(t, err)
	require.Len(t, all, 4)
	for i, m := range all {
		assert.Equal(t, contents[i], m.Content)
		assert.Equal(t, roles[i], m.Role)
	}

	// 最近两条仍按时间升序返回
	recent, err := repo.RecentMessages(chat.ID, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "第二问", recent[0].Content)
	assert.Equal(t, "第二答", recent[1].Content)
}

func TestChatRepository_ProvenanceRoundTrip(t *testing.T) {
	db := testDB(t)
	repo := NewChatRepository(db)
	userID := uuid.NewString()
	doc := seedDocument(t, db, uuid.NewString(), userID)
	chat := &model.Chat{UserID: userID, DocumentID: doc.ID}
	require.NoError(t, repo.Create(chat))

	require.NoError(t, repo.AppendMessage(&model.Message{
		ChatID:  chat.ID,
		Role:    model.RoleAssistant,
		Content: "带引用的回答",
		Provenance: model.Provenance{
			{FragmentID: "frag-1", Similarity: 0.93},
			{FragmentID: "frag-2", Similarity: 0.71},
		},
	}))

	msgs, err := repo.ListMessages(chat.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Len(t, msgs[0].Provenance, 2)
	assert.Equal(t, "frag-1", msgs[0].Provenance[0].FragmentID)
	assert.InDelta(t, 0.93, msgs[0].Provenance[0].Similarity, 1e-9)
	assert.Equal(t, "frag-2", msgs[0].Provenance[1].FragmentID)
}
