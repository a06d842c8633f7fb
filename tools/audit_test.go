package tools

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/BaSui01/ragflow/types"
)

func TestMemoryAuditStoreQueryFilters(t *testing.T) {
	store := NewMemoryAuditStore(0)
	ctx := context.Background()

	for i, tool := range []string{"a", "b", "a"} {
		rec := &types.ToolAuditRecord{
			ConversationID: "conv-1",
			UserID:         "user-1",
			ToolName:       tool,
			Status:         types.AuditStatusSuccess,
		}
		if i == 2 {
			rec.Status = types.AuditStatusError
			rec.Error = "boom"
		}
		require.NoError(t, store.Log(ctx, rec))
	}

	got, err := store.Query(ctx, AuditFilter{ToolName: "a"})
	require.NoError(t, err)
	assert.Len(t, got, 2)

	got, err = store.Query(ctx, AuditFilter{Status: "error"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "boom", got[0].Error)

	got, err = store.Query(ctx, AuditFilter{ConversationID: "conv-1", Limit: 1, Offset: 1})
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestGormAuditStoreRoundTrip(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	store, err := NewGormAuditStore(db, nil)
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	args, _ := json.Marshal(map[string]any{"age": 50, "bmi": 27.5})
	record := &types.ToolAuditRecord{
		ConversationID:  "conv-9",
		UserID:          "user-9",
		ToolName:        "diabetes_risk_assessment",
		Args:            args,
		Result:          json.RawMessage(`{"risk_level":"中等风险"}`),
		ExecutionTimeMs: 12,
		Status:          types.AuditStatusSuccess,
	}
	require.NoError(t, store.Log(ctx, record))
	assert.NotEmpty(t, record.ID)

	got, err := store.Query(ctx, AuditFilter{ConversationID: "conv-9"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "diabetes_risk_assessment", got[0].ToolName)
	assert.JSONEq(t, string(args), string(got[0].Args))
	assert.EqualValues(t, 12, got[0].ExecutionTimeMs)

	// 时间范围过滤
	future := time.Now().Add(time.Hour)
	got, err = store.Query(ctx, AuditFilter{StartTime: &future})
	require.NoError(t, err)
	assert.Empty(t, got)
}
