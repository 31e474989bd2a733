package models_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lepakdriver/lepakdriver/internal/api/models"
)

func TestTimestamp_RendersSingaporeTime(t *testing.T) {
	ts := models.Timestamp(time.Date(2025, 1, 15, 16, 30, 0, 0, time.UTC))

	b, err := json.Marshal(struct {
		At models.Timestamp `json:"at"`
	}{ts})
	require.NoError(t, err)
	assert.JSONEq(t, `{"at":"2025-01-16T00:30:00+08:00"}`, string(b))
}

func TestTimestamp_Unmarshal(t *testing.T) {
	var ts models.Timestamp
	require.NoError(t, json.Unmarshal([]byte(`"2025-01-15T02:00:00Z"`), &ts))
	assert.True(t, ts.Time().Equal(time.Date(2025, 1, 15, 2, 0, 0, 0, time.UTC)))

	before := ts
	require.NoError(t, json.Unmarshal([]byte(`null`), &ts))
	assert.Equal(t, before, ts)

	assert.Error(t, json.Unmarshal([]byte(`"yesterday"`), &ts))
	assert.Error(t, json.Unmarshal([]byte(`20250115`), &ts))
}
