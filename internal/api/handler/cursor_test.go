package handler

import (
	"testing"
	"time"

	"github.com/cuongbtq/ai-recruiter/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobCursor_RoundTrip(t *testing.T) {
	cursor := &storage.JobCursor{
		CreatedAt: time.Date(2026, 3, 14, 9, 26, 53, 589793000, time.UTC),
		JobID:     "4b9e0f52-1f6a-4d8b-9a55-0c6a7c1e2f10",
	}

	encoded := EncodeJobCursor(cursor)
	assert.NotContains(t, encoded, "+")
	assert.NotContains(t, encoded, "/")

	decoded, err := DecodeJobCursor(encoded)
	require.NoError(t, err)
	assert.True(t, cursor.CreatedAt.Equal(decoded.CreatedAt))
	assert.Equal(t, cursor.JobID, decoded.JobID)
}

func TestDecodeJobCursor(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantNil bool
		wantErr bool
	}{
		{name: "empty means first page", input: "", wantNil: true},
		{name: "not base64", input: "***", wantErr: true},
		{name: "missing separator", input: "MTIzNA", wantErr: true},
		{name: "bad timestamp", input: "YWJjfGpvYi0x", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cursor, err := DecodeJobCursor(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			if tt.wantNil {
				assert.Nil(t, cursor)
			}
		})
	}
}

func TestEncodeJobCursor_Nil(t *testing.T) {
	assert.Empty(t, EncodeJobCursor(nil))
}
