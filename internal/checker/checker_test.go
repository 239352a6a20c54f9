package checker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"otpmail/bot/internal/monitoring"
)

func TestParseIDs(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    []string
		wantErr error
	}{
		{"逗号分隔", "100001,100002", []string{"100001", "100002"}, nil},
		{"混合分隔符", "100001, 100002\n100003  100004", []string{"100001", "100002", "100003", "100004"}, nil},
		{"丢弃非数字片段", "100001 abc 1e5 100002", []string{"100001", "100002"}, nil},
		{"全部非法", "abc def", nil, ErrNoValidIDs},
		{"空输入", "   ", nil, ErrNoValidIDs},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseIDs(tt.raw)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestClient_Check(t *testing.T) {
	t.Run("按状态分类账号", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var req checkRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, []string{"1", "2", "3"}, req.InputData)
			assert.True(t, req.CheckFriends)

			w.Write([]byte(`{"data": [
				{"uid": "1", "status": {"name": "valid"}},
				{"uid": "2", "status": {"name": "invalid"}},
				{"uid": "3", "status": {"name": "valid"}}
			]}`))
		}))
		defer server.Close()

		client := NewClient(server.URL, time.Second, monitoring.NewNopMetrics(), zap.NewNop())
		report, err := client.Check(context.Background(), []string{"1", "2", "3"}, true)
		require.NoError(t, err)
		assert.Equal(t, []string{"1", "3"}, report.Active)
		assert.Equal(t, []string{"2"}, report.Dead)
	})

	t.Run("接口错误映射为不可用", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer server.Close()

		client := NewClient(server.URL, time.Second, monitoring.NewNopMetrics(), zap.NewNop())
		_, err := client.Check(context.Background(), []string{"1"}, false)
		assert.ErrorIs(t, err, ErrCheckerUnavailable)
	})
}

func TestReport_Render(t *testing.T) {
	report := &Report{Active: []string{"1", "3"}, Dead: []string{"2"}}

	summary := report.Summary()
	assert.Contains(t, summary, "Total Active Accounts: 2")
	assert.Contains(t, summary, "Total Dead Accounts: 1")

	attachment := string(report.Attachment())
	assert.Contains(t, attachment, "Active Accounts:\n1\n3")
	assert.Contains(t, attachment, "Dead Accounts:\n2")

	empty := &Report{}
	assert.Contains(t, empty.Summary(), "Total Active Accounts: 0")
}
