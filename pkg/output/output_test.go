package output

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/telekom/cloudctl/pkg/auth"
)

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]Format{"": FormatTable, "table": FormatTable, "JSON": FormatJSON, "yml": FormatYAML, "yaml": FormatYAML} {
		got, err := ParseFormat(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseFormat("xml")
	assert.Error(t, err)
}

func TestWriteObject(t *testing.T) {
	obj := map[string]int{"count": 42}

	t.Run("json", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, WriteObject(&buf, FormatJSON, obj))
		var got map[string]int
		require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
		assert.Equal(t, 42, got["count"])
	})

	t.Run("yaml", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, WriteObject(&buf, FormatYAML, obj))
		var got map[string]int
		require.NoError(t, yaml.Unmarshal(buf.Bytes(), &got))
		assert.Equal(t, 42, got["count"])
	})

	t.Run("table requires Tabular", func(t *testing.T) {
		err := WriteObject(&bytes.Buffer{}, FormatTable, obj)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "cannot be rendered as a table")
	})

	t.Run("unknown", func(t *testing.T) {
		assert.Error(t, WriteObject(&bytes.Buffer{}, Format("xml"), obj))
	})
}

func testStatus() auth.SessionStatus {
	expires := time.Date(2026, 3, 1, 13, 0, 0, 0, time.UTC)
	return auth.SessionStatus{
		Authenticated:   true,
		User:            &auth.User{ID: "u1", Email: "dev@example.com", Name: "Dev"},
		ExpiresAt:       &expires,
		Scopes:          []string{"openid", "email"},
		HasRefreshToken: true,
	}
}

func TestStatusView_Table(t *testing.T) {
	status := testStatus()
	var buf bytes.Buffer
	view := StatusView{SessionStatus: &status, Now: time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC)}
	require.NoError(t, WriteObject(&buf, FormatTable, view))

	out := buf.String()
	assert.Contains(t, out, "AUTHENTICATED:")
	assert.Contains(t, out, "dev@example.com")
	assert.Contains(t, out, "2026-03-01T13:00:00Z")
	assert.Contains(t, out, "30m0s")
	assert.Contains(t, out, "openid email")
	assert.NotContains(t, out, "LAST REFRESH")
}

func TestStatusView_TableExpiredAndEmpty(t *testing.T) {
	status := testStatus()
	var buf bytes.Buffer
	require.NoError(t, StatusView{SessionStatus: &status, Now: status.ExpiresAt.Add(time.Minute)}.WriteTable(&buf))
	assert.Contains(t, buf.String(), "expired")

	buf.Reset()
	require.NoError(t, StatusView{SessionStatus: &auth.SessionStatus{}}.WriteTable(&buf))
	assert.Equal(t, "AUTHENTICATED:  no", strings.TrimSpace(buf.String()))
}

func TestStatusView_Marshal(t *testing.T) {
	status := testStatus()
	view := StatusView{SessionStatus: &status, Now: time.Now()}

	var buf bytes.Buffer
	require.NoError(t, WriteObject(&buf, FormatJSON, view))
	assert.Contains(t, buf.String(), `"authenticated": true`)
	assert.NotContains(t, buf.String(), "Now")

	buf.Reset()
	require.NoError(t, WriteObject(&buf, FormatYAML, view))
	assert.Contains(t, buf.String(), "authenticated: true")
	assert.Contains(t, buf.String(), "hasRefreshToken: true")
}
