package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestSanitizeConnectionString(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "empty", in: "", want: ""},
		{name: "url", in: "postgres://etl:s3cret@db:5432/wells?sslmode=disable", want: "postgres://[REDACTED]@db:5432/wells?sslmode=disable"},
		{name: "keyvalue", in: "host=db user=etl password=s3cret dbname=wells", want: "host=db user=etl password=[REDACTED] dbname=wells"},
		{name: "sqlserver", in: "sqlserver://sa:P@ss;w0rd@host?database=wells", want: "sqlserver://[REDACTED]@host?database=wells"},
		{name: "mssql_pwd", in: "server=h;user id=sa;pwd=x1;database=w", want: "server=h;user id=sa;pwd=[REDACTED];database=w"},
		{name: "no_secret", in: "file:wells.db", want: "file:wells.db"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SanitizeConnectionString(tt.in))
		})
	}
}

func TestNew(t *testing.T) {
	l, err := New("debug", "console")
	require.NoError(t, err)
	assert.True(t, l.Core().Enabled(zapcore.DebugLevel))

	l, err = New("", "")
	require.NoError(t, err)
	assert.False(t, l.Core().Enabled(zapcore.DebugLevel))
	assert.True(t, l.Core().Enabled(zapcore.InfoLevel))

	_, err = New("loud", "json")
	require.Error(t, err)
	_, err = New("info", "xml")
	require.Error(t, err)
}
