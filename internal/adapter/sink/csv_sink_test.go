package sink

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iho/ynabimport/internal/domain"
)

func TestCSVSink_WritesRows(t *testing.T) {
	var buf bytes.Buffer
	s := NewCSVSink(&buf)

	require.NoError(t, s.Write(context.Background(), domain.Transaction{
		ImportID: "CSV.abc",
		Date:     time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		Cleared:  domain.Cleared,
		Amount:   -12500,
		Payee:    "REWE, Markt",
		Memo:     "Einkauf",
	}))
	require.NoError(t, s.Close())

	assert.Equal(t,
		"import_id,date,cleared,amount,payee,memo\n"+
			"CSV.abc,2024-03-01,cleared,-12.50,\"REWE, Markt\",Einkauf\n",
		buf.String())
}

func TestCSVSink_EmptyBatchHasHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "upload.csv")
	s, err := CreateCSVSink(path)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "import_id,date,cleared,amount,payee,memo\n", string(data))
}

func TestCSVSink_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := NewCSVSink(&bytes.Buffer{})
	assert.ErrorIs(t, s.Write(ctx, domain.Transaction{}), context.Canceled)
}
