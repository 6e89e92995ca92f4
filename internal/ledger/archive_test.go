package ledger

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memPutter struct {
	objects map[string][]byte
}

func (m *memPutter) PutCompressed(_ context.Context, key string, data []byte) error {
	if m.objects == nil {
		m.objects = make(map[string][]byte)
	}
	m.objects[key] = append([]byte(nil), data...)
	return nil
}

func TestObjectArchive_WritesJSONLinesUnderDatedKey(t *testing.T) {
	put := &memPutter{}
	a := NewObjectArchive(put, "ledger")
	a.now = func() time.Time { return time.Date(2026, 4, 2, 13, 14, 15, 0, time.UTC) }

	recs := []Record{
		{Title: "A", URL: "https://example.com/a", Destination: "news"},
		{Title: "B", URL: "https://example.com/b", Destination: "news"},
	}
	require.NoError(t, a.Archive(context.Background(), recs))

	data, ok := put.objects["ledger/2026-04-02/pruned-131415.jsonl.gz"]
	require.True(t, ok)

	var urls []string
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		var rec Record
		require.NoError(t, json.Unmarshal(sc.Bytes(), &rec))
		urls = append(urls, rec.URL)
	}
	assert.Equal(t, []string{"https://example.com/a", "https://example.com/b"}, urls)
}

func TestObjectArchive_NothingToArchive(t *testing.T) {
	put := &memPutter{}
	require.NoError(t, NewObjectArchive(put, "ledger").Archive(context.Background(), nil))
	assert.Empty(t, put.objects)
}
