package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"time"
)

// ObjectPutter stores a compressed blob under key.
type ObjectPutter interface {
	PutCompressed(ctx context.Context, key string, data []byte) error
}

// ObjectArchive writes pruned records as one JSON-lines object per prune.
type ObjectArchive struct {
	store  ObjectPutter
	prefix string
	now    func() time.Time
}

// NewObjectArchive returns an Archiver writing under prefix.
func NewObjectArchive(store ObjectPutter, prefix string) *ObjectArchive {
	return &ObjectArchive{store: store, prefix: prefix, now: time.Now}
}

// Archive uploads recs to <prefix>/<date>/pruned-<timestamp>.jsonl.gz.
func (a *ObjectArchive) Archive(ctx context.Context, recs []Record) error {
	if len(recs) == 0 {
		return nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, rec := range recs {
		if err := enc.Encode(rec); err != nil {
			return fmt.Errorf("archive: encode: %w", err)
		}
	}

	now := a.now().UTC()
	key := path.Join(a.prefix, now.Format("2006-01-02"), "pruned-"+now.Format("150405")+".jsonl.gz")
	if err := a.store.PutCompressed(ctx, key, buf.Bytes()); err != nil {
		return fmt.Errorf("archive: put %s: %w", key, err)
	}
	return nil
}
