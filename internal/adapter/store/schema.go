package store

import (
	"encoding/json"
	"fmt"

	"go.etcd.io/bbolt"

	"librarian/internal/domain"
)

// CurrentSchemaVersion is the on-disk layout version.
// Increment when making breaking changes to the storage format.
const CurrentSchemaVersion = 1

var (
	keySchemaVersion = []byte("schema_version")
	keyIdentity      = []byte("embedding_identity")
)

// Identity names the embedding model whose vectors the store holds. It is
// written on first use and checked on every open: vectors of different
// models or dimensions must never mix in one store.
type Identity struct {
	Provider  string `json:"provider"`
	Model     string `json:"model"`
	Dimension int    `json:"dimension"`
}

func (id Identity) String() string {
	return fmt.Sprintf("%s/%s (%d dims)", id.Provider, id.Model, id.Dimension)
}

// verifyIdentity records identity on a fresh store and refuses to open a
// store written with a different one. Runs inside the open transaction.
func verifyIdentity(tx *bbolt.Tx, identity Identity) error {
	meta := tx.Bucket(bucketMeta)

	if data := meta.Get(keySchemaVersion); data != nil {
		var version int
		if err := json.Unmarshal(data, &version); err != nil {
			return fmt.Errorf("corrupt schema version: %w", err)
		}
		if version != CurrentSchemaVersion {
			return fmt.Errorf("store schema version %d, this build expects %d; re-ingest into a fresh store", version, CurrentSchemaVersion)
		}
	} else {
		data, err := json.Marshal(CurrentSchemaVersion)
		if err != nil {
			return err
		}
		if err := meta.Put(keySchemaVersion, data); err != nil {
			return err
		}
	}

	if data := meta.Get(keyIdentity); data != nil {
		var stored Identity
		if err := json.Unmarshal(data, &stored); err != nil {
			return fmt.Errorf("corrupt embedding identity: %w", err)
		}
		if stored != identity {
			return fmt.Errorf("%w: store holds %s vectors, configured model is %s; migrate or re-ingest before switching models",
				domain.ErrDimensionMismatch, stored, identity)
		}
		return nil
	}

	data, err := json.Marshal(identity)
	if err != nil {
		return err
	}
	return meta.Put(keyIdentity, data)
}
