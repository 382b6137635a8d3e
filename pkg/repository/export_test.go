package repository

import "github.com/tidwall/buntdb"

// PutRaw stores value under HistoryKey without encoding
func (r *KV) PutRaw(value string) error {
	return r.db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(HistoryKey, value, nil)
		return err
	})
}
