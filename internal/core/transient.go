package core

import (
	"fmt"
	"log"
	"time"

	"gorm.io/gorm"
)

// GCTransientRecords sweeps every transient model and deletes records older
// than its configured max age. An external scheduler calls this
// periodically; the return value maps model name to deleted row count.
func GCTransientRecords(db *gorm.DB) (map[string]int64, error) {
	counts := make(map[string]int64)
	now := time.Now().UTC()
	for _, m := range TransientModels() {
		cutoff := now.Add(-time.Duration(m.TransientMaxAgeHours) * time.Hour)
		res := db.Exec(fmt.Sprintf("DELETE FROM %s WHERE created_at < ?", quoteIdent(m.Table)), cutoff)
		if res.Error != nil {
			return counts, fmt.Errorf("transient gc %s: %w", m.Name, translateDBError(res.Error))
		}
		if res.RowsAffected > 0 {
			counts[m.Name] = res.RowsAffected
			log.Printf("transient gc: cleaned %d records from %s", res.RowsAffected, m.Table)
		}
	}
	return counts, nil
}
