package recorder

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/goccy/go-json"

	"mercator-hq/warden/pkg/evidence"
)

// Digest returns the hex SHA-256 of r's JSON encoding with the Digest
// field cleared.
func Digest(r *evidence.Record) (string, error) {
	cp := *r
	cp.Digest = ""
	data, err := json.Marshal(&cp)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Verify reports whether r's Digest matches its content.
func Verify(r *evidence.Record) bool {
	d, err := Digest(r)
	return err == nil && d == r.Digest
}
