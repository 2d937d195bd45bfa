package insight

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/mintlabs/engagemint/internal/stats"
)

// SessionDigest captures everything about a session that should
// invalidate a cached insight when it changes: new telemetry moves
// PointCount and the stats, metadata edits move UpdatedAt.
type SessionDigest struct {
	SessionID  string             `json:"sessionId"`
	UpdatedAt  string             `json:"updatedAt"`
	PointCount int                `json:"pointCount"`
	Stats      stats.SessionStats `json:"stats"`
}

type keyInput struct {
	Kind     string          `json:"kind"`
	Sessions []SessionDigest `json:"sessions"`
}

// CacheKey derives a deterministic key from the digests. Digest order is
// significant: comparing A against B is a different question than B
// against A, so the two get separate cache entries.
func CacheKey(kind string, digests []SessionDigest) string {
	data, err := json.Marshal(keyInput{Kind: kind, Sessions: digests})
	if err != nil {
		// Marshal of these plain structs cannot fail; guard anyway.
		data = []byte(kind)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
