package idempotency

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
)

// fingerprint hashes a canonical JSON rendering of the payload. Map keys
// are emitted sorted, so the same parameters always produce the same
// digest regardless of field order in the request.
func fingerprint(payload map[string]any) string {
	data, err := json.Marshal(payload)
	if err != nil {
		// Only maps of strings and integers reach this point.
		panic("idempotency: unmarshalable fingerprint payload: " + err.Error())
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// InitFingerprint digests the parameters of an init request. The
// whole-file checksum participates lowercased, or as null when the
// client did not send one, so replays are insensitive to hex casing.
func InitFingerprint(fileName string, fileSize, chunkSize int64, fileChecksum string) string {
	var checksum any
	if fileChecksum != "" {
		checksum = strings.ToLower(fileChecksum)
	}
	return fingerprint(map[string]any{
		"file_name":            fileName,
		"file_size":            fileSize,
		"chunk_size":           chunkSize,
		"file_checksum_sha256": checksum,
	})
}

// ChunkFingerprint digests the raw chunk body. Two PUTs with the same
// key but different bytes are conflicts, not replays.
func ChunkFingerprint(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// CompleteFingerprint digests a completion request: the upload it
// targets plus the whole-file checksum, when the client re-declares one
// at completion time. Lowercasing mirrors InitFingerprint.
func CompleteFingerprint(uploadID, fileChecksum string) string {
	var checksum any
	if fileChecksum != "" {
		checksum = strings.ToLower(fileChecksum)
	}
	return fingerprint(map[string]any{
		"upload_id":            uploadID,
		"file_checksum_sha256": checksum,
	})
}
