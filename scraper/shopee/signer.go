package shopee

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
)

// Sign returns the GraphQL request signature: the hex SHA-256 of
// appID + timestamp + body + secret. body must be the exact bytes sent.
func Sign(appID, secret string, timestamp int64, body []byte) string {
	h := sha256.New()
	h.Write([]byte(appID))
	h.Write([]byte(strconv.FormatInt(timestamp, 10)))
	h.Write(body)
	h.Write([]byte(secret))
	return hex.EncodeToString(h.Sum(nil))
}

// SignREST returns the open-platform REST signature: the hex SHA-256 of
// appID + path + timestamp + secret.
func SignREST(appID, path string, timestamp int64, secret string) string {
	sum := sha256.Sum256([]byte(appID + path + strconv.FormatInt(timestamp, 10) + secret))
	return hex.EncodeToString(sum[:])
}

// AuthorizationHeader builds the value of the Authorization header
func AuthorizationHeader(appID string, timestamp int64, signature string) string {
	return fmt.Sprintf("SHA256 Credential=%s, Timestamp=%d, Signature=%s", appID, timestamp, signature)
}
