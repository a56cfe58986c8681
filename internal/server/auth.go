package server

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/crypto/argon2"

	"phobos.org.uk/xbridge/internal/api"
)

// Argon2id parameters
const (
	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
	argonKeyLen  = 32
	argonSaltLen = 16
)

// HashToken creates an Argon2id hash of token for auth.token_hash.
func HashToken(token string) (string, error) {
	if token == "" {
		return "", fmt.Errorf("token must not be empty")
	}
	salt := make([]byte, argonSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}

	hash := argon2.IDKey([]byte(token), salt, argonTime, argonMemory, argonThreads, argonKeyLen)

	// $argon2id$v=19$m=65536,t=1,p=4$<base64-salt>$<base64-hash>
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, argonMemory, argonTime, argonThreads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash)), nil
}

// VerifyToken checks token against an encoded Argon2id hash.
func VerifyToken(token, encodedHash string) bool {
	parts := strings.Split(encodedHash, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return false
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return false
	}
	var memory, iterations uint32
	var threads uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &iterations, &threads); err != nil {
		return false
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false
	}
	expected, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(expected) == 0 {
		return false
	}

	computed := argon2.IDKey([]byte(token), salt, iterations, memory, threads, uint32(len(expected)))
	return subtle.ConstantTimeCompare(computed, expected) == 1
}

// verifyCacheSize bounds how many distinct tokens have a cached verdict.
const verifyCacheSize = 256

// tokenVerifier caches Argon2 verdicts, accepted and rejected, by token digest.
type tokenVerifier struct {
	hash     string
	verdicts *lru.Cache[[sha256.Size]byte, bool]
}

func newTokenVerifier(hash string) *tokenVerifier {
	cache, err := lru.New[[sha256.Size]byte, bool](verifyCacheSize)
	if err != nil {
		panic(err) // only for a non-positive size
	}
	return &tokenVerifier{hash: hash, verdicts: cache}
}

func (v *tokenVerifier) verify(token string) bool {
	if token == "" {
		return false
	}
	sum := sha256.Sum256([]byte(token))
	if ok, cached := v.verdicts.Get(sum); cached {
		return ok
	}
	ok := VerifyToken(token, v.hash)
	v.verdicts.Add(sum, ok)
	return ok
}

// BearerAuth returns middleware that requires a token matching tokenHash, given as
// "Authorization: Bearer <token>" or "?token=<token>". An empty hash disables auth.
func BearerAuth(tokenHash string) func(http.Handler) http.Handler {
	v := newTokenVerifier(tokenHash)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if tokenHash == "" {
				next.ServeHTTP(w, r)
				return
			}

			if token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok && v.verify(token) {
				next.ServeHTTP(w, r)
				return
			}
			if v.verify(r.URL.Query().Get("token")) {
				next.ServeHTTP(w, r)
				return
			}

			api.WriteError(w, http.StatusUnauthorized, api.ErrorUnauthorized, "Invalid or missing token")
		})
	}
}
