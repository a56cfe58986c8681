// Package patch rewrites an XAgent checkout so its server runs without Redis.
package patch

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	"phobos.org.uk/xbridge/internal/fsutil"
)

var (
	//go:embed python/mock_redis.py
	mockRedisSource []byte

	//go:embed python/redis_ext.py
	redisExtSource []byte
)

// Paths relative to the XAgent home.
const (
	ExtsDir        = "XAgentServer/exts"
	MockRedisFile  = ExtsDir + "/mock_redis.py"
	RedisExtFile   = ExtsDir + "/redis_ext.py"
	GlobalValFile  = "XAgentServer/application/global_val.py"
	LockFile       = ".xbridge-patch.lock"
	patchedMarker  = "MockRedisClient"
	redisImport    = "from XAgentServer.exts.redis_ext import RedisClient"
	redisInit      = "redis = RedisClient()"
	mockImport     = "from XAgentServer.exts.mock_redis import MockRedisClient"
	mockInit       = "redis = MockRedisClient()"
	commentedPrior = "# " + redisImport
)

// ErrGlobalValMissing is returned when the checkout has no global_val.py to patch.
var ErrGlobalValMissing = errors.New("global_val.py not found")

// Report describes what DisableRedis changed.
type Report struct {
	MockWritten      bool // mock_redis.py written or refreshed
	GlobalValPatched bool // global_val.py rewritten by this call
	AlreadyPatched   bool // global_val.py already referenced the mock
	RedisExtCreated  bool // redis_ext.py was absent and has been created
}

// DisableRedis installs the mock Redis client into home and points
// global_val.py at it. It is idempotent and serialised across processes by a
// lock file in home.
func DisableRedis(home string) (Report, error) {
	var report Report

	if info, err := os.Stat(home); err != nil || !info.IsDir() {
		return report, fmt.Errorf("XAgent home %s is not a directory", home)
	}

	lock := flock.New(filepath.Join(home, LockFile))
	if err := lock.Lock(); err != nil {
		return report, fmt.Errorf("failed to acquire lock on %s: %w", lock.Path(), err)
	}
	defer lock.Unlock()

	if err := os.MkdirAll(filepath.Join(home, filepath.FromSlash(ExtsDir)), 0755); err != nil {
		return report, fmt.Errorf("creating %s: %w", ExtsDir, err)
	}

	if err := fsutil.AtomicWrite(filepath.Join(home, filepath.FromSlash(MockRedisFile)), mockRedisSource, 0644); err != nil {
		return report, err
	}
	report.MockWritten = true

	patched, err := patchGlobalVal(filepath.Join(home, filepath.FromSlash(GlobalValFile)))
	if err != nil {
		return report, err
	}
	report.GlobalValPatched = patched
	report.AlreadyPatched = !patched

	extPath := filepath.Join(home, filepath.FromSlash(RedisExtFile))
	if _, err := os.Stat(extPath); errors.Is(err, fs.ErrNotExist) {
		if err := fsutil.AtomicWrite(extPath, redisExtSource, 0644); err != nil {
			return report, err
		}
		report.RedisExtCreated = true
	} else if err != nil {
		return report, fmt.Errorf("checking %s: %w", RedisExtFile, err)
	}

	return report, nil
}

// patchGlobalVal swaps the Redis client for the mock. It returns false when the
// file already mentions the mock.
func patchGlobalVal(path string) (bool, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, fmt.Errorf("%w at %s", ErrGlobalValMissing, path)
	}
	if err != nil {
		return false, fmt.Errorf("reading %s: %w", path, err)
	}

	if bytes.Contains(data, []byte(patchedMarker)) {
		return false, nil
	}

	out := bytes.ReplaceAll(data, []byte(redisImport), []byte(commentedPrior+"\n"+mockImport))
	out = bytes.ReplaceAll(out, []byte(redisInit), []byte(mockInit))

	info, err := os.Stat(path)
	if err != nil {
		return false, err
	}
	if err := fsutil.AtomicWrite(path, out, info.Mode().Perm()); err != nil {
		return false, err
	}
	return true, nil
}
