package credential

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/golang-jwt/jwt/v5"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/desurestar/RSOD-project/internal/domain"
	apperrors "github.com/desurestar/RSOD-project/pkg/errors"
)

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "42",
		ExpiresAt: jwt.NewNumericDate(exp),
	})
	s, err := tok.SignedString([]byte("test-key"))
	require.NoError(t, err)
	return s
}

func setupRedis(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedis(client, "test"), mr
}

// storeFactories lets the contract tests run against every implementation.
func storeFactories(t *testing.T) map[string]func() Store {
	return map[string]func() Store{
		"memory": func() Store { return NewMemory(domain.Tokens{}) },
		"file":   func() Store { return NewFile(filepath.Join(t.TempDir(), "nested", "tokens.json")) },
		"redis": func() Store {
			s, _ := setupRedis(t)
			return s
		},
	}
}

// --- Store contract ---

func TestStore_Contract(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := factory()

			got, err := s.Load(ctx)
			require.NoError(t, err)
			assert.True(t, got.Empty(), "fresh store holds no session")

			exp := time.Now().Add(time.Hour).Truncate(time.Second)
			access := signedToken(t, exp)
			require.NoError(t, s.Save(ctx, domain.Tokens{Access: access, Refresh: "refresh-1"}))

			got, err = s.Load(ctx)
			require.NoError(t, err)
			assert.Equal(t, access, got.Access)
			assert.Equal(t, "refresh-1", got.Refresh)
			assert.True(t, exp.Equal(got.AccessExpiresAt), "expiry from exp claim, got %v", got.AccessExpiresAt)

			require.NoError(t, s.Clear(ctx))
			got, err = s.Load(ctx)
			require.NoError(t, err)
			assert.True(t, got.Empty())

			require.NoError(t, s.Clear(ctx), "clearing twice is fine")
		})
	}
}

func TestStore_RejectsHalfPair(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := factory()
			err := s.Save(context.Background(), domain.Tokens{Access: "only-access"})
			require.Error(t, err)
			assert.ErrorIs(t, err, apperrors.ErrInvalidInput)

			err = s.Save(context.Background(), domain.Tokens{Refresh: "only-refresh"})
			assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
		})
	}
}

func TestStore_OpaqueAccessGetsDefaultTTL(t *testing.T) {
	s := NewMemory(domain.Tokens{})
	before := time.Now()
	require.NoError(t, s.Save(context.Background(), domain.Tokens{Access: "opaque", Refresh: "r"}))

	got, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.WithinDuration(t, before.Add(DefaultAccessTTL), got.AccessExpiresAt, time.Second)
}

// --- Expiry ---

func TestExpiry(t *testing.T) {
	exp := time.Now().Add(-time.Minute).Truncate(time.Second)
	got, ok := Expiry(signedToken(t, exp))
	require.True(t, ok, "expired tokens still report their exp")
	assert.True(t, exp.Equal(got))

	_, ok = Expiry("not-a-jwt")
	assert.False(t, ok)

	noExp, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "1"}).SignedString([]byte("k"))
	require.NoError(t, err)
	_, ok = Expiry(noExp)
	assert.False(t, ok)
}

// --- File ---

func TestFile_PermissionsAndLayout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokens.json")
	s := NewFile(path)
	require.NoError(t, s.Save(context.Background(), domain.Tokens{Access: "a", Refresh: "r"}))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var doc map[string]map[string]any
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.Equal(t, "a", doc["access_token"]["value"])
	assert.Equal(t, "r", doc["refresh_token"]["value"])
}

func TestFile_ExpiredRefreshIsNoSession(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokens.json")
	s := NewFile(path)
	refresh := signedToken(t, time.Now().Add(time.Hour))
	require.NoError(t, s.Save(context.Background(), domain.Tokens{Access: "a", Refresh: refresh}))

	s.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	got, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.True(t, got.Empty())

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err), "expired pair is removed")
}

func TestFile_HalfPairOnDiskIsNoSession(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokens.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"access_token":{"value":"a"}}`), 0o600))

	got, err := NewFile(path).Load(context.Background())
	require.NoError(t, err)
	assert.True(t, got.Empty())
}

func TestFile_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokens.json")
	require.NoError(t, os.WriteFile(path, []byte(`{not json`), 0o600))

	_, err := NewFile(path).Load(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode token file")
}

func TestFile_Check(t *testing.T) {
	dir := t.TempDir()
	assert.NoError(t, NewFile(filepath.Join(dir, "missing", "tokens.json")).Check(context.Background()))

	blocker := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0o600))
	assert.Error(t, NewFile(filepath.Join(blocker, "tokens.json")).Check(context.Background()))
}

// --- Redis ---

func TestRedis_KeysShareRefreshLifetime(t *testing.T) {
	s, mr := setupRedis(t)
	refresh := signedToken(t, time.Now().Add(48*time.Hour))
	require.NoError(t, s.Save(context.Background(), domain.Tokens{Access: "a", Refresh: refresh}))

	assert.True(t, mr.Exists("test:access_token"))
	assert.True(t, mr.Exists("test:refresh_token"))
	accessTTL := mr.TTL("test:access_token")
	refreshTTL := mr.TTL("test:refresh_token")
	assert.InDelta(t, (48 * time.Hour).Seconds(), accessTTL.Seconds(), 5)
	assert.Equal(t, accessTTL, refreshTTL)

	mr.FastForward(49 * time.Hour)
	got, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.True(t, got.Empty())
}

func TestRedis_OpaqueRefreshHasNoTTL(t *testing.T) {
	s, mr := setupRedis(t)
	require.NoError(t, s.Save(context.Background(), domain.Tokens{Access: "a", Refresh: "r"}))
	assert.Equal(t, time.Duration(0), mr.TTL("test:refresh_token"))
}

func TestRedis_HalfPairIsCleared(t *testing.T) {
	s, mr := setupRedis(t)
	require.NoError(t, mr.Set("test:refresh_token", "r"))

	got, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.True(t, got.Empty())
	assert.False(t, mr.Exists("test:refresh_token"))
}

func TestRedis_ServerDown(t *testing.T) {
	s, mr := setupRedis(t)
	mr.Close()

	_, err := s.Load(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis mget tokens")
	assert.Error(t, s.Check(context.Background()))
}

func TestNewRedisClient(t *testing.T) {
	mr := miniredis.RunT(t)
	port, err := strconv.Atoi(mr.Port())
	require.NoError(t, err)

	client, err := NewRedisClient(context.Background(), RedisConfig{Host: mr.Host(), Port: port})
	require.NoError(t, err)
	defer client.Close()

	_, err = NewRedisClient(context.Background(), RedisConfig{Host: "127.0.0.1", Port: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ping redis")
}
