package stores

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/MrEthical07/goVerify/internal/token"
	"github.com/redis/go-redis/v9"
)

const (
	tokenRecordVersionV1  = 1
	defaultTokenRetention = time.Hour
	purgeScanCount        = 256
)

// mutateTokenLua applies one mutation to the record at KEYS[1] if it still
// carries the expected token id.
// KEYS[1] = record key
// ARGV[1] = token id
// ARGV[2] = op: "reserve", "verify", "delete", "consume"
// ARGV[3] = attempt budget (reserve only)
//
// Returns 1 when the mutation applied, 0 when the record is gone, replaced,
// not verified (consume) or out of attempts (reserve).
var mutateTokenLua = redis.NewScript(`
local data = redis.call('GET', KEYS[1])
if not data then
  return 0
end
if string.byte(data, 1) ~= 1 then
  return 0
end

-- version(1) attempts(2) verified(1) createdAt(8) expiresAt(8) idLen(2) id ...
local idLen = string.byte(data, 21) * 256 + string.byte(data, 22)
local id = string.sub(data, 23, 22 + idLen)
if id ~= ARGV[1] then
  return 0
end

local op = ARGV[2]
if op == 'delete' then
  redis.call('DEL', KEYS[1])
  return 1
end
if op == 'consume' then
  if string.byte(data, 4) ~= 1 then
    return 0
  end
  redis.call('DEL', KEYS[1])
  return 1
end

local newData
if op == 'reserve' then
  local attempts = string.byte(data, 2) * 256 + string.byte(data, 3)
  if attempts >= tonumber(ARGV[3]) or attempts >= 65535 then
    return 0
  end
  attempts = attempts + 1
  newData = string.sub(data, 1, 1) .. string.char(math.floor(attempts / 256), attempts % 256) .. string.sub(data, 4)
elseif op == 'verify' then
  newData = string.sub(data, 1, 3) .. string.char(1) .. string.sub(data, 5)
else
  return {err='unknown_op'}
end

local ttlMs = redis.call('PTTL', KEYS[1])
if ttlMs > 0 then
  redis.call('SET', KEYS[1], newData, 'PX', ttlMs)
else
  redis.call('SET', KEYS[1], newData)
end
return 1
`)

// purgeTokenLua deletes KEYS[1] when its expiresAt (unix ms) is before ARGV[1].
var purgeTokenLua = redis.NewScript(`
local data = redis.call('GET', KEYS[1])
if not data then
  return 0
end
local expiresAt = 0
for i = 13, 20 do
  expiresAt = expiresAt * 256 + string.byte(data, i)
end
if expiresAt < tonumber(ARGV[1]) then
  redis.call('DEL', KEYS[1])
  return 1
end
return 0
`)

// TokenStoreConfig tunes a [TokenStore].
type TokenStoreConfig struct {
	Prefix string
	// Retention keeps a record readable after ExpiresAt so lookups can report
	// expiry and recently verified tokens stay consumable. Defaults to one hour.
	Retention time.Duration
	Now       func() time.Time
}

// TokenStore keeps one binary-encoded record per (subject, purpose) under a
// single Redis key, so a plain SET is the atomic replace.
type TokenStore struct {
	redis     redis.UniversalClient
	prefix    string
	retention time.Duration
	now       func() time.Time
}

var _ token.Store = (*TokenStore)(nil)

func NewTokenStore(redisClient redis.UniversalClient, cfg TokenStoreConfig) *TokenStore {
	if cfg.Prefix == "" {
		cfg.Prefix = "vtk"
	}
	if cfg.Retention <= 0 {
		cfg.Retention = defaultTokenRetention
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &TokenStore{
		redis:     redisClient,
		prefix:    cfg.Prefix,
		retention: cfg.Retention,
		now:       cfg.Now,
	}
}

func (s *TokenStore) key(subjectKey string, purpose token.Purpose) string {
	return s.prefix + ":" + string(purpose) + ":" + subjectKey
}

func (s *TokenStore) Replace(ctx context.Context, t token.Token) error {
	encoded, err := encodeTokenRecord(t)
	if err != nil {
		return err
	}

	ttl := t.ExpiresAt.Add(s.retention).Sub(s.now())
	if ttl <= 0 {
		ttl = time.Millisecond
	}

	if err := s.redis.Set(ctx, s.key(t.SubjectKey, t.Purpose), encoded, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", token.ErrUnavailable, err)
	}
	return nil
}

func (s *TokenStore) Find(ctx context.Context, subjectKey string, purpose token.Purpose) (token.Token, error) {
	data, err := s.redis.Get(ctx, s.key(subjectKey, purpose)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return token.Token{}, token.ErrNotFound
		}
		return token.Token{}, fmt.Errorf("%w: %v", token.ErrUnavailable, err)
	}

	t, err := decodeTokenRecord(data)
	if err != nil {
		return token.Token{}, fmt.Errorf("%w: %v", token.ErrUnavailable, err)
	}
	t.SubjectKey = subjectKey
	t.Purpose = purpose
	return t, nil
}

// ReserveAttempt spends one attempt if fewer than limit have been used.
func (s *TokenStore) ReserveAttempt(ctx context.Context, t token.Token, limit int) (bool, error) {
	return s.mutate(ctx, t, "reserve", limit)
}

func (s *TokenStore) MarkVerified(ctx context.Context, t token.Token) error {
	_, err := s.mutate(ctx, t, "verify")
	return err
}

func (s *TokenStore) Delete(ctx context.Context, t token.Token) error {
	_, err := s.mutate(ctx, t, "delete")
	return err
}

func (s *TokenStore) ConsumeVerified(ctx context.Context, t token.Token) (bool, error) {
	return s.mutate(ctx, t, "consume")
}

func (s *TokenStore) DeleteAll(ctx context.Context, subjectKey string, purpose token.Purpose) error {
	if err := s.redis.Del(ctx, s.key(subjectKey, purpose)).Err(); err != nil {
		return fmt.Errorf("%w: %v", token.ErrUnavailable, err)
	}
	return nil
}

// DeleteExpired scans the store prefix and removes records that expired before before.
func (s *TokenStore) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	var (
		cursor  uint64
		removed int64
	)
	for {
		keys, next, err := s.redis.Scan(ctx, cursor, s.prefix+":*", purgeScanCount).Result()
		if err != nil {
			return removed, fmt.Errorf("%w: %v", token.ErrUnavailable, err)
		}
		for _, key := range keys {
			n, err := purgeTokenLua.Run(ctx, s.redis, []string{key}, before.UnixMilli()).Int64()
			if err != nil {
				return removed, fmt.Errorf("%w: %v", token.ErrUnavailable, err)
			}
			removed += n
		}
		cursor = next
		if cursor == 0 {
			return removed, nil
		}
	}
}

func (s *TokenStore) mutate(ctx context.Context, t token.Token, op string, limit ...int) (bool, error) {
	args := []any{t.ID, op}
	if len(limit) > 0 {
		args = append(args, limit[0])
	}
	n, err := mutateTokenLua.Run(ctx, s.redis,
		[]string{s.key(t.SubjectKey, t.Purpose)},
		args...,
	).Int64()
	if err != nil {
		return false, fmt.Errorf("%w: %v", token.ErrUnavailable, err)
	}
	return n == 1, nil
}

func encodeTokenRecord(t token.Token) ([]byte, error) {
	if len(t.ID) > 65535 || len(t.Code) > 65535 {
		return nil, errors.New("token record field too long")
	}
	if t.Attempts < 0 || t.Attempts > 65535 {
		return nil, errors.New("token record attempts out of range")
	}

	var buf bytes.Buffer
	buf.WriteByte(tokenRecordVersionV1)

	if err := binary.Write(&buf, binary.BigEndian, uint16(t.Attempts)); err != nil {
		return nil, err
	}
	if t.Verified {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
	if err := binary.Write(&buf, binary.BigEndian, t.CreatedAt.UnixMilli()); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, t.ExpiresAt.UnixMilli()); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, uint16(len(t.ID))); err != nil {
		return nil, err
	}
	buf.WriteString(t.ID)
	if err := binary.Write(&buf, binary.BigEndian, uint16(len(t.Code))); err != nil {
		return nil, err
	}
	buf.WriteString(t.Code)

	return buf.Bytes(), nil
}

func decodeTokenRecord(data []byte) (token.Token, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return token.Token{}, err
	}
	if version != tokenRecordVersionV1 {
		return token.Token{}, errors.New("invalid token record version")
	}

	var attempts uint16
	if err := binary.Read(reader, binary.BigEndian, &attempts); err != nil {
		return token.Token{}, err
	}
	verified, err := reader.ReadByte()
	if err != nil {
		return token.Token{}, err
	}

	var createdAt, expiresAt int64
	if err := binary.Read(reader, binary.BigEndian, &createdAt); err != nil {
		return token.Token{}, err
	}
	if err := binary.Read(reader, binary.BigEndian, &expiresAt); err != nil {
		return token.Token{}, err
	}

	id, err := readString16(reader)
	if err != nil {
		return token.Token{}, err
	}
	code, err := readString16(reader)
	if err != nil {
		return token.Token{}, err
	}

	return token.Token{
		ID:        id,
		Code:      code,
		CreatedAt: time.UnixMilli(createdAt).UTC(),
		ExpiresAt: time.UnixMilli(expiresAt).UTC(),
		Attempts:  int(attempts),
		Verified:  verified == 1,
	}, nil
}

func readString16(reader *bytes.Reader) (string, error) {
	var n uint16
	if err := binary.Read(reader, binary.BigEndian, &n); err != nil {
		return "", err
	}
	raw := make([]byte, n)
	if _, err := io.ReadFull(reader, raw); err != nil {
		return "", err
	}
	return string(raw), nil
}
