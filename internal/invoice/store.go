package invoice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const lockRetryInterval = 50 * time.Millisecond

// FormKey builds the redis key holding an open form.
func FormKey(name string) string {
	return fmt.Sprintf("invoice:form:%s", name)
}

// FormLockKey builds the redis key serializing edits of one form.
func FormLockKey(name string) string {
	return fmt.Sprintf("invoice:form:%s:lock", name)
}

// Session is the persisted state of an open form.
type Session struct {
	Invoice   *Invoice  `json:"invoice"`
	Gate      Gate      `json:"gate"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store keeps open forms in Redis.
type Store struct {
	client   *redis.Client
	ttl      time.Duration
	lockTTL  time.Duration
	lockWait time.Duration
}

// NewStore constructs a Store. ttl bounds how long an untouched form survives; lockTTL
// bounds how long one handler may hold a form.
func NewStore(client *redis.Client, ttl, lockTTL time.Duration) *Store {
	if lockTTL <= 0 {
		lockTTL = time.Minute
	}
	return &Store{client: client, ttl: ttl, lockTTL: lockTTL, lockWait: 2 * time.Second}
}

// Get loads an open form.
func (s *Store) Get(ctx context.Context, name string) (*Session, error) {
	payload, err := s.client.Get(ctx, FormKey(name)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrFormNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load form %s: %w", name, err)
	}
	var sess Session
	if err := json.Unmarshal(payload, &sess); err != nil {
		return nil, fmt.Errorf("decode form %s: %w", name, err)
	}
	if sess.Invoice == nil {
		return nil, fmt.Errorf("decode form %s: missing invoice", name)
	}
	return &sess, nil
}

// Create stores a new form, failing when one with the same name is open.
func (s *Store) Create(ctx context.Context, sess *Session) error {
	raw, err := s.encode(sess)
	if err != nil {
		return err
	}
	ok, err := s.client.SetNX(ctx, FormKey(sess.Invoice.Name), raw, s.ttl).Result()
	if err != nil {
		return fmt.Errorf("create form %s: %w", sess.Invoice.Name, err)
	}
	if !ok {
		return ErrFormExists
	}
	return nil
}

// Save overwrites a form and refreshes its expiry.
func (s *Store) Save(ctx context.Context, sess *Session) error {
	raw, err := s.encode(sess)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, FormKey(sess.Invoice.Name), raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("save form %s: %w", sess.Invoice.Name, err)
	}
	return nil
}

// Delete discards a form.
func (s *Store) Delete(ctx context.Context, name string) error {
	n, err := s.client.Del(ctx, FormKey(name)).Result()
	if err != nil {
		return fmt.Errorf("delete form %s: %w", name, err)
	}
	if n == 0 {
		return ErrFormNotFound
	}
	return nil
}

func (s *Store) encode(sess *Session) ([]byte, error) {
	if sess == nil || sess.Invoice == nil || sess.Invoice.Name == "" {
		return nil, errors.New("form session requires an invoice name")
	}
	sess.UpdatedAt = time.Now().UTC()
	return json.Marshal(sess)
}

var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Lock acquires the per-form lock, waiting briefly for a concurrent holder. The
// returned function releases the lock only if it is still owned.
func (s *Store) Lock(ctx context.Context, name string) (func(), error) {
	key := FormLockKey(name)
	token := uuid.NewString()
	deadline := time.Now().Add(s.lockWait)
	for {
		ok, err := s.client.SetNX(ctx, key, token, s.lockTTL).Result()
		if err != nil {
			return nil, fmt.Errorf("lock form %s: %w", name, err)
		}
		if ok {
			break
		}
		if time.Now().After(deadline) {
			return nil, ErrFormLocked
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(lockRetryInterval):
		}
	}
	return func() {
		_ = unlockScript.Run(context.WithoutCancel(ctx), s.client, []string{key}, token).Err()
	}, nil
}
