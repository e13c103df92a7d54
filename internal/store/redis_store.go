package store

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps each record in a hash and orders records with a
// per-kind sorted set scored by creation time in milliseconds. Index keys
// live outside the record namespaces so no record ID can collide with them.
type RedisStore struct {
	c      *redis.Client
	prefix string
}

var _ Store = (*RedisStore)(nil)

var (
	// KEYS[1]=todo hash; ARGV: title. Returns the updated hash, or an empty reply if missing.
	redisScriptRenameTodo = redis.NewScript(
		"if redis.call('EXISTS', KEYS[1]) == 0 then return {} end; " +
			"redis.call('HSET', KEYS[1], 'title', ARGV[1]); " +
			"return redis.call('HGETALL', KEYS[1])",
	)
	// KEYS[1]=todo hash. Returns the updated hash, or an empty reply if missing.
	redisScriptToggleTodo = redis.NewScript(
		"if redis.call('EXISTS', KEYS[1]) == 0 then return {} end; " +
			"local c = '1'; " +
			"if redis.call('HGET', KEYS[1], 'completed') == '1' then c = '0' end; " +
			"redis.call('HSET', KEYS[1], 'completed', c); " +
			"return redis.call('HGETALL', KEYS[1])",
	)
	// KEYS[1]=todo index; ARGV[1]=todo hash key prefix. Returns the number removed.
	redisScriptDeleteCompleted = redis.NewScript(
		"local n = 0; " +
			"for _, id in ipairs(redis.call('ZRANGE', KEYS[1], 0, -1)) do " +
			"local k = ARGV[1] .. id; " +
			"if redis.call('HGET', k, 'completed') == '1' then " +
			"redis.call('DEL', k); redis.call('ZREM', KEYS[1], id); n = n + 1 " +
			"end " +
			"end; " +
			"return n",
	)
	// KEYS[1]=cpay hash, KEYS[2]=cpay index; ARGV: score, id, field/value pairs.
	// Returns 0 if the record exists, 1 once added.
	redisScriptAddCpayError = redis.NewScript(
		"if redis.call('EXISTS', KEYS[1]) == 1 then return 0 end; " +
			"redis.call('HSET', KEYS[1], unpack(ARGV, 3)); " +
			"redis.call('ZADD', KEYS[2], ARGV[1], ARGV[2]); " +
			"return 1",
	)
	// KEYS[1]=cpay hash; ARGV: remark, handled_at. Returns -1 missing, 0 already handled, 1 ok.
	redisScriptHandleCpayError = redis.NewScript(
		"local h = redis.call('HGET', KEYS[1], 'handled'); " +
			"if not h then return -1 end; " +
			"if h == '1' then return 0 end; " +
			"redis.call('HSET', KEYS[1], 'handled', '1', 'remark', ARGV[1], 'handled_at', ARGV[2]); " +
			"return 1",
	)
)

func NewRedisStore(c *redis.Client, keyPrefix string) *RedisStore {
	if keyPrefix == "" {
		keyPrefix = "flexgate:"
	}
	return &RedisStore{c: c, prefix: keyPrefix}
}

func (s *RedisStore) Client() *redis.Client {
	return s.c
}

func (s *RedisStore) Prefix() string {
	return s.prefix
}

func (s *RedisStore) ListTodos(ctx context.Context) ([]Todo, error) {
	ids, err := s.c.ZRange(ctx, s.keyTodoIndex(), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []Todo{}, nil
	}

	pipe := s.c.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, s.keyTodo(id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}

	out := make([]Todo, 0, len(ids))
	for _, cmd := range cmds {
		m := cmd.Val()
		if len(m) == 0 {
			// Index entry outlived its hash; skip it.
			continue
		}
		out = append(out, todoFromHash(m))
	}
	return out, nil
}

func (s *RedisStore) GetTodo(ctx context.Context, id string) (Todo, error) {
	m, err := s.c.HGetAll(ctx, s.keyTodo(id)).Result()
	if err != nil {
		return Todo{}, err
	}
	if len(m) == 0 {
		return Todo{}, ErrNotFound
	}
	return todoFromHash(m), nil
}

func (s *RedisStore) AddTodo(ctx context.Context, t Todo) error {
	if err := validateTodo(t); err != nil {
		return err
	}
	pipe := s.c.TxPipeline()
	pipe.HSet(ctx, s.keyTodo(t.ID),
		"id", t.ID,
		"title", t.Title,
		"completed", boolString(t.Completed),
		"created_at", t.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	pipe.ZAdd(ctx, s.keyTodoIndex(), redis.Z{Score: float64(t.CreatedAt.UnixMilli()), Member: t.ID})
	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisStore) RenameTodo(ctx context.Context, id, title string) (Todo, error) {
	if title == "" {
		return Todo{}, ErrInvalidRecord
	}
	return s.runTodoScript(ctx, redisScriptRenameTodo, id, title)
}

func (s *RedisStore) ToggleTodo(ctx context.Context, id string) (Todo, error) {
	return s.runTodoScript(ctx, redisScriptToggleTodo, id)
}

func (s *RedisStore) runTodoScript(ctx context.Context, script *redis.Script, id string, args ...any) (Todo, error) {
	res, err := script.Run(ctx, s.c, []string{s.keyTodo(id)}, args...).StringSlice()
	if err != nil {
		return Todo{}, err
	}
	if len(res) == 0 {
		return Todo{}, ErrNotFound
	}
	m := make(map[string]string, len(res)/2)
	for i := 0; i+1 < len(res); i += 2 {
		m[res[i]] = res[i+1]
	}
	return todoFromHash(m), nil
}

func (s *RedisStore) DeleteTodo(ctx context.Context, id string) error {
	pipe := s.c.TxPipeline()
	del := pipe.Del(ctx, s.keyTodo(id))
	pipe.ZRem(ctx, s.keyTodoIndex(), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return err
	}
	if del.Val() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *RedisStore) DeleteCompleted(ctx context.Context) (int, error) {
	return redisScriptDeleteCompleted.Run(ctx, s.c, []string{s.keyTodoIndex()}, s.keyTodo("")).Int()
}

func (s *RedisStore) ListCpayErrors(ctx context.Context) ([]CpayError, error) {
	ids, err := s.c.ZRange(ctx, s.keyCpayIndex(), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []CpayError{}, nil
	}

	pipe := s.c.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, s.keyCpay(id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}

	out := make([]CpayError, 0, len(ids))
	for _, cmd := range cmds {
		if m := cmd.Val(); len(m) > 0 {
			out = append(out, cpayErrorFromHash(m))
		}
	}
	return out, nil
}

func (s *RedisStore) AddCpayError(ctx context.Context, e CpayError) error {
	if err := validateCpayError(e); err != nil {
		return err
	}
	fields := []any{
		"id", e.ID,
		"order_no", e.OrderNo,
		"amount", strconv.FormatInt(e.Amount, 10),
		"error_code", e.ErrorCode,
		"error_message", e.ErrorMessage,
		"handled", boolString(e.Handled),
		"remark", e.Remark,
		"created_at", e.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	if e.HandledAt != nil {
		fields = append(fields, "handled_at", e.HandledAt.UTC().Format(time.RFC3339Nano))
	}

	args := append([]any{e.CreatedAt.UnixMilli(), e.ID}, fields...)
	n, err := redisScriptAddCpayError.Run(ctx, s.c, []string{s.keyCpay(e.ID), s.keyCpayIndex()}, args...).Int()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrAlreadyExists
	}
	return nil
}

func (s *RedisStore) HandleCpayError(ctx context.Context, id, remark string, at time.Time) (CpayError, error) {
	key := s.keyCpay(id)
	n, err := redisScriptHandleCpayError.Run(ctx, s.c, []string{key}, remark, at.UTC().Format(time.RFC3339Nano)).Int()
	if err != nil {
		return CpayError{}, err
	}
	if n < 0 {
		return CpayError{}, ErrNotFound
	}

	m, err := s.c.HGetAll(ctx, key).Result()
	if err != nil {
		return CpayError{}, err
	}
	e := cpayErrorFromHash(m)
	if n == 0 {
		return e, ErrAlreadyHandled
	}
	return e, nil
}

func todoFromHash(m map[string]string) Todo {
	return Todo{
		ID:        m["id"],
		Title:     m["title"],
		Completed: m["completed"] == "1",
		CreatedAt: parseTime(m["created_at"]),
	}
}

func cpayErrorFromHash(m map[string]string) CpayError {
	amount, _ := strconv.ParseInt(m["amount"], 10, 64)
	e := CpayError{
		ID:           m["id"],
		OrderNo:      m["order_no"],
		Amount:       amount,
		ErrorCode:    m["error_code"],
		ErrorMessage: m["error_message"],
		Handled:      m["handled"] == "1",
		Remark:       m["remark"],
		CreatedAt:    parseTime(m["created_at"]),
	}
	if v := m["handled_at"]; v != "" {
		t := parseTime(v)
		e.HandledAt = &t
	}
	return e
}

func parseTime(v string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}
	}
	return t
}

func boolString(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func (s *RedisStore) keyTodo(id string) string {
	return fmt.Sprintf("%stodo:%s", s.prefix, id)
}

func (s *RedisStore) keyTodoIndex() string {
	return s.prefix + "todos:index"
}

func (s *RedisStore) keyCpay(id string) string {
	return fmt.Sprintf("%scpay:%s", s.prefix, id)
}

func (s *RedisStore) keyCpayIndex() string {
	return s.prefix + "cpays:index"
}
