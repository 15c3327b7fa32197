package state

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
)

type step struct {
	Name string
	N    int
}

var stepCodec = Codec[step]{
	Marshal: func(s step) ([]byte, error) {
		if s.Name == "" {
			return nil, errors.New("empty name")
		}
		return []byte(s.Name + "|" + strings.Repeat("+", s.N)), nil
	},
	Unmarshal: func(b []byte) (step, error) {
		name, plus, ok := strings.Cut(string(b), "|")
		if !ok {
			return step{}, errors.New("malformed")
		}
		return step{Name: name, N: len(plus)}, nil
	},
}

// exerciseStore runs the get/set/clear contract shared by every backend.
func exerciseStore(t *testing.T, st Store[step]) {
	t.Helper()
	ctx := context.Background()

	if _, found, err := st.Get(ctx, 7); err != nil || found {
		t.Fatalf("empty get: found=%v err=%v", found, err)
	}
	if err := st.Set(ctx, 7, step{Name: "receive_no", N: 2}); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := st.Set(ctx, 8, step{Name: "receive_name"}); err != nil {
		t.Fatalf("set other chat: %v", err)
	}
	got, found, err := st.Get(ctx, 7)
	if err != nil || !found {
		t.Fatalf("get: found=%v err=%v", found, err)
	}
	if got != (step{Name: "receive_no", N: 2}) {
		t.Fatalf("get = %+v", got)
	}
	if err := st.Set(ctx, 7, step{Name: "receive_symbol", N: 3}); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	if got, _, _ := st.Get(ctx, 7); got.Name != "receive_symbol" || got.N != 3 {
		t.Fatalf("overwrite not visible: %+v", got)
	}
	if err := st.Clear(ctx, 7); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if _, found, err := st.Get(ctx, 7); err != nil || found {
		t.Fatalf("get after clear: found=%v err=%v", found, err)
	}
	if err := st.Clear(ctx, 7); err != nil {
		t.Fatalf("clearing absent session should succeed: %v", err)
	}
	if got, found, _ := st.Get(ctx, 8); !found || got.Name != "receive_name" {
		t.Fatalf("other chat affected: %+v found=%v", got, found)
	}
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore[step]())
}

func TestBigcacheStore(t *testing.T) {
	st, err := NewBigcacheStore(context.Background(), stepCodec, 0)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer st.Close()
	exerciseStore(t, st)
	if st.Len() != 1 {
		t.Fatalf("len = %d, want 1", st.Len())
	}
}

func TestBigcacheStoreEncodeError(t *testing.T) {
	st, err := NewBigcacheStore(context.Background(), stepCodec, time.Hour)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer st.Close()
	if err := st.Set(context.Background(), 1, step{}); err == nil {
		t.Fatal("expected encode error")
	}
}

func TestNewStoresRejectNilCodec(t *testing.T) {
	if _, err := NewBigcacheStore(context.Background(), Codec[step]{}, 0); !errors.Is(err, errNilCodec) {
		t.Fatalf("bigcache: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	defer rdb.Close()
	if _, err := NewRedisStore(rdb, Codec[step]{}, RedisOptions{}); !errors.Is(err, errNilCodec) {
		t.Fatalf("redis: %v", err)
	}
	if _, err := NewPostgresStore[step](nil, stepCodec); err == nil {
		t.Fatal("postgres: expected nil db error")
	}
}

func TestRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	st, err := NewRedisStore(rdb, stepCodec, RedisOptions{Prefix: "test:dialogue", TTL: time.Minute})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	exerciseStore(t, st)

	if !mr.Exists("test:dialogue:8") {
		t.Fatalf("expected prefixed key, have %v", mr.Keys())
	}
	if ttl := mr.TTL("test:dialogue:8"); ttl != time.Minute {
		t.Fatalf("ttl = %s", ttl)
	}
	mr.FastForward(2 * time.Minute)
	if _, found, err := st.Get(context.Background(), 8); err != nil || found {
		t.Fatalf("session should expire: found=%v err=%v", found, err)
	}
	if err := st.Ping(context.Background()); err != nil {
		t.Fatalf("ping: %v", err)
	}
}

func TestRedisStoreDecodeError(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	st, err := NewRedisStore(rdb, stepCodec, RedisOptions{})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := mr.Set("dialogue:5", "garbage"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, _, err := st.Get(context.Background(), 5); err == nil || !strings.Contains(err.Error(), "decode") {
		t.Fatalf("expected decode error, got %v", err)
	}
}

func TestConnectRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	rdb, err := ConnectRedis(context.Background(), addr, "", 0)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	_ = rdb.Close()

	mr.Close()
	if _, err := ConnectRedis(context.Background(), addr, "", 0); err == nil {
		t.Fatal("expected ping failure against stopped server")
	}
}

func newMockPostgres(t *testing.T) (*PostgresStore[step], sqlmock.Sqlmock) {
	t.Helper()
	raw, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { _ = raw.Close() })
	st, err := NewPostgresStore(sqlx.NewDb(raw, "postgres"), stepCodec)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	return st, mock
}

func TestPostgresStore(t *testing.T) {
	st, mock := newMockPostgres(t)
	ctx := context.Background()

	mock.ExpectQuery(regexp.QuoteMeta(pgSelectState)).
		WithArgs(int64(42)).
		WillReturnRows(sqlmock.NewRows([]string{"state"}))
	mock.ExpectExec(regexp.QuoteMeta(pgUpsertState)).
		WithArgs(int64(42), "receive_no|+").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta(pgSelectState)).
		WithArgs(int64(42)).
		WillReturnRows(sqlmock.NewRows([]string{"state"}).AddRow([]byte("receive_no|+")))
	mock.ExpectExec(regexp.QuoteMeta(pgDeleteState)).
		WithArgs(int64(42)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if _, found, err := st.Get(ctx, 42); err != nil || found {
		t.Fatalf("empty get: found=%v err=%v", found, err)
	}
	if err := st.Set(ctx, 42, step{Name: "receive_no", N: 1}); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, found, err := st.Get(ctx, 42)
	if err != nil || !found || got != (step{Name: "receive_no", N: 1}) {
		t.Fatalf("get = %+v found=%v err=%v", got, found, err)
	}
	if err := st.Clear(ctx, 42); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPostgresStoreErrors(t *testing.T) {
	st, mock := newMockPostgres(t)
	ctx := context.Background()
	boom := errors.New("connection reset")

	mock.ExpectQuery(regexp.QuoteMeta(pgSelectState)).WithArgs(int64(1)).WillReturnError(boom)
	mock.ExpectExec(regexp.QuoteMeta(pgUpsertState)).WithArgs(int64(1), "x|").WillReturnError(boom)

	if _, _, err := st.Get(ctx, 1); !errors.Is(err, boom) {
		t.Fatalf("get err = %v", err)
	}
	if err := st.Set(ctx, 1, step{Name: "x"}); !errors.Is(err, boom) {
		t.Fatalf("set err = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPostgresStorePurge(t *testing.T) {
	st, mock := newMockPostgres(t)

	mock.ExpectExec(regexp.QuoteMeta(pgPurgeStates)).
		WithArgs(sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := st.Purge(context.Background(), time.Hour)
	if err != nil || n != 3 {
		t.Fatalf("purge = %d, %v", n, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

type countingPurger struct {
	calls chan time.Duration
}

func (p countingPurger) Purge(_ context.Context, olderThan time.Duration) (int64, error) {
	p.calls <- olderThan
	return 1, nil
}

func TestRunJanitor(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := countingPurger{calls: make(chan time.Duration, 8)}
	done := make(chan struct{})
	go func() {
		RunJanitor(ctx, p, 30*time.Minute, 5*time.Millisecond)
		close(done)
	}()

	select {
	case got := <-p.calls:
		if got != 30*time.Minute {
			t.Fatalf("purge olderThan = %s", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("janitor never purged")
	}
	cancel()
	<-done

	// zero ttl disables the janitor
	RunJanitor(context.Background(), p, 0, time.Millisecond)
}
