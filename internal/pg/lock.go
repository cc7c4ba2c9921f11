package pg

import (
	"context"
	"database/sql"
	"strings"
	"sync"
)

// Locker сериализует проходы реконсиляции по ключу (тип сущности).
// Разные ключи не блокируют друг друга.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// KeyedMutex — блокировка в пределах процесса.
type KeyedMutex struct {
	mu    sync.Mutex
	slots map[string]*keySlot
}

type keySlot struct {
	ch   chan struct{} // ёмкость 1: занят, пока в канале лежит значение
	refs int
}

// NewKeyedMutex — пустой набор блокировок.
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{slots: map[string]*keySlot{}}
}

// Lock ждёт освобождения ключа или отмены контекста.
func (m *KeyedMutex) Lock(ctx context.Context, key string) (func(), error) {
	key = strings.ToLower(key)

	m.mu.Lock()
	s, ok := m.slots[key]
	if !ok {
		s = &keySlot{ch: make(chan struct{}, 1)}
		m.slots[key] = s
	}
	s.refs++
	m.mu.Unlock()

	select {
	case s.ch <- struct{}{}:
	case <-ctx.Done():
		m.release(key, s)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-s.ch
			m.release(key, s)
		})
	}, nil
}

func (m *KeyedMutex) release(key string, s *keySlot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(m.slots, key)
	}
}

// held — число ключей, по которым есть владельцы или ожидающие (для тестов).
func (m *KeyedMutex) held() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.slots)
}

// AdvisoryLocker — сессионная advisory-блокировка PostgreSQL, общая для всех
// экземпляров сервиса над одной базой. Держит выделенное соединение до unlock.
type AdvisoryLocker struct {
	db *sql.DB
}

// NewAdvisoryLocker — блокировки поверх пула.
func NewAdvisoryLocker(db *sql.DB) *AdvisoryLocker {
	return &AdvisoryLocker{db: db}
}

// advisoryNamespace отделяет ключи движка от чужих advisory-блокировок.
const advisoryNamespace = "entityforge:"

// Lock берёт pg_advisory_lock(hashtext(key)) на отдельном соединении.
func (a *AdvisoryLocker) Lock(ctx context.Context, key string) (func(), error) {
	conn, err := a.db.Conn(ctx)
	if err != nil {
		return nil, dbErr("advisory_lock", err)
	}
	lockKey := advisoryNamespace + strings.ToLower(key)
	if _, err := conn.ExecContext(ctx, "SELECT pg_advisory_lock(hashtext($1))", lockKey); err != nil {
		_ = conn.Close()
		return nil, dbErr("advisory_lock", err)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// контекст вызова к этому моменту может быть отменён
			_, _ = conn.ExecContext(context.Background(), "SELECT pg_advisory_unlock(hashtext($1))", lockKey)
			_ = conn.Close()
		})
	}, nil
}
