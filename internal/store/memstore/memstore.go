// Package memstore is an in-memory store.Repository for tests.
//
// Transactions are serialized on a single mutex and roll back by restoring a
// snapshot, which gives the same all-or-nothing and per-book serialization
// guarantees the Postgres store gets from row locks.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"bookstore-service/internal/models"
	"bookstore-service/internal/store"

	"github.com/shopspring/decimal"
)

type state struct {
	users     map[int64]models.User
	books     map[int64]models.Book
	orders    map[int64]models.Order
	attempts  []models.EmailAttempt
	events    []models.OutboxEvent
	processed map[string]string
	lastID    int64
}

func (st *state) clone() *state {
	c := &state{
		users:     make(map[int64]models.User, len(st.users)),
		books:     make(map[int64]models.Book, len(st.books)),
		orders:    make(map[int64]models.Order, len(st.orders)),
		attempts:  append([]models.EmailAttempt(nil), st.attempts...),
		events:    append([]models.OutboxEvent(nil), st.events...),
		processed: make(map[string]string, len(st.processed)),
		lastID:    st.lastID,
	}
	for k, v := range st.users {
		c.users[k] = v
	}
	for k, v := range st.books {
		c.books[k] = v
	}
	for k, v := range st.orders {
		c.orders[k] = copyOrder(v)
	}
	for k, v := range st.processed {
		c.processed[k] = v
	}
	return c
}

func (st *state) nextID() int64 {
	st.lastID++
	return st.lastID
}

// Store is a goroutine-safe in-memory Repository
type Store struct {
	mu         sync.Mutex
	st         *state
	commitErr  error
	txObserver func()
}

var _ store.Repository = (*Store)(nil)

// New returns an empty store
func New() *Store {
	return &Store{st: &state{
		users:     map[int64]models.User{},
		books:     map[int64]models.Book{},
		orders:    map[int64]models.Order{},
		processed: map[string]string{},
	}}
}

// AddUser seeds a user and returns it
func (s *Store) AddUser(username, email string) models.User {
	s.mu.Lock()
	defer s.mu.Unlock()

	u := models.User{ID: s.st.nextID(), Username: username, Email: email, CreatedAt: time.Now()}
	s.st.users[u.ID] = u
	return u
}

// AddBook seeds a book and returns it
func (s *Store) AddBook(title, price string, stock int) models.Book {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	b := models.Book{
		ID:        s.st.nextID(),
		Title:     title,
		Price:     decimal.RequireFromString(price),
		Stock:     stock,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.st.books[b.ID] = b
	return b
}

// SetBookPrice changes a catalog price
func (s *Store) SetBookPrice(id int64, price string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b := s.st.books[id]
	b.Price = decimal.RequireFromString(price)
	s.st.books[id] = b
}

// Book returns the current state of a book
func (s *Store) Book(id int64) (models.Book, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.st.books[id]
	return b, ok
}

// OrderCount returns the number of committed orders
func (s *Store) OrderCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.st.orders)
}

// Events returns every outbox event, published or not
func (s *Store) Events() []models.OutboxEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.OutboxEvent(nil), s.st.events...)
}

// FailNextCommit makes the next transaction roll back with err after fn succeeds
func (s *Store) FailNextCommit(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commitErr = err
}

// OnTx registers a callback invoked inside every transaction before fn runs
func (s *Store) OnTx(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.txObserver = fn
}

func (s *Store) WithTx(ctx context.Context, fn func(tx store.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	if s.txObserver != nil {
		s.txObserver()
	}

	snapshot := s.st.clone()
	if err := fn(&tx{st: s.st}); err != nil {
		s.st = snapshot
		return err
	}
	if s.commitErr != nil {
		err := s.commitErr
		s.commitErr = nil
		s.st = snapshot
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *Store) GetUser(ctx context.Context, ref string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.getUser(ref)
}

func (s *Store) GetOrder(ctx context.Context, id int64) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.st.orders[id]
	if !ok {
		return nil, fmt.Errorf("order %d: %w", id, store.ErrNotFound)
	}
	out := s.st.view(o)
	return &out, nil
}

func (s *Store) ListOrders(ctx context.Context) ([]models.Order, error) {
	return s.listOrders(func(models.Order) bool { return true }), nil
}

func (s *Store) ListOrdersByUser(ctx context.Context, userID int64) ([]models.Order, error) {
	return s.listOrders(func(o models.Order) bool { return o.UserID == userID }), nil
}

func (s *Store) listOrders(keep func(models.Order) bool) []models.Order {
	s.mu.Lock()
	defer s.mu.Unlock()

	orders := []models.Order{}
	for _, o := range s.st.orders {
		if keep(o) {
			orders = append(orders, s.st.view(o))
		}
	}
	sort.Slice(orders, func(i, j int) bool { return orders[i].ID > orders[j].ID })
	return orders
}

func (s *Store) UpdateOrderStatus(ctx context.Context, id int64, status models.OrderStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.st.orders[id]
	if !ok {
		return fmt.Errorf("order %d: %w", id, store.ErrNotFound)
	}
	o.OrderStatus = status
	o.UpdatedAt = time.Now()
	s.st.orders[id] = o
	return nil
}

func (s *Store) MarkOrderEmailed(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.st.orders[id]
	if !ok {
		return fmt.Errorf("order %d: %w", id, store.ErrNotFound)
	}
	o.Emailed = true
	o.UpdatedAt = time.Now()
	s.st.orders[id] = o
	return nil
}

func (s *Store) AppendEmailAttempt(ctx context.Context, attempt *models.EmailAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	attempt.ID = s.st.nextID()
	s.st.attempts = append(s.st.attempts, *attempt)
	return nil
}

func (s *Store) ListEmailAttempts(ctx context.Context, orderID int64) ([]models.EmailAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	attempts := []models.EmailAttempt{}
	for _, a := range s.st.attempts {
		if a.OrderID == orderID {
			attempts = append(attempts, a)
		}
	}
	return attempts, nil
}

func (s *Store) FetchPendingEvents(ctx context.Context, limit int) ([]models.OutboxEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var pending []models.OutboxEvent
	for _, e := range s.st.events {
		if e.PublishedAt == nil {
			pending = append(pending, e)
			if len(pending) == limit {
				break
			}
		}
	}
	return pending, nil
}

func (s *Store) MarkEventsPublished(ctx context.Context, ids []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	marked := make(map[int64]bool, len(ids))
	for _, id := range ids {
		marked[id] = true
	}
	now := time.Now()
	for i := range s.st.events {
		if marked[s.st.events[i].ID] {
			s.st.events[i].PublishedAt = &now
		}
	}
	return nil
}

func (s *Store) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.st.processed[eventID]
	return ok, nil
}

func (s *Store) MarkEventProcessed(ctx context.Context, eventID, eventType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.st.processed[eventID]; !ok {
		s.st.processed[eventID] = eventType
	}
	return nil
}

// tx operates on the live state while the store mutex is held
type tx struct {
	st *state
}

func (t *tx) GetUser(ctx context.Context, ref string) (*models.User, error) {
	return t.st.getUser(ref)
}

func (t *tx) LockBooks(ctx context.Context, ids []int64) (map[int64]*models.Book, error) {
	byID := make(map[int64]*models.Book, len(ids))
	for _, id := range ids {
		if b, ok := t.st.books[id]; ok {
			book := b
			byID[id] = &book
		}
	}
	return byID, nil
}

func (t *tx) DecrementStock(ctx context.Context, bookID int64, quantity int) (bool, error) {
	b, ok := t.st.books[bookID]
	if !ok || b.Stock < quantity {
		return false, nil
	}
	b.Stock -= quantity
	b.UpdatedAt = time.Now()
	t.st.books[bookID] = b
	return true, nil
}

func (t *tx) CreateOrder(ctx context.Context, order *models.Order) error {
	now := time.Now()
	order.AssignID(t.st.nextID())
	order.CreatedAt = now
	order.UpdatedAt = now
	for i := range order.Items {
		order.Items[i].ID = t.st.nextID()
		order.Items[i].CreatedAt = now
	}
	t.st.orders[order.ID] = copyOrder(*order)
	return nil
}

func (t *tx) GetOrderForUpdate(ctx context.Context, id int64) (*models.Order, error) {
	o, ok := t.st.orders[id]
	if !ok {
		return nil, fmt.Errorf("order %d: %w", id, store.ErrNotFound)
	}
	out := t.st.view(o)
	out.Items = nil
	return &out, nil
}

func (t *tx) UpdateOrderStatuses(ctx context.Context, id int64, orderStatus models.OrderStatus, paymentStatus models.PaymentStatus) error {
	o, ok := t.st.orders[id]
	if !ok {
		return fmt.Errorf("order %d: %w", id, store.ErrNotFound)
	}
	o.OrderStatus = orderStatus
	o.PaymentStatus = paymentStatus
	o.UpdatedAt = time.Now()
	t.st.orders[id] = o
	return nil
}

func (t *tx) CreateOutboxEvent(ctx context.Context, event *models.OutboxEvent) error {
	event.ID = t.st.nextID()
	event.CreatedAt = time.Now()
	t.st.events = append(t.st.events, *event)
	return nil
}

func (st *state) getUser(ref string) (*models.User, error) {
	if id, err := strconv.ParseInt(ref, 10, 64); err == nil {
		if u, ok := st.users[id]; ok {
			return &u, nil
		}
	}
	for _, u := range st.users {
		if u.Username == ref {
			user := u
			return &user, nil
		}
	}
	return nil, fmt.Errorf("user %q: %w", ref, store.ErrNotFound)
}

// view copies an order and fills the joined user columns
func (st *state) view(o models.Order) models.Order {
	out := copyOrder(o)
	if u, ok := st.users[o.UserID]; ok {
		out.Username = u.Username
		out.Email = u.Email
	}
	return out
}

func copyOrder(o models.Order) models.Order {
	o.Items = append([]models.OrderItem{}, o.Items...)
	return o
}
