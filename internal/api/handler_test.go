package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"bookstore-service/internal/models"
	"bookstore-service/internal/notify"
	"bookstore-service/internal/service"
	"bookstore-service/internal/store/memstore"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	router *gin.Engine
	db     *memstore.Store

	mu      sync.Mutex
	sendErr error
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	ts := &testServer{db: memstore.New()}
	notifier := notify.Func(func(ctx context.Context, order *models.Order) error {
		ts.mu.Lock()
		defer ts.mu.Unlock()
		return ts.sendErr
	})

	orders := service.NewOrderService(ts.db, nil, 0, nil)
	notifications := service.NewNotificationService(ts.db, notifier, time.Second)
	admin := service.NewAdminService(ts.db, notifications)

	ts.router = gin.New()
	NewHandler(orders, admin, nil).SetupRoutes(ts.router)
	return ts
}

func (ts *testServer) do(method, path, user, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set(UserHeader, user)
	}
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

func decodeOrder(t *testing.T, w *httptest.ResponseRecorder) models.Order {
	t.Helper()
	var order models.Order
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &order))
	return order
}

func orderPath(id int64, suffix string) string {
	return "/api/v1/admin/orders/" + strconv.FormatInt(id, 10) + suffix
}

func TestCreateOrderEndpoint(t *testing.T) {
	ts := newTestServer(t)
	ts.db.AddUser("olivia", "olivia@example.com")
	bookA := ts.db.AddBook("A", "20.00", 5)
	bookB := ts.db.AddBook("B", "45.00", 5)

	body := `{"items":[
		{"book_id":` + strconv.FormatInt(bookA.ID, 10) + `,"quantity":2,"item_type":"BUY"},
		{"book_id":` + strconv.FormatInt(bookB.ID, 10) + `,"quantity":1,"item_type":"RENT","rental_days":7}
	]}`
	w := ts.do(http.MethodPost, "/api/v1/orders", "olivia", body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	order := decodeOrder(t, w)
	assert.True(t, order.TotalAmount.Equal(decimal.RequireFromString("103.00")))
	assert.Equal(t, "olivia", order.Username)
	assert.Equal(t, models.OrderStatusPending, order.OrderStatus)
	require.Len(t, order.Items, 2)
	assert.Equal(t, "B", order.Items[1].BookTitle)

	w = ts.do(http.MethodGet, "/api/v1/orders", "olivia", "")
	require.Equal(t, http.StatusOK, w.Code)
	var mine []models.Order
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &mine))
	assert.Len(t, mine, 1)
}

func TestCreateOrderErrorMapping(t *testing.T) {
	ts := newTestServer(t)
	ts.db.AddUser("peter", "peter@example.com")
	book := ts.db.AddBook("Rare", "10.00", 1)
	bookID := strconv.FormatInt(book.ID, 10)

	tests := []struct {
		name   string
		user   string
		body   string
		status int
	}{
		{"missing user header", "", `{"items":[{"book_id":` + bookID + `,"quantity":1}]}`, http.StatusBadRequest},
		{"malformed body", "peter", `{"items":`, http.StatusBadRequest},
		{"missing book id", "peter", `{"items":[{"quantity":1}]}`, http.StatusBadRequest},
		{"empty order", "peter", `{"items":[]}`, http.StatusBadRequest},
		{"unknown user", "nobody", `{"items":[{"book_id":` + bookID + `,"quantity":1}]}`, http.StatusBadRequest},
		{"unknown book", "peter", `{"items":[{"book_id":424242,"quantity":1}]}`, http.StatusBadRequest},
		{"rent without days", "peter", `{"items":[{"book_id":` + bookID + `,"quantity":1,"item_type":"RENT"}]}`, http.StatusBadRequest},
		{"insufficient stock", "peter", `{"items":[{"book_id":` + bookID + `,"quantity":2}]}`, http.StatusConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := ts.do(http.MethodPost, "/api/v1/orders", tt.user, tt.body)
			assert.Equal(t, tt.status, w.Code, w.Body.String())

			var body map[string]interface{}
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.NotEmpty(t, body["error"])
		})
	}

	assert.Zero(t, ts.db.OrderCount())
}

func TestAdminEndpoints(t *testing.T) {
	ts := newTestServer(t)
	ts.db.AddUser("quinn", "quinn@example.com")
	book := ts.db.AddBook("Admin", "12.00", 3)

	w := ts.do(http.MethodPost, "/api/v1/orders", "quinn",
		`{"items":[{"book_id":`+strconv.FormatInt(book.ID, 10)+`,"quantity":1}]}`)
	require.Equal(t, http.StatusCreated, w.Code)
	order := decodeOrder(t, w)

	w = ts.do(http.MethodPatch, orderPath(order.ID, "/payment?status=paid"), "", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	updated := decodeOrder(t, w)
	assert.Equal(t, models.OrderStatusConfirmed, updated.OrderStatus)
	assert.Equal(t, models.PaymentStatusPaid, updated.PaymentStatus)
	assert.True(t, updated.Emailed)

	w = ts.do(http.MethodPatch, orderPath(order.ID, "/status?status=SHIPPED"), "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.OrderStatusShipped, decodeOrder(t, w).OrderStatus)

	w = ts.do(http.MethodPatch, orderPath(order.ID, "/status?status=TELEPORTED"), "", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(http.MethodPatch, orderPath(999999, "/status?status=SHIPPED"), "", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = ts.do(http.MethodGet, orderPath(order.ID, ""), "", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = ts.do(http.MethodGet, "/api/v1/admin/orders/abc", "", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestResendEmailEndpoint(t *testing.T) {
	ts := newTestServer(t)
	ts.db.AddUser("rita", "rita@example.com")
	book := ts.db.AddBook("Resend", "8.00", 3)

	w := ts.do(http.MethodPost, "/api/v1/orders", "rita",
		`{"items":[{"book_id":`+strconv.FormatInt(book.ID, 10)+`,"quantity":1}]}`)
	require.Equal(t, http.StatusCreated, w.Code)
	order := decodeOrder(t, w)

	w = ts.do(http.MethodPost, orderPath(order.ID, "/resend-email"), "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decodeOrder(t, w).Emailed)

	ts.mu.Lock()
	ts.sendErr = errors.New("relay access denied")
	ts.mu.Unlock()

	w = ts.do(http.MethodPost, orderPath(order.ID, "/resend-email"), "", "")
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Contains(t, w.Body.String(), "relay access denied")

	w = ts.do(http.MethodGet, orderPath(order.ID, "/email-attempts"), "", "")
	require.Equal(t, http.StatusOK, w.Code)
	var attempts []models.EmailAttempt
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &attempts))
	require.Len(t, attempts, 2)
	assert.True(t, attempts[0].Success)
	assert.False(t, attempts[1].Success)
	assert.Equal(t, models.AttemptManualResend, attempts[1].Provider)
}

func TestUserCannotSeeOthersOrder(t *testing.T) {
	ts := newTestServer(t)
	ts.db.AddUser("sam", "sam@example.com")
	ts.db.AddUser("tara", "tara@example.com")
	book := ts.db.AddBook("Private", "5.00", 3)

	w := ts.do(http.MethodPost, "/api/v1/orders", "sam",
		`{"items":[{"book_id":`+strconv.FormatInt(book.ID, 10)+`,"quantity":1}]}`)
	require.Equal(t, http.StatusCreated, w.Code)
	order := decodeOrder(t, w)

	path := "/api/v1/orders/" + strconv.FormatInt(order.ID, 10)
	assert.Equal(t, http.StatusOK, ts.do(http.MethodGet, path, "sam", "").Code)
	assert.Equal(t, http.StatusNotFound, ts.do(http.MethodGet, path, "tara", "").Code)
}

func TestHealthEndpoints(t *testing.T) {
	ts := newTestServer(t)

	assert.Equal(t, http.StatusOK, ts.do(http.MethodGet, "/health", "", "").Code)
	assert.Equal(t, http.StatusOK, ts.do(http.MethodGet, "/ready", "", "").Code)
	assert.Equal(t, http.StatusOK, ts.do(http.MethodGet, "/metrics", "", "").Code)
}

type failingPinger struct{}

func (failingPinger) Ping(ctx context.Context) error { return errors.New("connection refused") }

func TestReadinessFailsWithoutDatabase(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	NewHandler(nil, nil, failingPinger{}).SetupRoutes(router)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
