package health

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/uhcops/changebot/internal/models"
	"github.com/uhcops/changebot/internal/store"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestRouter(t *testing.T) (*gin.Engine, *store.Store) {
	t.Helper()
	gormDB, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := gormDB.AutoMigrate(&models.Order{}, &models.OrderItem{}, &models.Reminder{}); err != nil {
		t.Fatalf("auto migrate: %v", err)
	}
	st, err := store.New(store.Opts{DB: gormDB, Now: time.Now})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	gin.SetMode(gin.TestMode)
	router := gin.New()
	registerRoutes(router, st)
	return router, st
}

func TestHealth(t *testing.T) {
	router, st := newTestRouter(t)

	if _, err := st.CreateOrderWithItems(store.NewOrder{
		ThreadID:    "t1",
		RequesterID: "u1",
		Items:       []models.LineItem{{Description: "Drywall"}},
	}); err != nil {
		t.Fatalf("seed order: %v", err)
	}

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	var body struct {
		Service    string `json:"service"`
		OK         bool   `json:"ok"`
		OpenOrders int64  `json:"open_orders"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Service != "changebot" || !body.OK {
		t.Errorf("body = %+v", body)
	}
	if body.OpenOrders != 1 {
		t.Errorf("open orders = %d", body.OpenOrders)
	}
}

func TestHealth_StoreFailure(t *testing.T) {
	router, st := newTestRouter(t)
	if err := st.DB().Migrator().DropTable(&models.Order{}); err != nil {
		t.Fatalf("drop: %v", err)
	}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", w.Code)
	}
}
