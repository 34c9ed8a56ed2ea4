package main

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/warelogic/logistics_backend/utils"
)

func TestSellerOwns(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodGet, "/orders/1", nil)

	// Staff tokens carry no seller scope and see everything.
	if !sellerOwns(c, 42) {
		t.Fatal("unscoped actor must see the resource")
	}

	c.Request = c.Request.WithContext(utils.SetSellerIdInContext(c.Request.Context(), 42))
	if !sellerOwns(c, 42) {
		t.Fatal("owning seller must see its resource")
	}
	if sellerOwns(c, 43) {
		t.Fatal("foreign seller must not see the resource")
	}
}

func TestRespondBindErrorFieldMap(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(`{"email":"ops@warelogic.local"}`))
	c.Request.Header.Set("Content-Type", "application/json")

	var req loginRequest
	err := c.ShouldBindJSON(&req)
	if err == nil {
		t.Fatal("missing password must fail binding")
	}
	respondBindError(c, err)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "Password") {
		t.Fatalf("expected a field-level entry for Password, got %s", w.Body.String())
	}
}
