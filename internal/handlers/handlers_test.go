package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-redis/redismock/v8"
	"github.com/rs/zerolog"
	"github.com/ruralpay/ledger/internal/audit"
	"github.com/ruralpay/ledger/internal/config"
	mW "github.com/ruralpay/ledger/internal/middleware"
	"github.com/ruralpay/ledger/internal/models"
	"github.com/ruralpay/ledger/internal/repository"
	"github.com/ruralpay/ledger/internal/services"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testArgon2 = config.Argon2Params{Time: 1, Memory: 8 * 1024, Threads: 1, KeyLength: 32}

type testServer struct {
	handler http.Handler
	store   *repository.MemoryStore
	grants  *services.MemoryGrantStore
	runner  *services.ImportRunner
}

// headerAuth trusts X-User and X-Role so tests can act as any caller.
func headerAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := r.Header.Get("X-User")
		if userID == "" {
			services.SendErrorResponse(w, "Authorization header required", http.StatusUnauthorized, nil)
			return
		}
		role := r.Header.Get("X-Role")
		if role == "" {
			role = models.RoleUser
		}
		next.ServeHTTP(w, r.WithContext(mW.WithIdentity(r.Context(), userID, role)))
	})
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	cfg := &config.LedgerConfig{
		ConfirmThreshold: decimal.NewFromInt(1000),
		ReauthThreshold:  decimal.NewFromInt(2000),
		ImportTimeout:    10 * time.Second,
		MaxImportRows:    100,
		MaxUploadBytes:   1 << 20,
		GrantTTL:         time.Minute,
		Notifications:    true,
	}
	store := repository.NewMemoryStore()
	grants := services.NewMemoryGrantStore()
	auditLog := audit.NewLogger(zerolog.Nop())
	log := zerolog.Nop()

	ledger := services.NewLedgerService(store, cfg, grants, auditLog, log)
	stepUp := services.NewStepUpService(store, grants, testArgon2, cfg.GrantTTL, log)
	runner := services.NewImportRunner(services.NewImportService(store, cfg, auditLog, log), services.NewMemoryJobStore(), auditLog, log)

	router := NewRouter(Handlers{
		Auth:    NewAuthHandler(services.NewAuthService(store, testArgon2, "test-secret", time.Hour, log), log),
		Ledger:  NewLedgerHandler(ledger, log),
		StepUp:  NewStepUpHandler(stepUp, ledger.Policy(), log),
		Imports: NewImportHandler(runner, cfg.MaxUploadBytes, log),
		Health:  NewHealthHandler(nil, nil),
	}, log, RouterOptions{Auth: headerAuth})

	return &testServer{handler: router, store: store, grants: grants, runner: runner}
}

func (s *testServer) do(t *testing.T, method, path, user, role, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	if user != "" {
		req.Header.Set("X-User", user)
	}
	if role != "" {
		req.Header.Set("X-Role", role)
	}
	rr := httptest.NewRecorder()
	s.handler.ServeHTTP(rr, req)
	return rr
}

func (s *testServer) account(t *testing.T) *models.Account {
	t.Helper()
	return s.store.AddAccount(models.Account{OwnerID: "u1", AccountType: "checking", AccountNumber: "1000200030004000"})
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body), rr.Body.String())
	return body
}

func TestLedgerHandler_DepositAndWithdraw(t *testing.T) {
	s := newTestServer(t)
	a := s.account(t)

	rr := s.do(t, http.MethodPost, fmt.Sprintf("/api/v1/accounts/%d/deposit", a.ID), "u1", "", `{"amount":"100.00","note":"cash"}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	body := decodeBody(t, rr)
	assert.Equal(t, "100", body["balance"])
	tx := body["transaction"].(map[string]any)
	assert.Equal(t, "Deposit", tx["description"])
	assert.Equal(t, "cash", tx["note"])

	rr = s.do(t, http.MethodPost, fmt.Sprintf("/api/v1/accounts/%d/withdraw", a.ID), "u1", "", `{"amount":"40"}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	assert.Equal(t, "60", decodeBody(t, rr)["balance"])

	rr = s.do(t, http.MethodPost, fmt.Sprintf("/api/v1/accounts/%d/withdraw", a.ID), "u1", "", `{"amount":"60.01"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	body = decodeBody(t, rr)
	assert.Equal(t, string(models.CodeInsufficientFunds), body["code"])
	assert.Equal(t, services.FieldAmount, body["field"])
}

func TestLedgerHandler_RejectsBadInput(t *testing.T) {
	s := newTestServer(t)
	a := s.account(t)
	path := fmt.Sprintf("/api/v1/accounts/%d/deposit", a.ID)

	tests := []struct {
		name       string
		path       string
		user       string
		body       string
		wantStatus int
		wantCode   models.ErrorCode
	}{
		{"unauthenticated", path, "", `{"amount":"1"}`, http.StatusUnauthorized, ""},
		{"bad account id", "/api/v1/accounts/abc/deposit", "u1", `{"amount":"1"}`, http.StatusBadRequest, ""},
		{"missing amount", path, "u1", `{}`, http.StatusBadRequest, ""},
		{"unknown field", path, "u1", `{"amount":"1","currency":"NGN"}`, http.StatusBadRequest, ""},
		{"two objects", path, "u1", `{"amount":"1"}{"amount":"2"}`, http.StatusBadRequest, ""},
		{"not a number", path, "u1", `{"amount":"ten"}`, http.StatusBadRequest, models.CodeInvalidAmount},
		{"negative", path, "u1", `{"amount":"-5"}`, http.StatusBadRequest, models.CodeInvalidAmount},
		{"unknown account", "/api/v1/accounts/999/deposit", "u1", `{"amount":"5"}`, http.StatusNotFound, models.CodeAccountNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := s.do(t, http.MethodPost, tt.path, tt.user, "", tt.body)
			assert.Equal(t, tt.wantStatus, rr.Code, rr.Body.String())
			if tt.wantCode != "" {
				assert.Equal(t, string(tt.wantCode), decodeBody(t, rr)["code"])
			}
		})
	}

	assert.True(t, s.balance(t, a.ID).IsZero())
}

func (s *testServer) balance(t *testing.T, id int64) decimal.Decimal {
	t.Helper()
	a, err := s.store.GetAccount(context.Background(), id)
	require.NoError(t, err)
	return a.Balance
}

func TestLedgerHandler_MissingAmountReportsDetails(t *testing.T) {
	s := newTestServer(t)
	a := s.account(t)

	rr := s.do(t, http.MethodPost, fmt.Sprintf("/api/v1/accounts/%d/deposit", a.ID), "u1", "", `{"note":"x"}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	body := decodeBody(t, rr)
	assert.Equal(t, "Validation failed", body["error"])
	assert.Contains(t, body["details"], "Amount")
}

func TestLedgerHandler_Transfer(t *testing.T) {
	s := newTestServer(t)
	a := s.account(t)
	b := s.store.AddAccount(models.Account{OwnerID: "u2", AccountNumber: "5000600070008000"})

	rr := s.do(t, http.MethodPost, fmt.Sprintf("/api/v1/accounts/%d/deposit", a.ID), "u1", "", `{"amount":"500"}`)
	require.Equal(t, http.StatusCreated, rr.Code)

	rr = s.do(t, http.MethodPost, "/api/v1/transfers", "u1", "",
		fmt.Sprintf(`{"source_account_id":%d,"destination_account_id":%d,"amount":"125.50"}`, a.ID, b.ID))
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	body := decodeBody(t, rr)
	assert.Equal(t, "374.5", body["source_balance"])
	assert.Equal(t, "125.5", body["destination_balance"])
	assert.Equal(t, "Transfer to account ************8000", body["debit"].(map[string]any)["description"])
	assert.Equal(t, "Transfer from account ************4000", body["credit"].(map[string]any)["description"])

	rr = s.do(t, http.MethodPost, "/api/v1/transfers", "u1", "",
		fmt.Sprintf(`{"source_account_id":%d,"destination_account_id":%d,"amount":"1"}`, a.ID, a.ID))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, string(models.CodeInvalidDestination), decodeBody(t, rr)["code"])

	rr = s.do(t, http.MethodPost, "/api/v1/transfers", "u1", "", `{"source_account_id":1,"amount":"1"}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestLedgerHandler_StepUp(t *testing.T) {
	s := newTestServer(t)
	a := s.account(t)
	deposit := fmt.Sprintf("/api/v1/accounts/%d/deposit", a.ID)
	withdraw := fmt.Sprintf("/api/v1/accounts/%d/withdraw", a.ID)

	rr := s.do(t, http.MethodPost, deposit, "u1", "", `{"amount":"3000"}`)
	require.Equal(t, http.StatusPreconditionRequired, rr.Code)
	body := decodeBody(t, rr)
	assert.Equal(t, string(models.CodeStepUpRequired), body["code"])
	assert.Equal(t, "confirm", body["details"].(map[string]any)["level"])

	rr = s.do(t, http.MethodPost, deposit, "u1", "", `{"amount":"3000","confirmed":true}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	rr = s.do(t, http.MethodPost, withdraw, "u1", "", `{"amount":"2500","confirmed":true}`)
	require.Equal(t, http.StatusPreconditionRequired, rr.Code)
	assert.Equal(t, "reauthenticate", decodeBody(t, rr)["details"].(map[string]any)["level"])

	rr = s.do(t, http.MethodPost, withdraw, "u1", "", `{"amount":"2500","confirmed":true,"grant_token":"not-a-uuid"}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	token, err := s.grants.Issue(context.Background(), "u1", time.Minute)
	require.NoError(t, err)
	rr = s.do(t, http.MethodPost, withdraw, "u1", "", fmt.Sprintf(`{"amount":"2500","confirmed":true,"grant_token":%q}`, token))
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	assert.Equal(t, "500", decodeBody(t, rr)["balance"])

	rr = s.do(t, http.MethodPost, deposit, "u1", "", `{"amount":"3000","confirmed":true}`)
	require.Equal(t, http.StatusCreated, rr.Code)

	// grants are single use
	rr = s.do(t, http.MethodPost, withdraw, "u1", "", fmt.Sprintf(`{"amount":"2100","confirmed":true,"grant_token":%q}`, token))
	assert.Equal(t, http.StatusPreconditionRequired, rr.Code)
	assert.Equal(t, "3500", s.balance(t, a.ID).String())
}

func TestLedgerHandler_Undo(t *testing.T) {
	s := newTestServer(t)
	a := s.account(t)

	rr := s.do(t, http.MethodPost, fmt.Sprintf("/api/v1/accounts/%d/deposit", a.ID), "u1", "", `{"amount":"80"}`)
	require.Equal(t, http.StatusCreated, rr.Code)
	txID := int64(decodeBody(t, rr)["transaction"].(map[string]any)["id"].(float64))

	undo := fmt.Sprintf("/api/v1/transactions/%d/undo", txID)
	rr = s.do(t, http.MethodPost, undo, "u1", "", "")
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	body := decodeBody(t, rr)
	assert.Equal(t, "0", body["balance"])
	assert.Equal(t, "Reversal: Deposit", body["reversal"].(map[string]any)["description"])

	rr = s.do(t, http.MethodPost, undo, "u1", "", "")
	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, string(models.CodeAlreadyReversed), decodeBody(t, rr)["code"])

	rr = s.do(t, http.MethodPost, "/api/v1/transactions/4242/undo", "u1", "", `{}`)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, string(models.CodeTransactionNotFound), decodeBody(t, rr)["code"])
}

func TestLedgerHandler_AccountAndStatement(t *testing.T) {
	s := newTestServer(t)
	a := s.account(t)
	for _, amt := range []string{"10", "20", "30"} {
		rr := s.do(t, http.MethodPost, fmt.Sprintf("/api/v1/accounts/%d/deposit", a.ID), "u1", "", fmt.Sprintf(`{"amount":%q}`, amt))
		require.Equal(t, http.StatusCreated, rr.Code)
	}

	rr := s.do(t, http.MethodGet, fmt.Sprintf("/api/v1/accounts/%d", a.ID), "u1", "", "")
	require.Equal(t, http.StatusOK, rr.Code)
	body := decodeBody(t, rr)
	assert.Equal(t, "************4000", body["account_number"])
	assert.Equal(t, "60", body["balance"])

	rr = s.do(t, http.MethodGet, fmt.Sprintf("/api/v1/accounts/%d/transactions?limit=2", a.ID), "u1", "", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.EqualValues(t, 2, decodeBody(t, rr)["count"])

	rr = s.do(t, http.MethodGet, fmt.Sprintf("/api/v1/accounts/%d/transactions?limit=zero", a.ID), "u1", "", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = s.do(t, http.MethodGet, "/api/v1/accounts/77/transactions", "u1", "", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = s.do(t, http.MethodGet, "/api/v1/accounts", "u1", "", "")
	require.Equal(t, http.StatusOK, rr.Code)
	body = decodeBody(t, rr)
	assert.EqualValues(t, 1, body["count"])
	listed := body["accounts"].([]any)[0].(map[string]any)
	assert.Equal(t, "************4000", listed["account_number"])

	rr = s.do(t, http.MethodGet, "/api/v1/accounts", "u2", "", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.EqualValues(t, 0, decodeBody(t, rr)["count"])
}

func TestLedgerHandler_FreezeRequiresAdmin(t *testing.T) {
	s := newTestServer(t)
	a := s.account(t)
	freeze := fmt.Sprintf("/api/v1/accounts/%d/freeze", a.ID)

	rr := s.do(t, http.MethodPut, freeze, "u1", "", "")
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = s.do(t, http.MethodPut, freeze, "ops", models.RoleAdmin, "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, true, decodeBody(t, rr)["is_frozen"])

	rr = s.do(t, http.MethodPost, fmt.Sprintf("/api/v1/accounts/%d/deposit", a.ID), "u1", "", `{"amount":"5"}`)
	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, string(models.CodeAccountFrozen), decodeBody(t, rr)["code"])

	rr = s.do(t, http.MethodPut, fmt.Sprintf("/api/v1/accounts/%d/unfreeze", a.ID), "ops", models.RoleAdmin, "")
	require.Equal(t, http.StatusOK, rr.Code)

	rr = s.do(t, http.MethodPost, fmt.Sprintf("/api/v1/accounts/%d/deposit", a.ID), "u1", "", `{"amount":"5"}`)
	assert.Equal(t, http.StatusCreated, rr.Code)

	rr = s.do(t, http.MethodGet, fmt.Sprintf("/api/v1/accounts/%d/reconcile", a.ID), "ops", models.RoleAdmin, "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, true, decodeBody(t, rr)["balanced"])
}

func TestStepUpHandler(t *testing.T) {
	s := newTestServer(t)

	t.Run("preview", func(t *testing.T) {
		rr := s.do(t, http.MethodGet, "/api/v1/step-up?operation=withdrawal&amount=2500", "u1", "", "")
		require.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, "reauthenticate", decodeBody(t, rr)["level"])

		rr = s.do(t, http.MethodGet, "/api/v1/step-up?operation=transfer&amount=2500", "u1", "", "")
		require.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, "confirm", decodeBody(t, rr)["level"])

		rr = s.do(t, http.MethodGet, "/api/v1/step-up?operation=deposit&amount=1000", "u1", "", "")
		require.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, "none", decodeBody(t, rr)["level"])

		rr = s.do(t, http.MethodGet, "/api/v1/step-up?operation=refund&amount=1", "u1", "", "")
		assert.Equal(t, http.StatusBadRequest, rr.Code)

		rr = s.do(t, http.MethodGet, "/api/v1/step-up?operation=deposit&amount=lots", "u1", "", "")
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("reauthenticate with unknown user", func(t *testing.T) {
		rr := s.do(t, http.MethodPost, "/api/v1/auth/step-up", "ghost", "", `{"password":"hunter2"}`)
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
		assert.Equal(t, string(models.CodeInvalidCredentials), decodeBody(t, rr)["code"])
	})

	t.Run("reauthenticate then withdraw", func(t *testing.T) {
		hashed, err := services.HashPassword("hunter2", testArgon2)
		require.NoError(t, err)
		s.store.AddUser(models.User{ID: "u9", Email: "u9@example.com", Role: models.RoleUser, PasswordHash: hashed})
		a := s.store.AddAccount(models.Account{OwnerID: "u9", AccountNumber: "7777000011112222"})
		rr := s.do(t, http.MethodPost, fmt.Sprintf("/api/v1/accounts/%d/deposit", a.ID), "u9", "", `{"amount":"2500","confirmed":true}`)
		require.Equal(t, http.StatusCreated, rr.Code)

		rr = s.do(t, http.MethodPost, "/api/v1/auth/step-up", "u9", "", `{"password":"wrong"}`)
		assert.Equal(t, http.StatusUnauthorized, rr.Code)

		rr = s.do(t, http.MethodPost, "/api/v1/auth/step-up", "u9", "", `{"password":"hunter2"}`)
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		token := decodeBody(t, rr)["grant_token"].(string)

		// another user cannot spend the grant
		rr = s.do(t, http.MethodPost, fmt.Sprintf("/api/v1/accounts/%d/withdraw", a.ID), "u1", "",
			fmt.Sprintf(`{"amount":"2001","confirmed":true,"grant_token":%q}`, token))
		assert.Equal(t, http.StatusPreconditionRequired, rr.Code)

		rr = s.do(t, http.MethodPost, fmt.Sprintf("/api/v1/accounts/%d/withdraw", a.ID), "u9", "",
			fmt.Sprintf(`{"amount":"2001","confirmed":true,"grant_token":%q}`, token))
		require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
		assert.Equal(t, "499", decodeBody(t, rr)["balance"])
	})

	t.Run("reauthenticate without password", func(t *testing.T) {
		rr := s.do(t, http.MethodPost, "/api/v1/auth/step-up", "u1", "", `{}`)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})
}

func multipartUpload(t *testing.T, filename, content string, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func (s *testServer) upload(t *testing.T, user, role, filename, content string, fields map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	body, contentType := multipartUpload(t, filename, content, fields)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/imports", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("X-User", user)
	req.Header.Set("X-Role", role)
	rr := httptest.NewRecorder()
	s.handler.ServeHTTP(rr, req)
	return rr
}

func TestAuthHandler_Login(t *testing.T) {
	s := newTestServer(t)
	hashed, err := services.HashPassword("hunter2", testArgon2)
	require.NoError(t, err)
	s.store.AddUser(models.User{ID: "ops", Role: models.RoleAdmin, PasswordHash: hashed})

	rr := s.do(t, http.MethodPost, "/api/v1/auth/login", "", "", `{"user_id":"ops","password":"hunter2"}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	body := decodeBody(t, rr)
	assert.NotEmpty(t, body["token"])
	assert.Equal(t, "ops", body["user"].(map[string]any)["id"])

	rr = s.do(t, http.MethodPost, "/api/v1/auth/login", "", "", `{"user_id":"ops","password":"nope"}`)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = s.do(t, http.MethodPost, "/api/v1/auth/login", "", "", `{"user_id":"ops"}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestImportHandler_UploadAndPoll(t *testing.T) {
	s := newTestServer(t)
	a := s.account(t)

	csv := "amount,description,type\n25,Salary,deposit\n5,Fees,withdrawal\n"
	rr := s.upload(t, "ops", models.RoleAdmin, "batch.csv", csv, map[string]string{"default_account_id": fmt.Sprint(a.ID)})
	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())
	job := decodeBody(t, rr)
	jobID := job["id"].(string)
	assert.Equal(t, "/api/v1/imports/"+jobID, rr.Header().Get("Location"))
	assert.EqualValues(t, 2, job["total"])

	s.runner.Wait()

	rr = s.do(t, http.MethodGet, "/api/v1/imports/"+jobID, "ops", models.RoleAdmin, "")
	require.Equal(t, http.StatusOK, rr.Code)
	status := decodeBody(t, rr)
	assert.Equal(t, string(services.JobCompleted), status["state"])
	result := status["result"].(map[string]any)
	assert.Equal(t, true, result["success"])
	assert.Equal(t, "2 succeeded, 0 failed", result["message"])
	assert.Equal(t, "20", s.balance(t, a.ID).String())
}

func TestImportHandler_Rejections(t *testing.T) {
	s := newTestServer(t)

	rr := s.upload(t, "u1", models.RoleUser, "batch.csv", "amount\n1\n", nil)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = s.upload(t, "ops", models.RoleAdmin, "batch.xlsx", "whatever", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, string(models.CodeUnsupportedFormat), decodeBody(t, rr)["code"])

	rr = s.upload(t, "ops", models.RoleAdmin, "batch.csv", "amount\n1\n", map[string]string{"confirmed": "maybe"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = s.do(t, http.MethodGet, "/api/v1/imports/does-not-exist", "ops", models.RoleAdmin, "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestImportHandler_Template(t *testing.T) {
	s := newTestServer(t)
	rr := s.do(t, http.MethodGet, "/api/v1/imports/template", "", "", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "text/csv", rr.Header().Get("Content-Type"))
	assert.True(t, strings.HasPrefix(rr.Body.String(), "account_id,amount,description,transaction_type,created_at\n"))
}

func TestHealthHandler(t *testing.T) {
	t.Run("no dependencies", func(t *testing.T) {
		rr := httptest.NewRecorder()
		NewHealthHandler(nil, nil).Health(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, "healthy", decodeBody(t, rr)["status"])
	})

	t.Run("database down", func(t *testing.T) {
		db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
		require.NoError(t, err)
		defer db.Close()
		mock.ExpectPing().WillReturnError(errors.New("connection refused"))

		rr := httptest.NewRecorder()
		NewHealthHandler(db, nil).Health(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
		assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
		body := decodeBody(t, rr)
		assert.Equal(t, "unhealthy", body["status"])
		assert.Equal(t, "unavailable", body["checks"].(map[string]any)["database"])
	})

	t.Run("redis down is degraded", func(t *testing.T) {
		client, mock := redismock.NewClientMock()
		mock.ExpectPing().SetErr(errors.New("connection refused"))

		rr := httptest.NewRecorder()
		NewHealthHandler(nil, client).Health(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
		assert.Equal(t, http.StatusOK, rr.Code)
		body := decodeBody(t, rr)
		assert.Equal(t, "healthy", body["status"])
		assert.Equal(t, "degraded", body["checks"].(map[string]any)["redis"])
	})
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)
	s.do(t, http.MethodGet, "/health", "", "", "")

	rr := s.do(t, http.MethodGet, "/metrics", "", "", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "ledger_http_requests_total")
}
