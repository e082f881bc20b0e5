package handler

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	apperrors "github.com/openclaw/broadcast-server-go/internal/errors"
	"github.com/openclaw/broadcast-server-go/internal/model"
)

func TestAdminHandler(t *testing.T) {
	admin := &model.Account{Identifier: "+15550000001", Role: model.RoleAdmin, Active: true}

	t.Run("lists accounts with pagination", func(t *testing.T) {
		accounts := new(mockAccountAdmin)
		accounts.On("ListAccounts", mock.Anything, admin).Return([]model.Account{
			{Identifier: "a"}, {Identifier: "b"}, {Identifier: "c"},
		}, nil)

		rec := httptest.NewRecorder()
		NewAdminHandler(accounts, new(mockDispatcher)).Routes().ServeHTTP(rec,
			newJSONRequest(http.MethodGet, "/accounts?limit=2&offset=1", "", admin))

		assert.Equal(t, http.StatusOK, rec.Code)
		body := decodeBody(t, rec)
		assert.Equal(t, float64(3), body["total"])
		assert.Len(t, body["items"], 2)
	})

	t.Run("sets account status", func(t *testing.T) {
		accounts := new(mockAccountAdmin)
		accounts.On("SetActive", mock.Anything, admin, "+15550001234", false).
			Return(&model.Account{Identifier: "+15550001234", Active: false}, nil)

		rec := httptest.NewRecorder()
		NewAdminHandler(accounts, new(mockDispatcher)).Routes().ServeHTTP(rec,
			newJSONRequest(http.MethodPut, "/accounts/+15550001234/status", `{"active":false}`, admin))

		assert.Equal(t, http.StatusOK, rec.Code)
		accounts.AssertExpectations(t)
	})

	t.Run("status requires the active field", func(t *testing.T) {
		accounts := new(mockAccountAdmin)

		rec := httptest.NewRecorder()
		NewAdminHandler(accounts, new(mockDispatcher)).Routes().ServeHTTP(rec,
			newJSONRequest(http.MethodPut, "/accounts/+15550001234/status", `{}`, admin))

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		accounts.AssertNotCalled(t, "SetActive", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("sets role and surfaces not found", func(t *testing.T) {
		accounts := new(mockAccountAdmin)
		accounts.On("SetRole", mock.Anything, admin, "+15559990000", model.RoleAdmin).Return(nil, apperrors.NotFound("Account"))

		rec := httptest.NewRecorder()
		NewAdminHandler(accounts, new(mockDispatcher)).Routes().ServeHTTP(rec,
			newJSONRequest(http.MethodPut, "/accounts/+15559990000/role", `{"role":"admin"}`, admin))

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("runs a dispatch pass on demand", func(t *testing.T) {
		dispatcher := new(mockDispatcher)
		dispatcher.On("RunOnce", mock.Anything).Return(&model.DispatchReport{
			StartedAt:  time.Unix(1700000000, 0).UTC(),
			FinishedAt: time.Unix(1700000001, 0).UTC(),
			Due:        1,
			Schedules:  []model.ScheduleReport{{ScheduleID: "s1", Outcome: model.OutcomeDelivered}},
		}, nil)

		rec := httptest.NewRecorder()
		NewAdminHandler(new(mockAccountAdmin), dispatcher).Routes().ServeHTTP(rec,
			newJSONRequest(http.MethodPost, "/dispatch", "", admin))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, float64(1), decodeBody(t, rec)["due"])
	})

	t.Run("dispatch repository failure is 500", func(t *testing.T) {
		dispatcher := new(mockDispatcher)
		dispatcher.On("RunOnce", mock.Anything).Return(nil, apperrors.Repository(errors.New("db down")))

		rec := httptest.NewRecorder()
		NewAdminHandler(new(mockAccountAdmin), dispatcher).Routes().ServeHTTP(rec,
			newJSONRequest(http.MethodPost, "/dispatch", "", admin))

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Equal(t, "REPOSITORY_FAILURE", decodeBody(t, rec)["code"])
	})
}

func TestPaginate(t *testing.T) {
	items := []int{1, 2, 3}
	assert.Equal(t, []int{2, 3}, paginate(items, PaginationParams{Limit: 5, Offset: 1}))
	assert.Equal(t, []int{}, paginate(items, PaginationParams{Limit: 5, Offset: 3}))
	assert.Equal(t, []int{1}, paginate(items, PaginationParams{Limit: 1}))
}
