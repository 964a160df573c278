package response

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http/httptest"
	"testing"

	"fractions-backend/internal/domain"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{domain.ErrInvalidMethod, fiber.StatusBadRequest},
		{domain.Wrap(domain.ErrInvalidSchedule, "end before start"), fiber.StatusBadRequest},
		{domain.ErrSupplyInvariantViolation, fiber.StatusUnprocessableEntity},
		{domain.ErrNothingClaimable, fiber.StatusUnprocessableEntity},
		{domain.ErrRunNotFound, fiber.StatusNotFound},
		{domain.ErrAssetBusy, fiber.StatusConflict},
		{fmt.Errorf("pay: %w", domain.ErrLedgerUnavailable), fiber.StatusBadGateway},
		{errors.New("boom"), fiber.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, StatusFor(tc.err), tc.err.Error())
	}
}

func TestFromError_HidesUnknownErrors(t *testing.T) {
	app := fiber.New()
	app.Get("/known", func(c *fiber.Ctx) error {
		return FromError(c, domain.Wrap(domain.ErrLockupNotFound, "id %s", "abc"), nil)
	})
	app.Get("/unknown", func(c *fiber.Ctx) error {
		return FromError(c, errors.New("pq: password authentication failed"), nil)
	})

	resp, err := app.Test(httptest.NewRequest("GET", "/known", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
	var out ErrorBody
	body, _ := io.ReadAll(resp.Body)
	require.NoError(t, json.Unmarshal(body, &out))
	assert.Equal(t, "error", out.Status)
	assert.Equal(t, "lockup period not found: id abc", out.Error.Message)

	resp, err = app.Test(httptest.NewRequest("GET", "/unknown", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusInternalServerError, resp.StatusCode)
	body, _ = io.ReadAll(resp.Body)
	require.NoError(t, json.Unmarshal(body, &out))
	assert.Equal(t, "Internal Server Error", out.Error.Message)
}
