package operationreport

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReport_AddError(t *testing.T) {
	t.Run("gateway errors carry their classification", func(t *testing.T) {
		report := Report{}
		report.AddError(ErrSubOperationFailed("reviews", errors.New("connection refused")), "me", "reviews")

		require.Len(t, report.ExternalErrors, 1)
		external := report.ExternalErrors[0]
		assert.Equal(t, `sub-operation on service "reviews" failed: connection refused`, external.Message)
		assert.Equal(t, []interface{}{"me", "reviews"}, external.Path)
		assert.Equal(t, map[string]interface{}{
			"code":        "SubOperationError",
			"serviceName": "reviews",
		}, external.Extensions)
	})

	t.Run("plain errors have no extensions", func(t *testing.T) {
		report := Report{}
		report.AddError(errors.New("boom"))

		require.Len(t, report.ExternalErrors, 1)
		assert.Nil(t, report.ExternalErrors[0].Extensions)
		assert.Nil(t, report.ExternalErrors[0].Path)
	})
}

func TestReport_ClientErrors(t *testing.T) {
	t.Run("external errors only", func(t *testing.T) {
		report := Report{}
		report.AddError(errors.New("boom"), "me")

		assert.Equal(t, report.ExternalErrors, report.ClientErrors())
	})

	t.Run("internal errors collapse into one generic error", func(t *testing.T) {
		report := Report{}
		report.AddError(errors.New("boom"), "me")
		report.AddInternalError(errors.New("write response: json: unsupported value"))
		report.AddInternalError(errors.New("second"))

		clientErrors := report.ClientErrors()
		require.Len(t, clientErrors, 2)
		assert.Equal(t, "boom", clientErrors[0].Message)
		assert.Equal(t, ExternalError{Message: InternalErrorMessage}, clientErrors[1])
		assert.Len(t, report.ExternalErrors, 1)
	})

	t.Run("empty report", func(t *testing.T) {
		assert.Empty(t, (&Report{}).ClientErrors())
	})
}
