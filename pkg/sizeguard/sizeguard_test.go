package sizeguard

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateBudgetRejectsNonPositiveAndOverCap(t *testing.T) {
	assert.Error(t, ValidateBudget(0))
	assert.Error(t, ValidateBudget(-1))
	assert.Error(t, ValidateBudget(MaxAllowedBudget+1))
	assert.NoError(t, ValidateBudget(DefaultMaxSizeBytes))
}

func TestValidateUsesContentLengthWhenPresent(t *testing.T) {
	h := http.Header{}
	h.Set("Content-Length", "2000000")

	warn, err := Validate(h, nil, 1_000_000, "scrape")
	require.Error(t, err)
	var sizeErr *SizeError
	require.ErrorAs(t, err, &sizeErr)
	assert.Equal(t, int64(2000000), sizeErr.Actual)
	assert.Nil(t, warn)
}

func TestValidateWarnsPastHalfBudget(t *testing.T) {
	h := http.Header{}
	h.Set("Content-Length", "600000")

	warn, err := Validate(h, nil, 1_000_000, "scrape")
	require.NoError(t, err)
	require.NotNil(t, warn)
	assert.Equal(t, int64(600000), warn.Actual)
}

func TestValidateFallsBackToBufferedBody(t *testing.T) {
	body := make([]byte, 50)
	warn, err := Validate(http.Header{}, body, 1_000_000, "scrape")
	assert.NoError(t, err)
	assert.Nil(t, warn)
}

func TestValidateRejectsOversizedBufferedBody(t *testing.T) {
	body := make([]byte, 200)
	_, err := Validate(http.Header{}, body, 100, "llm:openrouter")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "llm:openrouter")
}

func TestValidatePropagatesBadBudget(t *testing.T) {
	_, err := Validate(http.Header{}, nil, -5, "scrape")
	assert.Error(t, err)
}
