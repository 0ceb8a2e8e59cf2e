package fetcher_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"regwatch/internal/domain/entity"
	"regwatch/internal/infra/fetcher"
	"regwatch/internal/resilience/failure"
)

const articleHTML = `<!DOCTYPE html>
<html>
<head><title>Guidelines on ICT and security risk management</title></head>
<body>
	<nav><a href="/">Home</a></nav>
	<article>
		<h1>Guidelines on ICT and security risk management</h1>
		<p>These guidelines specify the risk management measures that financial institutions must take to manage ICT and security risks.</p>
		<p>Institutions should establish a sound internal governance and control framework covering all ICT and security risks.</p>
		<p>The guidelines apply from 30 June 2026 and replace the previous guidance on security measures for operational risks.</p>
	</article>
</body>
</html>`

func TestReadabilityProcessor_Process_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(articleHTML))
	}))
	defer server.Close()

	item := &entity.DiscoveredItem{ID: "i1", URL: server.URL + "/doc/1"}

	res, err := fetcher.NewReadabilityProcessor(localConfig(), nil).Process(context.Background(), item)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.GreaterOrEqual(t, res.ExtractedCount, 1)
	assert.NotEmpty(t, res.Summary)
	assert.LessOrEqual(t, len([]rune(res.Summary)), 501)
}

func TestReadabilityProcessor_Process_HTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	item := &entity.DiscoveredItem{ID: "i1", URL: server.URL}

	_, err := fetcher.NewReadabilityProcessor(localConfig(), nil).Process(context.Background(), item)
	require.Error(t, err)
	assert.Equal(t, entity.FailureNetwork, failure.Classify(err))
}

func TestReadabilityProcessor_Process_InvalidURL(t *testing.T) {
	item := &entity.DiscoveredItem{ID: "i1", URL: "file:///etc/passwd"}

	_, err := fetcher.NewReadabilityProcessor(localConfig(), nil).Process(context.Background(), item)
	assert.ErrorIs(t, err, fetcher.ErrInvalidURL)
	assert.Equal(t, entity.FailureValidation, failure.Classify(err))
}

func TestReadabilityProcessor_Process_EmptyPageIsNotSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html><head></head><body></body></html>"))
	}))
	defer server.Close()

	item := &entity.DiscoveredItem{ID: "i1", URL: server.URL}

	res, err := fetcher.NewReadabilityProcessor(localConfig(), nil).Process(context.Background(), item)
	assert.False(t, err == nil && res.Success, "empty page must not be a successful extraction")
}

func TestReadabilityProcessor_LongSummaryIsTruncated(t *testing.T) {
	long := strings.Repeat("Capital requirements apply to all credit institutions. ", 40)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html><body><article><p>" + long + "</p><p>" + long + "</p></article></body></html>"))
	}))
	defer server.Close()

	item := &entity.DiscoveredItem{ID: "i1", URL: server.URL}

	res, err := fetcher.NewReadabilityProcessor(localConfig(), nil).Process(context.Background(), item)
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.Equal(t, 501, len([]rune(res.Summary)))
	assert.True(t, strings.HasSuffix(res.Summary, "…"))
}
