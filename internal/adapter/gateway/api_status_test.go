package gateway

import (
	"encoding/json"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ppi-control/internal/domain"
)

type fakeBusStats struct{ published, dropped uint64 }

func (f fakeBusStats) Stats() (uint64, uint64) { return f.published, f.dropped }

func getWithToken(t *testing.T, url, token string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestStatusRequiresToken(t *testing.T) {
	srv, _ := startHandlerServer(t, HandlerDeps{Router: &fakeSubmitter{}, Feed: &fakeFeed{}})

	resp := getWithToken(t, "http://"+srv.BoundAddr()+"/api/v1/status", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = getWithToken(t, "http://"+srv.BoundAddr()+"/metrics", "wrong")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestStatusReportsCounters(t *testing.T) {
	fd := &fakeFeed{entries: []domain.FeedEntry{{Seq: 1}, {Seq: 2}}}
	srv, _ := startHandlerServer(t, HandlerDeps{
		Router:   &fakeSubmitter{res: domain.OK(nil)},
		Feed:     fd,
		Bus:      fakeBusStats{published: 9, dropped: 1},
		Channels: []string{"slack", "teams"},
	})
	ws := dialWS(t, srv.BoundAddr(), "test-token")
	call(t, ws, 1, "submit", map[string]any{"to": "leader", "action": "report:daily"})
	call(t, ws, 2, "submit", map[string]any{"action": "report:daily"})

	resp := getWithToken(t, "http://"+srv.BoundAddr()+"/api/v1/status?token=test-token", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var st StatusResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&st))
	assert.Equal(t, "ppid", st.Service.Name)
	assert.Equal(t, []string{"leader"}, st.Agents)
	assert.Equal(t, []string{"slack", "teams"}, st.Channels)
	assert.Equal(t, uint64(2), st.Feed.Seq)
	assert.Equal(t, int64(1), st.Gateway.Clients)
	assert.Equal(t, uint64(9), st.Bus.Published)
	assert.Equal(t, int64(1), st.Submits.Total)
	assert.Equal(t, int64(1), st.Submits.Rejected)
}

func TestMetricsTextFormat(t *testing.T) {
	srv, _ := startHandlerServer(t, HandlerDeps{Router: &fakeSubmitter{}, Feed: &fakeFeed{}})

	resp := getWithToken(t, "http://"+srv.BoundAddr()+"/metrics", "test-token")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/plain")

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "# TYPE ppi_submits_total counter")
	assert.Contains(t, string(body), "ppi_agents_registered 1\n")
	assert.Contains(t, string(body), "ppi_gateway_clients 0\n")
}
