package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"stockleague/internal/fetcher"
	"stockleague/internal/league"
	"stockleague/internal/quote"
	"stockleague/internal/ranking"
	"stockleague/internal/roster"
	"stockleague/internal/server"
)

type stubSource struct {
	prices map[string]string
}

func (s *stubSource) FetchPrice(ctx context.Context, symbol string, exchange quote.Exchange) (quote.Quote, error) {
	sym, err := quote.NormalizeSymbol(symbol)
	if err != nil {
		return quote.Quote{}, err
	}
	p, ok := s.prices[sym]
	if !ok {
		return quote.Quote{}, &quote.QuoteUnavailableError{
			Symbol: sym, Exchange: exchange, Attempts: 3, Last: errors.New("stub: down"),
		}
	}
	return quote.Quote{Symbol: sym, Exchange: exchange, Price: decimal.RequireFromString(p), FetchedAt: time.Now()}, nil
}

func (s *stubSource) FetchBatch(ctx context.Context, reqs []fetcher.Request) []fetcher.Result {
	out := make([]fetcher.Result, len(reqs))
	for i, r := range reqs {
		q, err := s.FetchPrice(ctx, r.Symbol, r.Exchange)
		out[i] = fetcher.Result{Request: r, Quote: q, Err: err}
	}
	return out
}

func (s *stubSource) Invalidate() {}

func newTestServer(t *testing.T, prices map[string]string) *httptest.Server {
	t.Helper()
	store := roster.NewMemory()
	source := &stubSource{prices: prices}
	svc := league.New(store, source, zerolog.Nop())
	srv := server.New(server.Config{
		Log:    zerolog.Nop(),
		League: svc,
		Source: source,
		Store:  store,
		Port:   "0",
	})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func submit(t *testing.T, ts *httptest.Server, name, symbol, exchange string) *http.Response {
	t.Helper()
	body, err := json.Marshal(map[string]string{"name": name, "symbol": symbol, "exchange": exchange})
	require.NoError(t, err)
	resp, err := http.Post(ts.URL+"/api/participants", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	return resp
}

func TestServer_SubmitRefreshLeaderboardFlow(t *testing.T) {
	ts := newTestServer(t, map[string]string{"RELIANCE": "110.00", "TCS": "95.00"})

	resp := submit(t, ts, "Asha", "reliance", "NSE")
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created ranking.Participant
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	resp.Body.Close()
	require.Equal(t, "RELIANCE", created.Symbol)
	require.NotEmpty(t, created.ID)

	resp = submit(t, ts, "Dev", "TCS", "BSE")
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	// refresh ranks both picks (prices unchanged since entry → 0% each,
	// stable order by submission)
	resp, err := http.Post(ts.URL+"/api/refresh", "application/json", nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var report league.RefreshReport
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&report))
	resp.Body.Close()
	require.Equal(t, league.RefreshReport{Total: 2, Succeeded: 2, Failed: 0}, report)

	resp, err = http.Get(ts.URL + "/api/leaderboard")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var board []ranking.Participant
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&board))
	resp.Body.Close()
	require.Len(t, board, 2)
	require.Equal(t, 1, board[0].Rank)
	require.Equal(t, 2, board[1].Rank)
	require.Equal(t, "Asha", board[0].Name)

	// delete the leader
	req, err := http.NewRequest(http.MethodDelete, ts.URL+"/api/participants/"+board[0].ID, nil)
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp.Body.Close()
}

func TestServer_QuoteEndpoint(t *testing.T) {
	ts := newTestServer(t, map[string]string{"RELIANCE": "2850.55"})

	resp, err := http.Get(ts.URL + "/api/quote?symbol=reliance&exchange=nse")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var q quote.Quote
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&q))
	resp.Body.Close()
	require.Equal(t, "RELIANCE", q.Symbol)
	require.Equal(t, "2850.55", q.Price.String())
}

func TestServer_ErrorStatusMapping(t *testing.T) {
	ts := newTestServer(t, map[string]string{})

	cases := []struct {
		url        string
		wantStatus int
	}{
		{"/api/quote?symbol=BAD+SYMBOL&exchange=NSE", http.StatusBadRequest},
		{"/api/quote?symbol=RELIANCE&exchange=NASDAQ", http.StatusBadRequest},
		{"/api/quote?symbol=RELIANCE&exchange=NSE", http.StatusBadGateway},
	}
	for _, c := range cases {
		resp, err := http.Get(ts.URL + c.url)
		require.NoError(t, err)
		require.Equal(t, c.wantStatus, resp.StatusCode, c.url)
		resp.Body.Close()
	}

	// unknown participant delete
	req, err := http.NewRequest(http.MethodDelete, ts.URL+"/api/participants/nope", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()

	// a submission that cannot be quoted is blocked with a symbol-specific message
	resp = submit(t, ts, "Asha", "NOSUCH", "NSE")
	require.Equal(t, http.StatusBadGateway, resp.StatusCode)
	var eb struct {
		Error string `json:"error"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&eb))
	resp.Body.Close()
	require.Contains(t, eb.Error, "NOSUCH")
}

func TestServer_RefreshWithNoSignalReportsCounts(t *testing.T) {
	prices := map[string]string{"RELIANCE": "100"}
	ts := newTestServer(t, prices)

	resp := submit(t, ts, "Asha", "RELIANCE", "NSE")
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	// provider goes dark after submission
	delete(prices, "RELIANCE")

	resp, err := http.Post(ts.URL+"/api/refresh", "application/json", nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusBadGateway, resp.StatusCode)
	var report league.RefreshReport
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&report))
	resp.Body.Close()
	require.Equal(t, league.RefreshReport{Total: 1, Succeeded: 0, Failed: 1}, report)
}

func TestServer_LeaderboardFeed(t *testing.T) {
	ts := newTestServer(t, map[string]string{"RELIANCE": "100.00", "TCS": "95.00"})

	// first submission also warms the keep-alive connection so the goroutine
	// baseline below is stable
	resp := submit(t, ts, "Asha", "RELIANCE", "NSE")
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	before := runtime.NumGoroutine()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/leaderboard/ws"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	// snapshot on connect
	var board []ranking.Participant
	require.NoError(t, wsjson.Read(ctx, conn, &board))
	require.Len(t, board, 1)
	require.Equal(t, "RELIANCE", board[0].Symbol)

	// a roster change pushes a fresh board
	resp = submit(t, ts, "Dev", "TCS", "BSE")
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()
	require.NoError(t, wsjson.Read(ctx, conn, &board))
	require.Len(t, board, 2)

	// a clean client close must tear the handler down even with the roster
	// idle, releasing its goroutine and store subscription
	require.NoError(t, conn.Close(websocket.StatusNormalClosure, ""))
	require.Eventually(t, func() bool {
		return runtime.NumGoroutine() <= before
	}, 3*time.Second, 25*time.Millisecond, "feed handler still running after client close")
}

func TestServer_Healthz(t *testing.T) {
	ts := newTestServer(t, nil)
	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
}
