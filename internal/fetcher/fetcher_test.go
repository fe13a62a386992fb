package fetcher_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"stockleague/internal/fetcher"
	"stockleague/internal/quote"
)

func chartResponse(price string) *http.Response {
	body := fmt.Sprintf(`{"chart":{"result":[{"meta":{"regularMarketPrice":%s}}],"error":null}}`, price)
	return &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func TestFetchPrice_BuildsProviderURL(t *testing.T) {
	t.Parallel()

	// Arrange: a mock client capturing the requested URL
	ctrl := gomock.NewController(t)
	client := NewMockDoer(ctrl)
	client.EXPECT().
		Do(gomock.Any()).
		DoAndReturn(func(req *http.Request) (*http.Response, error) {
			require.Equal(t, http.MethodGet, req.Method)
			require.Contains(t, req.URL.Path, "/RELIANCE.NS")
			return chartResponse("2850.55"), nil
		}).
		Times(1)

	f := fetcher.New(fetcher.Config{Routes: []fetcher.Route{fetcher.Direct()}}, client, zerolog.Nop())

	// Act
	q, err := f.FetchPrice(context.Background(), " reliance ", quote.NSE)

	// Assert
	require.NoError(t, err)
	require.Equal(t, "RELIANCE", q.Symbol)
	require.Equal(t, quote.NSE, q.Exchange)
	require.Equal(t, "2850.55", q.Price.String())
}

func TestFetchPrice_InvalidInputNeverHitsNetwork(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	client := NewMockDoer(ctrl)
	// No Do expectations: any call fails the test.

	f := fetcher.New(fetcher.Config{}, client, zerolog.Nop())

	_, err := f.FetchPrice(context.Background(), "BAD SYMBOL", quote.NSE)
	require.ErrorIs(t, err, quote.ErrInvalidSymbol)

	_, err = f.FetchPrice(context.Background(), "RELIANCE", quote.Exchange("NYSE"))
	require.ErrorIs(t, err, quote.ErrInvalidExchange)
}

func TestFetchPrice_ExhaustionReturnsClassifiedError(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	client := NewMockDoer(ctrl)
	// Every route fails: one transport error, one bad status, one bad payload.
	client.EXPECT().Do(gomock.Any()).Return(nil, errors.New("dial timeout")).Times(1)
	client.EXPECT().Do(gomock.Any()).Return(&http.Response{
		StatusCode: http.StatusTooManyRequests,
		Body:       io.NopCloser(strings.NewReader("rate limited")),
	}, nil).Times(1)
	client.EXPECT().Do(gomock.Any()).Return(&http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(strings.NewReader(`{"chart":{"result":[],"error":null}}`)),
	}, nil).Times(1)

	routes := []fetcher.Route{
		fetcher.Direct(),
		fetcher.Proxy("p1", "https://p1.example/?url="),
		fetcher.Proxy("p2", "https://p2.example/?url="),
	}
	f := fetcher.New(fetcher.Config{Routes: routes}, client, zerolog.Nop())

	_, err := f.FetchPrice(context.Background(), "ZOMATO", quote.NSE)

	var qerr *quote.QuoteUnavailableError
	require.ErrorAs(t, err, &qerr)
	require.Equal(t, "ZOMATO", qerr.Symbol)
	require.Equal(t, quote.NSE, qerr.Exchange)
	require.Equal(t, 3, qerr.Attempts)
	require.Contains(t, err.Error(), "ZOMATO")
	require.Contains(t, err.Error(), "NSE")
}

func TestFetchBatch_PreservesInputOrderWithPartialFailure(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	client := NewMockDoer(ctrl)
	client.EXPECT().
		Do(gomock.Any()).
		DoAndReturn(func(req *http.Request) (*http.Response, error) {
			switch {
			case strings.Contains(req.URL.Path, "RELIANCE.NS"):
				return chartResponse("2850.55"), nil
			case strings.Contains(req.URL.Path, "BROKEN.BO"):
				// Well-formed response with no usable price field.
				return &http.Response{
					StatusCode: http.StatusOK,
					Body:       io.NopCloser(strings.NewReader(`{"chart":{"result":[{"meta":{"regularMarketPrice":0}}],"error":null}}`)),
				}, nil
			case strings.Contains(req.URL.Path, "TCS.NS"):
				return chartResponse("3890.10"), nil
			}
			return nil, fmt.Errorf("unexpected URL %s", req.URL)
		}).
		AnyTimes()

	f := fetcher.New(fetcher.Config{Routes: []fetcher.Route{fetcher.Direct()}, BatchWorkers: 2}, client, zerolog.Nop())

	reqs := []fetcher.Request{
		{Symbol: "RELIANCE", Exchange: quote.NSE},
		{Symbol: "BROKEN", Exchange: quote.BSE},
		{Symbol: "TCS", Exchange: quote.NSE},
	}
	results := f.FetchBatch(context.Background(), reqs)

	require.Len(t, results, 3)
	require.Equal(t, reqs[0], results[0].Request)
	require.Equal(t, reqs[1], results[1].Request)
	require.Equal(t, reqs[2], results[2].Request)

	require.NoError(t, results[0].Err)
	require.Equal(t, "2850.55", results[0].Quote.Price.String())

	var qerr *quote.QuoteUnavailableError
	require.ErrorAs(t, results[1].Err, &qerr)

	require.NoError(t, results[2].Err)
	require.Equal(t, "3890.1", results[2].Quote.Price.String())
}

func TestFetchBatch_EmptyInput(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	f := fetcher.New(fetcher.Config{}, NewMockDoer(ctrl), zerolog.Nop())
	require.Nil(t, f.FetchBatch(context.Background(), nil))
}
