package market

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const defaultEODHDBaseURL = "https://eodhd.com/api"

// EODHDConfig configures the EOD Historical Data client.
type EODHDConfig struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
}

// EODHDClient is a Provider backed by EOD Historical Data.
type EODHDClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	now        func() time.Time
}

func NewEODHDClient(cfg EODHDConfig) (*EODHDClient, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("eodhd api key required")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultEODHDBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &EODHDClient{
		apiKey:     apiKey,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		now:        time.Now,
	}, nil
}

// FetchQuote returns the latest price, the day change against the previous
// close and the 52-week range from daily bars.
func (c *EODHDClient) FetchQuote(ctx context.Context, symbol string) (Quote, error) {
	symbol, err := NormalizeSymbol(symbol)
	if err != nil {
		return Quote{}, err
	}
	var rt realTimeResponse
	if err := c.get(ctx, "/real-time/"+url.PathEscape(symbol), nil, &rt); err != nil {
		return Quote{}, wrapFetchError(symbol, err)
	}
	if rt.Close.missing() {
		return Quote{}, &Error{Symbol: symbol, Kind: KindNotFound, Err: errors.New("no price data")}
	}

	now := c.now().UTC()
	var bars []eodBar
	query := url.Values{
		"from": {now.AddDate(-1, 0, 0).Format(time.DateOnly)},
		"to":   {now.Format(time.DateOnly)},
	}
	if err := c.get(ctx, "/eod/"+url.PathEscape(symbol), query, &bars); err != nil {
		return Quote{}, wrapFetchError(symbol, err)
	}

	price := rt.Close.Decimal
	high, low := price, price
	for _, bar := range bars {
		if !bar.High.missing() && bar.High.GreaterThan(high) {
			high = bar.High.Decimal
		}
		if !bar.Low.missing() && bar.Low.LessThan(low) {
			low = bar.Low.Decimal
		}
	}

	change := rt.ChangePct.Decimal
	if rt.ChangePct.missing() {
		change = decimal.Zero
		if !rt.PreviousClose.missing() && !rt.PreviousClose.IsZero() {
			change = price.Sub(rt.PreviousClose.Decimal).Div(rt.PreviousClose.Decimal).Mul(decimal.NewFromInt(100))
		}
	}

	asOf := now
	if !rt.Timestamp.missing() && rt.Timestamp.IsPositive() {
		asOf = time.Unix(rt.Timestamp.IntPart(), 0).UTC()
	}
	return Quote{
		Symbol:       symbol,
		Price:        price.Round(2),
		DayChangePct: change.Round(2),
		Volume:       rt.Volume.IntPart(),
		High52w:      high.Round(2),
		Low52w:       low.Round(2),
		AsOf:         asOf,
	}, nil
}

type httpStatusError struct {
	status int
	text   string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("eodhd api error: %s", e.text)
}

func (c *EODHDClient) get(ctx context.Context, path string, query url.Values, out any) error {
	if query == nil {
		query = url.Values{}
	}
	query.Set("fmt", "json")
	query.Set("api_token", c.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+query.Encode(), nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return &httpStatusError{status: resp.StatusCode, text: resp.Status}
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func wrapFetchError(symbol string, err error) error {
	var statusErr *httpStatusError
	if errors.As(err, &statusErr) && statusErr.status == http.StatusNotFound {
		return &Error{Symbol: symbol, Kind: KindNotFound, Err: err}
	}
	return &Error{Symbol: symbol, Kind: KindUnavailable, Err: err}
}

// apiDecimal accepts numbers, numeric strings and the "NA" placeholder EODHD
// uses for missing values.
type apiDecimal struct {
	decimal.Decimal
	valid bool
}

func (d apiDecimal) missing() bool { return !d.valid }

func (d *apiDecimal) UnmarshalJSON(data []byte) error {
	raw := strings.Trim(string(data), `"`)
	if raw == "" || raw == "null" || strings.EqualFold(raw, "NA") {
		*d = apiDecimal{}
		return nil
	}
	v, err := decimal.NewFromString(raw)
	if err != nil {
		return fmt.Errorf("decode number %q: %w", raw, err)
	}
	*d = apiDecimal{Decimal: v, valid: true}
	return nil
}

type realTimeResponse struct {
	Code          string     `json:"code"`
	Timestamp     apiDecimal `json:"timestamp"`
	Close         apiDecimal `json:"close"`
	Volume        apiDecimal `json:"volume"`
	PreviousClose apiDecimal `json:"previousClose"`
	ChangePct     apiDecimal `json:"change_p"`
}

type eodBar struct {
	Date string     `json:"date"`
	High apiDecimal `json:"high"`
	Low  apiDecimal `json:"low"`
}

var _ Provider = (*EODHDClient)(nil)
