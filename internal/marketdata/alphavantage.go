package marketdata

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"fx-signal-trader/internal/model"
	"fx-signal-trader/internal/service"
)

const (
	DefaultAlphaVantageURL = "https://www.alphavantage.co/query"

	// 时间戳没有时区, 按 UTC 解析
	alphaVantageTimeLayout = "2006-01-02 15:04:05"
)

var ErrMissingAPIKey = errors.New("alpha vantage api key not set")

// AlphaVantage FX_INTRADAY 行情客户端
type AlphaVantage struct {
	apiKey  string
	baseURL string
	client  *http.Client
	logger  *zap.SugaredLogger
}

func NewAlphaVantage(cfg service.MarketDataConfig, client *http.Client, logger *zap.SugaredLogger) *AlphaVantage {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultAlphaVantageURL
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &AlphaVantage{
		apiKey:  cfg.AlphaVantageAPIKey,
		baseURL: baseURL,
		client:  client,
		logger:  logger,
	}
}

func (a *AlphaVantage) Name() string {
	return "alphavantage"
}

// FetchCandles 拉取日内 K 线, 结果按时间升序
func (a *AlphaVantage) FetchCandles(ctx context.Context, symbol string, tf model.Timeframe, size OutputSize) (model.CandleSeries, error) {
	if a.apiKey == "" {
		return nil, ErrMissingAPIKey
	}
	from, to, err := service.SplitSymbol(symbol)
	if err != nil {
		return nil, err
	}

	u, err := url.Parse(a.baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	q := u.Query()
	q.Set("function", "FX_INTRADAY")
	q.Set("from_symbol", from)
	q.Set("to_symbol", to)
	q.Set("interval", tf.String())
	q.Set("outputsize", string(size))
	q.Set("apikey", a.apiKey)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("alpha vantage error: status %d, body: %s", resp.StatusCode, string(body))
	}

	series, err := parseIntraday(body)
	if err != nil {
		return nil, err
	}
	a.logger.Debugw("Fetched candles", "symbol", symbol, "timeframe", tf, "count", len(series))
	return series, nil
}

// parseIntraday 时间序列的键名随周期变化 (例如 "Time Series FX (5min)"), 用 gjson 查找
func parseIntraday(body []byte) (model.CandleSeries, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("invalid alpha vantage response")
	}
	root := gjson.ParseBytes(body)

	var seriesNode gjson.Result
	var apiMessage string
	root.ForEach(func(key, value gjson.Result) bool {
		switch k := key.String(); {
		case strings.Contains(k, "Time Series"):
			seriesNode = value
			return false
		case k == "Error Message" || k == "Note" || k == "Information":
			apiMessage = value.String()
		}
		return true
	})
	if !seriesNode.Exists() {
		if apiMessage != "" {
			return nil, fmt.Errorf("%w: %s", ErrNoTimeSeries, apiMessage)
		}
		return nil, ErrNoTimeSeries
	}

	var series model.CandleSeries
	var parseErr error
	seriesNode.ForEach(func(key, ohlc gjson.Result) bool {
		ts, err := time.ParseInLocation(alphaVantageTimeLayout, key.String(), time.UTC)
		if err != nil {
			parseErr = fmt.Errorf("parse candle time %q: %w", key.String(), err)
			return false
		}
		candle := model.Candle{
			Time:  ts.UnixMilli(),
			Open:  ohlc.Get(`1\. open`).Float(),
			High:  ohlc.Get(`2\. high`).Float(),
			Low:   ohlc.Get(`3\. low`).Float(),
			Close: ohlc.Get(`4\. close`).Float(),
		}
		if v := ohlc.Get(`5\. volume`); v.Exists() && v.Float() != 0 {
			volume := v.Float()
			candle.Volume = &volume
		}
		series = append(series, candle)
		return true
	})
	if parseErr != nil {
		return nil, parseErr
	}
	if len(series) == 0 {
		return nil, ErrNoTimeSeries
	}

	sort.Slice(series, func(i, j int) bool { return series[i].Time < series[j].Time })
	return series, nil
}
