package service

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"fx-signal-trader/internal/model"
)

var (
	ErrUnsupportedSymbol = errors.New("unsupported symbol format")
	ErrInvalidTimeframe  = errors.New("invalid timeframe")
)

// StringToFloat 解析查询参数中的数值, 去掉首尾空白
func StringToFloat(s string) (float64, error) {
	return strconv.ParseFloat(strings.TrimSpace(s), 64)
}

// ParseSymbol 将 "eur/usd"、"EUR USD" 等写法规整为 "EURUSD"
func ParseSymbol(raw string) (string, error) {
	cleaned := strings.NewReplacer(" ", "", "/", "").Replace(strings.TrimSpace(raw))
	cleaned = strings.ToUpper(cleaned)
	if len(cleaned) != 6 {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedSymbol, raw)
	}
	for _, r := range cleaned {
		if r < 'A' || r > 'Z' {
			return "", fmt.Errorf("%w: %q", ErrUnsupportedSymbol, raw)
		}
	}
	return cleaned, nil
}

// SplitSymbol 返回货币对的基础货币和报价货币, 例如 EURUSD -> EUR, USD
func SplitSymbol(raw string) (string, string, error) {
	symbol, err := ParseSymbol(raw)
	if err != nil {
		return "", "", err
	}
	return symbol[:3], symbol[3:], nil
}

// 将 K 线周期字符串解析为 time.Duration
// 例如 "1m" -> 1*time.Minute
func ParseIntervalDuration(s string) (time.Duration, error) {
	// 简单的解析逻辑，匹配末尾的 'm', 'h', 'd' 等
	if len(s) < 2 {
		return 0, fmt.Errorf("invalid interval format: %s", s)
	}

	unit := s[len(s)-1:]
	valueStr := s[:len(s)-1]

	var unitDuration time.Duration
	switch unit {
	case "m":
		unitDuration = time.Minute
	case "h":
		unitDuration = time.Hour
	case "d":
		unitDuration = 24 * time.Hour
	default:
		return 0, fmt.Errorf("unsupported interval unit: %s", unit)
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return 0, fmt.Errorf("invalid interval value: %s", valueStr)
	}

	return time.Duration(value) * unitDuration, nil
}

// ParseTimeframe 支持 "5min"、"5m"、"5"、"1h" 几种写法
func ParseTimeframe(s string) (model.Timeframe, error) {
	s = strings.ToLower(strings.TrimSpace(s))

	var d time.Duration
	switch {
	case strings.HasSuffix(s, "min"):
		n, err := strconv.Atoi(strings.TrimSuffix(s, "min"))
		if err != nil {
			return "", fmt.Errorf("%w: %q", ErrInvalidTimeframe, s)
		}
		d = time.Duration(n) * time.Minute
	default:
		if n, err := strconv.Atoi(s); err == nil {
			d = time.Duration(n) * time.Minute
			break
		}
		parsed, err := ParseIntervalDuration(s)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrInvalidTimeframe, err)
		}
		d = parsed
	}

	tf, ok := model.TimeframeFromDuration(d)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidTimeframe, s)
	}
	return tf, nil
}
