package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var (
	ErrRPC             = errors.New("bridge rpc error")
	ErrNotConnected    = errors.New("bridge not connected")
	ErrNotSynchronized = errors.New("terminal not synchronized")
)

// RPCError 桥接服务返回的错误
type RPCError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// rpcRequest 请求帧, requestId 用于匹配响应
type rpcRequest struct {
	RequestID string `json:"requestId"`
	Type      string `json:"type"`
	AccountID string `json:"accountId"`
	Params    any    `json:"params,omitempty"`
}

// rpcResponse 响应帧, 同一连接上也可能收到与请求无关的推送 (例如同步状态)
type rpcResponse struct {
	RequestID string          `json:"requestId"`
	Type      string          `json:"type"`
	Result    json.RawMessage `json:"result"`
	Error     *RPCError       `json:"error"`
}

// Quote 当前买卖价
type Quote struct {
	Symbol string  `json:"symbol"`
	Bid    float64 `json:"bid"`
	Ask    float64 `json:"ask"`
}

// SymbolSpec 交易品种规格, Point 为最小报价单位
type SymbolSpec struct {
	Symbol string  `json:"symbol"`
	Point  float64 `json:"point"`
	Digits int     `json:"digits"`
}

// MarketOrder 市价单参数
type MarketOrder struct {
	Symbol     string   `json:"symbol"`
	ActionType string   `json:"actionType"` // ORDER_TYPE_BUY 或 ORDER_TYPE_SELL
	Volume     float64  `json:"volume"`
	StopLoss   *float64 `json:"stopLoss,omitempty"`
	TakeProfit *float64 `json:"takeProfit,omitempty"`
	Comment    string   `json:"comment,omitempty"`
}

// OrderResult 下单回报
type OrderResult struct {
	NumericCode int    `json:"numericCode"`
	StringCode  string `json:"stringCode"`
	Message     string `json:"message,omitempty"`
	OrderID     string `json:"orderId,omitempty"`
	PositionID  string `json:"positionId,omitempty"`
}

// Connector 与 MetaTrader 桥接服务之间的 WebSocket RPC 连接
// 一次连接只服务一个调用方, 请求按顺序收发
type Connector struct {
	wsURL     string
	token     string
	accountID string
	dialer    *websocket.Dialer
	logger    *zap.Logger

	mu     sync.Mutex
	wsConn *websocket.Conn
}

// NewConnector dialer 为 nil 时使用 websocket.DefaultDialer
func NewConnector(wsURL, token, accountID string, dialer *websocket.Dialer, logger *zap.Logger) *Connector {
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	return &Connector{
		wsURL:     wsURL,
		token:     token,
		accountID: accountID,
		dialer:    dialer,
		logger:    logger.With(zap.String("account", accountID)),
	}
}

// Connect 建立 WebSocket 连接, token 通过 auth-token 头传递
func (c *Connector) Connect(ctx context.Context) error {
	u, err := url.Parse(c.wsURL)
	if err != nil {
		return fmt.Errorf("parse bridge url: %w", err)
	}
	q := u.Query()
	q.Set("accountId", c.accountID)
	u.RawQuery = q.Encode()

	header := http.Header{}
	header.Set("auth-token", c.token)

	conn, resp, err := c.dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dial bridge (status %d): %w", resp.StatusCode, err)
		}
		return fmt.Errorf("dial bridge: %w", err)
	}

	c.mu.Lock()
	c.wsConn = conn
	c.mu.Unlock()
	c.logger.Debug("Bridge connected", zap.String("URL", u.Host))
	return nil
}

// Close 关闭连接, 可重复调用
func (c *Connector) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.wsConn == nil {
		return nil
	}
	err := c.wsConn.Close()
	c.wsConn = nil
	return err
}

// WaitSynchronized 等待终端与券商完成同步
func (c *Connector) WaitSynchronized(ctx context.Context, timeout time.Duration) error {
	var out struct {
		Synchronized bool `json:"synchronized"`
	}
	params := map[string]any{"timeoutInSeconds": int(timeout.Seconds())}
	if err := c.call(ctx, "waitSynchronized", params, &out); err != nil {
		return err
	}
	if !out.Synchronized {
		return ErrNotSynchronized
	}
	return nil
}

func (c *Connector) SymbolPrice(ctx context.Context, symbol string) (Quote, error) {
	var q Quote
	err := c.call(ctx, "getSymbolPrice", map[string]string{"symbol": symbol}, &q)
	return q, err
}

func (c *Connector) SymbolSpecification(ctx context.Context, symbol string) (SymbolSpec, error) {
	var spec SymbolSpec
	err := c.call(ctx, "getSymbolSpecification", map[string]string{"symbol": symbol}, &spec)
	return spec, err
}

// CreateMarketOrder 提交市价单
func (c *Connector) CreateMarketOrder(ctx context.Context, order MarketOrder) (OrderResult, error) {
	var res OrderResult
	err := c.call(ctx, "trade", order, &res)
	return res, err
}

// call 发送一次请求并读取到匹配 requestId 的响应为止
func (c *Connector) call(ctx context.Context, method string, params any, out any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.wsConn == nil {
		return ErrNotConnected
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = c.wsConn.SetWriteDeadline(deadline)
		_ = c.wsConn.SetReadDeadline(deadline)
	}

	req := rpcRequest{
		RequestID: uuid.NewString(),
		Type:      method,
		AccountID: c.accountID,
		Params:    params,
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode %s request: %w", method, err)
	}
	if err := c.wsConn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return fmt.Errorf("send %s request: %w", method, err)
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		_, message, err := c.wsConn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read %s response: %w", method, err)
		}

		var resp rpcResponse
		if err := json.Unmarshal(message, &resp); err != nil {
			c.logger.Debug("Skipping undecodable bridge frame", zap.Error(err))
			continue
		}
		if resp.RequestID != req.RequestID {
			// 忽略推送和其他请求的响应
			continue
		}
		if resp.Error != nil {
			return fmt.Errorf("%w: %s %s: %s", ErrRPC, method, resp.Error.Code, resp.Error.Message)
		}
		if out == nil || len(resp.Result) == 0 {
			return nil
		}
		if err := json.Unmarshal(resp.Result, out); err != nil {
			return fmt.Errorf("decode %s result: %w", method, err)
		}
		return nil
	}
}
