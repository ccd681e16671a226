// Package bridgetest 提供内存中的 MetaTrader 桥接服务, 供测试使用
package bridgetest

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"fx-signal-trader/internal/api"
)

type frame struct {
	RequestID string          `json:"requestId"`
	Type      string          `json:"type"`
	AccountID string          `json:"accountId"`
	Params    json.RawMessage `json:"params"`
}

// Server 按请求类型返回预设数据, 并记录收到的订单
type Server struct {
	*httptest.Server

	Token        string
	Synchronized bool
	Quote        api.Quote
	Spec         api.SymbolSpec
	FailMethod   string // 该类型的请求返回错误
	RetCode      string

	mu       sync.Mutex
	orders   []api.MarketOrder
	methods  []string
	accounts []string
}

// Option 在服务启动前修改预设数据
type Option func(*Server)

// NewServer 默认已同步, EURUSD 1.10000/1.10020, point 0.00001
func NewServer(opts ...Option) *Server {
	s := &Server{
		Synchronized: true,
		Quote:        api.Quote{Symbol: "EURUSD", Bid: 1.1, Ask: 1.1002},
		Spec:         api.SymbolSpec{Symbol: "EURUSD", Point: 0.00001, Digits: 5},
		RetCode:      "TRADE_RETCODE_DONE",
	}
	for _, opt := range opts {
		opt(s)
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	return s
}

// WSURL 返回 ws:// 地址
func (s *Server) WSURL() string {
	return "ws" + strings.TrimPrefix(s.Server.URL, "http")
}

func (s *Server) Orders() []api.MarketOrder {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]api.MarketOrder(nil), s.orders...)
}

func (s *Server) Methods() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.methods...)
}

func (s *Server) Accounts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.accounts...)
}

var upgrader = websocket.Upgrader{}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	if s.Token != "" && r.Header.Get("auth-token") != s.Token {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	s.mu.Lock()
	s.accounts = append(s.accounts, r.URL.Query().Get("accountId"))
	s.mu.Unlock()

	// 与请求无关的推送, 客户端应当忽略
	_ = conn.WriteJSON(map[string]any{"type": "status", "connected": true})

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var req frame
		if err := json.Unmarshal(message, &req); err != nil {
			return
		}
		s.mu.Lock()
		s.methods = append(s.methods, req.Type)
		s.mu.Unlock()

		resp := map[string]any{"requestId": req.RequestID, "type": "response"}
		if req.Type == s.FailMethod {
			resp["error"] = api.RPCError{Code: "ValidationError", Message: "rejected by fake bridge"}
		} else {
			resp["result"] = s.result(req)
		}
		payload, _ := json.Marshal(resp)
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			return
		}
	}
}

func (s *Server) result(req frame) any {
	switch req.Type {
	case "waitSynchronized":
		return map[string]bool{"synchronized": s.Synchronized}
	case "getSymbolPrice":
		return s.Quote
	case "getSymbolSpecification":
		return s.Spec
	case "trade":
		var order api.MarketOrder
		_ = json.Unmarshal(req.Params, &order)
		s.mu.Lock()
		s.orders = append(s.orders, order)
		s.mu.Unlock()
		return api.OrderResult{NumericCode: 10009, StringCode: s.RetCode, OrderID: "1001", PositionID: "1001"}
	default:
		return map[string]any{}
	}
}
