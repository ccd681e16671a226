package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	json "github.com/goccy/go-json"
	"go.uber.org/zap"

	"fx-signal-trader/internal/metrics"
)

// 请求体最多读取 1MB
const maxBodyBytes = 1 << 20

// Handler 返回响应正文和状态码, error 不为 nil 时输出错误信息
type Handler func(r *http.Request) ([]byte, int, error)

type Route struct {
	Method string
	Path   string
	Exec   Handler
}

// Server 基于标准库 ServeMux 的 JSON 接口
type Server struct {
	addr   string
	routes []Route
	logger *zap.Logger
}

func NewServer(addr string, logger *zap.Logger) *Server {
	return &Server{
		addr:   addr,
		logger: logger.With(zap.String("component", "http")),
	}
}

// AddRoute 注册一个路由
func (s *Server) AddRoute(method, path string, exec Handler) *Server {
	s.routes = append(s.routes, Route{Method: method, Path: path, Exec: exec})
	return s
}

// Add 批量注册路由
func (s *Server) Add(routes ...Route) *Server {
	s.routes = append(s.routes, routes...)
	return s
}

// Handler 组装全部路由, 另外挂载 /metrics 和 /healthz
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	for _, route := range s.routes {
		mux.HandleFunc(fmt.Sprintf("%s %s", route.Method, route.Path), s.handle(route))
	}
	mux.Handle("GET /metrics", metrics.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

func (s *Server) handle(route Route) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		b, code, err := route.Exec(r)
		if err != nil {
			if code < http.StatusBadRequest {
				code = http.StatusInternalServerError
			}
			s.logger.Warn("error for http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("code", code),
				zap.Error(err))
			b = errorBody(err)
		}
		s.respond(w, b, code)
		s.logger.Debug("handled request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("code", code),
			zap.Duration("duration", time.Since(start)))
	}
}

func (s *Server) respond(w http.ResponseWriter, b []byte, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if _, err := w.Write(b); err != nil {
		s.logger.Error("could not write response", zap.Error(err))
	}
}

// Run 阻塞直到 ctx 结束, 然后优雅关闭
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting server", zap.String("addr", s.addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("could not start server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.logger.Info("shutting down server")
		return srv.Shutdown(shutdownCtx)
	}
}

type errorResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

func errorBody(err error) []byte {
	b, _ := json.Marshal(errorResponse{OK: false, Error: err.Error()})
	return b
}

// JSONRead 读取请求体, 空请求体不报错
func JSONRead(r *http.Request, v any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return err
	}
	if len(body) == 0 {
		return nil
	}
	return json.Unmarshal(body, v)
}

// JSONWrite 编码响应, 失败时返回 500
func JSONWrite(v any, code int) ([]byte, int, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, http.StatusInternalServerError, fmt.Errorf("encode response: %w", err)
	}
	return b, code, nil
}
