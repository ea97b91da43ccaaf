package ratelimitware_test

import (
	"context"
	"io"
	"mime/multipart"

	"github.com/goliatone/go-router"
)

// stubContext is a recording router.Context for middleware tests. Request
// headers go in headers; everything written by the middleware is captured.
type stubContext struct {
	headers     map[string]string
	respHeaders map[string]string
	locals      map[any]any
	ctx         context.Context
	path        string

	nextCalled bool
	statusCode int
	jsonStatus int
	jsonBody   any
	sentString string
}

func newStubContext() *stubContext {
	return &stubContext{
		headers:     map[string]string{},
		respHeaders: map[string]string{},
		locals:      map[any]any{},
		ctx:         context.Background(),
		path:        "/v1/resource",
	}
}

func (s *stubContext) Next() error {
	s.nextCalled = true
	return nil
}

func (s *stubContext) Context() context.Context { return s.ctx }

func (s *stubContext) SetContext(ctx context.Context) { s.ctx = ctx }

func (s *stubContext) Path() string { return s.path }

func (s *stubContext) Method() string { return "GET" }

func (s *stubContext) Body() []byte { return nil }

func (s *stubContext) Status(code int) router.Context {
	s.statusCode = code
	return s
}

func (s *stubContext) SendString(body string) error {
	s.sentString = body
	return nil
}

func (s *stubContext) Send([]byte) error { return nil }

func (s *stubContext) JSON(code int, val any) error {
	s.jsonStatus = code
	s.jsonBody = val
	return nil
}

func (s *stubContext) NoContent(code int) error {
	s.statusCode = code
	return nil
}

func (s *stubContext) Render(string, any, ...string) error { return nil }

func (s *stubContext) Redirect(string, ...int) error { return nil }

func (s *stubContext) RedirectToRoute(string, router.ViewContext, ...int) error { return nil }

func (s *stubContext) RedirectBack(string, ...int) error { return nil }

func (s *stubContext) SetHeader(key, val string) router.Context {
	s.respHeaders[key] = val
	return s
}

func (s *stubContext) Header(key string) string { return s.headers[key] }

func (s *stubContext) Get(key string, defaultValue any) any {
	if v, ok := s.locals[key]; ok {
		return v
	}
	return defaultValue
}

func (s *stubContext) GetBool(_ string, defaultValue bool) bool { return defaultValue }

func (s *stubContext) GetInt(_ string, def int) int { return def }

func (s *stubContext) Set(key string, val any) { s.locals[key] = val }

func (s *stubContext) Bind(any) error { return nil }

func (s *stubContext) BindJSON(any) error { return nil }

func (s *stubContext) BindXML(any) error { return nil }

func (s *stubContext) BindQuery(any) error { return nil }

func (s *stubContext) CookieParser(any) error { return nil }

func (s *stubContext) Cookie(*router.Cookie) {}

func (s *stubContext) Cookies(string, ...string) string { return "" }

func (s *stubContext) Param(key string, defaultValue ...string) string {
	if len(defaultValue) > 0 {
		return defaultValue[0]
	}
	return ""
}

func (s *stubContext) ParamsInt(_ string, defaultValue int) int { return defaultValue }

func (s *stubContext) Query(_ string, defaultValue ...string) string {
	if len(defaultValue) > 0 {
		return defaultValue[0]
	}
	return ""
}

func (s *stubContext) QueryInt(_ string, defaultValue int) int { return defaultValue }

func (s *stubContext) Queries() map[string]string { return nil }

func (s *stubContext) GetString(key, defaultValue string) string {
	if v, ok := s.headers[key]; ok {
		return v
	}
	return defaultValue
}

func (s *stubContext) Locals(key any, value ...any) any {
	if len(value) > 0 {
		s.locals[key] = value[0]
		return nil
	}
	return s.locals[key]
}

func (s *stubContext) OriginalURL() string { return s.path }

func (s *stubContext) OnNext(func() error) {}

func (s *stubContext) Referer() string { return "" }

func (s *stubContext) QueryValues(string) []string { return nil }

func (s *stubContext) LocalsMerge(key any, value map[string]any) map[string]any {
	existing, _ := s.locals[key].(map[string]any)
	if existing == nil {
		existing = map[string]any{}
	}
	for k, v := range value {
		existing[k] = v
	}
	s.locals[key] = existing
	return existing
}

func (s *stubContext) FormFile(string) (*multipart.FileHeader, error) { return nil, nil }

func (s *stubContext) FormValue(_ string, defaultValue ...string) string {
	if len(defaultValue) > 0 {
		return defaultValue[0]
	}
	return ""
}

func (s *stubContext) IP() string { return "" }

func (s *stubContext) SendStatus(code int) error {
	s.statusCode = code
	return nil
}

func (s *stubContext) SendStream(io.Reader) error { return nil }

func (s *stubContext) RouteName() string { return "" }

func (s *stubContext) RouteParams() map[string]string { return nil }

var _ router.Context = (*stubContext)(nil)
