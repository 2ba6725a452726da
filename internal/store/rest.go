package store

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// TokenSource returns the bearer token for a request, usually the access
// token of the session carried by ctx. An empty string falls back to the
// API key.
type TokenSource func(ctx context.Context) string

// RESTConfig configures the REST adapter.
type RESTConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	Tokens  TokenSource
}

// REST talks to a PostgREST-compatible endpoint. It never retries: a failed
// call surfaces to the caller as-is.
type REST struct {
	http   *resty.Client
	apiKey string
	tokens TokenSource
}

type restError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details"`
	Hint    string `json:"hint"`
}

// NewREST constructs the adapter.
func NewREST(cfg RESTConfig) *REST {
	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetRetryCount(0)
	if cfg.Timeout > 0 {
		client.SetTimeout(cfg.Timeout)
	}
	if cfg.APIKey != "" {
		client.SetHeader("apikey", cfg.APIKey)
	}
	return &REST{http: client, apiKey: cfg.APIKey, tokens: cfg.Tokens}
}

func (r *REST) request(ctx context.Context) *resty.Request {
	req := r.http.R().SetContext(ctx).SetError(&restError{})
	token := ""
	if r.tokens != nil {
		token = r.tokens(ctx)
	}
	if token == "" {
		token = r.apiKey
	}
	if token != "" {
		req.SetAuthToken(token)
	}
	return req
}

func (r *REST) Select(ctx context.Context, q Query) ([]Row, error) {
	if err := validateQuery(q); err != nil {
		return nil, err
	}
	selectClause := "*"
	for _, e := range q.Embeds {
		selectClause += fmt.Sprintf(",%s:%s!%s(*)", e.As, e.Collection, e.Key)
	}
	req := r.request(ctx).SetQueryParam("select", selectClause)
	applyFilters(req, q.Filters)
	if len(q.Order) > 0 {
		parts := make([]string, len(q.Order))
		for i, o := range q.Order {
			dir := "asc"
			if o.Desc {
				dir = "desc"
			}
			parts[i] = o.Column + "." + dir
		}
		req.SetQueryParam("order", strings.Join(parts, ","))
	}
	if q.Limit > 0 {
		req.SetQueryParam("limit", strconv.Itoa(q.Limit))
	}

	var rows []Row
	resp, err := req.SetResult(&rows).Get("/" + q.Collection)
	if err := check("select", q.Collection, resp, err); err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *REST) Insert(ctx context.Context, collection string, rows ...Row) ([]Row, error) {
	if err := validateCollection(collection); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	var out []Row
	resp, err := r.request(ctx).
		SetHeader("Prefer", "return=representation").
		SetBody(rows).
		SetResult(&out).
		Post("/" + collection)
	if err := check("insert", collection, resp, err); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *REST) Update(ctx context.Context, collection string, patch Row, filters ...Filter) ([]Row, error) {
	if err := validateCollection(collection); err != nil {
		return nil, err
	}
	if len(filters) == 0 {
		return nil, ErrUnfilteredWrite
	}
	if err := validateFilters(filters); err != nil {
		return nil, err
	}
	var out []Row
	req := r.request(ctx).
		SetHeader("Prefer", "return=representation").
		SetBody(patch).
		SetResult(&out)
	applyFilters(req, filters)
	resp, err := req.Patch("/" + collection)
	if err := check("update", collection, resp, err); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *REST) Delete(ctx context.Context, collection string, filters ...Filter) error {
	if err := validateCollection(collection); err != nil {
		return err
	}
	if len(filters) == 0 {
		return ErrUnfilteredWrite
	}
	if err := validateFilters(filters); err != nil {
		return err
	}
	req := r.request(ctx)
	applyFilters(req, filters)
	resp, err := req.Delete("/" + collection)
	return check("delete", collection, resp, err)
}

func (r *REST) Upsert(ctx context.Context, collection string, row Row) (Row, error) {
	if err := validateCollection(collection); err != nil {
		return nil, err
	}
	var out []Row
	resp, err := r.request(ctx).
		SetHeader("Prefer", "resolution=merge-duplicates,return=representation").
		SetBody([]Row{row}).
		SetResult(&out).
		Post("/" + collection)
	if err := check("upsert", collection, resp, err); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, &Error{Op: "upsert", Collection: collection, Message: "empty representation"}
	}
	return out[0], nil
}

func applyFilters(req *resty.Request, filters []Filter) {
	for _, f := range filters {
		switch f.Op {
		case OpEq:
			req.QueryParam.Add(f.Column, "eq."+fmt.Sprint(f.Value))
		case OpIn:
			values := make([]string, len(f.Values))
			for i, v := range f.Values {
				values[i] = quoteListValue(fmt.Sprint(v))
			}
			req.QueryParam.Add(f.Column, "in.("+strings.Join(values, ",")+")")
		case OpIsNull:
			req.QueryParam.Add(f.Column, "is.null")
		}
	}
}

func quoteListValue(v string) string {
	if strings.ContainsAny(v, `,()"`) {
		return `"` + strings.ReplaceAll(v, `"`, `\"`) + `"`
	}
	return v
}

func check(op, collection string, resp *resty.Response, err error) error {
	if err != nil {
		return &Error{Op: op, Collection: collection, Message: err.Error(), Err: err}
	}
	if !resp.IsError() {
		return nil
	}
	e := &Error{Op: op, Collection: collection, Code: strconv.Itoa(resp.StatusCode()), Message: http.StatusText(resp.StatusCode())}
	if body, ok := resp.Error().(*restError); ok && body != nil {
		if body.Code != "" {
			e.Code = body.Code
		}
		if body.Message != "" {
			e.Message = body.Message
		}
	}
	return e
}
