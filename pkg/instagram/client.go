package instagram

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"igmutual/pkg/config"
	errs "igmutual/pkg/errors"
	"igmutual/pkg/logger"
)

// Client represents an Instagram web API client
type Client struct {
	httpClient *http.Client
	headers    map[string]string
	baseURL    string
	logger     logger.Logger
}

// NewClient creates a new Instagram API client
func NewClient(cfg *config.InstagramConfig, log logger.Logger) *Client {
	if log == nil {
		log = logger.GetLogger()
	}

	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = BaseURL
	}
	appID := cfg.AppID
	if appID == "" {
		appID = AppID
	}

	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.RequestTimeout,
			// A redirect to the login page means the session is gone
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		headers: map[string]string{
			"User-Agent":       cfg.UserAgent,
			"Accept":           "*/*",
			"Accept-Language":  "en-US,en;q=0.9",
			"X-IG-App-ID":      appID,
			"X-Requested-With": "XMLHttpRequest",
			"Referer":          baseURL + "/",
			"Origin":           baseURL,
		},
		baseURL: baseURL,
		logger:  log.WithField("component", "instagram"),
	}
}

// SetHTTPClient replaces the transport, keeping the redirect policy
func (c *Client) SetHTTPClient(hc *http.Client) {
	hc.CheckRedirect = c.httpClient.CheckRedirect
	c.httpClient = hc
}

// BaseURL returns the configured endpoint root
func (c *Client) BaseURL() string {
	return c.baseURL
}

// doRequest performs an HTTP request with the configured headers
func (c *Client) doRequest(req *http.Request) (*http.Response, error) {
	for key, value := range c.headers {
		if value != "" {
			req.Header.Set(key, value)
		}
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	duration := time.Since(start)

	if err != nil {
		if ctxErr := req.Context().Err(); ctxErr != nil {
			return nil, ctxErr
		}
		c.logger.WarnWithFields("HTTP request failed", map[string]interface{}{
			"method":   req.Method,
			"path":     req.URL.Path,
			"error":    err.Error(),
			"duration": duration,
		})
		return nil, &errs.Error{
			Type:    errs.ErrorTypeNetwork,
			Reason:  errs.ReasonTransientFailure,
			Message: fmt.Sprintf("network error: %v", err),
			Err:     err,
		}
	}

	c.logger.DebugWithFields("HTTP request completed", map[string]interface{}{
		"method":   req.Method,
		"path":     req.URL.Path,
		"status":   resp.StatusCode,
		"duration": duration,
	})

	return resp, nil
}

// getJSON performs an authenticated GET and decodes the JSON response
func (c *Client) getJSON(ctx context.Context, token, rawURL string, target interface{ status() statusFields }) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return errs.New(errs.ReasonTransientFailure, errs.ErrorTypeUnknown, 0, fmt.Sprintf("failed to create request: %v", err))
	}
	req.Header.Set("Cookie", sessionCookie(token))

	resp, err := c.doRequest(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return &errs.Error{
			Type:    errs.ErrorTypeNetwork,
			Reason:  errs.ReasonTransientFailure,
			Message: fmt.Sprintf("failed to read response body: %v", err),
			Code:    resp.StatusCode,
			Err:     err,
		}
	}

	if err := c.checkResponseStatus(resp, body); err != nil {
		return err
	}

	if err := json.Unmarshal(body, target); err != nil {
		c.logger.ErrorWithFields("failed to parse JSON response", map[string]interface{}{
			"path":         req.URL.Path,
			"status":       resp.StatusCode,
			"error":        err.Error(),
			"body_preview": preview(body),
		})
		return errs.New(errs.ReasonTransientFailure, errs.ErrorTypeParsing, resp.StatusCode, fmt.Sprintf("failed to parse JSON: %v", err))
	}

	return classifyStatusFields(target.status(), resp.StatusCode)
}

func (s statusFields) status() statusFields { return s }

// checkResponseStatus maps HTTP status codes and failure bodies to reasons
func (c *Client) checkResponseStatus(resp *http.Response, body []byte) error {
	code := resp.StatusCode
	if code == http.StatusOK {
		return nil
	}

	fields := map[string]interface{}{
		"status": code,
		"path":   resp.Request.URL.Path,
	}

	if code >= 300 && code < 400 {
		location := resp.Header.Get("Location")
		if strings.Contains(location, LoginPageEndpoint) || strings.Contains(location, "/challenge/") {
			c.logger.WarnWithFields("redirected to login", fields)
			return errs.New(errs.ReasonUnauthorized, errs.ErrorTypeAuth, code, "redirected to login")
		}
		return errs.New(errs.ReasonTransientFailure, errs.ErrorTypeUnknown, code, fmt.Sprintf("unexpected redirect to %s", location))
	}

	// Login and rate-limit hints in the body outrank the status code
	var failure statusFields
	if json.Unmarshal(body, &failure) == nil {
		if err := classifyStatusFields(failure, code); err != nil && errs.ReasonOf(err) != errs.ReasonTransientFailure {
			c.logger.WarnWithFields("request failed", fields)
			return err
		}
	}

	switch {
	case code == http.StatusUnauthorized:
		c.logger.WarnWithFields("authentication error", fields)
		return errs.New(errs.ReasonUnauthorized, errs.ErrorTypeAuth, code, "authentication required")
	case code == http.StatusForbidden:
		return errs.New(errs.ReasonPrivateTarget, errs.ErrorTypeForbidden, code, "access forbidden")
	case code == http.StatusNotFound:
		return errs.New(errs.ReasonTargetNotFound, errs.ErrorTypeNotFound, code, "resource not found")
	case code == http.StatusTooManyRequests:
		c.logger.WarnWithFields("rate limit exceeded", fields)
		return errs.New(errs.ReasonRateLimited, errs.ErrorTypeRateLimit, code, "rate limit exceeded")
	case code >= 500:
		c.logger.WarnWithFields("server error", fields)
		return errs.New(errs.ReasonTransientFailure, errs.ErrorTypeServerError, code, "server error")
	default:
		return errs.New(errs.ReasonTransientFailure, errs.ErrorTypeUnknown, code, fmt.Sprintf("unexpected status code: %d", code))
	}
}

// classifyStatusFields inspects the status/message fields of a JSON body
func classifyStatusFields(s statusFields, code int) error {
	if s.RequireLogin || s.RequiresToLogin {
		return errs.New(errs.ReasonUnauthorized, errs.ErrorTypeAuth, code, "login required")
	}
	if s.Status != "fail" {
		return nil
	}
	if strings.Contains(strings.ToLower(s.Message), "wait") {
		return errs.New(errs.ReasonRateLimited, errs.ErrorTypeRateLimit, code, s.Message)
	}
	message := s.Message
	if message == "" {
		message = "request failed"
	}
	return errs.New(errs.ReasonTransientFailure, errs.ErrorTypeUnknown, code, message)
}

// FetchProfile looks up a profile by username
func (c *Client) FetchProfile(ctx context.Context, token, username string) (*Profile, error) {
	var response ProfileResponse
	if err := c.getJSON(ctx, token, ProfileURL(c.baseURL, username), &response); err != nil {
		return nil, err
	}

	user := response.Data.User
	if user == nil || user.ID == "" {
		return nil, errs.New(errs.ReasonTargetNotFound, errs.ErrorTypeNotFound, http.StatusNotFound, fmt.Sprintf("user @%s not found", username))
	}

	profile := &Profile{
		ID:               user.ID,
		Username:         user.Username,
		FullName:         user.FullName,
		ProfilePicURL:    user.ProfilePicURL,
		IsPrivate:        user.IsPrivate,
		IsVerified:       user.IsVerified,
		FollowedByViewer: user.FollowedByViewer,
	}
	if user.EdgeFollow != nil {
		profile.FollowingCount = user.EdgeFollow.Count
	}
	if user.EdgeFollowedBy != nil {
		profile.FollowersCount = user.EdgeFollowedBy.Count
	}
	if profile.Username == "" {
		profile.Username = username
	}

	return profile, nil
}

// FetchRelationPage fetches one page of a user's followers or following
func (c *Client) FetchRelationPage(ctx context.Context, token string, relation Relation, userID string, first int, after string) (*RelationPage, error) {
	if !relation.Valid() {
		return nil, fmt.Errorf("unknown relation %q", relation)
	}

	var response RelationResponse
	if err := c.getJSON(ctx, token, RelationURL(c.baseURL, relation, userID, first, after), &response); err != nil {
		return nil, err
	}

	user := response.Data.User
	if user == nil {
		return nil, errs.New(errs.ReasonTargetNotFound, errs.ErrorTypeNotFound, http.StatusNotFound, "no user in relation response")
	}

	edge := user.EdgeFollow
	if relation == RelationFollowers {
		edge = user.EdgeFollowedBy
	}
	if edge == nil {
		return nil, errs.New(errs.ReasonPrivateTarget, errs.ErrorTypeForbidden, http.StatusForbidden, "relation list is not visible")
	}

	page := &RelationPage{
		Users:      make([]UserNode, 0, len(edge.Edges)),
		Count:      edge.Count,
		HasNext:    edge.PageInfo.HasNextPage,
		NextCursor: edge.PageInfo.EndCursor,
	}
	for _, e := range edge.Edges {
		page.Users = append(page.Users, e.Node)
	}

	return page, nil
}

// ValidateSession checks that token can still read a well-known profile
func (c *Client) ValidateSession(ctx context.Context, token string) error {
	if token == "" {
		return errs.New(errs.ReasonUnauthorized, errs.ErrorTypeAuth, 0, "no session token")
	}
	_, err := c.FetchProfile(ctx, token, ValidationUsername)
	return err
}

func sessionCookie(token string) string {
	if token == "" {
		return "ig_nrcb=1"
	}
	return "ig_nrcb=1; sessionid=" + token
}

func preview(body []byte) string {
	s := string(body)
	if len(s) > 200 {
		return s[:200] + "..."
	}
	return s
}
