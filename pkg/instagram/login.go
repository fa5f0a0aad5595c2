package instagram

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pquerna/otp/totp"

	errs "igmutual/pkg/errors"
)

// Login performs the web login flow and returns the issued session cookie.
// When the account has two-factor authentication enabled, totpSecret is
// used to derive the verification code.
func (c *Client) Login(ctx context.Context, username, password, totpSecret string) (*LoginResult, error) {
	if username == "" || password == "" {
		return nil, loginError(0, "username and password are required")
	}

	log := c.logger.WithField("username", username)
	log.Info("Starting login")

	csrf, err := c.fetchCSRFToken(ctx)
	if err != nil {
		return nil, err
	}

	form := url.Values{}
	form.Set("username", username)
	form.Set("enc_password", EncryptPassword(password, time.Now()))
	form.Set("queryParams", "{}")
	form.Set("optIntoOneTap", "false")

	resp, body, err := c.postForm(ctx, LoginEndpoint, csrf, form)
	if err != nil {
		return nil, err
	}

	var result loginResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, loginError(resp.StatusCode, fmt.Sprintf("unexpected login response (status %d)", resp.StatusCode))
	}

	if result.TwoFactorRequired {
		if result.TwoFactorInfo == nil || result.TwoFactorInfo.Identifier == "" {
			return nil, loginError(resp.StatusCode, "two-factor required without identifier")
		}
		if totpSecret == "" {
			return nil, loginError(resp.StatusCode, "two-factor authentication required but no TOTP secret is stored")
		}
		log.Info("Two-factor authentication required")
		if freshCSRF := cookieValue(resp, "csrftoken"); freshCSRF != "" {
			csrf = freshCSRF
		}
		return c.completeTwoFactor(ctx, username, csrf, result.TwoFactorInfo.Identifier, totpSecret)
	}

	return c.finishLogin(resp, &result, csrf)
}

// completeTwoFactor submits a TOTP code for a pending login
func (c *Client) completeTwoFactor(ctx context.Context, username, csrf, identifier, totpSecret string) (*LoginResult, error) {
	code, err := totp.GenerateCode(totpSecret, time.Now())
	if err != nil {
		return nil, loginError(0, fmt.Sprintf("failed to generate TOTP code: %v", err))
	}

	form := url.Values{}
	form.Set("username", username)
	form.Set("verificationCode", code)
	form.Set("identifier", identifier)
	form.Set("queryParams", "{}")
	form.Set("verification_method", "3")

	resp, body, err := c.postForm(ctx, TwoFactorEndpoint, csrf, form)
	if err != nil {
		return nil, err
	}

	var result loginResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, loginError(resp.StatusCode, fmt.Sprintf("unexpected two-factor response (status %d)", resp.StatusCode))
	}
	return c.finishLogin(resp, &result, csrf)
}

func (c *Client) finishLogin(resp *http.Response, result *loginResponse, csrf string) (*LoginResult, error) {
	switch {
	case resp.StatusCode == http.StatusTooManyRequests || strings.Contains(strings.ToLower(result.Message), "wait"):
		return nil, &errs.Error{
			Type:    errs.ErrorTypeRateLimit,
			Reason:  errs.ReasonSessionRefreshFailed,
			Message: "login rate limited",
			Code:    resp.StatusCode,
		}
	case result.CheckpointURL != "" || result.Message == "checkpoint_required":
		return nil, loginError(resp.StatusCode, "login blocked by a security checkpoint")
	case !result.Authenticated:
		if !result.User {
			return nil, loginError(resp.StatusCode, "unknown username")
		}
		return nil, loginError(resp.StatusCode, "incorrect password")
	}

	sessionID := cookieValue(resp, "sessionid")
	if sessionID == "" {
		return nil, loginError(resp.StatusCode, "login succeeded but no sessionid cookie was issued")
	}
	if fresh := cookieValue(resp, "csrftoken"); fresh != "" {
		csrf = fresh
	}

	c.logger.WithField("session", MaskToken(sessionID)).Info("Login succeeded")
	return &LoginResult{SessionID: sessionID, CSRFToken: csrf, UserID: result.UserID}, nil
}

// fetchCSRFToken loads the login page to obtain a csrftoken cookie
func (c *Client) fetchCSRFToken(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+LoginPageEndpoint, nil)
	if err != nil {
		return "", loginError(0, fmt.Sprintf("failed to create request: %v", err))
	}

	resp, err := c.doRequest(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	csrf := cookieValue(resp, "csrftoken")
	if csrf == "" {
		return "", loginError(resp.StatusCode, "login page did not issue a csrftoken")
	}
	return csrf, nil
}

func (c *Client) postForm(ctx context.Context, endpoint, csrf string, form url.Values) (*http.Response, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, nil, loginError(0, fmt.Sprintf("failed to create request: %v", err))
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("X-CSRFToken", csrf)
	req.Header.Set("Cookie", "csrftoken="+csrf)

	resp, err := c.doRequest(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, loginError(resp.StatusCode, fmt.Sprintf("failed to read login response: %v", err))
	}
	return resp, body, nil
}

// EncryptPassword formats a password the way the browser login form submits it
func EncryptPassword(password string, at time.Time) string {
	return "#PWD_INSTAGRAM_BROWSER:0:" + strconv.FormatInt(at.Unix(), 10) + ":" + password
}

// MaskToken shortens a session token for logs
func MaskToken(token string) string {
	if len(token) <= 12 {
		return "***"
	}
	return token[:8] + "..." + token[len(token)-4:]
}

func cookieValue(resp *http.Response, name string) string {
	for _, cookie := range resp.Cookies() {
		if cookie.Name == name && cookie.Value != "" {
			return cookie.Value
		}
	}
	return ""
}

func loginError(code int, message string) *errs.Error {
	return errs.New(errs.ReasonSessionRefreshFailed, errs.ErrorTypeAuth, code, message)
}
