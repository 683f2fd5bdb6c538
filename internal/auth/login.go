package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"

	"go.uber.org/zap"

	"github.com/shiquda/xyz-dl/internal/config"
)

// Mobile-number login. The platform has no password flow: a verification
// code is sent by SMS and exchanged for the token pair, which arrives in
// the response headers of the login call.

var (
	phoneRe    = regexp.MustCompile(`^1[3-9]\d{9}$`)
	areaCodeRe = regexp.MustCompile(`^\+\d{1,4}$`)
)

// ValidPhoneNumber checks the mainland mobile-number format the platform
// accepts for the default +86 area code.
func ValidPhoneNumber(phone string) bool { return phoneRe.MatchString(phone) }

// ValidAreaCode checks the +NN.. area-code form.
func ValidAreaCode(code string) bool { return areaCodeRe.MatchString(code) }

// LoginClient drives the SMS login flow. It is credential-free by design;
// a successful login produces the Credentials record that everything else
// consumes.
type LoginClient struct {
	base  string
	httpc *http.Client
	log   *zap.Logger
}

func NewLoginClient(cfg config.Config, log *zap.Logger) *LoginClient {
	return &LoginClient{
		base:  cfg.API.BaseURL,
		httpc: &http.Client{Timeout: cfg.APITimeout()},
		log:   log.Named("login"),
	}
}

type errorBody struct {
	Toast   string `json:"toast"`
	Message string `json:"message"`
}

func (b errorBody) text(status int) string {
	if b.Toast != "" {
		return b.Toast
	}
	if b.Message != "" {
		return b.Message
	}
	return fmt.Sprintf("request failed with status %d", status)
}

// SendSMSCode asks the platform to text a verification code.
func (c *LoginClient) SendSMSCode(ctx context.Context, phone, areaCode string) error {
	if !ValidPhoneNumber(phone) {
		return &Error{Kind: KindInvalidCredentials, Op: "send sms code", Err: fmt.Errorf("malformed phone number")}
	}
	if !ValidAreaCode(areaCode) {
		return &Error{Kind: KindInvalidCredentials, Op: "send sms code", Err: fmt.Errorf("malformed area code")}
	}

	payload := map[string]string{
		"mobilePhoneNumber": phone,
		"areaCode":          areaCode,
	}
	resp, err := c.post(ctx, "/v1/auth/sendCode", payload)
	if err != nil {
		return &Error{Kind: KindNetworkFailure, Op: "send sms code", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var body errorBody
		_ = json.NewDecoder(resp.Body).Decode(&body)
		return &Error{Kind: KindInvalidCredentials, Op: "send sms code",
			Err: fmt.Errorf("%s", body.text(resp.StatusCode))}
	}
	c.log.Debug("verification code sent", zap.String("area", areaCode))
	return nil
}

// LoginWithSMS exchanges the SMS code for a credential record. The device
// id is minted here and travels with the refresh token from then on.
func (c *LoginClient) LoginWithSMS(ctx context.Context, phone, code, areaCode string) (*Credentials, error) {
	if !ValidPhoneNumber(phone) {
		return nil, &Error{Kind: KindInvalidCredentials, Op: "login", Err: fmt.Errorf("malformed phone number")}
	}
	if code == "" {
		return nil, &Error{Kind: KindInvalidCredentials, Op: "login", Err: fmt.Errorf("empty verification code")}
	}
	if !ValidAreaCode(areaCode) {
		return nil, &Error{Kind: KindInvalidCredentials, Op: "login", Err: fmt.Errorf("malformed area code")}
	}

	payload := map[string]string{
		"areaCode":          areaCode,
		"verifyCode":        code,
		"mobilePhoneNumber": phone,
	}
	resp, err := c.post(ctx, "/v1/auth/loginOrSignUpWithSMS", payload)
	if err != nil {
		return nil, &Error{Kind: KindNetworkFailure, Op: "login", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var body errorBody
		_ = json.NewDecoder(resp.Body).Decode(&body)
		return nil, &Error{Kind: KindInvalidCredentials, Op: "login",
			Err: fmt.Errorf("%s", body.text(resp.StatusCode))}
	}

	refreshToken := resp.Header.Get("x-jike-refresh-token")
	if refreshToken == "" {
		return nil, &Error{Kind: KindInvalidCredentials, Op: "login",
			Err: fmt.Errorf("login response carries no refresh token")}
	}

	creds := &Credentials{
		RefreshToken: refreshToken,
		DeviceID:     NewDeviceID(),
	}
	c.log.Info("login succeeded", zap.String("device_id", creds.DeviceID))
	return creds, nil
}

func (c *LoginClient) post(ctx context.Context, path string, payload any) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "okhttp/4.7.2")
	req.Header.Set("applicationid", "app.podcast.cosmos")
	req.Header.Set("app-version", "2.57.1")
	req.Header.Set("Content-Type", "application/json")
	return c.httpc.Do(req)
}
