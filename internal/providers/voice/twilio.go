package voice

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/claimwise/voicepipe/internal/models"
)

// Twilio call statuses that map onto our lifecycle.
var twilioStatusMap = map[string]models.CallStatus{
	"queued":      models.CallStatusQueued,
	"initiated":   models.CallStatusQueued,
	"ringing":     models.CallStatusRinging,
	"in-progress": models.CallStatusInProgress,
	"completed":   models.CallStatusEnded,
	"busy":        models.CallStatusBusy,
	"no-answer":   models.CallStatusNoAnswer,
	"failed":      models.CallStatusFailed,
	"canceled":    models.CallStatusCanceled,
}

type TwilioClient struct {
	AccountSID  string
	AuthToken   string
	FromNumber  string
	CallbackURL string // status + recording webhooks are derived from this
	BaseURL     string // override for tests; defaults to api.twilio.com
	HTTP        *http.Client
}

func NewTwilioClient(accountSID, authToken, fromNumber, callbackURL string) *TwilioClient {
	return &TwilioClient{
		AccountSID:  accountSID,
		AuthToken:   authToken,
		FromNumber:  fromNumber,
		CallbackURL: callbackURL,
		BaseURL:     "https://api.twilio.com",
		HTTP:        &http.Client{Timeout: 30 * time.Second},
	}
}

type twilioCall struct {
	SID         string `json:"sid"`
	Status      string `json:"status"`
	DateCreated string `json:"date_created"`
	EndTime     string `json:"end_time"`
	Message     string `json:"message"`
	Code        int    `json:"code"`
}

func (c *TwilioClient) CreateOutboundCall(ctx context.Context, req models.CallRequest) (*models.CallResponse, error) {
	if c.FromNumber == "" {
		return nil, fmt.Errorf("twilio: no from number configured")
	}
	if req.PhoneNumber == "" {
		return nil, fmt.Errorf("twilio: phone number is required")
	}

	form := url.Values{}
	form.Set("To", req.PhoneNumber)
	form.Set("From", c.FromNumber)
	form.Set("Record", "true")
	if c.CallbackURL != "" {
		form.Set("StatusCallback", c.CallbackURL+"/webhooks/twilio/status")
		form.Set("RecordingStatusCallback", c.CallbackURL+"/webhooks/twilio/recording")
	}
	form.Set("Url", c.CallbackURL+"/twiml/claim-call")

	var out twilioCall
	if err := c.do(ctx, http.MethodPost, c.callsPath("")+".json", strings.NewReader(form.Encode()), &out); err != nil {
		return nil, err
	}

	return c.toResponse(&out), nil
}

func (c *TwilioClient) GetCallStatus(ctx context.Context, callID string) (*models.CallResponse, error) {
	var out twilioCall
	if err := c.do(ctx, http.MethodGet, c.callsPath("/"+callID)+".json", nil, &out); err != nil {
		return nil, err
	}
	return c.toResponse(&out), nil
}

func (c *TwilioClient) DownloadRecording(ctx context.Context, recordingURL string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, recordingURL, nil)
	if err != nil {
		return nil, "", err
	}
	req.SetBasicAuth(c.AccountSID, c.AuthToken)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("twilio: recording download returned %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", err
	}
	return body, resp.Header.Get("Content-Type"), nil
}

func (c *TwilioClient) callsPath(suffix string) string {
	return fmt.Sprintf("%s/2010-04-01/Accounts/%s/Calls%s", c.BaseURL, c.AccountSID, suffix)
}

func (c *TwilioClient) do(ctx context.Context, method, rawURL string, body io.Reader, out *twilioCall) error {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return err
	}
	req.SetBasicAuth(c.AccountSID, c.AuthToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("twilio: decode response: %w", err)
	}
	if out.Code != 0 {
		return fmt.Errorf("twilio: %s (code %d)", out.Message, out.Code)
	}
	if out.SID == "" {
		return fmt.Errorf("twilio: response missing call sid")
	}
	return nil
}

func (c *TwilioClient) toResponse(tc *twilioCall) *models.CallResponse {
	status, ok := twilioStatusMap[tc.Status]
	if !ok {
		status = models.CallStatusQueued
	}

	createdAt := time.Now().UTC()
	if t, err := time.Parse(time.RFC1123Z, tc.DateCreated); err == nil {
		createdAt = t.UTC()
	}
	var endedAt *time.Time
	if t, err := time.Parse(time.RFC1123Z, tc.EndTime); err == nil {
		u := t.UTC()
		endedAt = &u
	}

	raw, _ := json.Marshal(tc)
	return &models.CallResponse{
		CallID:       tc.SID,
		Status:       status,
		Provider:     models.ProviderTwilio,
		CreatedAt:    createdAt,
		EndedAt:      endedAt,
		ProviderData: raw,
	}
}
